package profile

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/paserver/internal/history"
)

const (
	DefaultConnectedMessage    = "The user just connected"
	DefaultDisconnectedMessage = "The user disconnected"
	DefaultVerbosity           = "medium"
)

// fileConfig is the on-disk schema of a profile definition.
type fileConfig struct {
	Name       string `yaml:"name"`
	Model      string `yaml:"model"`
	Identity   string `yaml:"identity"`
	TTSEnabled *bool  `yaml:"ttsEnabled"`

	ConnectedMessage    *string `yaml:"connectedMessage"`
	DisconnectedMessage *string `yaml:"disconnectedMessage"`

	ReferenceText     *string  `yaml:"referenceText"`
	ReferenceTextLang *string  `yaml:"referenceTextLang"`
	InputTextLang     *string  `yaml:"inputTextLang"`
	OutputSpeedFactor *float64 `yaml:"outputSpeedFactor"`

	Effort        string   `yaml:"effort"`
	Verbosity     string   `yaml:"verbosity"`
	PlatformAware *bool    `yaml:"platformAware"`
	AllowedTools  []string `yaml:"allowedTools"`
}

func (c fileConfig) validate() error {
	var missing []string
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if c.Model == "" {
		missing = append(missing, "model")
	}
	if c.Identity == "" {
		missing = append(missing, "identity")
	}
	if c.TTSEnabled == nil {
		missing = append(missing, "ttsEnabled")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if *c.TTSEnabled {
		if c.ReferenceText == nil {
			missing = append(missing, "referenceText")
		}
		if c.ReferenceTextLang == nil {
			missing = append(missing, "referenceTextLang")
		}
		if c.InputTextLang == nil {
			missing = append(missing, "inputTextLang")
		}
		if c.OutputSpeedFactor == nil {
			missing = append(missing, "outputSpeedFactor")
		}
		if len(missing) > 0 {
			return fmt.Errorf("ttsEnabled is true, but missing required fields: %s", strings.Join(missing, ", "))
		}
		if *c.OutputSpeedFactor <= 0 {
			return fmt.Errorf("outputSpeedFactor must be positive")
		}
	}
	if c.Name == "." || c.Name == ".." || strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("name %q is not usable as a directory name", c.Name)
	}
	switch c.Effort {
	case "", "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid effort %q", c.Effort)
	}
	switch c.Verbosity {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid verbosity %q", c.Verbosity)
	}
	return nil
}

// LoadOptions controls LoadDir.
type LoadOptions struct {
	Store    history.Store
	Location *time.Location
	Logger   *slog.Logger
}

// LoadDir reads every *.yml below dir. Invalid files and duplicate names are
// logged and skipped; each loaded profile has its history read from the store.
func LoadDir(ctx context.Context, dir string, opts LoadOptions) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "profiles")
	if opts.Store == nil {
		opts.Store = history.NewInMemoryStore()
	}

	reg := NewRegistry()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yml" {
			return nil
		}
		logger.Info("adding profile", "path", path)
		p, err := loadFile(ctx, path, opts, logger)
		if err != nil {
			logger.Error("profile rejected", "path", path, "error", err)
			return nil
		}
		if err := reg.Add(p); err != nil {
			logger.Error("profile skipped", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan profiles dir %s: %w", dir, err)
	}
	return reg, nil
}

func loadFile(ctx context.Context, path string, opts LoadOptions, logger *slog.Logger) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	settings := Settings{
		Identity:            cfg.Identity,
		Model:               cfg.Model,
		Effort:              cfg.Effort,
		Verbosity:           cfg.Verbosity,
		AllowedTools:        cfg.AllowedTools,
		PlatformAware:       cfg.PlatformAware == nil || *cfg.PlatformAware,
		ConnectedMessage:    valueOr(cfg.ConnectedMessage, DefaultConnectedMessage),
		DisconnectedMessage: valueOr(cfg.DisconnectedMessage, DefaultDisconnectedMessage),
	}
	if settings.Verbosity == "" {
		settings.Verbosity = DefaultVerbosity
	}
	if *cfg.TTSEnabled {
		audio := base + ".wav"
		if exists(audio) {
			settings.TTS = TTS{
				Enabled:            true,
				ReferenceText:      *cfg.ReferenceText,
				ReferenceTextLang:  *cfg.ReferenceTextLang,
				ReferenceAudioPath: audio,
				InputTextLang:      *cfg.InputTextLang,
				OutputSpeedFactor:  *cfg.OutputSpeedFactor,
			}
		} else {
			logger.Warn("no matching audio file, disabling TTS", "profile", cfg.Name, "expected", filepath.Base(audio))
		}
	}

	var vrm string
	if candidate := base + ".vrm"; exists(candidate) {
		logger.Info("profile vrm detected", "profile", cfg.Name)
		vrm = candidate
	}

	hist := history.New(cfg.Name, opts.Store, opts.Location)
	if err := hist.Load(ctx); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	hist.PurgeEmpty()
	return New(cfg.Name, settings, vrm, hist), nil
}

// valueOr keeps an explicit empty string, which disables the note.
func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
