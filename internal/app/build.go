package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/paserver/internal/agent"
	"github.com/ent0n29/paserver/internal/assistant"
	"github.com/ent0n29/paserver/internal/config"
	"github.com/ent0n29/paserver/internal/history"
	"github.com/ent0n29/paserver/internal/httpapi"
	"github.com/ent0n29/paserver/internal/llm"
	"github.com/ent0n29/paserver/internal/observability"
	"github.com/ent0n29/paserver/internal/profile"
	"github.com/ent0n29/paserver/internal/reliability"
	"github.com/ent0n29/paserver/internal/session"
	"github.com/ent0n29/paserver/internal/stream"
	"github.com/ent0n29/paserver/internal/tts"
)

// ErrNoProfiles is returned when the profiles directory holds no valid profile.
var ErrNoProfiles = errors.New("no valid profiles found")

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *session.Controller
	Profiles   *profile.Registry
	Metrics    *observability.Metrics
	Model      string

	// Cleanup lets running chat turns finish, then unbinds the current client
	// so the active profile's history gets its disconnect note before exit.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store := history.NewStore(cfg.DriveDir, logger)

	profiles, err := profile.LoadDir(ctx, cfg.ProfilesDir, profile.LoadOptions{
		Store:    store,
		Location: cfg.Location(),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	if profiles.Len() == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoProfiles, cfg.ProfilesDir)
	}
	logger.Info("profiles loaded", "count", profiles.Len(), "names", profiles.Names())

	model, err := llm.New(ctx, llm.Config{
		Provider:     cfg.LLMProvider,
		OpenAIURL:    cfg.OpenAIURL,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		GeminiAPIKey: cfg.GeminiAPIKey,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	logger.Info("model provider ready", "provider", model.Name())
	model = llm.NewRetryClient(model, reliability.Policy{Attempts: 3, Base: 250 * time.Millisecond, Limit: 2 * time.Second}, logger)

	var synth tts.Synthesizer
	switch strings.TrimSpace(cfg.TTSURL) {
	case "":
		logger.Warn("TTS_URL is empty, replies are text only")
	case "mock":
		logger.Info("using silent mock speech")
		synth = tts.NewMockSynthesizer()
	default:
		synth = tts.NewClient(tts.Config{
			URL:            cfg.TTSURL,
			ConnectTimeout: cfg.TTSConnectTimeout,
			ReadTimeout:    cfg.TTSReadTimeout,
			WriteTimeout:   cfg.TTSWriteTimeout,
		}, logger, metrics)
	}

	dispatcher := agent.NewDispatcher(capabilities(cfg), planner(cfg, logger), logger, metrics)

	policy, err := stream.ParseMarkerPolicy(cfg.TaskMarkerPolicy)
	if err != nil {
		return nil, err
	}
	runner := assistant.NewRunner(model, synth, dispatcher, assistant.Config{
		HistoryLimit:   cfg.HistoryLimit,
		Marker:         cfg.TaskMarker,
		MarkerPolicy:   policy,
		StreamEndDelay: cfg.StreamEndDelay,
	}, logger, metrics)

	controller := session.NewController(profiles, runner, logger, metrics)
	api := httpapi.New(cfg, controller, profiles, metrics, logger)

	cleanup := func(ctx context.Context) error {
		turns := make(chan struct{})
		go func() {
			controller.Wait()
			close(turns)
		}()
		select {
		case <-turns:
		case <-ctx.Done():
			return fmt.Errorf("waiting for chat turns: %w", ctx.Err())
		}
		if st := controller.Status(); st.Bound {
			controller.Disconnect(ctx, st.ClientID)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: controller,
		Profiles:   profiles,
		Metrics:    metrics,
		Model:      model.Name(),
		Cleanup:    cleanup,
	}, nil
}

func capabilities(cfg config.Config) *agent.Registry {
	root := "files"
	if cfg.DriveDir != "" {
		root = filepath.Join(cfg.DriveDir, "files")
	}
	return agent.NewRegistry(agent.NewCreateFile(root))
}

// planner prefers tool calling when an OpenAI-compatible endpoint is
// configured and falls back to parsing "name {json}" lines from the task.
func planner(cfg config.Config, logger *slog.Logger) agent.Planner {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && strings.TrimSpace(cfg.OpenAIURL) == "" {
		logger.Info("agent planner: line")
		return agent.LinePlanner{}
	}
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if u := strings.TrimRight(strings.TrimSpace(cfg.OpenAIURL), "/"); u != "" {
		oc.BaseURL = u
	}
	logger.Info("agent planner: tool calling", "model", cfg.AgentModel)
	return agent.NewToolPlanner(openai.NewClientWithConfig(oc), cfg.AgentModel)
}
