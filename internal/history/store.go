package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists a profile's full history as one snapshot.
type Store interface {
	Load(ctx context.Context, profile string) ([]Entry, error)
	Save(ctx context.Context, profile string, entries []Entry) error
}

// NewStore creates a file-backed store under driveDir when set, otherwise in-memory.
func NewStore(driveDir string, logger *slog.Logger) Store {
	if strings.TrimSpace(driveDir) == "" {
		return NewInMemoryStore()
	}
	return NewFileStore(driveDir, logger)
}

// FileStore keeps one JSON file per profile at <dir>/profiles/<name>/history.json.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger.With("component", "history_store")}
}

func (s *FileStore) Path(profile string) string {
	return filepath.Join(s.dir, "profiles", profile, "history.json")
}

// Load reads the snapshot. A missing file is created empty; unreadable JSON is
// logged and replaced with an empty list.
func (s *FileStore) Load(ctx context.Context, profile string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(profile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, s.Save(ctx, profile, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Warn("history file is corrupt, resetting", "profile", profile, "path", path, "error", err)
		return nil, s.Save(ctx, profile, nil)
	}
	valid := entries[:0]
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			s.logger.Warn("dropping invalid history entry", "profile", profile, "error", err)
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// Save writes the snapshot through a temp file and rename.
func (s *FileStore) Save(ctx context.Context, profile string, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	path := s.Path(profile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp history: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

// InMemoryStore is a process-local store for tests and diskless runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string][]Entry)}
}

func (s *InMemoryStore) Load(_ context.Context, profile string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.snapshots[profile]...), nil
}

func (s *InMemoryStore) Save(_ context.Context, profile string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[profile] = append([]Entry(nil), entries...)
	return nil
}
