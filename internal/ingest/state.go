package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateStore persists the time of the last ingestion run.
type StateStore interface {
	Load(ctx context.Context) (time.Time, bool, error)
	Save(ctx context.Context, runAt time.Time) error
}

// RunStateBackend is implemented by stores that keep named run state.
type RunStateBackend interface {
	LoadRunState(ctx context.Context, name string) (time.Time, bool, error)
	SaveRunState(ctx context.Context, name string, ts time.Time) error
}

// DBStateStore stores run state in the store's ingest_state table.
type DBStateStore struct {
	Backend RunStateBackend
	Name    string
}

func (s *DBStateStore) Load(ctx context.Context) (time.Time, bool, error) {
	if s == nil || s.Backend == nil {
		return time.Time{}, false, nil
	}
	return s.Backend.LoadRunState(ctx, s.Name)
}

func (s *DBStateStore) Save(ctx context.Context, runAt time.Time) error {
	if s == nil || s.Backend == nil {
		return nil
	}
	return s.Backend.SaveRunState(ctx, s.Name, runAt)
}

// FileStateStore stores run state in a local JSON file.
type FileStateStore struct {
	Path string
}

type stateRecord struct {
	LastRunAt string `json:"last_run_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s *FileStateStore) Load(ctx context.Context) (time.Time, bool, error) {
	if s == nil || s.Path == "" {
		return time.Time{}, false, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read state: %w", err)
	}

	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("parse state: %w", err)
	}
	runAt, err := time.Parse(time.RFC3339Nano, rec.LastRunAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse state time: %w", err)
	}
	return runAt.UTC(), true, nil
}

func (s *FileStateStore) Save(ctx context.Context, runAt time.Time) error {
	if s == nil || s.Path == "" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	rec := stateRecord{
		LastRunAt: runAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
