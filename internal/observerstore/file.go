package observerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalsfoundry/skywatch/model"
)

// FileStore keeps the observer as a JSON document on disk. Writes go
// through a temporary file and a rename so a crash never leaves a torn file.
type FileStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(ctx context.Context, obs model.Observer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := obs.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(obs.Payload(s.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode observer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create observer dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".observer-*.json")
	if err != nil {
		return fmt.Errorf("create temp observer file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write observer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close observer file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace observer file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (model.Observer, error) {
	if err := ctx.Err(); err != nil {
		return model.Observer{}, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return model.Observer{}, model.ErrMissingObserver
	}
	if err != nil {
		return model.Observer{}, fmt.Errorf("read observer: %w", err)
	}

	var p model.ObserverPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Observer{}, fmt.Errorf("%w: observer file %s: %v", model.ErrInvalidInput, s.path, err)
	}
	return p.Observer()
}

func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove observer: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
