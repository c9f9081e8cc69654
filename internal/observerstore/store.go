// Package observerstore persists the single observer location between runs.
package observerstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/skywatch/model"
)

// Store saves and restores the observer. Load returns
// model.ErrMissingObserver when nothing has been saved.
type Store interface {
	Save(ctx context.Context, obs model.Observer) error
	Load(ctx context.Context) (model.Observer, error)
	Clear(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open constructs the store named by driver.
func Open(ctx context.Context, driver, path string) (Store, error) {
	switch driver {
	case DriverFile:
		return NewFileStore(path), nil
	case DriverSQLite:
		return OpenSQLite(ctx, path)
	case DriverMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("observerstore: unknown driver %q", driver)
	}
}

// MemoryStore keeps the observer in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	payload *model.ObserverPayload
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, obs model.Observer) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	p := obs.Payload(s.now())
	s.mu.Lock()
	s.payload = &p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(context.Context) (model.Observer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		return model.Observer{}, model.ErrMissingObserver
	}
	return s.payload.Observer()
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.payload = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
