package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store caches one bridge's channels in memory on top of a Repository.
//
// The cache is populated by Load and kept in sync by CreateIfNotExists
// and Delete. All methods are safe for concurrent use.
type Store struct {
	repo     Repository
	bridgeID string

	// createMu serializes the check-then-insert in CreateIfNotExists.
	createMu sync.Mutex

	cache   map[string]*Channel
	cacheMu sync.RWMutex
	logger  Logger
}

// NewStore creates a store for bridgeID.
func NewStore(repo Repository, bridgeID string) *Store {
	return &Store{
		repo:     repo,
		bridgeID: bridgeID,
		cache:    make(map[string]*Channel),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// BridgeID returns the bridge this store belongs to.
func (s *Store) BridgeID() string {
	return s.bridgeID
}

// Load reloads every channel from the repository into the cache.
func (s *Store) Load(ctx context.Context) error {
	channels, err := s.repo.List(ctx, s.bridgeID)
	if err != nil {
		return fmt.Errorf("loading channels: %w", err)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache = make(map[string]*Channel, len(channels))
	for i := range channels {
		s.cache[channels[i].ID] = channels[i].Clone()
	}

	s.logger.Info("channel cache loaded", "bridge_id", s.bridgeID, "count", len(channels))
	return nil
}

// CreateIfNotExists persists ch unless a channel with its id already
// exists, and reports whether it was created. An existing channel is
// never modified.
func (s *Store) CreateIfNotExists(ctx context.Context, ch Channel) (bool, error) {
	ch.BridgeID = s.bridgeID

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if _, ok := s.Get(ch.ID); ok {
		return false, nil
	}

	if err := s.repo.Create(ctx, &ch); err != nil {
		if !errors.Is(err, ErrChannelExists) {
			return false, err
		}
		// Created behind our back; pick it up.
		existing, getErr := s.repo.GetByID(ctx, s.bridgeID, ch.ID)
		if getErr != nil {
			return false, fmt.Errorf("loading existing channel: %w", getErr)
		}
		s.put(existing)
		return false, nil
	}

	s.put(&ch)
	s.logger.Debug("channel created", "bridge_id", s.bridgeID, "channel_id", ch.ID)
	return true, nil
}

// Get returns a copy of the channel with id.
func (s *Store) Get(id string) (*Channel, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	ch, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	return ch.Clone(), true
}

// List returns copies of every channel sorted by id.
func (s *Store) List() []Channel {
	s.cacheMu.RLock()
	out := make([]Channel, 0, len(s.cache))
	for _, ch := range s.cache {
		out = append(out, *ch.Clone())
	}
	s.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of cached channels.
func (s *Store) Count() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}

// Delete removes a channel from the repository and the cache.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, s.bridgeID, id); err != nil {
		return err
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()
	return nil
}

func (s *Store) put(ch *Channel) {
	s.cacheMu.Lock()
	s.cache[ch.ID] = ch.Clone()
	s.cacheMu.Unlock()
}
