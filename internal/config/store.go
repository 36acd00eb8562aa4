package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
)

// Store is the layered, validated, versioned configuration.
//
// Every mutation follows the same protocol: stage the change on a copy of
// the override chain, resolve, validate, then either reject (state
// unchanged) or swap the copy in, append a snapshot and notify listeners.
// Commits are serialized; with concurrent writers the last committer wins.
//
// Listeners run synchronously inside the commit and must not commit to the
// same Store themselves.
type Store struct {
	commitMu sync.Mutex

	mu      sync.RWMutex
	chain   OverrideChain
	tracker ChangeTracker

	validator Validator
	reloader  HotReloader
	logger    *slog.Logger
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithValidator replaces DefaultValidator.
func WithValidator(v Validator) StoreOption {
	return func(s *Store) {
		s.validator = v
	}
}

// WithLogger sets the logger used for commit and rejection records.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// WithLayer seeds a layer before the initial snapshot is taken.
func WithLayer(l Layer, settings Settings) StoreOption {
	return func(s *Store) {
		s.chain.SetLayer(l, settings)
	}
}

// NewStore builds a Store from the defaults layer plus any seeded layers.
// The initial resolved configuration must validate; it becomes snapshot 1.
func NewStore(defaults Settings, opts ...StoreOption) (*Store, error) {
	s := &Store{
		validator: DefaultValidator{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	s.chain.SetLayer(LayerDefaults, defaults)
	for _, opt := range opts {
		opt(s)
	}

	resolved := s.chain.Resolve()
	if errs := s.validator.Validate(resolved); len(errs) > 0 {
		return nil, fmt.Errorf("initial configuration: %w", ragerrors.ConfigValidationError(errs))
	}
	s.tracker.record(s.chain, resolved, s.now())
	return s, nil
}

// Resolved returns a copy of the current resolved configuration.
func (s *Store) Resolved() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Latest().Resolved.Clone()
}

// Layer returns a copy of one layer.
func (s *Store) Layer(l Layer) Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Layer(l)
}

// Version is the version of the newest snapshot.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Latest().Version
}

// HistoryLen returns the number of snapshots available for rollback.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Len()
}

// History returns the snapshots, oldest first.
func (s *Store) History() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker.Snapshots()
}

// Get returns the resolved string value of a dotted key.
func (s *Store) Get(key string) (string, bool, error) {
	return s.Resolved().Get(key)
}

// Policy returns the tuner policy from the current resolved configuration.
func (s *Store) Policy() Policy {
	return s.Resolved().Policy()
}

// Validate runs the store's validator without committing anything.
func (s *Store) Validate(settings Settings) ragerrors.FieldErrors {
	return s.validator.Validate(settings)
}

// OnChange registers a listener for committed changes.
func (s *Store) OnChange(l Listener) {
	s.reloader.Register(l)
}

// SetLayer replaces a whole layer.
func (s *Store) SetLayer(l Layer, settings Settings) error {
	return s.UpdateLayer(l, func(cur *Settings) error {
		*cur = settings.Clone()
		return nil
	})
}

// ClearLayer empties a layer so lower layers show through again.
func (s *Store) ClearLayer(l Layer) error {
	return s.SetLayer(l, Settings{})
}

// Set assigns one dotted key in a layer.
func (s *Store) Set(l Layer, key, raw string) error {
	return s.UpdateLayer(l, func(cur *Settings) error {
		return cur.Set(key, raw)
	})
}

// UpdateLayer applies fn to a copy of layer l and commits the result.
// Reading the layer and committing happen under one lock, so read-modify-
// write callers such as the auto-tuner never lose a concurrent update.
func (s *Store) UpdateLayer(l Layer, fn func(cur *Settings) error) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.RLock()
	staged := s.chain.clone()
	s.mu.RUnlock()

	layer := staged.Layer(l)
	if err := fn(&layer); err != nil {
		return err
	}
	staged.SetLayer(l, layer)
	return s.commit(staged, l)
}

// commit must be called with commitMu held.
func (s *Store) commit(staged OverrideChain, l Layer) error {
	resolved := staged.Resolve()
	if errs := s.validator.Validate(resolved); len(errs) > 0 {
		s.logger.Warn("config commit rejected",
			slog.String("layer", l.String()),
			slog.String("fields", errs.String()))
		return ragerrors.ConfigValidationError(errs)
	}

	s.mu.Lock()
	s.chain = staged
	snap := s.tracker.record(staged, resolved, s.now())
	s.mu.Unlock()

	s.logger.Info("config committed",
		slog.String("layer", l.String()),
		slog.Int("version", snap.Version))
	s.reloader.Notify(resolved)
	return nil
}

// Rollback discards the newest steps snapshots and restores every layer
// from the snapshot that becomes current. Listeners are notified.
func (s *Store) Rollback(steps int) (Settings, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	snap, err := s.tracker.Rollback(steps)
	if err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.chain = snap.chain.clone()
	s.mu.Unlock()

	s.logger.Info("config rolled back",
		slog.Int("steps", steps),
		slog.Int("version", snap.Version))
	s.reloader.Notify(snap.Resolved)
	return snap.Resolved.Clone(), nil
}
