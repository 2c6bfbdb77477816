package rules

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store publishes the active RuleSet. Readers never lock; reloads are
// serialized so versions stay monotonic.
type Store struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[RuleSet]
	version atomic.Uint64
	mu      sync.Mutex
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Open performs the initial load. Unlike Reload, a failure here leaves the
// store empty and is returned to the caller.
func (s *Store) Open() error {
	return s.Reload()
}

func (s *Store) Path() string { return s.path }

// Current returns the active snapshot, or an empty set before the first
// successful load.
func (s *Store) Current() *RuleSet {
	if rs := s.current.Load(); rs != nil {
		return rs
	}
	return &RuleSet{}
}

// Swap installs rs, assigning it the next version.
func (s *Store) Swap(rs *RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swap(rs)
}

func (s *Store) swap(rs *RuleSet) {
	if rs == nil {
		return
	}
	rs.Version = s.version.Add(1)
	s.current.Store(rs)
}

// Reload rebuilds the set from the configured path. On failure the active
// set is untouched.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("rule store has no source path")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, err := Load(s.path)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("rule reload failed", "path", s.path, "err", err, "active_version", s.Current().Version)
		}
		return err
	}
	s.swap(rs)
	if s.logger != nil {
		s.logger.Info("rules loaded", "path", s.path, "version", rs.Version, "rules", len(rs.Rules), "geofences", len(rs.Geofences))
	}
	return nil
}
