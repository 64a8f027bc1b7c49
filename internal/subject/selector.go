package subject

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rzbill/rookery/internal/measurement"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// Persister stores the selection across restarts. store.Gateway satisfies it.
type Persister interface {
	CurrentSubject(ctx context.Context) (string, error)
	SetCurrentSubject(ctx context.Context, id string) error
}

// Selector holds the subject attributed to ingests that do not name one.
// It is safe for concurrent use.
type Selector struct {
	mu      sync.RWMutex
	current string
	persist Persister
	logger  logpkg.Logger
}

// NewSelector starts at initial. persist may be nil.
func NewSelector(initial string, persist Persister, logger logpkg.Logger) *Selector {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Selector{
		current: initial,
		persist: persist,
		logger:  logger.With(logpkg.Component("subject")),
	}
}

// Current returns the selected subject id.
func (s *Selector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set selects id. A blank id is a validation error. The new value is
// persisted before it becomes visible, so a failed write leaves the old one.
func (s *Selector) Set(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &measurement.ValidationError{Field: "id", Reason: "missing"}
	}
	if err := measurement.ValidateSubjectID(id); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist.SetCurrentSubject(ctx, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	prev := s.current
	s.current = id
	s.mu.Unlock()
	s.logger.Info("current subject changed", logpkg.Str("from", prev), logpkg.Str("to", id))
	return nil
}

// Restore loads a persisted selection, keeping the initial value when none
// was saved.
func (s *Selector) Restore(ctx context.Context, notFound error) error {
	if s.persist == nil {
		return nil
	}
	id, err := s.persist.CurrentSubject(ctx)
	if errors.Is(err, notFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	s.logger.Info("current subject restored", logpkg.Str("subject_id", id))
	return nil
}
