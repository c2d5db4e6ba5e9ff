package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a session. Transitions only move forward;
// a failure while segmenting or dispatching does not branch into an error
// state, the session still assembles what it has and gets cleaned up.
type State int

const (
	StateCreated State = iota
	StateSegmenting
	StateDispatching
	StateAssembling
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateSegmenting:
		return "SEGMENTING"
	case StateDispatching:
		return "DISPATCHING"
	case StateAssembling:
		return "ASSEMBLING"
	case StateCleanedUp:
		return "CLEANED_UP"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CleanupError reports scratch artifacts that could not be removed.
// It is logged, never returned to the transcript consumer.
type CleanupError struct {
	Dir  string
	Errs []error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s: %v", e.Dir, errors.Join(e.Errs...))
}

func (e *CleanupError) Unwrap() []error {
	return e.Errs
}

const openAttempts = 5

// Manager allocates session scratch directories under a root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a manager rooted at root.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger}
}

// Root returns the directory sessions are created in.
func (m *Manager) Root() string {
	return m.root
}

// Open creates a new session with an exclusively owned scratch directory.
func (m *Manager) Open() (*Session, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}

	for attempt := 0; attempt < openAttempts; attempt++ {
		id := uuid.New()
		dir := filepath.Join(m.root, shortID(id))
		// Mkdir fails if the name exists, so two sessions never share a directory.
		err := os.Mkdir(dir, 0o755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}

		s := &Session{
			ID:     id,
			Dir:    dir,
			logger: m.logger.With("session", shortID(id)),
		}
		s.logger.Debug("session opened", "dir", dir)
		return s, nil
	}
	return nil, fmt.Errorf("create session dir: %d name collisions under %s", openAttempts, m.root)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// Session owns one scratch directory and every artifact created in it.
type Session struct {
	ID  uuid.UUID
	Dir string

	mu        sync.Mutex
	state     State
	artifacts []string

	once     sync.Once
	closeErr error
	logger   *slog.Logger
}

// ShortID is the 8-character prefix used for directory and file names.
func (s *Session) ShortID() string {
	return shortID(s.ID)
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves the session forward. Backward moves and moves out of
// CLEANED_UP are ignored.
func (s *Session) Advance(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= s.state || s.state == StateCleanedUp {
		return
	}
	s.logger.Debug("session state", "from", s.state, "to", next)
	s.state = next
}

// Track registers artifacts to delete on Close.
func (s *Session) Track(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, paths...)
}

// Artifacts returns the tracked artifact paths.
func (s *Session) Artifacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// Close removes the tracked artifacts and then the whole directory tree.
// It runs once; later calls return the first result. Failures are logged.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		artifacts := s.artifacts
		s.artifacts = nil
		s.mu.Unlock()

		var errs []error
		for _, p := range artifacts {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := os.RemoveAll(s.Dir); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		s.state = StateCleanedUp
		s.mu.Unlock()

		if len(errs) > 0 {
			s.closeErr = &CleanupError{Dir: s.Dir, Errs: errs}
			s.logger.Error("session cleanup failed", "dir", s.Dir, "error", s.closeErr)
			return
		}
		s.logger.Debug("session cleaned up", "dir", s.Dir, "artifacts", len(artifacts))
	})
	return s.closeErr
}
