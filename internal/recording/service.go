package recording

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/directout-bridge/internal/directout"
)

// Controller is the part of a device session the service drives.
type Controller interface {
	SetRecording(on bool)
	Recording() bool
	DeviceType() directout.DeviceType
}

// Service groups recorded actions into recording sessions. Each Start
// opens a new session id; actions received while it is open are stored
// under it when a repository is configured, and kept in memory
// otherwise.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	ctrl   Controller
	repo   *Repository
	logger Logger

	mu      sync.Mutex
	current string
	started time.Time
	pending []Entry
}

// saveTimeout bounds one insert from the session's event path.
const saveTimeout = 2 * time.Second

// NewService returns a service controlling ctrl. repo may be nil.
func NewService(ctrl Controller, repo *Repository, logger Logger) *Service {
	return &Service{ctrl: ctrl, repo: repo, logger: logger}
}

// Start turns recording on and opens a new session. Starting while a
// session is open keeps it.
func (s *Service) Start() string {
	s.mu.Lock()
	if s.current == "" {
		s.current = uuid.NewString()
		s.started = time.Now().UTC()
		s.pending = nil
	}
	id := s.current
	s.mu.Unlock()

	s.ctrl.SetRecording(true)
	if s.logger != nil {
		s.logger.Info("recording started", "session_id", id)
	}
	return id
}

// Stop turns recording off and closes the session. It returns the closed
// session id, or "" when none was open.
func (s *Service) Stop() string {
	s.ctrl.SetRecording(false)

	s.mu.Lock()
	id := s.current
	s.current = ""
	s.mu.Unlock()

	if id != "" && s.logger != nil {
		s.logger.Info("recording stopped", "session_id", id)
	}
	return id
}

// Current returns the open session id and when it started.
func (s *Service) Current() (string, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.started, s.current != ""
}

// Handle stores one recorded action. It is installed as the session's
// OnRecorded hook.
func (s *Service) Handle(a directout.RecordedAction) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" {
		// Recording was switched on directly on the session.
		id = s.Start()
	}

	e := Entry{RecordedAction: a, SessionID: id, DeviceType: string(s.ctrl.DeviceType())}
	if s.repo == nil {
		s.mu.Lock()
		s.pending = append(s.pending, e)
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.repo.Save(ctx, e); err != nil && s.logger != nil {
		s.logger.Error("storing recorded action failed", "action_id", a.ActionID, "error", err)
	}
}

// Actions returns the actions of sessionID. An empty sessionID selects the
// open session, or every session when none is open.
func (s *Service) Actions(ctx context.Context, sessionID string, since time.Time, limit int) ([]Entry, error) {
	if sessionID == "" {
		s.mu.Lock()
		sessionID = s.current
		s.mu.Unlock()
	}
	if s.repo != nil {
		return s.repo.List(ctx, Filter{SessionID: sessionID, Since: since, Limit: limit})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.pending {
		if (sessionID != "" && e.SessionID != sessionID) || e.RecordedAt.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Sessions lists stored sessions. Without a repository only the open
// session is reported.
func (s *Service) Sessions(ctx context.Context) ([]Summary, error) {
	if s.repo != nil {
		return s.repo.Sessions(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	return []Summary{{
		SessionID: s.pending[0].SessionID,
		Actions:   len(s.pending),
		First:     s.pending[0].RecordedAt,
		Last:      s.pending[len(s.pending)-1].RecordedAt,
	}}, nil
}
