package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/orchestrator"
)

var (
	ErrMissingUser = errors.New("user id is required")
	ErrUnknownKind = errors.New("unknown job kind")
)

const archiveTimeout = 2 * time.Minute

// DefaultSessionIdleTTL is how long a user's orchestrators outlive their last use
const DefaultSessionIdleTTL = 30 * time.Minute

// StateBroadcaster pushes orchestrator state changes to a user's live sessions
type StateBroadcaster interface {
	BroadcastState(userID string, state model.OrchestratorState)
}

// resultClearer drops the persisted outcome of a kind
type resultClearer interface {
	Clear(ctx context.Context, userID string, kind model.JobKind) (model.PersistedValue, error)
}

// SessionService owns one try-on, one layered and one video orchestrator per user.
// Orchestrators are created on first use and dropped by EvictIdle once none of
// them has been used for the idle TTL and none is running.
type SessionService struct {
	deps    orchestrator.Deps
	archive client.ResultArchive
	hub     StateBroadcaster
	log     *logger.Logger
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	byKind   map[model.JobKind]*orchestrator.Orchestrator
	lastUsed time.Time
}

// NewSessionService creates the session registry. archive and hub may be nil.
// idleTTL <= 0 uses DefaultSessionIdleTTL.
func NewSessionService(deps orchestrator.Deps, archive client.ResultArchive, hub StateBroadcaster, log *logger.Logger, idleTTL time.Duration) *SessionService {
	if idleTTL <= 0 {
		idleTTL = DefaultSessionIdleTTL
	}
	return &SessionService{
		deps:     deps,
		archive:  archive,
		hub:      hub,
		log:      log.With("component", "session_service"),
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Start begins a run of kind for the user and returns the accepted state
func (s *SessionService) Start(userID string, kind model.JobKind, req *orchestrator.Request) (*model.OrchestratorStateResponse, error) {
	o, err := s.orchestrator(userID, kind)
	if err != nil {
		return nil, err
	}
	req.UserID = userID

	// Runs outlive the request that started them; Dismiss is the only way to stop one.
	if err := o.Start(context.Background(), req); err != nil {
		return nil, err
	}
	return stateOf(o), nil
}

// State returns the current state of the user's orchestrator for kind
func (s *SessionService) State(userID string, kind model.JobKind) (*model.OrchestratorStateResponse, error) {
	o, err := s.orchestrator(userID, kind)
	if err != nil {
		return nil, err
	}
	return stateOf(o), nil
}

// States returns the state of every orchestrator of the user
func (s *SessionService) States(userID string) ([]model.OrchestratorState, error) {
	out := make([]model.OrchestratorState, 0, len(model.ValidJobKinds))
	for _, kind := range model.ValidJobKinds {
		o, err := s.orchestrator(userID, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, o.State())
	}
	return out, nil
}

// Reset returns a finished orchestrator to idle and forgets its stored outcome
func (s *SessionService) Reset(ctx context.Context, userID string, kind model.JobKind) (*model.OrchestratorStateResponse, error) {
	o, err := s.orchestrator(userID, kind)
	if err != nil {
		return nil, err
	}
	if err := o.Reset(); err != nil {
		return nil, err
	}
	if rc, ok := s.deps.Results.(resultClearer); ok {
		if _, err := rc.Clear(ctx, userID, kind); err != nil {
			s.log.Warn("failed to clear stored result", "user_id", userID, "kind", kind, "error", err)
		}
	}
	return stateOf(o), nil
}

// Dismiss cancels the in-flight run of kind, if any
func (s *SessionService) Dismiss(userID string, kind model.JobKind) (*model.OrchestratorStateResponse, error) {
	o, err := s.orchestrator(userID, kind)
	if err != nil {
		return nil, err
	}
	if o.Dismiss() {
		s.log.Info("run dismissed by user", "user_id", userID, "kind", kind)
	}
	return stateOf(o), nil
}

// Shutdown dismisses every in-flight run
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	var all []*orchestrator.Orchestrator
	for _, sess := range s.sessions {
		for _, o := range sess.byKind {
			all = append(all, o)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, o := range all {
		if o.Dismiss() {
			n++
		}
	}
	if n > 0 {
		s.log.Info("dismissed in-flight runs", "count", n)
	}
}

func (s *SessionService) orchestrator(userID string, kind model.JobKind) (*orchestrator.Orchestrator, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{byKind: make(map[model.JobKind]*orchestrator.Orchestrator, len(model.ValidJobKinds))}
		for _, k := range model.ValidJobKinds {
			o, err := orchestrator.New(k, s.deps, s.archiveResult)
			if err != nil {
				return nil, err
			}
			if s.hub != nil {
				o.Subscribe(func(state model.OrchestratorState) {
					s.hub.BroadcastState(userID, state)
				})
			}
			sess.byKind[k] = o
		}
		s.sessions[userID] = sess
		s.log.Debug("session created", "user_id", userID)
	}
	sess.lastUsed = s.now()
	return sess.byKind[kind], nil
}

// EvictIdle drops the orchestrators of users idle for longer than the idle TTL.
// Users with a run in flight are kept. Returns the number of users dropped.
func (s *SessionService) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	n := 0
	for userID, sess := range s.sessions {
		if sess.lastUsed.After(cutoff) || sess.inFlight() {
			continue
		}
		delete(s.sessions, userID)
		n++
	}
	if n > 0 {
		s.log.Debug("idle sessions evicted", "count", n, "remaining", len(s.sessions))
	}
	return n
}

// RunEviction calls EvictIdle every interval until ctx is done
func (s *SessionService) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}

func (sess *session) inFlight() bool {
	for _, o := range sess.byKind {
		if o.State().Phase.InFlight() {
			return true
		}
	}
	return false
}

// archiveResult copies a finished result into the archive bucket. Failures are
// logged only.
func (s *SessionService) archiveResult(ctx context.Context, res orchestrator.Success) {
	if s.archive == nil || s.deps.Media == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	media, err := s.deps.Media.FetchMedia(ctx, res.Result)
	if err != nil {
		s.log.Warn("failed to fetch result for archive", "user_id", res.UserID, "job_id", res.Job.ID, "error", err)
		return
	}
	url, err := s.archive.Archive(ctx, res.UserID, res.Job, media)
	if err != nil {
		s.log.Warn("failed to archive result", "user_id", res.UserID, "job_id", res.Job.ID, "error", err)
		return
	}
	s.log.Info("result archived", "user_id", res.UserID, "job_id", res.Job.ID, "url", url)
}

func stateOf(o *orchestrator.Orchestrator) *model.OrchestratorStateResponse {
	ts := o.Transitions()
	if ts == nil {
		ts = []model.Transition{}
	}
	return &model.OrchestratorStateResponse{State: o.State(), Transitions: ts}
}

func validKind(kind model.JobKind) bool {
	for _, k := range model.ValidJobKinds {
		if k == kind {
			return true
		}
	}
	return false
}
