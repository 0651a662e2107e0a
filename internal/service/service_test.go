package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/orchestrator"
	"github.com/vizzle/studio/internal/store"
)

// stubJobs completes every submission immediately
type stubJobs struct {
	mu        sync.Mutex
	uploadErr error
	uploads   int
	safety    *model.SafetyCheckResponse
}

func (s *stubJobs) UploadImage(_ context.Context, _ *model.Media, role model.ImageRole) (*model.UploadedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	s.uploads++
	return &model.UploadedAsset{URL: "https://cdn/" + string(role) + ".jpg", PublicID: string(role)}, nil
}

func (s *stubJobs) done(kind model.JobKind, out string) *model.Job {
	return &model.Job{ID: "job-" + string(kind), Kind: kind, Status: model.JobStatusSucceeded, Output: []string{out}}
}

func (s *stubJobs) SubmitTryOn(context.Context, *model.TryOnRequest) (*model.Job, error) {
	return s.done(model.JobKindTryOn, "https://cdn/result.jpg"), nil
}

func (s *stubJobs) SubmitLayeredTryOn(context.Context, *model.LayeredTryOnRequest) (*model.Job, error) {
	return s.done(model.JobKindLayeredTryOn, "https://cdn/layered.jpg"), nil
}

func (s *stubJobs) SubmitVideo(context.Context, *model.VideoRequest) (*model.Job, error) {
	return s.done(model.JobKindVideo, "https://cdn/video.mp4"), nil
}

func (s *stubJobs) GetJob(_ context.Context, kind model.JobKind, id string) (*model.Job, error) {
	return nil, errors.New("not polled")
}

func (s *stubJobs) CheckGarmentSafety(_ context.Context, desc string) (*model.SafetyCheckResponse, error) {
	if s.safety != nil {
		return s.safety, nil
	}
	return &model.SafetyCheckResponse{Allowed: true}, nil
}

type stubMedia struct{}

func (stubMedia) FetchMedia(_ context.Context, src string) (*model.Media, error) {
	if model.IsDataURI(src) {
		return model.DecodeDataURI(src)
	}
	return &model.Media{ContentType: "image/jpeg", Data: []byte(src)}, nil
}

type noPoll struct{}

func (noPoll) PollUntilTerminal(context.Context, model.JobKind, string, func(*model.Job)) (*model.Job, error) {
	return nil, errors.New("not polled")
}

type recordingHub struct {
	mu     sync.Mutex
	states map[string][]model.OrchestratorState
}

func (h *recordingHub) BroadcastState(userID string, s model.OrchestratorState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.states == nil {
		h.states = make(map[string][]model.OrchestratorState)
	}
	h.states[userID] = append(h.states[userID], s)
}

func (h *recordingHub) count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states[userID])
}

type recordingArchive struct {
	mu   sync.Mutex
	jobs []string
}

func (a *recordingArchive) Archive(_ context.Context, userID string, job *model.Job, _ *model.Media) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, userID+"/"+job.ID)
	return "https://archive/" + job.ID, nil
}

func (a *recordingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func newGuarded() *store.GuardedStore {
	return store.NewGuardedStore(store.NewMemoryBackend(), store.DefaultAdmissionThreshold, logger.Nop(), nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSessionServiceRunsPerUser(t *testing.T) {
	jobs := &stubJobs{}
	results := store.NewResultStore(newGuarded(), "test")
	hub := &recordingHub{}
	archive := &recordingArchive{}
	hist := history.NewMemoryStore()

	svc := NewSessionService(orchestrator.Deps{
		Jobs:    jobs,
		Media:   stubMedia{},
		Poller:  noPoll{},
		History: hist,
		Results: results,
		Log:     logger.Nop(),
	}, archive, hub, logger.Nop(), 0)

	req := &orchestrator.Request{
		Human:   orchestrator.Source{Ref: "https://shop/model.jpg"},
		Garment: orchestrator.Source{Ref: "https://shop/shirt.jpg"},
	}
	if _, err := svc.Start("alice", model.JobKindTryOn, req); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		s, _ := svc.State("alice", model.JobKindTryOn)
		return s.State.Phase == model.PhaseSucceeded
	})
	waitFor(t, func() bool { return archive.count() == 1 })

	state, _ := svc.State("alice", model.JobKindTryOn)
	if state.State.Result != "https://cdn/result.jpg" {
		t.Errorf("result = %q", state.State.Result)
	}
	if len(state.Transitions) != 4 {
		t.Errorf("transitions = %+v", state.Transitions)
	}
	if hub.count("alice") == 0 || hub.count("bob") != 0 {
		t.Errorf("broadcasts alice=%d bob=%d", hub.count("alice"), hub.count("bob"))
	}

	bob, _ := svc.State("bob", model.JobKindTryOn)
	if bob.State.Phase != model.PhaseIdle {
		t.Errorf("bob shares alice's orchestrator: %+v", bob.State)
	}

	snaps, _ := results.Get(context.Background(), "alice")
	if snaps[model.JobKindTryOn].Output != "https://cdn/result.jpg" {
		t.Errorf("stored results %+v", snaps)
	}

	if _, err := svc.Reset(context.Background(), "alice", model.JobKindTryOn); err != nil {
		t.Fatal(err)
	}
	snaps, _ = results.Get(context.Background(), "alice")
	if _, ok := snaps[model.JobKindTryOn]; ok {
		t.Error("reset should clear the stored result")
	}

	entries, _ := hist.List(context.Background(), "alice", 0)
	if len(entries) != 1 {
		t.Errorf("history entries = %d", len(entries))
	}
}

func TestSessionServiceRejectsBadInput(t *testing.T) {
	svc := NewSessionService(orchestrator.Deps{Jobs: &stubJobs{}, Media: stubMedia{}, Poller: noPoll{}, Log: logger.Nop()}, nil, nil, logger.Nop(), 0)

	if _, err := svc.State("", model.JobKindTryOn); !errors.Is(err, ErrMissingUser) {
		t.Errorf("expected ErrMissingUser, got %v", err)
	}
	if _, err := svc.State("u", model.JobKind("poster")); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := svc.Start("u", model.JobKindVideo, &orchestrator.Request{}); !errors.Is(err, orchestrator.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}

	states, err := svc.States("u")
	if err != nil || len(states) != 3 {
		t.Fatalf("states = %v, %v", states, err)
	}
}

func TestUploadServiceStoresSlot(t *testing.T) {
	ctx := context.Background()
	jobs := &stubJobs{}
	uploads := store.NewUploadStateStore(newGuarded(), "test")
	svc := NewUploadService(jobs, stubMedia{}, uploads, 0, logger.Nop())

	res, err := svc.Upload(ctx, "u", model.ImageRoleHuman, &model.Media{ContentType: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Uploads.Human.Asset == nil || res.Uploads.Human.Asset.URL != "https://cdn/human.jpg" {
		t.Errorf("unexpected slot %+v", res.Uploads.Human)
	}
	if !strings.HasPrefix(res.Uploads.Human.Preview, "data:image/png;base64,") || !res.Persisted.Admitted {
		t.Errorf("unexpected preview %q admitted=%v", res.Uploads.Human.Preview, res.Persisted.Admitted)
	}

	jobs.uploadErr = &client.UploadError{Role: model.ImageRoleHuman, Message: "Failed to upload image"}
	if _, err := svc.Upload(ctx, "u", model.ImageRoleHuman, &model.Media{ContentType: "image/png", Data: []byte("x")}); err == nil {
		t.Fatal("expected upload error")
	}
	state, _ := svc.Get(ctx, "u")
	if state.Human.Asset != nil {
		t.Error("failed upload left a stale asset")
	}
}

func TestUploadServiceValidation(t *testing.T) {
	ctx := context.Background()
	jobs := &stubJobs{}
	svc := NewUploadService(jobs, stubMedia{}, store.NewUploadStateStore(newGuarded(), "test"), 0, logger.Nop())

	if _, err := svc.Upload(ctx, "u", model.ImageRoleGarment, &model.Media{ContentType: "text/plain", Data: []byte("x")}); !errors.Is(err, ErrUnsupportedMedia) {
		t.Errorf("expected ErrUnsupportedMedia, got %v", err)
	}

	big := &model.Media{ContentType: "image/jpeg", Data: make([]byte, 2*1024*1024+1)}
	_, err := svc.Upload(ctx, "u", model.ImageRoleGarment, big)
	var upErr *client.UploadError
	if !errors.As(err, &upErr) || upErr.Message != "Image must be smaller than 2MB" {
		t.Errorf("unexpected error %v", err)
	}
	if jobs.uploads != 0 {
		t.Error("invalid media reached the job service")
	}
}

func TestHistoryServiceLimits(t *testing.T) {
	ctx := context.Background()
	hist := history.NewMemoryStore()
	for i := 0; i < 3; i++ {
		_ = hist.Record(ctx, "u", &model.TryOnHistoryEntry{ResultImage: "r", Timestamp: time.Now().Add(time.Duration(i) * time.Second)})
	}
	svc := NewHistoryService(hist)

	res, err := svc.List(ctx, "u", 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || !res.Entries[0].Timestamp.After(res.Entries[1].Timestamp) {
		t.Errorf("unexpected list %+v", res)
	}

	empty, _ := svc.List(ctx, "nobody", 0)
	if empty.Entries == nil || empty.Count != 0 {
		t.Errorf("empty list should be non-nil: %+v", empty)
	}

	if err := svc.Delete(ctx, "u", "missing"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// gatedJobs holds uploads until released
type gatedJobs struct {
	*stubJobs
	release chan struct{}
}

func (g *gatedJobs) UploadImage(ctx context.Context, m *model.Media, role model.ImageRole) (*model.UploadedAsset, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.stubJobs.UploadImage(ctx, m, role)
}

func TestSessionServiceEvictsIdleUsers(t *testing.T) {
	jobs := &gatedJobs{stubJobs: &stubJobs{}, release: make(chan struct{})}
	svc := NewSessionService(orchestrator.Deps{Jobs: jobs, Media: stubMedia{}, Poller: noPoll{}, Log: logger.Nop()},
		nil, nil, logger.Nop(), time.Minute)
	t.Cleanup(svc.Shutdown)

	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }
	users := func() int {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.sessions)
	}

	if _, err := svc.State("idle", model.JobKindTryOn); err != nil {
		t.Fatal(err)
	}
	req := &orchestrator.Request{
		Human:   orchestrator.Source{Ref: "https://shop/model.jpg"},
		Garment: orchestrator.Source{Ref: "https://shop/shirt.jpg"},
	}
	if _, err := svc.Start("busy", model.JobKindTryOn, req); err != nil {
		t.Fatal(err)
	}

	now = now.Add(30 * time.Second)
	if n := svc.EvictIdle(); n != 0 {
		t.Fatalf("evicted %d users before the idle TTL", n)
	}

	now = now.Add(time.Minute)
	if _, err := svc.State("fresh", model.JobKindVideo); err != nil {
		t.Fatal(err)
	}
	if n := svc.EvictIdle(); n != 1 {
		t.Fatalf("evicted %d users, want only the idle one", n)
	}
	if users() != 2 {
		t.Fatalf("sessions = %d, want busy and fresh", users())
	}

	close(jobs.release)
	waitFor(t, func() bool {
		svc.mu.Lock()
		o := svc.sessions["busy"].byKind[model.JobKindTryOn]
		svc.mu.Unlock()
		return o.State().Phase == model.PhaseSucceeded
	})

	now = now.Add(2 * time.Minute)
	if n := svc.EvictIdle(); n != 2 {
		t.Errorf("evicted %d users after the run finished, want 2", n)
	}
	if users() != 0 {
		t.Errorf("sessions = %d, want 0", users())
	}

	s, err := svc.State("idle", model.JobKindTryOn)
	if err != nil || s.State.Phase != model.PhaseIdle {
		t.Errorf("evicted user should start over idle: %+v, %v", s, err)
	}
}
