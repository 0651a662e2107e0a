package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/metrics"
	"github.com/vizzle/studio/internal/model"
)

// ErrBusy is returned when a run is already in flight
var ErrBusy = errors.New("a job is already in progress")

const (
	DefaultMaxUploadBytes = 2 * 1024 * 1024
	historyTimeout        = 10 * time.Second
)

var tracer trace.Tracer = otel.Tracer("github.com/vizzle/studio/internal/orchestrator")

// Poller waits for a job to reach a terminal status
type Poller interface {
	PollUntilTerminal(ctx context.Context, kind model.JobKind, jobID string, onStatus func(*model.Job)) (*model.Job, error)
}

// ResultSink records job outcome references
type ResultSink interface {
	Put(ctx context.Context, userID string, snap model.JobResultSnapshot) (model.PersistedValue, error)
}

// Success describes a finished run
type Success struct {
	UserID string
	Job    *model.Job
	Result string
}

// Deps are the collaborators shared by orchestrators
type Deps struct {
	Jobs           client.JobService
	Media          client.MediaFetcher
	Poller         Poller
	History        history.Recorder // optional
	Results        ResultSink       // optional
	Metrics        *metrics.Metrics // optional
	Log            *logger.Logger
	MaxUploadBytes int64
}

// Orchestrator drives one job kind through
// idle → uploading → submitting → processing → succeeded | failed.
// It runs at most one job at a time.
type Orchestrator struct {
	flow      flow
	deps      Deps
	log       *logger.Logger
	onSuccess func(context.Context, Success)

	mu          sync.Mutex
	state       model.OrchestratorState
	transitions []model.Transition
	gen         uint64
	cancel      context.CancelFunc
	startedAt   time.Time
	observers   []func(model.OrchestratorState)
}

// New creates an orchestrator for kind. onSuccess may be nil.
func New(kind model.JobKind, deps Deps, onSuccess func(context.Context, Success)) (*Orchestrator, error) {
	f, err := flowFor(kind)
	if err != nil {
		return nil, err
	}
	if deps.Jobs == nil || deps.Poller == nil {
		return nil, fmt.Errorf("orchestrator requires a job service and a poller")
	}
	if deps.History == nil {
		deps.History = history.NopRecorder{}
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Orchestrator{
		flow:      f,
		deps:      deps,
		log:       deps.Log.With("component", "orchestrator", "kind", kind),
		onSuccess: onSuccess,
		state: model.OrchestratorState{
			Kind:      kind,
			Phase:     model.PhaseIdle,
			UpdatedAt: time.Now(),
		},
	}, nil
}

// Kind returns the job kind this orchestrator drives
func (o *Orchestrator) Kind() model.JobKind {
	return o.flow.kind()
}

// State returns a copy of the current state
func (o *Orchestrator) State() model.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transitions returns the phase changes since the current run started
func (o *Orchestrator) Transitions() []model.Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.Transition(nil), o.transitions...)
}

// Subscribe registers fn to receive every state change. fn must not block.
func (o *Orchestrator) Subscribe(fn func(model.OrchestratorState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// Run executes a full run and blocks until it ends. Run failures are reported
// both in the returned state and as the error.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (model.OrchestratorState, error) {
	gen, runCtx, err := o.begin(ctx, req)
	if err != nil {
		return o.State(), err
	}
	err = o.execute(runCtx, gen, req)
	return o.State(), err
}

// Start begins a run in the background. It returns once the run is accepted;
// the run itself is detached from ctx cancellation and is stopped with Dismiss.
func (o *Orchestrator) Start(ctx context.Context, req *Request) error {
	gen, runCtx, err := o.begin(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}
	go func() {
		_ = o.execute(runCtx, gen, req)
	}()
	return nil
}

// Reset returns a finished orchestrator to idle, clearing job, result and error.
// It is a no-op when already idle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.state.Phase.InFlight() {
		o.mu.Unlock()
		return ErrBusy
	}
	changed := o.state.Phase != model.PhaseIdle
	if changed {
		o.toIdleLocked()
	}
	snapshot, observers := o.state, o.observers
	o.mu.Unlock()

	if changed {
		notify(observers, snapshot)
	}
	return nil
}

// Dismiss cancels an in-flight run and returns to idle. Late results of the
// cancelled run are discarded. Reports whether a run was cancelled.
func (o *Orchestrator) Dismiss() bool {
	o.mu.Lock()
	if !o.state.Phase.InFlight() {
		o.mu.Unlock()
		return false
	}
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.deps.Metrics.RunFinished(string(o.flow.kind()), "dismissed", time.Since(o.startedAt).Seconds())
	o.toIdleLocked()
	snapshot, observers := o.state, o.observers
	o.mu.Unlock()

	o.log.Info("run dismissed")
	notify(observers, snapshot)
	return true
}

// begin claims the orchestrator for a new run
func (o *Orchestrator) begin(ctx context.Context, req *Request) (uint64, context.Context, error) {
	if err := o.flow.validate(req); err != nil {
		return 0, nil, err
	}

	o.mu.Lock()
	if o.state.Phase.InFlight() {
		o.mu.Unlock()
		return 0, nil, ErrBusy
	}

	o.transitions = o.transitions[:0]
	if o.state.Phase != model.PhaseIdle {
		o.toIdleLocked()
	}
	o.gen++
	gen := o.gen
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.startedAt = time.Now()
	o.setPhaseLocked(model.PhaseUploading)
	snapshot, observers := o.state, o.observers
	o.mu.Unlock()

	o.deps.Metrics.RunStarted(string(o.flow.kind()))
	notify(observers, snapshot)
	return gen, runCtx, nil
}

// execute performs upload, submit and poll for the run identified by gen
func (o *Orchestrator) execute(ctx context.Context, gen uint64, req *Request) error {
	ctx, span := tracer.Start(ctx, "orchestrator.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("job.kind", string(o.flow.kind()))),
	)
	defer span.End()

	log := o.log.With("user_id", req.UserID)

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if o.finish(gen, model.PhaseFailed, nil, err.Error()) {
			log.Warn("run failed", "error", err)
		}
		return err
	}

	// uploading
	urls := make(map[string]string)
	for _, up := range o.flow.uploads(req) {
		asset, err := o.upload(ctx, up)
		if o.stale(gen) {
			return context.Canceled
		}
		if err != nil {
			return fail(err)
		}
		urls[up.slot] = asset.URL
	}

	// submitting
	if !o.advance(gen, model.PhaseSubmitting, nil) {
		return context.Canceled
	}
	job, err := o.flow.submit(ctx, o.deps.Jobs, req, urls)
	if o.stale(gen) {
		return context.Canceled
	}
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("job.id", job.ID))

	// processing
	if !o.advance(gen, model.PhaseProcessing, func(s *model.OrchestratorState) {
		s.JobID = job.ID
		s.Status = job.Status
	}) {
		return context.Canceled
	}
	log = log.With("job_id", job.ID)

	final := job
	if !job.Status.IsTerminal() {
		final, err = o.deps.Poller.PollUntilTerminal(ctx, o.flow.kind(), job.ID, func(j *model.Job) {
			o.advance(gen, model.PhaseProcessing, func(s *model.OrchestratorState) { s.Status = j.Status })
		})
		if o.stale(gen) {
			return context.Canceled
		}
		if err != nil {
			return fail(err)
		}
	}

	if final.Status == model.JobStatusFailed {
		msg := final.Error
		if msg == "" {
			msg = o.flow.failMessage()
		}
		o.recordResult(gen, req, final, "")
		return fail(errors.New(msg))
	}

	result := final.PrimaryOutput()
	if result == "" {
		return fail(errors.New("No result returned"))
	}

	// stored while still in flight, so a Reset cannot clear it before it lands
	o.recordResult(gen, req, final, result)
	if !o.finish(gen, model.PhaseSucceeded, final, "") {
		return context.Canceled
	}
	log.Info("run succeeded", "result", result)

	o.recordHistory(ctx, req, urls, result)
	if o.onSuccess != nil {
		o.onSuccess(context.WithoutCancel(ctx), Success{UserID: req.UserID, Job: final, Result: result})
	}
	return nil
}

// upload resolves one source and sends it to the job service
func (o *Orchestrator) upload(ctx context.Context, up upload) (*model.UploadedAsset, error) {
	media := up.src.Media
	if media == nil {
		fetched, err := o.deps.Media.FetchMedia(ctx, up.src.Ref)
		if err != nil {
			return nil, &client.UploadError{Role: up.role, Message: "Failed to load " + up.slot + " image", Err: err}
		}
		media = fetched
	}
	if media.Size() == 0 {
		return nil, &client.UploadError{Role: up.role, Message: "The " + up.slot + " image is empty"}
	}
	if media.Size() > o.deps.MaxUploadBytes {
		return nil, &client.UploadError{
			Role:    up.role,
			Message: fmt.Sprintf("Image must be smaller than %dMB", o.deps.MaxUploadBytes/(1024*1024)),
		}
	}
	return o.deps.Jobs.UploadImage(ctx, media, up.role)
}

// recordResult stores the outcome reference of run gen. Dismissed runs store
// nothing. Failures are logged only.
func (o *Orchestrator) recordResult(gen uint64, req *Request, job *model.Job, result string) {
	if o.deps.Results == nil || req.UserID == "" || o.stale(gen) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	snap := model.JobResultSnapshot{JobID: job.ID, Kind: job.Kind, Status: job.Status, Output: result}
	if _, err := o.deps.Results.Put(ctx, req.UserID, snap); err != nil {
		o.log.Warn("failed to store job result", "job_id", job.ID, "error", err)
	}
}

// recordHistory records a history entry best-effort. Failures never affect state.
func (o *Orchestrator) recordHistory(ctx context.Context, req *Request, urls map[string]string, result string) {
	if req.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	entry := o.flow.historyEntry(req, urls, result)
	if err := o.deps.History.Record(ctx, req.UserID, entry); err != nil {
		o.deps.Metrics.HistoryFailed()
		o.log.Warn("failed to record history", "error", err)
	}
}

// stale reports whether gen is no longer the current run
func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen != o.gen
}

// advance moves the current run to phase, applying mutate. Returns false when gen
// was dismissed.
func (o *Orchestrator) advance(gen uint64, phase model.Phase, mutate func(*model.OrchestratorState)) bool {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate(&o.state)
	}
	o.setPhaseLocked(phase)
	snapshot, observers := o.state, o.observers
	o.mu.Unlock()

	notify(observers, snapshot)
	return true
}

// finish ends run gen in a terminal phase
func (o *Orchestrator) finish(gen uint64, phase model.Phase, job *model.Job, errMsg string) bool {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return false
	}
	if job != nil {
		o.state.Status = job.Status
		o.state.Result = job.PrimaryOutput()
	}
	if phase == model.PhaseFailed {
		o.state.Error = errMsg
	}
	cancel := o.cancel
	o.cancel = nil
	o.setPhaseLocked(phase)
	elapsed := time.Since(o.startedAt)
	snapshot, observers := o.state, o.observers
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	o.deps.Metrics.RunFinished(string(o.flow.kind()), string(phase), elapsed.Seconds())
	notify(observers, snapshot)
	return true
}

func (o *Orchestrator) setPhaseLocked(phase model.Phase) {
	now := time.Now()
	if o.state.Phase != phase {
		o.transitions = append(o.transitions, model.Transition{From: o.state.Phase, To: phase, At: now})
	}
	o.state.Phase = phase
	o.state.UpdatedAt = now
}

func (o *Orchestrator) toIdleLocked() {
	o.state.JobID = ""
	o.state.Status = ""
	o.state.Result = ""
	o.state.Error = ""
	o.setPhaseLocked(model.PhaseIdle)
}

func notify(observers []func(model.OrchestratorState), state model.OrchestratorState) {
	for _, fn := range observers {
		fn(state)
	}
}
