package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
)

type step struct {
	status model.JobStatus
	output string
	errMsg string
	err    error
}

// scriptedFetcher replays steps in order and repeats the last one.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptedFetcher) GetJob(ctx context.Context, kind model.JobKind, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	s := f.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	job := &model.Job{ID: jobID, Kind: kind, Status: s.status, Error: s.errMsg}
	if s.output != "" {
		job.Output = []string{s.output}
	}
	return job, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newFastPoller(f StatusFetcher, maxWait time.Duration, maxErrors int) *Poller {
	p := New(f, Options{MaxWait: maxWait, MaxConsecutiveErrors: maxErrors}, logger.Nop(), nil)
	p.opts.Interval = 2 * time.Millisecond
	return p
}

func TestPollUntilTerminalSucceeds(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{status: model.JobStatusPending},
		{status: model.JobStatusProcessing},
		{status: model.JobStatusProcessing},
		{status: model.JobStatusSucceeded, output: "https://out/r.png"},
	}}
	p := newFastPoller(f, time.Second, 3)

	var seen []model.JobStatus
	job, err := p.PollUntilTerminal(context.Background(), model.JobKindTryOn, "j1", func(j *model.Job) {
		seen = append(seen, j.Status)
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if job.PrimaryOutput() != "https://out/r.png" {
		t.Errorf("unexpected output %q", job.PrimaryOutput())
	}
	want := []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusSucceeded}
	if len(seen) != len(want) {
		t.Fatalf("status changes = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
	if f.Calls() != 4 {
		t.Errorf("calls = %d, want 4", f.Calls())
	}
}

func TestPollUntilTerminalIgnoresRegression(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{status: model.JobStatusProcessing},
		{status: model.JobStatusPending},
		{status: model.JobStatusSucceeded, output: "o"},
	}}
	p := newFastPoller(f, time.Second, 3)

	var seen []model.JobStatus
	_, err := p.PollUntilTerminal(context.Background(), model.JobKindVideo, "j2", func(j *model.Job) {
		seen = append(seen, j.Status)
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Rank() < seen[i-1].Rank() {
			t.Fatalf("status regressed: %v", seen)
		}
	}
}

func TestPollUntilTerminalFailedStatus(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: model.JobStatusFailed, errMsg: "bad input"}}}
	p := newFastPoller(f, time.Second, 3)

	job, err := p.PollUntilTerminal(context.Background(), model.JobKindTryOn, "j3", nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if job.Status != model.JobStatusFailed || job.Error != "bad input" {
		t.Errorf("unexpected job %+v", job)
	}
	if f.Calls() != 1 {
		t.Errorf("calls = %d, want 1", f.Calls())
	}
}

func TestPollUntilTerminalToleratesTransientErrors(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{status: model.JobStatusProcessing},
		{err: errors.New("connection reset")},
		{status: model.JobStatusSucceeded, output: "o"},
	}}
	p := newFastPoller(f, time.Second, 3)

	job, err := p.PollUntilTerminal(context.Background(), model.JobKindTryOn, "j4", nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if job.Status != model.JobStatusSucceeded {
		t.Errorf("status = %s", job.Status)
	}
}

func TestPollUntilTerminalGivesUpAfterConsecutiveErrors(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{err: errors.New("service unavailable")}}}
	p := newFastPoller(f, time.Second, 3)

	_, err := p.PollUntilTerminal(context.Background(), model.JobKindTryOn, "j5", nil)
	var pollErr *client.PollError
	if !errors.As(err, &pollErr) {
		t.Fatalf("expected PollError, got %v", err)
	}
	if pollErr.Attempts != 3 || f.Calls() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", pollErr.Attempts, f.Calls())
	}
}

func TestPollUntilTerminalTimesOut(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: model.JobStatusProcessing}}}
	p := newFastPoller(f, 30*time.Millisecond, 3)

	_, err := p.PollUntilTerminal(context.Background(), model.JobKindVideo, "j6", nil)
	var timeoutErr *client.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.JobID != "j6" {
		t.Errorf("job id = %s", timeoutErr.JobID)
	}
}

func TestPollUntilTerminalHonorsCancel(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{status: model.JobStatusProcessing}}}
	p := newFastPoller(f, time.Minute, 3)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.PollUntilTerminal(ctx, model.JobKindTryOn, "j7", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizeBoundsInterval(t *testing.T) {
	if got := normalize(Options{}).Interval; got != DefaultInterval {
		t.Errorf("default interval = %v", got)
	}
	if got := normalize(Options{Interval: time.Millisecond}).Interval; got != minInterval {
		t.Errorf("low interval = %v", got)
	}
	if got := normalize(Options{Interval: time.Hour}).Interval; got != maxInterval {
		t.Errorf("high interval = %v", got)
	}
	opts := normalize(Options{})
	if opts.MaxWait != DefaultMaxWait || opts.MaxConsecutiveErrors != DefaultMaxConsecutiveErrors {
		t.Errorf("unexpected defaults %+v", opts)
	}
}
