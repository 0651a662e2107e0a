package poller

import (
	"context"
	"errors"
	"time"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/config"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/metrics"
	"github.com/vizzle/studio/internal/model"
)

const (
	minInterval = time.Second
	maxInterval = 10 * time.Second

	DefaultInterval             = 3 * time.Second
	DefaultMaxWait              = 180 * time.Second
	DefaultMaxConsecutiveErrors = 3
)

// StatusFetcher queries the current status of a remote job
type StatusFetcher interface {
	GetJob(ctx context.Context, kind model.JobKind, jobID string) (*model.Job, error)
}

// Options tune a Poller. Zero values fall back to the defaults.
type Options struct {
	Interval             time.Duration
	MaxWait              time.Duration
	MaxConsecutiveErrors int
}

// OptionsFromConfig converts poll configuration into Options
func OptionsFromConfig(cfg config.PollConfig) Options {
	return Options{
		Interval:             cfg.Interval,
		MaxWait:              cfg.MaxWait,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}
}

// Poller repeatedly queries a job until it reaches a terminal status
type Poller struct {
	fetcher StatusFetcher
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a Poller. metrics may be nil.
func New(fetcher StatusFetcher, opts Options, log *logger.Logger, m *metrics.Metrics) *Poller {
	p := &Poller{
		fetcher: fetcher,
		opts:    normalize(opts),
		log:     log.With("component", "poller"),
		metrics: m,
	}
	return p
}

func normalize(opts Options) Options {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Interval < minInterval {
		opts.Interval = minInterval
	}
	if opts.Interval > maxInterval {
		opts.Interval = maxInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return opts
}

// PollUntilTerminal queries the job until it succeeds or fails. Observed statuses
// never move backwards: a response ranking below the best status seen so far is
// ignored. onStatus, if non-nil, is called once per status advance.
//
// Returns *client.TimeoutError when MaxWait elapses, *client.PollError after
// MaxConsecutiveErrors failed queries in a row, or ctx.Err() on cancellation.
func (p *Poller) PollUntilTerminal(ctx context.Context, kind model.JobKind, jobID string, onStatus func(*model.Job)) (*model.Job, error) {
	log := p.log.With("kind", kind, "job_id", jobID)
	deadline := time.Now().Add(p.opts.MaxWait)

	var (
		best        *model.Job
		consecutive int
		attempt     int
		lastErr     error
	)

	for {
		attempt++
		job, err := p.fetcher.GetJob(ctx, kind, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			consecutive++
			lastErr = err
			p.metrics.PollAttempt(string(kind), "error")
			log.Warn("poll failed", "attempt", attempt, "consecutive", consecutive, "error", err)
			if consecutive >= p.opts.MaxConsecutiveErrors {
				return nil, &client.PollError{
					Kind:     kind,
					JobID:    jobID,
					Attempts: attempt,
					Message:  pollMessage(lastErr),
					Err:      lastErr,
				}
			}
		case best != nil && job.Status.Rank() < best.Status.Rank():
			consecutive = 0
			p.metrics.PollAttempt(string(kind), "regressed")
			log.Warn("ignoring status regression", "attempt", attempt, "seen", best.Status, "got", job.Status)
		default:
			consecutive = 0
			p.metrics.PollAttempt(string(kind), "ok")
			advanced := best == nil || job.Status != best.Status
			best = job
			if advanced {
				log.Debug("poll status", "attempt", attempt, "status", job.Status)
				if onStatus != nil {
					onStatus(job)
				}
			}
			if job.Status.IsTerminal() {
				return job, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &client.TimeoutError{Kind: kind, JobID: jobID, After: p.opts.MaxWait}
		}
		wait := p.opts.Interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug("poll cancelled")
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func pollMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil {
		return "Failed to check status: " + err.Error()
	}
	return "Failed to check status"
}
