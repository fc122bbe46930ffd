package jobs

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

// ErrPermanent marks a handler failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// Handler runs one claimed job. A nil error marks the job done; errors
// wrapping ErrPermanent fail it immediately, anything else is retried with
// backoff.
type Handler func(ctx context.Context, job *Job) error

type Worker struct {
	ID       string
	Repo     *Repo
	Handlers map[string]Handler
	Log      *zap.Logger

	// Interval between claim attempts; zero means 800ms.
	Interval time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) log() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log().Error("worker claim error", zap.String("worker", w.ID), zap.Error(err))
			}
		}
	}
}

// RunOnce claims and handles at most one job. It reports whether a job was
// found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.Repo.Claim(w.ID, w.now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	h, ok := w.Handlers[job.Type]
	if !ok {
		_ = w.Repo.MarkFailed(job.ID, "unknown job type")
		w.log().Error("unknown job type", zap.Uint64("job_id", job.ID), zap.String("type", job.Type))
		return
	}

	err := h(ctx, job)
	switch {
	case err == nil:
		if err := w.Repo.MarkDone(job.ID); err != nil {
			w.log().Error("mark job done", zap.Uint64("job_id", job.ID), zap.Error(err))
		}
	case errors.Is(err, ErrPermanent):
		w.log().Error("job failed", zap.Uint64("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		_ = w.Repo.MarkFailed(job.ID, err.Error())
	default:
		w.retry(job, err.Error())
	}
}

func (w *Worker) retry(job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		w.log().Error("job exhausted retries", zap.Uint64("job_id", job.ID), zap.String("type", job.Type), zap.String("error", errMsg))
		_ = w.Repo.MarkFailed(job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := w.now().Add(time.Duration(sec) * time.Second)

	w.log().Warn("job retry scheduled",
		zap.Uint64("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempts", attempts),
		zap.Time("run_at", next),
		zap.String("error", errMsg))
	_ = w.Repo.RetryLater(job.ID, attempts, next, errMsg)
}
