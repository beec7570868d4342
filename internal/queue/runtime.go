package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-settlement-go/internal/models"

	"go.uber.org/zap"
)

type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeSkipped
	OutcomeRetry
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetry:
		return "retry"
	case OutcomeTerminal:
		return "failed"
	}
	return "unknown"
}

// Result tells the runtime what to do with a job after its handler returns.
type Result struct {
	Outcome Outcome
	Err     error
	Reason  string
}

func Completed() Result            { return Result{Outcome: OutcomeCompleted} }
func Skipped(reason string) Result { return Result{Outcome: OutcomeSkipped, Reason: reason} }
func Retry(err error) Result       { return Result{Outcome: OutcomeRetry, Err: err} }
func Terminal(err error) Result    { return Result{Outcome: OutcomeTerminal, Err: err} }

type Handler interface {
	Handle(ctx context.Context, job *models.Job) Result
}

type HandlerFunc func(ctx context.Context, job *models.Job) Result

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) Result {
	return f(ctx, job)
}

// Observer is notified once per finished job.
type Observer interface {
	JobFinished(lane, outcome string, duration time.Duration)
}

type LaneConfig struct {
	Lane        string
	Concurrency int
	Handler     Handler
}

// Runtime runs a pool of workers per lane against a Backend.
type Runtime struct {
	backend           Backend
	lanes             []LaneConfig
	handlers          map[string]Handler
	backoffBase       time.Duration
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	observer          Observer
	now               func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewRuntime(backend Backend, cfg models.QueueConfig, lanes ...LaneConfig) *Runtime {
	handlers := make(map[string]Handler, len(lanes))
	for _, l := range lanes {
		handlers[l.Lane] = l.Handler
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runtime{
		backend:           backend,
		lanes:             lanes,
		handlers:          handlers,
		backoffBase:       cfg.BackoffBase,
		pollInterval:      pollInterval,
		visibilityTimeout: cfg.VisibilityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
		stopChan:          make(chan struct{}),
	}
}

func (r *Runtime) WithObserver(o Observer) *Runtime {
	r.observer = o
	return r
}

// Backoff returns the delay before the next attempt after attempts failures.
func (r *Runtime) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		attempts = 16
	}
	return r.backoffBase * time.Duration(1<<(attempts-1))
}

// Start launches the lane workers and the stale job sweeper.
func (r *Runtime) Start(ctx context.Context) {
	for _, l := range r.lanes {
		concurrency := l.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}
		for i := 0; i < concurrency; i++ {
			r.wg.Add(1)
			go r.workLoop(ctx, l.Lane, i)
		}
		zap.L().Info("Queue lane started", zap.String("lane", l.Lane), zap.Int("concurrency", concurrency))
	}
	if r.visibilityTimeout > 0 {
		r.wg.Add(1)
		go r.sweepLoop(ctx)
	}
}

// Stop signals every worker and waits for in-flight jobs to finish.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		zap.L().Info("Stopping queue runtime")
		close(r.stopChan)
		r.wg.Wait()
		zap.L().Info("Queue runtime stopped")
	})
}

func (r *Runtime) workLoop(ctx context.Context, lane string, worker int) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		// drain everything that is due before sleeping again
		for {
			processed, err := r.RunOnce(ctx, lane)
			if err != nil {
				zap.L().Error("Queue worker error", zap.String("lane", lane), zap.Int("worker", worker), zap.Error(err))
				break
			}
			if !processed {
				break
			}
			select {
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			default:
			}
		}

		select {
		case <-ticker.C:
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runtime) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.visibilityTimeout / 2
	if interval < r.pollInterval {
		interval = r.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RequeueStale(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RequeueStale returns active jobs whose worker vanished to waiting.
func (r *Runtime) RequeueStale(ctx context.Context) {
	cutoff := r.now().Add(-r.visibilityTimeout)
	for _, l := range r.lanes {
		n, err := r.backend.RequeueStale(ctx, l.Lane, cutoff)
		if err != nil {
			zap.L().Error("Failed to requeue stale jobs", zap.String("lane", l.Lane), zap.Error(err))
			continue
		}
		if n > 0 {
			zap.L().Warn("Requeued stale jobs", zap.String("lane", l.Lane), zap.Int("count", n))
		}
	}
}

// RunOnce claims and processes at most one due job on lane. It reports whether a job
// was processed.
func (r *Runtime) RunOnce(ctx context.Context, lane string) (bool, error) {
	handler, ok := r.handlers[lane]
	if !ok {
		return false, fmt.Errorf("no handler for lane %s", lane)
	}
	job, err := r.backend.Claim(ctx, lane, r.now())
	if err != nil {
		return false, fmt.Errorf("claim failed: %w", err)
	}
	if job == nil {
		return false, nil
	}
	r.process(ctx, handler, job)
	return true, nil
}

func (r *Runtime) process(ctx context.Context, handler Handler, job *models.Job) {
	start := time.Now()
	log := zap.L().With(
		zap.String("job_id", job.Id),
		zap.String("lane", job.Lane),
		zap.String("invoice_id", job.InvoiceId),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts))

	var result Result
	if job.Attempts > job.MaxAttempts {
		result = Terminal(fmt.Errorf("exceeded %d attempts", job.MaxAttempts))
	} else {
		result = r.safeHandle(ctx, handler, job)
	}

	outcome := result.Outcome
	var err error
	switch result.Outcome {
	case OutcomeCompleted, OutcomeSkipped:
		if result.Outcome == OutcomeSkipped {
			log.Info("Job skipped", zap.String("reason", result.Reason))
		} else {
			log.Info("Job completed", zap.Duration("duration", time.Since(start)))
		}
		err = r.backend.Complete(ctx, job.Id)
	case OutcomeRetry:
		if job.LastAttempt() {
			outcome = OutcomeTerminal
			log.Error("Job failed on final attempt", zap.Error(result.Err))
			err = r.backend.Fail(ctx, job.Id, errString(result.Err))
			break
		}
		delay := r.Backoff(job.Attempts)
		log.Warn("Job failed, retrying", zap.Duration("backoff", delay), zap.Error(result.Err))
		err = r.backend.Reschedule(ctx, job.Id, errString(result.Err), r.now().Add(delay))
	case OutcomeTerminal:
		log.Error("Job failed terminally", zap.Error(result.Err))
		err = r.backend.Fail(ctx, job.Id, errString(result.Err))
	}
	if err != nil {
		log.Error("Failed to record job outcome", zap.String("outcome", outcome.String()), zap.Error(err))
	}

	if r.observer != nil {
		r.observer.JobFinished(job.Lane, outcome.String(), time.Since(start))
	}
}

func (r *Runtime) safeHandle(ctx context.Context, handler Handler, job *models.Job) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("Job handler panicked", zap.String("job_id", job.Id), zap.Any("panic", p))
			result = Retry(fmt.Errorf("handler panic: %v", p))
		}
	}()
	return handler.Handle(ctx, job)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
