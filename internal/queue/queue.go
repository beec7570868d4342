package queue

import (
	"context"
	"fmt"
	"time"

	"crypto-settlement-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue is the producer and operator side of the job system.
type Queue struct {
	backend     Backend
	maxAttempts int
}

func New(backend Backend, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{backend: backend, maxAttempts: maxAttempts}
}

func (q *Queue) Backend() Backend {
	return q.backend
}

// Enqueue adds a job for the invoice on lane. When a job for the same invoice is
// already waiting or active on that lane, nothing is added and added is false.
func (q *Queue) Enqueue(ctx context.Context, lane, invoiceId, entityId string) (*models.Job, bool, error) {
	if lane != models.LaneConversion && lane != models.LanePayout {
		return nil, false, fmt.Errorf("unknown lane: %s", lane)
	}
	ts := time.Now().UTC()
	job := &models.Job{
		Id:          uuid.New().String(),
		Lane:        lane,
		InvoiceId:   invoiceId,
		EntityId:    entityId,
		State:       models.JobWaiting,
		MaxAttempts: q.maxAttempts,
		RunAt:       ts,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	added, err := q.backend.Enqueue(ctx, job)
	if err != nil {
		zap.L().Error("Failed to enqueue job",
			zap.String("lane", lane), zap.String("invoice_id", invoiceId), zap.Error(err))
		return nil, false, fmt.Errorf("unable to enqueue %s job: %w", lane, err)
	}
	if !added {
		zap.L().Debug("Job already in flight for invoice",
			zap.String("lane", lane), zap.String("invoice_id", invoiceId))
		return nil, false, nil
	}

	zap.L().Info("Job enqueued",
		zap.String("job_id", job.Id),
		zap.String("lane", lane),
		zap.String("invoice_id", invoiceId),
		zap.String("entity_id", entityId))
	return job, true, nil
}

// Retry returns a failed job to waiting with its attempts reset.
func (q *Queue) Retry(ctx context.Context, jobId string) (bool, error) {
	retried, err := q.backend.Retry(ctx, jobId)
	if err != nil {
		return false, fmt.Errorf("unable to retry job %s: %w", jobId, err)
	}
	if retried {
		zap.L().Info("Job returned to waiting by operator", zap.String("job_id", jobId))
	}
	return retried, nil
}

func (q *Queue) Get(ctx context.Context, jobId string) (*models.Job, error) {
	return q.backend.Get(ctx, jobId)
}

func (q *Queue) List(ctx context.Context, lane, state string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.backend.List(ctx, lane, state, limit)
}

// FailedCount totals failed jobs across every lane.
func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	total := 0
	for _, lane := range Lanes {
		n, err := q.backend.Count(ctx, lane, models.JobFailed)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Counts returns the job count per state for each lane.
func (q *Queue) Counts(ctx context.Context) (map[string]map[string]int, error) {
	states := []string{models.JobWaiting, models.JobActive, models.JobCompleted, models.JobFailed}
	out := make(map[string]map[string]int, len(Lanes))
	for _, lane := range Lanes {
		out[lane] = make(map[string]int, len(states))
		for _, state := range states {
			n, err := q.backend.Count(ctx, lane, state)
			if err != nil {
				return nil, err
			}
			out[lane][state] = n
		}
	}
	return out, nil
}
