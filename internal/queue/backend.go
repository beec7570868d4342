package queue

import (
	"context"
	"errors"
	"time"

	"crypto-settlement-go/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// Backend persists jobs for one or more lanes. At most one waiting or active job may
// exist per (lane, invoice); Enqueue and Retry report false instead of adding a second.
type Backend interface {
	Enqueue(ctx context.Context, job *models.Job) (bool, error)
	// Claim atomically moves the oldest due waiting job to active and increments its
	// attempts. It returns nil, nil when nothing is due.
	Claim(ctx context.Context, lane string, at time.Time) (*models.Job, error)
	Complete(ctx context.Context, jobId string) error
	Fail(ctx context.Context, jobId, errMsg string) error
	Reschedule(ctx context.Context, jobId, errMsg string, runAt time.Time) error
	RequeueStale(ctx context.Context, lane string, olderThan time.Time) (int, error)
	Get(ctx context.Context, jobId string) (*models.Job, error)
	List(ctx context.Context, lane, state string, limit int) ([]models.Job, error)
	Count(ctx context.Context, lane, state string) (int, error)
	Retry(ctx context.Context, jobId string) (bool, error)
	Close() error
}

// Lanes lists every lane the pipeline runs.
var Lanes = []string{models.LaneConversion, models.LanePayout}
