package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
)

func TestJobStore_OneInFlightJobPerInvoice(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	q := queue.New(s.Jobs(), 3)
	first, added, err := q.Enqueue(ctx, models.LaneConversion, "inv-1", "dep-1")
	if err != nil || !added {
		t.Fatalf("Expected first enqueue to add, got %v, %v", added, err)
	}
	_, added, err = q.Enqueue(ctx, models.LaneConversion, "inv-1", "dep-1")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if added {
		t.Errorf("Expected duplicate enqueue to be ignored")
	}
	if _, added, _ := q.Enqueue(ctx, models.LanePayout, "inv-1", "conv-1"); !added {
		t.Errorf("Expected payout lane to accept its own job for the invoice")
	}

	job, err := s.Jobs().Claim(ctx, models.LaneConversion, time.Now())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job == nil || job.Id != first.Id {
		t.Fatalf("Expected to claim job %s, got %+v", first.Id, job)
	}
	if job.State != models.JobActive || job.Attempts != 1 {
		t.Errorf("Expected active job with 1 attempt, got %s/%d", job.State, job.Attempts)
	}

	if _, added, _ := q.Enqueue(ctx, models.LaneConversion, "inv-1", "dep-1"); added {
		t.Errorf("Expected active job to block a new enqueue")
	}

	if err := s.Jobs().Complete(ctx, job.Id); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, added, _ := q.Enqueue(ctx, models.LaneConversion, "inv-1", "dep-1"); !added {
		t.Errorf("Expected enqueue after completion to add")
	}
}

func TestJobStore_ClaimRespectsRunAt(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	jobs := s.Jobs()

	q := queue.New(jobs, 3)
	created, _, err := q.Enqueue(ctx, models.LanePayout, "inv-2", "conv-2")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := jobs.Claim(ctx, models.LanePayout, time.Now())
	if job == nil {
		t.Fatalf("Expected a job to claim")
	}
	if err := jobs.Reschedule(ctx, job.Id, "boom", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	again, err := jobs.Claim(ctx, models.LanePayout, time.Now())
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if again != nil {
		t.Errorf("Expected no due job, got %+v", again)
	}

	later, err := jobs.Claim(ctx, models.LanePayout, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if later == nil || later.Id != created.Id || later.Attempts != 2 || later.LastError != "boom" {
		t.Errorf("Unexpected job on second claim: %+v", later)
	}
}

func TestJobStore_RetryFailedJob(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	jobs := s.Jobs()
	q := queue.New(jobs, 3)

	created, _, _ := q.Enqueue(ctx, models.LanePayout, "inv-3", "conv-3")
	job, _ := jobs.Claim(ctx, models.LanePayout, time.Now())
	if err := jobs.Fail(ctx, job.Id, "no payout method"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	count, err := q.FailedCount(ctx)
	if err != nil || count != 1 {
		t.Errorf("Expected 1 failed job, got %d, %v", count, err)
	}

	retried, err := q.Retry(ctx, created.Id)
	if err != nil || !retried {
		t.Fatalf("Expected retry to succeed, got %v, %v", retried, err)
	}
	got, err := q.Get(ctx, created.Id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != models.JobWaiting || got.Attempts != 0 || got.FinishedAt != nil {
		t.Errorf("Unexpected job after retry: %+v", got)
	}

	retried, err = q.Retry(ctx, created.Id)
	if err != nil || retried {
		t.Errorf("Expected retry of a waiting job to be refused, got %v, %v", retried, err)
	}

	if _, err := q.Retry(ctx, "missing"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStore_RequeueStale(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	jobs := s.Jobs()
	q := queue.New(jobs, 3)

	q.Enqueue(ctx, models.LaneConversion, "inv-4", "dep-4")
	if job, _ := jobs.Claim(ctx, models.LaneConversion, time.Now()); job == nil {
		t.Fatalf("Expected a job to claim")
	}

	n, err := jobs.RequeueStale(ctx, models.LaneConversion, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued job, got %d", n)
	}
	waiting, err := q.List(ctx, models.LaneConversion, models.JobWaiting, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(waiting) != 1 {
		t.Errorf("Expected 1 waiting job, got %d", len(waiting))
	}
}
