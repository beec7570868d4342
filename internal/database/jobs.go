/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
)

// JobStore is the SQL queue backend. The partial unique index on (lane, invoice_id)
// over waiting and active rows enforces one job in flight per invoice.
type JobStore struct {
	db      *sql.DB
	dialect dialect
}

var _ queue.Backend = (*JobStore)(nil)

func (j *JobStore) q(query string) string {
	return j.dialect.rebind(query)
}

func scanJob(row rowScanner, job *models.Job) error {
	var finishedAt sql.NullTime
	err := row.Scan(&job.Id, &job.Lane, &job.InvoiceId, &job.EntityId, &job.State, &job.Attempts,
		&job.MaxAttempts, &job.LastError, &job.RunAt, &job.CreatedAt, &job.UpdatedAt, &finishedAt)
	if err != nil {
		return err
	}
	job.FinishedAt = nullTime(finishedAt)
	return nil
}

func (j *JobStore) Enqueue(ctx context.Context, job *models.Job) (bool, error) {
	result, err := j.db.ExecContext(ctx, j.q(queryInsertJob),
		job.Id, job.Lane, job.InvoiceId, job.EntityId, job.MaxAttempts,
		job.RunAt.UTC(), job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("unable to insert job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unable to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (j *JobStore) Claim(ctx context.Context, lane string, at time.Time) (*models.Job, error) {
	lock := ""
	if j.dialect.driver == DriverPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	var id string
	err := j.db.QueryRowContext(ctx, j.q(fmt.Sprintf(queryClaimJob, lock)), now(), lane, at.UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to claim job: %w", err)
	}
	return j.Get(ctx, id)
}

func (j *JobStore) Complete(ctx context.Context, jobId string) error {
	ts := now()
	return j.exec(ctx, queryCompleteJob, ts, ts, jobId)
}

func (j *JobStore) Fail(ctx context.Context, jobId, errMsg string) error {
	ts := now()
	return j.exec(ctx, queryFailJob, errMsg, ts, ts, jobId)
}

func (j *JobStore) Reschedule(ctx context.Context, jobId, errMsg string, runAt time.Time) error {
	return j.exec(ctx, queryRescheduleJob, errMsg, runAt.UTC(), now(), jobId)
}

func (j *JobStore) exec(ctx context.Context, query string, args ...any) error {
	if _, err := j.db.ExecContext(ctx, j.q(query), args...); err != nil {
		return fmt.Errorf("unable to update job: %w", err)
	}
	return nil
}

func (j *JobStore) RequeueStale(ctx context.Context, lane string, olderThan time.Time) (int, error) {
	ts := now()
	result, err := j.db.ExecContext(ctx, j.q(queryRequeueStaleJobs), ts, ts, lane, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("unable to requeue stale jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unable to get rows affected: %w", err)
	}
	return int(n), nil
}

func (j *JobStore) Get(ctx context.Context, jobId string) (*models.Job, error) {
	var job models.Job
	if err := scanJob(j.db.QueryRowContext(ctx, j.q(queryGetJob), jobId), &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobId)
		}
		return nil, fmt.Errorf("unable to query job: %w", err)
	}
	return &job, nil
}

func (j *JobStore) List(ctx context.Context, lane, state string, limit int) ([]models.Job, error) {
	rows, err := j.db.QueryContext(ctx, j.q(queryListJobs), lane, state, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to query jobs: %w", err)
	}
	defer closeRows(rows)

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		if err := scanJob(rows, &job); err != nil {
			return nil, fmt.Errorf("unable to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func (j *JobStore) Count(ctx context.Context, lane, state string) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, j.q(queryCountJobs), lane, state).Scan(&n); err != nil {
		return 0, fmt.Errorf("unable to count jobs: %w", err)
	}
	return n, nil
}

// Retry moves a failed job back to waiting. It reports false when the job is not
// failed or another job for the same invoice is already in flight.
func (j *JobStore) Retry(ctx context.Context, jobId string) (bool, error) {
	ts := now()
	result, err := j.db.ExecContext(ctx, j.q(queryRetryJob), ts, ts, jobId)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("unable to retry job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := j.Get(ctx, jobId); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// Close is a no-op; the connection pool belongs to the database Service.
func (j *JobStore) Close() error {
	return nil
}
