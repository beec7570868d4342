package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"crypto-settlement-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const completedHistory = 1000

// RedisBackend keeps jobs in Redis. Each job is a hash; a sorted set per lane orders
// waiting jobs by run time and another tracks active jobs by claim time. A marker key
// per (lane, invoice) holds the id of the job in flight.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(ctx context.Context, cfg models.QueueConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "settlement"
	}
	zap.L().Info("Redis queue backend connected", zap.String("addr", cfg.RedisAddr), zap.String("prefix", prefix))
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) jobKey(id string) string        { return b.prefix + ":job:" + id }
func (b *RedisBackend) waitingKey(lane string) string   { return b.prefix + ":" + lane + ":waiting" }
func (b *RedisBackend) activeKey(lane string) string    { return b.prefix + ":" + lane + ":active" }
func (b *RedisBackend) failedKey(lane string) string    { return b.prefix + ":" + lane + ":failed" }
func (b *RedisBackend) completedKey(lane string) string { return b.prefix + ":" + lane + ":completed" }
func (b *RedisBackend) inflightKey(lane, invoiceId string) string {
	return b.prefix + ":" + lane + ":inflight:" + invoiceId
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Every state change is one Lua script so a job is always in exactly one of the
// lane sets, even when the worker dies mid-call.
var (
	// KEYS: inflight, job, waiting. ARGV: job id, run score, hash field/value pairs.
	enqueueScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  return 0
end
redis.call('HSET', KEYS[2], unpack(ARGV, 3))
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

	// KEYS: waiting, active. ARGV: max run score, claim score, claim time, job key prefix.
	claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local job = ARGV[4] .. id
redis.call('ZREM', KEYS[1], id)
redis.call('HINCRBY', job, 'attempts', 1)
redis.call('HSET', job, 'state', 'active', 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], id)
return id
`)

	// KEYS: job, active, inflight, finished list or set.
	// ARGV: job id, final state, last error, finish time, completed history.
	finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'last_error', ARGV[3], 'finished_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[2] == 'completed' then
  redis.call('LPUSH', KEYS[4], ARGV[1])
  redis.call('LTRIM', KEYS[4], 0, tonumber(ARGV[5]) - 1)
else
  redis.call('SADD', KEYS[4], ARGV[1])
end
if redis.call('GET', KEYS[3]) == ARGV[1] then
  redis.call('DEL', KEYS[3])
end
return 1
`)

	// KEYS: job, active, waiting. ARGV: job id, last error, run score, run time, update time.
	rescheduleScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'last_error', ARGV[2], 'run_at', ARGV[4], 'updated_at', ARGV[5])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

	// KEYS: job, active, waiting. ARGV: job id, run score, run time.
	requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'run_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

	// KEYS: job, inflight, failed, waiting. ARGV: job id, run score, run time.
	retryScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'failed' then
  return 0
end
if not redis.call('SET', KEYS[2], ARGV[1], 'NX') then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'attempts', 0, 'last_error', '', 'finished_at', '', 'run_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
return 1
`)
)

func (b *RedisBackend) Enqueue(ctx context.Context, job *models.Job) (bool, error) {
	args := []any{job.Id, score(job.RunAt)}
	for field, value := range encodeJob(job) {
		args = append(args, field, value)
	}
	added, err := enqueueScript.Run(ctx, b.client,
		[]string{b.inflightKey(job.Lane, job.InvoiceId), b.jobKey(job.Id), b.waitingKey(job.Lane)},
		args...).Int()
	if err != nil {
		return false, fmt.Errorf("unable to enqueue job: %w", err)
	}
	return added == 1, nil
}

func (b *RedisBackend) Claim(ctx context.Context, lane string, at time.Time) (*models.Job, error) {
	ts := time.Now().UTC()
	id, err := claimScript.Run(ctx, b.client,
		[]string{b.waitingKey(lane), b.activeKey(lane)},
		at.UnixMilli(), score(ts), formatTime(ts), b.jobKey("")).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to claim job: %w", err)
	}
	return b.Get(ctx, id)
}

func (b *RedisBackend) Complete(ctx context.Context, jobId string) error {
	return b.finish(ctx, jobId, models.JobCompleted, "")
}

func (b *RedisBackend) Fail(ctx context.Context, jobId, errMsg string) error {
	return b.finish(ctx, jobId, models.JobFailed, errMsg)
}

// finish moves an active job to completed or failed and drops the in-flight marker
// if it still names the job. Jobs that are not active are left alone.
func (b *RedisBackend) finish(ctx context.Context, jobId, state, errMsg string) error {
	job, err := b.Get(ctx, jobId)
	if err != nil {
		return err
	}
	finished := b.failedKey(job.Lane)
	if state == models.JobCompleted {
		finished = b.completedKey(job.Lane)
	}
	applied, err := finishScript.Run(ctx, b.client,
		[]string{b.jobKey(jobId), b.activeKey(job.Lane), b.inflightKey(job.Lane, job.InvoiceId), finished},
		jobId, state, errMsg, formatTime(time.Now().UTC()), completedHistory).Int()
	if err != nil {
		return fmt.Errorf("unable to update job: %w", err)
	}
	if applied == 0 {
		zap.L().Debug("Job no longer active", zap.String("job_id", jobId), zap.String("state", job.State))
	}
	return nil
}

func (b *RedisBackend) Reschedule(ctx context.Context, jobId, errMsg string, runAt time.Time) error {
	job, err := b.Get(ctx, jobId)
	if err != nil {
		return err
	}
	_, err = rescheduleScript.Run(ctx, b.client,
		[]string{b.jobKey(jobId), b.activeKey(job.Lane), b.waitingKey(job.Lane)},
		jobId, errMsg, score(runAt), formatTime(runAt), formatTime(time.Now().UTC())).Int()
	if err != nil {
		return fmt.Errorf("unable to update job: %w", err)
	}
	return nil
}

func (b *RedisBackend) RequeueStale(ctx context.Context, lane string, olderThan time.Time) (int, error) {
	ids, err := b.client.ZRangeByScore(ctx, b.activeKey(lane), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	requeued := 0
	now := time.Now().UTC()
	for _, id := range ids {
		moved, err := requeueScript.Run(ctx, b.client,
			[]string{b.jobKey(id), b.activeKey(lane), b.waitingKey(lane)},
			id, score(now), formatTime(now)).Int()
		if err != nil {
			return requeued, fmt.Errorf("unable to requeue job %s: %w", id, err)
		}
		requeued += moved
	}
	return requeued, nil
}

func (b *RedisBackend) Get(ctx context.Context, jobId string) (*models.Job, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(jobId)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobId)
	}
	return decodeJob(fields)
}

func (b *RedisBackend) List(ctx context.Context, lane, state string, limit int) ([]models.Job, error) {
	stop := int64(limit - 1)
	var (
		ids []string
		err error
	)
	switch state {
	case models.JobWaiting:
		ids, err = b.client.ZRange(ctx, b.waitingKey(lane), 0, stop).Result()
	case models.JobActive:
		ids, err = b.client.ZRange(ctx, b.activeKey(lane), 0, stop).Result()
	case models.JobCompleted:
		ids, err = b.client.LRange(ctx, b.completedKey(lane), 0, stop).Result()
	case models.JobFailed:
		ids, err = b.client.SMembers(ctx, b.failedKey(lane)).Result()
		if len(ids) > limit {
			ids = ids[:limit]
		}
	default:
		return nil, fmt.Errorf("unknown job state: %s", state)
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (b *RedisBackend) Count(ctx context.Context, lane, state string) (int, error) {
	var (
		n   int64
		err error
	)
	switch state {
	case models.JobWaiting:
		n, err = b.client.ZCard(ctx, b.waitingKey(lane)).Result()
	case models.JobActive:
		n, err = b.client.ZCard(ctx, b.activeKey(lane)).Result()
	case models.JobCompleted:
		n, err = b.client.LLen(ctx, b.completedKey(lane)).Result()
	case models.JobFailed:
		n, err = b.client.SCard(ctx, b.failedKey(lane)).Result()
	default:
		return 0, fmt.Errorf("unknown job state: %s", state)
	}
	return int(n), err
}

func (b *RedisBackend) Retry(ctx context.Context, jobId string) (bool, error) {
	job, err := b.Get(ctx, jobId)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	retried, err := retryScript.Run(ctx, b.client,
		[]string{b.jobKey(jobId), b.inflightKey(job.Lane, job.InvoiceId), b.failedKey(job.Lane), b.waitingKey(job.Lane)},
		jobId, score(now), formatTime(now)).Int()
	if err != nil {
		return false, fmt.Errorf("unable to retry job: %w", err)
	}
	return retried == 1, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func encodeJob(job *models.Job) map[string]any {
	return map[string]any{
		"id":           job.Id,
		"lane":         job.Lane,
		"invoice_id":   job.InvoiceId,
		"entity_id":    job.EntityId,
		"state":        job.State,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"last_error":   job.LastError,
		"run_at":       formatTime(job.RunAt),
		"created_at":   formatTime(job.CreatedAt),
		"updated_at":   formatTime(job.UpdatedAt),
		"finished_at":  "",
	}
}

func decodeJob(fields map[string]string) (*models.Job, error) {
	job := &models.Job{
		Id:        fields["id"],
		Lane:      fields["lane"],
		InvoiceId: fields["invoice_id"],
		EntityId:  fields["entity_id"],
		State:     fields["state"],
		LastError: fields["last_error"],
	}
	var err error
	if job.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return nil, fmt.Errorf("bad attempts on job %s: %w", job.Id, err)
	}
	if job.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return nil, fmt.Errorf("bad max_attempts on job %s: %w", job.Id, err)
	}
	if job.RunAt, err = parseTime(fields["run_at"]); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, err
	}
	if fields["finished_at"] != "" {
		finished, err := parseTime(fields["finished_at"])
		if err != nil {
			return nil, err
		}
		job.FinishedAt = &finished
	}
	return job, nil
}
