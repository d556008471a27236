package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-dispatch/internal/jobrunner"
	"github.com/kursadbilgin/campaign-dispatch/internal/observability"
	"github.com/kursadbilgin/campaign-dispatch/internal/queue"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultJobKeyPrefix = "jobrunner"

	// defaultClaimVisibility is how long a claimed task may stay unacked
	// before the next claim hands it out again.
	defaultClaimVisibility = time.Minute
)

// claimScript first returns expired claims to the due set, then moves up to
// ARGV[2] handles scored at or below ARGV[1] into the processing set with
// deadline ARGV[3]. It returns handle, body pairs; bodies stay stored until
// Ack.
var claimScript = goredis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, h in ipairs(expired) do
  redis.call("ZREM", KEYS[2], h)
  redis.call("ZADD", KEYS[1], ARGV[1], h)
end
local handles = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
local out = {}
for _, h in ipairs(handles) do
  redis.call("ZREM", KEYS[1], h)
  local body = redis.call("HGET", KEYS[3], h)
  if body then
    redis.call("ZADD", KEYS[2], ARGV[3], h)
    table.insert(out, h)
    table.insert(out, body)
  end
end
return out
`)

var cancelScript = goredis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1]) + redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
return removed
`)

var (
	_ jobrunner.Runner    = (*RedisJobRunner)(nil)
	_ jobrunner.DueSource = (*RedisJobRunner)(nil)
)

// RedisJobRunner keeps delayed tasks in a sorted set scored by run time
// (unix millis) with the bodies in a hash keyed by handle. Claimed tasks
// sit in a processing set until acked; an unacked claim becomes due again
// once its visibility deadline passes.
type RedisJobRunner struct {
	client        *goredis.Client
	dueKey        string
	processingKey string
	taskKey       string
	deadKey       string
	visibility    time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewRedisJobRunner(client *goredis.Client, prefix string, logger *zap.Logger) (*RedisJobRunner, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultJobKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisJobRunner{
		client:        client,
		dueKey:        prefix + ":due",
		processingKey: prefix + ":processing",
		taskKey:       prefix + ":tasks",
		deadKey:       prefix + ":dead",
		visibility:    defaultClaimVisibility,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (r *RedisJobRunner) Trigger(ctx context.Context, task string, payload any, opts jobrunner.TriggerOptions) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("task is required")
	}

	runAt, err := opts.ResolveRunAt(r.now())
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", task, err)
	}

	msg := queue.TaskMessage{
		Handle:  uuid.NewString(),
		Task:    task,
		Payload: body,
		RunAt:   runAt,
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if err := r.store(ctx, msg); err != nil {
		return "", err
	}
	return msg.Handle, nil
}

func (r *RedisJobRunner) Cancel(ctx context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return fmt.Errorf("handle is required")
	}

	removed, err := cancelScript.Run(ctx, r.client, []string{r.dueKey, r.processingKey, r.taskKey}, handle).Int()
	if err != nil {
		return fmt.Errorf("failed to cancel job %q: %w", handle, err)
	}
	if removed == 0 {
		return jobrunner.ErrJobNotFound
	}
	return nil
}

// ClaimDue hands out due tasks for the visibility window. Bodies that no
// longer decode are moved to the dead hash and logged by handle.
func (r *RedisJobRunner) ClaimDue(ctx context.Context, now time.Time, limit int) ([]queue.TaskMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	pairs, err := claimScript.Run(ctx, r.client, []string{r.dueKey, r.processingKey, r.taskKey},
		now.UTC().UnixMilli(), limit, now.Add(r.visibility).UTC().UnixMilli()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	tasks := make([]queue.TaskMessage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		handle, body := pairs[i], pairs[i+1]

		var msg queue.TaskMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			r.bury(ctx, handle, body, err)
			continue
		}
		tasks = append(tasks, msg)
	}
	return tasks, nil
}

// Ack drops a claimed task once it has been handed on.
func (r *RedisJobRunner) Ack(ctx context.Context, handle string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, r.processingKey, handle)
		pipe.HDel(ctx, r.taskKey, handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack job %q: %w", handle, err)
	}
	return nil
}

// Requeue returns a claimed task to the due set at its original run time.
func (r *RedisJobRunner) Requeue(ctx context.Context, msg queue.TaskMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid task message: %w", err)
	}
	return r.store(ctx, msg)
}

func (r *RedisJobRunner) bury(ctx context.Context, handle, body string, decodeErr error) {
	r.logger.Error("undecodable job body moved to dead set",
		zap.String("handle", handle),
		zap.String("deadKey", r.deadKey),
		zap.Error(decodeErr),
	)
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, r.deadKey, handle, body)
		pipe.ZRem(ctx, r.processingKey, handle)
		pipe.HDel(ctx, r.taskKey, handle)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to bury job", zap.String("handle", handle), zap.Error(err))
	}
}

// Pending reports how many tasks are waiting to become due.
func (r *RedisJobRunner) Pending(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.dueKey).Result()
}

func (r *RedisJobRunner) store(ctx context.Context, msg queue.TaskMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, r.taskKey, msg.Handle, encoded)
		pipe.ZRem(ctx, r.processingKey, msg.Handle)
		pipe.ZAdd(ctx, r.dueKey, goredis.Z{
			Score:  float64(msg.RunAt.UTC().UnixMilli()),
			Member: msg.Handle,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store job %q: %w", msg.Handle, err)
	}
	return nil
}
