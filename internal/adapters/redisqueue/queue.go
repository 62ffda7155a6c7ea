// Package redisqueue implements an at-least-once task broker on Redis.
//
// Each queue keeps message bodies in a hash and moves ids between a pending
// list, an in-flight sorted set scored by visibility deadline, a delayed
// sorted set scored by due time, and a dead-letter list. Every move is a
// single Lua script so a crash never loses or duplicates an id. Messages stay
// in flight until acknowledged; ids whose deadline passes are returned to
// pending by RequeueExpired.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laviprog/speech-api/internal/domain/model"
)

const (
	keyPrefix                = "speech:queue"
	defaultQueueName         = "transcription"
	defaultVisibilityTimeout = 20 * time.Minute
	defaultBatchLimit        = 500
)

var (
	// ErrNoMessage is returned by Reserve when no message is ready.
	ErrNoMessage = model.ErrNoMessageAvailable
	// ErrNotInFlight is returned when acknowledging an id that is not reserved.
	ErrNotInFlight = errors.New("message not in flight")
)

// Options configures a Queue.
type Options struct {
	Client redis.UniversalClient
	// Name separates independent queues on one Redis.
	Name string
	// VisibilityTimeout is how long a reserved message stays invisible before
	// RequeueExpired hands it to another worker.
	VisibilityTimeout time.Duration
	Logger            *slog.Logger
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Queue is a reliable Redis-backed queue.
type Queue struct {
	client     redis.UniversalClient
	name       string
	visibility time.Duration
	logger     *slog.Logger
	now        func() time.Time
	keys       queueKeys
}

type queueKeys struct {
	messages string
	attempts string
	errors   string
	pending  string
	inflight string
	delayed  string
	dead     string
}

// newKeys hash-tags every key with the queue name so scripts stay within one cluster slot.
func newKeys(name string) queueKeys {
	base := fmt.Sprintf("%s:{%s}", keyPrefix, name)
	return queueKeys{
		messages: base + ":messages",
		attempts: base + ":attempts",
		errors:   base + ":errors",
		pending:  base + ":pending",
		inflight: base + ":inflight",
		delayed:  base + ":delayed",
		dead:     base + ":dead",
	}
}

// New creates a Queue.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = defaultQueueName
	}
	vis := opts.VisibilityTimeout
	if vis <= 0 {
		vis = defaultVisibilityTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		client:     opts.Client,
		name:       name,
		visibility: vis,
		logger:     logger.With("component", "redisqueue", "queue", name),
		now:        now,
		keys:       newKeys(name),
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Ping checks that Redis answers.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// envelope is the stored form of a message. Attempts live in a separate hash.
type envelope struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

var enqueueScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[6], ARGV[1])
redis.call('LREM', KEYS[4], 0, ARGV[1])
redis.call('LPUSH', KEYS[4], ARGV[1])
return 1
`)

// Enqueue publishes payload under id. Enqueueing an existing id replaces its
// body and resets its attempt count.
func (q *Queue) Enqueue(ctx context.Context, task, id string, payload any) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("message id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	body, err := json.Marshal(envelope{ID: id, Task: task, Payload: raw, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	k := q.keys
	keys := []string{k.messages, k.attempts, k.errors, k.pending, k.inflight, k.delayed}
	if err := enqueueScript.Run(ctx, q.client, keys, id, string(body)).Err(); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	q.logger.DebugContext(ctx, "message enqueued", "id", id, "task", task)
	return nil
}

// reserveScript pops ids until one with a stored body is found, skipping ids
// whose body was removed.
var reserveScript = redis.NewScript(`
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local body = redis.call('HGET', KEYS[3], id)
  if body then
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    local n = redis.call('HINCRBY', KEYS[4], id, 1)
    return {id, body, n}
  end
end
`)

// Reserve takes the oldest pending message and marks it in flight until its
// visibility deadline. A message whose body cannot be decoded is moved to the
// dead-letter list and the next one is tried.
func (q *Queue) Reserve(ctx context.Context) (*model.QueueMessage, error) {
	for {
		deadline := q.now().Add(q.visibility).UnixMilli()
		k := q.keys
		res, err := reserveScript.Run(ctx, q.client,
			[]string{k.pending, k.inflight, k.messages, k.attempts}, deadline).Slice()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoMessage
		}
		if err != nil {
			return nil, fmt.Errorf("redis reserve: %w", err)
		}

		msg, decodeErr := decodeReservation(res)
		if decodeErr == nil {
			return msg, nil
		}
		id := reservationID(res)
		q.logger.WarnContext(ctx, "dead-lettering malformed message", "id", id, "error", decodeErr)
		if id == "" {
			return nil, decodeErr
		}
		if err := q.DeadLetter(ctx, id, decodeErr.Error()); err != nil {
			return nil, errors.Join(decodeErr, err)
		}
	}
}

func reservationID(res []any) string {
	if len(res) == 0 {
		return ""
	}
	id, _ := res[0].(string)
	return id
}

func decodeReservation(res []any) (*model.QueueMessage, error) {
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected reservation reply of %d items", len(res))
	}
	body, _ := res[1].(string)
	attempt, _ := res[2].(int64)

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.ID == "" || len(env.Payload) == 0 {
		return nil, errors.New("malformed envelope: missing id or payload")
	}
	return &model.QueueMessage{
		ID:         env.ID,
		Task:       env.Task,
		Attempt:    int(attempt),
		Payload:    env.Payload,
		EnqueuedAt: env.EnqueuedAt,
	}, nil
}

var ackScript = redis.NewScript(`
local n = redis.call('ZREM', KEYS[1], ARGV[1])
if n == 0 then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

// Ack removes a reserved message for good.
func (q *Queue) Ack(ctx context.Context, id string) error {
	k := q.keys
	n, err := ackScript.Run(ctx, q.client, []string{k.inflight, k.messages, k.attempts, k.errors}, id).Int()
	if err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ack %s: %w", id, ErrNotInFlight)
	}
	return nil
}

var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
if tonumber(ARGV[2]) <= tonumber(ARGV[3]) then
  redis.call('RPUSH', KEYS[3], ARGV[1])
else
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
end
return 1
`)

// Retry takes a reserved message out of flight and makes it visible again
// after delay. A non-positive delay puts it at the head of pending.
func (q *Queue) Retry(ctx context.Context, id string, delay time.Duration) error {
	now := q.now()
	due := now.Add(max(delay, 0)).UnixMilli()
	k := q.keys
	n, err := retryScript.Run(ctx, q.client, []string{k.inflight, k.delayed, k.pending},
		id, due, now.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("redis retry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("retry %s: %w", id, ErrNotInFlight)
	}
	return nil
}

var requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
if redis.call('HINCRBY', KEYS[3], ARGV[1], -1) <= 0 then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// Requeue puts a reserved message back at the head of pending and takes back
// the attempt its reservation counted. Used when a worker stops mid-delivery.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	k := q.keys
	n, err := requeueScript.Run(ctx, q.client, []string{k.inflight, k.pending, k.attempts}, id).Int()
	if err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("requeue %s: %w", id, ErrNotInFlight)
	}
	return nil
}

var deadLetterScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// DeadLetter parks a message with a reason. Its body is kept for inspection.
func (q *Queue) DeadLetter(ctx context.Context, id, reason string) error {
	k := q.keys
	if err := deadLetterScript.Run(ctx, q.client, []string{k.inflight, k.dead, k.errors}, id, reason).Err(); err != nil {
		return fmt.Errorf("redis dead-letter: %w", err)
	}
	return nil
}

// moveDueScript moves ids scored at or before now from a sorted set to the head of pending.
var moveDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// RequeueExpired returns in-flight messages past their visibility deadline to
// pending. Their attempt count is kept, so a worker crash consumes an attempt
// and a message that keeps killing its worker is failed once the job runner
// sees it exceed the attempt limit.
func (q *Queue) RequeueExpired(ctx context.Context, limit int) (int, error) {
	n, err := q.moveDue(ctx, q.keys.inflight, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	if n > 0 {
		q.logger.WarnContext(ctx, "requeued expired in-flight messages", "count", n)
	}
	return n, nil
}

// PromoteDue moves delayed retries whose delay elapsed to pending.
func (q *Queue) PromoteDue(ctx context.Context, limit int) (int, error) {
	n, err := q.moveDue(ctx, q.keys.delayed, limit)
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}
	return n, nil
}

func (q *Queue) moveDue(ctx context.Context, from string, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	return moveDueScript.Run(ctx, q.client, []string{from, q.keys.pending}, now, limit).Int()
}

// Stats returns the size of every queue section.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	var pending, inflight, delayed, dead *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, q.keys.pending)
		inflight = p.ZCard(ctx, q.keys.inflight)
		delayed = p.ZCard(ctx, q.keys.delayed)
		dead = p.LLen(ctx, q.keys.dead)
		return nil
	})
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("redis stats: %w", err)
	}
	return model.QueueStats{
		Pending:  pending.Val(),
		InFlight: inflight.Val(),
		Delayed:  delayed.Val(),
		Dead:     dead.Val(),
	}, nil
}

// DeadMessage is a parked message as shown to operators.
type DeadMessage struct {
	ID         string
	Task       string
	Reason     string
	EnqueuedAt time.Time
}

// DeadLetters lists up to limit dead-lettered messages, most recent first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadMessage, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	ids, err := q.client.LRange(ctx, q.keys.dead, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var bodies, reasons *redis.SliceCmd
	_, err = q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		bodies = p.HMGet(ctx, q.keys.messages, ids...)
		reasons = p.HMGet(ctx, q.keys.errors, ids...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis dead letters: %w", err)
	}

	out := make([]DeadMessage, len(ids))
	for i, id := range ids {
		out[i].ID = id
		out[i].Reason, _ = reasons.Val()[i].(string)
		body, _ := bodies.Val()[i].(string)
		var env envelope
		if json.Unmarshal([]byte(body), &env) == nil {
			out[i].Task = env.Task
			out[i].EnqueuedAt = env.EnqueuedAt
		}
	}
	return out, nil
}

// DeadReason returns the reason recorded when id was dead-lettered.
func (q *Queue) DeadReason(ctx context.Context, id string) (string, error) {
	reason, err := q.client.HGet(ctx, q.keys.errors, id).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis hget: %w", err)
	}
	return reason, nil
}
