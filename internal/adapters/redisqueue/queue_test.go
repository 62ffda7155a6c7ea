package redisqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	_, client := testutil.SetupMiniRedis(t)
	clk := &clock{t: testutil.TestTime()}
	q, err := New(Options{Client: client, Name: "test", VisibilityTimeout: time.Minute, Now: clk.Now})
	require.NoError(t, err)
	return q, clk
}

type payload struct {
	JobID string `json:"job_id"`
}

func decodePayload(t *testing.T, msg *model.QueueMessage) payload {
	t.Helper()
	var p payload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return p
}

func TestQueue_FIFOAndAck(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))
	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "b", payload{JobID: "b"}))

	first, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, model.TaskNameTranscribe, first.Task)
	assert.Equal(t, "a", decodePayload(t, first).JobID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStats{Pending: 1, InFlight: 1}, stats)

	require.NoError(t, q.Ack(ctx, "a"))
	require.ErrorIs(t, q.Ack(ctx, "a"), ErrNotInFlight)

	second, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	_, err = q.Reserve(ctx)
	require.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_RetryWithDelay(t *testing.T) {
	t.Parallel()
	q, clk := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))
	msg, err := q.Reserve(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, msg.ID, 60*time.Second))
	_, err = q.Reserve(ctx)
	require.ErrorIs(t, err, ErrNoMessage)

	n, err := q.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(61 * time.Second)
	n, err = q.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again.ID)
	assert.Equal(t, 2, again.Attempt)
}

func TestQueue_RetryImmediateGoesToHead(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))
	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "b", payload{JobID: "b"}))
	msg, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, msg.ID, 0))

	next, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", next.ID)

	require.ErrorIs(t, q.Retry(ctx, "missing", time.Second), ErrNotInFlight)
}

func TestQueue_RequeueKeepsAttemptBudget(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))
	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "b", payload{JobID: "b"}))

	for range 2 {
		msg, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", msg.ID)
		assert.Equal(t, 1, msg.Attempt)
		require.NoError(t, q.Requeue(ctx, msg.ID))
	}

	msg, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, msg.ID, 0))
	msg, err = q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", msg.ID)
	assert.Equal(t, 2, msg.Attempt, "only the retried delivery counts")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStats{Pending: 1, InFlight: 1}, stats)

	require.ErrorIs(t, q.Requeue(ctx, "missing"), ErrNotInFlight)
}

func TestQueue_RequeueExpired(t *testing.T) {
	t.Parallel()
	q, clk := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))
	_, err := q.Reserve(ctx)
	require.NoError(t, err)

	n, err := q.RequeueExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "visibility deadline not reached")

	clk.Advance(2 * time.Minute)
	n, err = q.RequeueExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	redelivered, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempt)
}

func TestQueue_MalformedEnvelopeIsDeadLettered(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.client.HSet(ctx, q.keys.messages, "bad", "{not json").Err())
	require.NoError(t, q.client.LPush(ctx, q.keys.pending, "bad").Err())
	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "good", payload{JobID: "good"}))

	msg, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "good", msg.ID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)
	reason, err := q.DeadReason(ctx, "bad")
	require.NoError(t, err)
	assert.Contains(t, reason, "malformed envelope")
}

func TestQueue_DeadLetters(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	list, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, id, payload{JobID: id}))
		msg, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.DeadLetter(ctx, msg.ID, "bad descriptor "+id))
	}

	list, err = q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, DeadMessage{
		ID:         "b",
		Task:       model.TaskNameTranscribe,
		Reason:     "bad descriptor b",
		EnqueuedAt: testutil.TestTime(),
	}, list[0])
	assert.Equal(t, "a", list[1].ID)

	list, err = q.DeadLetters(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	reason, err := q.DeadReason(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "bad descriptor a", reason)
	reason, err = q.DeadReason(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestQueue_EnqueueResetsAttempts(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))
	_, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, "a", payload{JobID: "a"}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStats{Pending: 1}, stats)

	msg, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Attempt)
}

func TestQueue_ConcurrentReserveDeliversOnce(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const n = 20
	for i := range n {
		id := string(rune('a' + i))
		require.NoError(t, q.Enqueue(ctx, model.TaskNameTranscribe, id, payload{JobID: id}))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := q.Reserve(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[msg.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
}

func TestNew_RequiresClient(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	require.Error(t, err)
}

func TestQueue_Ping(t *testing.T) {
	mr, client := testutil.SetupMiniRedis(t)
	q, err := New(Options{Client: client})
	require.NoError(t, err)
	require.NoError(t, q.Ping(context.Background()))

	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}
