package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opspulse/opspulse/internal/store"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/metrics"
)

// Redis keys for the notification queue
const (
	queueKey     = "opspulse:notify:queue"
	scheduledKey = "opspulse:notify:scheduled"
	failedKey    = "opspulse:notify:failed"
	processedKey = "opspulse:notify:processed"
)

// maxBackoff caps the retry delay at five minutes
const maxBackoff = 300 * time.Second

// localBufferCap bounds the in-memory fallback used when Redis is down
const localBufferCap = 1000

// Stats reports queue depth and throughput counters
type Stats struct {
	Available bool  `json:"available"`
	Pending   int64 `json:"pending"`
	Failed    int64 `json:"failed"`
	Processed int64 `json:"processed"`
}

// Queue is a persistent priority queue of notifications backed by Redis.
// Ordering is by priority rank with enqueue time as the tiebreaker, so
// critical items always come out before low ones and same-priority items
// come out in insertion order. Retried items wait in a scheduled set keyed
// by their ready time and are promoted on dequeue, which keeps backoff
// delays from blocking other consumers.
//
// When Redis is unreachable, enqueued items land in a bounded in-memory
// buffer. The buffer is best effort only: it is not shared across
// processes and the oldest item is dropped when it fills.
type Queue struct {
	store  *store.Client
	logger *logging.Logger

	backoffBase time.Duration
	metrics     *metrics.Metrics

	mu       sync.Mutex
	local    []*Notification
	degraded bool
}

// NewQueue creates a notification queue on the given store
func NewQueue(client *store.Client, logger *logging.Logger) *Queue {
	return &Queue{
		store:       client,
		logger:      logger,
		backoffBase: 10 * time.Second,
	}
}

// SetMetrics attaches instrumentation for retries and dead-letters
func (q *Queue) SetMetrics(m *metrics.Metrics) {
	q.metrics = m
}

// scoreEpoch anchors the enqueue-time component of queue scores. Relative
// to a recent epoch the microsecond count stays well inside float64's
// exact-integer range, so same-priority items a microsecond apart never
// collide on the same score.
var scoreEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// rankStride separates priority ranks in the score space. Microseconds
// since scoreEpoch stay below it for roughly thirty years.
const rankStride = 1e15

// score folds priority rank and enqueue time into a single ordering key.
// The time component is always below rankStride, so it can never promote
// an item across priority ranks.
func score(priority Priority, at time.Time) float64 {
	return float64(priority.Rank())*rankStride + float64(at.Sub(scoreEpoch).Microseconds())
}

// Enqueue adds a notification to the queue. Returns false when the store
// is unavailable and the item was only buffered locally; callers that need
// guaranteed delivery must check the result.
func (q *Queue) Enqueue(ctx context.Context, n *Notification) bool {
	data, err := n.Marshal()
	if err != nil {
		q.logger.Error("Failed to serialize notification", "notification_id", n.ID, "error", err.Error())
		return false
	}

	err = q.store.ZAdd(ctx, queueKey, redis.Z{
		Score:  score(n.Priority, time.Now()),
		Member: data,
	})
	if err != nil {
		q.logger.Warn("Store unavailable, buffering notification locally",
			"notification_id", n.ID,
			"error", err.Error(),
		)
		q.bufferLocal(n)
		return false
	}

	q.setDegraded(false)
	q.logger.LogNotificationEvent("notification_queued", n.ID, string(n.Priority), nil)
	return true
}

// Dequeue removes and returns the highest-priority pending notification,
// or nil if the queue is empty. Scheduled retries whose delay has elapsed
// are promoted back into the queue first.
func (q *Queue) Dequeue(ctx context.Context) *Notification {
	if q.store.Health(ctx) != nil {
		q.setDegraded(true)
		return q.popLocal()
	}

	q.drainLocal(ctx)
	q.promoteScheduled(ctx)

	items, err := q.store.ZPopMin(ctx, queueKey, 1)
	if err != nil {
		q.logger.Error("Failed to dequeue notification", "error", err.Error())
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	data, ok := items[0].Member.(string)
	if !ok {
		return nil
	}

	n, err := UnmarshalNotification(data)
	if err != nil {
		q.logger.Error("Dropping undecodable queue record", "error", err.Error())
		return nil
	}
	return n
}

// RequeueWithBackoff schedules a failed notification for a later retry, or
// moves it to the failed store once the retry budget is exhausted. The
// delay doubles per attempt up to five minutes. The wait happens in the
// scheduled set, not in this call, so other consumers are never blocked.
func (q *Queue) RequeueWithBackoff(ctx context.Context, n *Notification) {
	n.RetryCount++

	if n.RetryCount > n.MaxRetries {
		q.moveToFailed(ctx, n)
		return
	}

	delay := q.backoffBase * (1 << uint(n.RetryCount))
	if delay > maxBackoff {
		delay = maxBackoff
	}

	data, err := n.Marshal()
	if err != nil {
		q.logger.Error("Failed to serialize notification for retry", "notification_id", n.ID, "error", err.Error())
		return
	}

	readyAt := time.Now().Add(delay)
	err = q.store.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	})
	if err != nil {
		q.logger.Error("Failed to schedule retry, buffering locally",
			"notification_id", n.ID,
			"error", err.Error(),
		)
		q.bufferLocal(n)
		return
	}

	q.metrics.RecordNotificationRetry(string(n.Priority))
	q.logger.Info("Notification scheduled for retry",
		"notification_id", n.ID,
		"retry_count", n.RetryCount,
		"delay", delay.String(),
	)
}

// promoteScheduled moves every scheduled retry whose ready time has passed
// back into the pending queue.
func (q *Queue) promoteScheduled(ctx context.Context) {
	now := time.Now().UnixMilli()
	due, err := q.store.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	})
	if err != nil || len(due) == 0 {
		return
	}

	for _, data := range due {
		// Concurrent dequeuers race on the same due members. Only the
		// caller whose ZRem actually removed the member may promote it;
		// anyone else re-adding it would deliver the retry twice.
		removed, err := q.store.ZRem(ctx, scheduledKey, data)
		if err != nil || removed == 0 {
			continue
		}

		n, err := UnmarshalNotification(data)
		if err != nil {
			q.logger.Error("Dropping undecodable scheduled record", "error", err.Error())
			continue
		}

		addErr := q.store.ZAdd(ctx, queueKey, redis.Z{
			Score:  score(n.Priority, time.Now()),
			Member: data,
		})
		if addErr != nil {
			q.bufferLocal(n)
		}
	}
}

func (q *Queue) moveToFailed(ctx context.Context, n *Notification) {
	data, err := n.Marshal()
	if err != nil {
		q.logger.Error("Failed to serialize dead-lettered notification", "notification_id", n.ID, "error", err.Error())
		return
	}

	if err := q.store.LPush(ctx, failedKey, data); err != nil {
		q.logger.Error("Failed to dead-letter notification", "notification_id", n.ID, "error", err.Error())
		return
	}

	q.metrics.RecordDeadLettered()
	q.logger.Warn("Notification moved to failed store",
		"notification_id", n.ID,
		"retry_count", n.RetryCount,
	)
}

// MarkProcessed increments the processed counter after a fully dispatched
// notification.
func (q *Queue) MarkProcessed(ctx context.Context) {
	if _, err := q.store.Incr(ctx, processedKey); err != nil {
		q.logger.Error("Failed to increment processed counter", "error", err.Error())
	}
}

// Stats returns queue depth counters. Available reports whether the
// backing store answered; when it is false the other counters reflect only
// the local fallback buffer.
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	localPending := int64(len(q.local))
	q.mu.Unlock()

	pending, err := q.store.ZCard(ctx, queueKey)
	if err != nil {
		return Stats{Available: false, Pending: localPending}
	}

	failed, err := q.store.LLen(ctx, failedKey)
	if err != nil {
		return Stats{Available: false, Pending: pending + localPending}
	}

	var processed int64
	if raw, err := q.store.Get(ctx, processedKey); err == nil {
		processed, _ = strconv.ParseInt(raw, 10, 64)
	}

	return Stats{
		Available: true,
		Pending:   pending + localPending,
		Failed:    failed,
		Processed: processed,
	}
}

// FailedNotifications returns up to limit dead-lettered notifications,
// newest first.
func (q *Queue) FailedNotifications(ctx context.Context, limit int64) ([]*Notification, error) {
	records, err := q.store.LRange(ctx, failedKey, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read failed store: %w", err)
	}

	notifications := make([]*Notification, 0, len(records))
	for _, data := range records {
		n, err := UnmarshalNotification(data)
		if err != nil {
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// Degraded reports whether the queue is currently running on the local
// fallback buffer.
func (q *Queue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

func (q *Queue) setDegraded(v bool) {
	q.mu.Lock()
	q.degraded = v
	q.mu.Unlock()
}

func (q *Queue) bufferLocal(n *Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.degraded = true
	if len(q.local) >= localBufferCap {
		q.logger.Warn("Local buffer full, dropping oldest notification", "dropped_id", q.local[0].ID)
		q.local = q.local[1:]
	}
	q.local = append(q.local, n)
}

func (q *Queue) popLocal() *Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.local) == 0 {
		return nil
	}
	n := q.local[0]
	q.local = q.local[1:]
	return n
}

// drainLocal flushes locally buffered notifications back into the store
// once it is reachable again.
func (q *Queue) drainLocal(ctx context.Context) {
	q.mu.Lock()
	buffered := q.local
	q.local = nil
	q.degraded = false
	q.mu.Unlock()

	for _, n := range buffered {
		data, err := n.Marshal()
		if err != nil {
			continue
		}
		err = q.store.ZAdd(ctx, queueKey, redis.Z{
			Score:  score(n.Priority, time.Now()),
			Member: data,
		})
		if err != nil {
			q.bufferLocal(n)
		}
	}
}
