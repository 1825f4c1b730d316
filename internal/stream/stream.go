package stream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opspulse/opspulse/internal/store"
	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/metrics"
)

// Handler processes one consumed log entry. Handler errors are logged and
// isolated; they never block other handlers or acknowledgment.
type Handler func(ctx context.Context, entry *LogEntry) error

// Info summarizes the stream's current state
type Info struct {
	Available      bool  `json:"available"`
	Length         int64 `json:"length"`
	ConsumerGroups int   `json:"consumer_groups"`
	Pending        int64 `json:"pending"`
}

// Stream is the log event pipeline on Redis Streams. Producers publish
// directly or through the in-memory buffer; consumer-group workers read
// batches, run the registered handlers, and acknowledge. Delivery is at
// least once per group; the stream is trimmed approximately at MaxLen, so
// consumers must tolerate gaps.
type Stream struct {
	store   *store.Client
	cfg     config.StreamConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	handlersMu sync.RWMutex
	handlers   []Handler

	bufMu  sync.Mutex
	buffer []*LogEntry

	flushOnce      sync.Once
	stopOnce       sync.Once
	flusherStarted atomic.Bool
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// NewStream creates a log event stream on the given store
func NewStream(client *store.Client, cfg config.StreamConfig, logger *logging.Logger) *Stream {
	return &Stream{
		store:  client,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// EnsureGroup creates the consumer group, creating the stream if needed.
// An already-existing group is not an error.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.store.XGroupCreateMkStream(ctx, s.cfg.StreamKey, s.cfg.Group, "0")
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// SetMetrics attaches instrumentation for published and consumed entries
func (s *Stream) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// AddHandler registers a handler invoked for every consumed entry
func (s *Stream) AddHandler(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Publish appends one entry to the stream and returns its ID
func (s *Stream) Publish(ctx context.Context, entry *LogEntry) (string, error) {
	id, err := s.store.XAdd(ctx, s.cfg.StreamKey, s.cfg.MaxLen, entry.Fields())
	if err != nil {
		s.logger.Error("Failed to publish log entry", "service", entry.Service, "error", err.Error())
		return "", err
	}
	s.metrics.RecordEntriesPublished("direct", 1)
	return id, nil
}

// PublishBatch appends entries in one pipelined round trip and returns the
// number published.
func (s *Stream) PublishBatch(ctx context.Context, entries []*LogEntry) int {
	if len(entries) == 0 {
		return 0
	}

	pipe := s.store.Pipeline()
	for _, entry := range entries {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.StreamKey,
			MaxLen: s.cfg.MaxLen,
			Approx: true,
			Values: entry.Fields(),
		})
	}

	results, err := pipe.Exec(ctx)
	if err != nil {
		s.logger.Error("Failed to publish batch", "entries", len(entries), "error", err.Error())
		return 0
	}

	published := 0
	for _, result := range results {
		if result.Err() == nil {
			published++
		}
	}
	s.metrics.RecordEntriesPublished("batch", published)
	return published
}

// Buffer accumulates an entry for batched publishing. The buffer flushes
// when it reaches the batch size; the background flusher covers the time
// trigger.
func (s *Stream) Buffer(ctx context.Context, entry *LogEntry) {
	s.bufMu.Lock()
	s.buffer = append(s.buffer, entry)
	full := int64(len(s.buffer)) >= s.cfg.BatchSize
	s.bufMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush publishes all buffered entries as one batch. When the publish
// fails entirely the entries go back into the buffer, bounded so a long
// store outage cannot grow it without limit.
func (s *Stream) Flush(ctx context.Context) {
	s.bufMu.Lock()
	if len(s.buffer) == 0 {
		s.bufMu.Unlock()
		return
	}
	pending := s.buffer
	s.buffer = nil
	s.bufMu.Unlock()

	published := s.PublishBatch(ctx, pending)
	if published == 0 {
		s.rebuffer(pending)
		return
	}
	if published < len(pending) {
		s.logger.Warn("Buffer flush incomplete",
			"published", published,
			"buffered", len(pending),
		)
		return
	}
	s.logger.Debug("Flushed buffered log entries", "count", published)
}

// rebuffer returns unpublished entries to the front of the buffer,
// evicting the oldest beyond ten batches.
func (s *Stream) rebuffer(entries []*LogEntry) {
	limit := int(s.cfg.BatchSize) * 10

	s.bufMu.Lock()
	s.buffer = append(entries, s.buffer...)
	dropped := len(s.buffer) - limit
	if dropped > 0 {
		s.buffer = s.buffer[dropped:]
	} else {
		dropped = 0
	}
	s.bufMu.Unlock()

	s.logger.Warn("Buffer flush failed, entries retained",
		"retained", len(entries),
		"dropped", dropped,
	)
}

// StartFlusher launches the time-based flush loop. Entries sitting in the
// buffer are published at least every FlushInterval even when the size
// trigger never fires.
func (s *Stream) StartFlusher() {
	s.flushOnce.Do(func() {
		s.flusherStarted.Store(true)
		go s.flushLoop()
	})
}

// StopFlusher stops the flush loop and performs a final flush. Returns
// immediately if the flusher was never started.
func (s *Stream) StopFlusher() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.flusherStarted.Load() {
		<-s.doneCh
	}
}

func (s *Stream) flushLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(context.Background())
		}
	}
}

// Consume reads batches for the named consumer until the context is
// canceled. Each entry runs through every registered handler and is then
// acknowledged; unacknowledged entries stay claimed and can be recovered
// with ClaimStale.
func (s *Stream) Consume(ctx context.Context, consumer string) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}

	s.logger.LogStreamEvent("consumer_started", consumer, nil)

	for {
		if ctx.Err() != nil {
			s.logger.LogStreamEvent("consumer_stopped", consumer, nil)
			return nil
		}

		streams, err := s.store.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: consumer,
			Streams:  []string{s.cfg.StreamKey, ">"},
			Count:    s.cfg.BatchSize,
			Block:    s.cfg.BlockTimeout,
		})
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				s.logger.LogStreamEvent("consumer_stopped", consumer, nil)
				return nil
			}
			s.logger.Error("Stream read failed", "consumer", consumer, "error", err.Error())
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		for _, str := range streams {
			for _, msg := range str.Messages {
				s.processMessage(ctx, consumer, msg)
			}
		}
	}
}

// processMessage runs all handlers over one entry and acknowledges it.
// Individual handler failures are logged and do not block the others or
// the acknowledgment.
func (s *Stream) processMessage(ctx context.Context, consumer string, msg redis.XMessage) {
	entry := EntryFromFields(msg.Values)

	s.handlersMu.RLock()
	handlers := s.handlers
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, entry); err != nil {
			s.metrics.RecordHandlerError(consumer)
			s.logger.Error("Stream handler failed",
				"entry_id", msg.ID,
				"service", entry.Service,
				"error", err.Error(),
			)
		}
	}

	if err := s.store.XAck(ctx, s.cfg.StreamKey, s.cfg.Group, msg.ID); err != nil {
		s.logger.Error("Failed to acknowledge entry", "entry_id", msg.ID, "error", err.Error())
		return
	}
	s.metrics.RecordEntryConsumed(consumer)
}

// ClaimStale recovers entries claimed by a crashed consumer. Entries idle
// longer than minIdle are handed to the given consumer, reprocessed, and
// acknowledged. Returns the number recovered.
func (s *Stream) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration) (int, error) {
	msgs, _, err := s.store.XAutoClaim(ctx, s.cfg.StreamKey, s.cfg.Group, consumer, minIdle, "0-0", s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range msgs {
		s.processMessage(ctx, consumer, msg)
	}

	if len(msgs) > 0 {
		s.logger.LogStreamEvent("stale_entries_reclaimed", consumer, map[string]interface{}{
			"count": len(msgs),
		})
	}
	return len(msgs), nil
}

// PendingCount returns how many consumed entries are still unacknowledged
func (s *Stream) PendingCount(ctx context.Context) (int64, error) {
	pending, err := s.store.XPending(ctx, s.cfg.StreamKey, s.cfg.Group)
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Info returns stream length, consumer group, and pending-entry counts
func (s *Stream) Info(ctx context.Context) Info {
	length, err := s.store.XLen(ctx, s.cfg.StreamKey)
	if err != nil {
		return Info{Available: false}
	}

	groups, err := s.store.XInfoGroups(ctx, s.cfg.StreamKey)
	if err != nil {
		// Stream may exist without any group yet
		groups = nil
	}

	pending, err := s.PendingCount(ctx)
	if err != nil {
		// Group may not exist yet
		pending = 0
	}

	return Info{
		Available:      true,
		Length:         length,
		ConsumerGroups: len(groups),
		Pending:        pending,
	}
}

// sleepCtx waits for d, returning false if the context was canceled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
