package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/errors"
	"github.com/opspulse/opspulse/pkg/logging"
	"github.com/opspulse/opspulse/pkg/metrics"
)

// emptyPollInterval is how long the processor sleeps when the queue is empty
const emptyPollInterval = 1 * time.Second

// Service fans notifications out across channel handlers. Every Send
// enqueues; a single background processor dequeues and dispatches one
// notification at a time. Critical notifications additionally get an
// immediate best-effort dispatch so they are not delayed behind backlog.
type Service struct {
	queue      *Queue
	logger     *logging.Logger
	maxRetries int
	metrics    *metrics.Metrics

	handlersMu sync.RWMutex
	handlers   map[Channel]Handler

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewService creates a notification service with the default channel
// handlers registered. Handlers for unconfigured channels skip on Send.
func NewService(queue *Queue, cfg *config.NotifyConfig, logger *logging.Logger) *Service {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	s := &Service{
		queue:      queue,
		logger:     logger,
		maxRetries: maxRetries,
		handlers:   make(map[Channel]Handler),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	s.RegisterHandler(NewTelegramHandler(cfg))
	s.RegisterHandler(NewEmailHandler(cfg))
	s.RegisterHandler(NewSlackHandler(cfg))
	s.RegisterHandler(NewPagerDutyHandler(cfg))
	s.RegisterHandler(NewWebhookHandler(cfg))

	return s
}

// SetMetrics attaches instrumentation for channel deliveries
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// RegisterHandler installs or replaces the handler for its channel kind
func (s *Service) RegisterHandler(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[h.Kind()] = h
}

// Send creates and enqueues a notification, returning its ID. When
// channels is empty the priority's default channel set is used. Critical
// notifications are also dispatched immediately in parallel with queuing.
func (s *Service) Send(ctx context.Context, title, message string, priority Priority, channels []Channel, metadata map[string]string) string {
	n := NewNotification(title, message, priority, channels, metadata)
	n.MaxRetries = s.maxRetries

	s.queue.Enqueue(ctx, n)

	if priority == PriorityCritical {
		immediate := *n
		go s.dispatch(context.Background(), &immediate)
	}

	return n.ID
}

// SendAlert sends a notification with the priority's default channels
func (s *Service) SendAlert(ctx context.Context, title, message string, priority Priority) string {
	return s.Send(ctx, title, message, priority, nil, nil)
}

// SendCriticalAlert sends a critical notification to all critical channels
func (s *Service) SendCriticalAlert(ctx context.Context, title, message string) string {
	return s.Send(ctx, title, message, PriorityCritical, nil, nil)
}

// Start launches the background processor. Safe to call once; repeated
// calls are no-ops.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.processLoop()
	})
}

// Stop signals the processor to stop and waits for the in-flight
// notification to finish, so retry bookkeeping is never lost mid-dispatch.
// Returns immediately if the processor was never started.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Service) processLoop() {
	defer close(s.doneCh)

	s.logger.Info("Starting notification processor")

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("Notification processor stopped")
			return
		default:
		}

		ctx := context.Background()
		n := s.queue.Dequeue(ctx)
		if n == nil {
			s.sleep(emptyPollInterval)
			continue
		}

		s.dispatch(ctx, n)
	}
}

// sleep waits for the given duration or until stop is signaled
func (s *Service) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.stopCh:
	case <-timer.C:
	}
}

// dispatch sends the notification on each of its channels. Channels that
// fail are collected and the notification is requeued narrowed to only
// those channels; already-delivered channels are permanently dropped from
// the retry so recipients are not paged twice for one alert.
func (s *Service) dispatch(ctx context.Context, n *Notification) {
	var failed []Channel

	for _, channel := range n.Channels {
		s.handlersMu.RLock()
		handler, ok := s.handlers[channel]
		s.handlersMu.RUnlock()

		if !ok {
			s.logger.Warn("No handler for channel", "channel", string(channel), "notification_id", n.ID)
			continue
		}

		if err := handler.Send(ctx, n); err != nil {
			if errors.IsNotConfigured(err) {
				s.logger.Warn("Channel not configured, skipping",
					"channel", string(channel),
					"notification_id", n.ID,
				)
				continue
			}
			s.logger.Error("Channel send failed",
				"channel", string(channel),
				"notification_id", n.ID,
				"error", err.Error(),
			)
			s.metrics.RecordNotificationFailed(string(channel), string(n.Priority))
			failed = append(failed, channel)
			continue
		}

		s.metrics.RecordNotificationSent(string(channel), string(n.Priority))
		s.logger.LogNotificationEvent("notification_sent", n.ID, string(n.Priority), map[string]interface{}{
			"channel": string(channel),
		})
	}

	if len(failed) > 0 {
		n.Channels = failed
		s.queue.RequeueWithBackoff(ctx, n)
		return
	}

	s.queue.MarkProcessed(ctx)
}
