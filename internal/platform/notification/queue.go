package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/metrics"
)

// Queue delivers confirmations on background workers so the booking request
// does not wait for SMTP or Twilio.
type Queue struct {
	next    scheduling.Notifier
	jobs    chan scheduling.BookingNotice
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines feeding next. Each delivery is bounded by
// timeout.
func NewQueue(next scheduling.Notifier, workers, size int, timeout time.Duration, logger zerolog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 100
	}
	q := &Queue{
		next:    next,
		jobs:    make(chan scheduling.BookingNotice, size),
		timeout: timeout,
		logger:  logger.With().Str("component", "notification-queue").Logger(),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// NotifyBooked enqueues the notice. A full or closed queue drops it.
func (q *Queue) NotifyBooked(_ context.Context, notice scheduling.BookingNotice) scheduling.NotifyResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn().Msg("notification queue closed, notice dropped")
		return scheduling.NotifyResult{}
	}
	select {
	case q.jobs <- notice:
		metrics.NotificationQueueDepth.Inc()
		return scheduling.NotifyResult{Queued: true}
	default:
		q.logger.Warn().Msg("notification queue full, notice dropped")
		return scheduling.NotifyResult{}
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for notice := range q.jobs {
		metrics.NotificationQueueDepth.Dec()
		q.deliver(notice)
	}
}

func (q *Queue) deliver(notice scheduling.BookingNotice) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Msg("notifier panicked")
		}
	}()
	res := q.next.NotifyBooked(ctx, notice)
	q.logger.Debug().
		Bool("email", res.EmailSent).
		Bool("sms", res.SMSSent).
		Bool("realtime", res.Realtime).
		Msg("notification delivered")
}

// Close stops accepting notices and waits for queued ones to be delivered or
// for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
