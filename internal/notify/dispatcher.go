package notify

import (
	"context"
	"sync"
	"time"

	"campusbook/internal/events"
	"campusbook/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DispatcherConfig holds queueing, rate limiting and retry settings.
type DispatcherConfig struct {
	QueueSize     int
	RatePerSecond float64
	Burst         int
	MaxRetries    int
	RetryDelay    time.Duration
}

// DefaultDispatcherConfig returns the default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     256,
		RatePerSecond: 20,
		Burst:         30,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// Dispatcher is an asynchronous Notifier. Events are queued without blocking
// the caller and a single worker fans them out to registered sinks.
type Dispatcher struct {
	config  DispatcherConfig
	queue   chan Event
	bus     *events.Bus[Event]
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; call Start to begin delivery.
func NewDispatcher(config DispatcherConfig, logger *zerolog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = def.RatePerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}

	return &Dispatcher{
		config:  config,
		queue:   make(chan Event, config.QueueSize),
		bus:     events.NewBus[Event](),
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Register subscribes sink to the given event types, or to all of them when none are given.
func (d *Dispatcher) Register(sink Sink, types ...EventType) {
	handler := func(ctx context.Context, ev Event) error {
		return d.deliver(ctx, sink, ev)
	}
	if len(types) == 0 {
		d.bus.Subscribe(events.Wildcard, handler)
		return
	}
	for _, t := range types {
		d.bus.Subscribe(string(t), handler)
	}
}

// Notify queues ev. A full queue or a stopped dispatcher drops the event.
func (d *Dispatcher) Notify(_ context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher stopped")
		return
	}

	select {
	case d.queue <- ev:
		metrics.SetNotificationQueue(len(d.queue))
	default:
		d.drop(ev, "queue full")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	metrics.IncNotification(string(ev.Type), "dropped")
	d.logger.Warn().
		Str("event", string(ev.Type)).
		Str("booking_id", ev.BookingID).
		Str("reason", reason).
		Msg("Notification dropped")
}

// Start launches the delivery worker. Cancelling ctx abandons queued events.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	d.logger.Info().
		Int("queue_size", d.config.QueueSize).
		Float64("rate", d.config.RatePerSecond).
		Msg("Notification dispatcher started")
}

// Stop refuses new events and waits for queued ones to be delivered or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("Notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			metrics.SetNotificationQueue(len(d.queue))
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	if !d.limiter.Allow() {
		metrics.IncRateLimitWaits()
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
	}

	if d.bus.Subscribers(string(ev.Type)) == 0 {
		d.logger.Debug().Str("event", string(ev.Type)).Msg("No sinks for notification")
		return
	}

	if err := d.bus.Publish(ctx, string(ev.Type), ev); err != nil {
		d.logger.Error().Err(err).
			Str("event", string(ev.Type)).
			Str("booking_id", ev.BookingID).
			Msg("Notification delivery failed")
	}
}

// deliver sends ev to one sink, retrying transient failures with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, ev Event) error {
	var lastErr error
	delay := d.config.RetryDelay

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		err := sink.Deliver(ctx, ev)
		if err == nil {
			metrics.IncNotification(string(ev.Type), "sent")
			return nil
		}
		lastErr = err

		if isPermanent(err) {
			break
		}
		if attempt == d.config.MaxRetries {
			break
		}

		wait := delay
		if after, ok := retryAfter(err); ok && after > 0 {
			wait = after
		}
		metrics.IncNotificationRetries()
		d.logger.Info().Err(err).
			Str("sink", sink.Name()).
			Str("booking_id", ev.BookingID).
			Int("attempt", attempt+1).
			Dur("delay", wait).
			Msg("Retrying notification")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	metrics.IncNotification(string(ev.Type), "failed")
	d.logger.Error().Err(lastErr).
		Str("sink", sink.Name()).
		Str("event", string(ev.Type)).
		Str("booking_id", ev.BookingID).
		Msg("Notification failed")
	return lastErr
}
