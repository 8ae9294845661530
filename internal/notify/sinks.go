package notify

import (
	"context"
	"time"

	"campusbook/internal/metrics"
	"github.com/rs/zerolog"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notify.log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	s.logger.Info().
		Str("event", string(ev.Type)).
		Str("booking_id", ev.BookingID).
		Str("facility_id", ev.FacilityID).
		Str("recipient_id", ev.RecipientID).
		Time("start", ev.StartTime).
		Time("end", ev.EndTime).
		Msg(ev.Message)
	return nil
}

// MetricsSink records how long events waited between the transition and delivery.
type MetricsSink struct {
	now func() time.Time
}

func NewMetricsSink() *MetricsSink {
	return &MetricsSink{now: time.Now}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Deliver(_ context.Context, ev Event) error {
	if !ev.OccurredAt.IsZero() {
		metrics.ObserveNotificationDelay(string(ev.Type), s.now().Sub(ev.OccurredAt))
	}
	return nil
}
