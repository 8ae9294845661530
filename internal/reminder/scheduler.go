// Package reminder notifies requesters shortly before their approved bookings start.
package reminder

import (
	"context"
	"fmt"
	"time"

	"campusbook/internal/model"
	"campusbook/internal/notify"
	"github.com/rs/zerolog"
)

// Store is the booking storage the scheduler reads and claims reminders in.
type Store interface {
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
	GetFacility(ctx context.Context, id string) (*model.Facility, error)
	// MarkReminded atomically claims a booking's reminder; false means another
	// run (or another instance) already sent it.
	MarkReminded(ctx context.Context, id string, at time.Time) (bool, error)
}

type Config struct {
	// Lead is how long before the start a reminder goes out. Zero disables reminders.
	Lead time.Duration
	// CheckInterval is how often upcoming bookings are scanned.
	CheckInterval time.Duration
}

// Scheduler periodically emits BookingReminder events.
type Scheduler struct {
	config   Config
	store    Store
	notifier notify.Notifier
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewScheduler(cfg Config, store Store, notifier notify.Notifier, logger *zerolog.Logger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	return &Scheduler{
		config:   cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Start scans immediately and then on every check interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.config.Lead <= 0 {
		s.logger.Info().Msg("Booking reminders are disabled")
		return
	}
	s.logger.Info().
		Dur("lead", s.config.Lead).
		Dur("interval", s.config.CheckInterval).
		Msg("Reminder scheduler started")

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Reminder run failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Reminder scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce reminds every approved booking that starts within the lead window
// and has not been reminded yet. It returns the number of reminders emitted.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	upcoming, err := s.store.ListBookings(ctx, model.BookingFilter{
		Status: model.StatusApproved,
		From:   now,
		To:     now.Add(s.config.Lead),
	})
	if err != nil {
		return 0, fmt.Errorf("list upcoming bookings: %w", err)
	}

	names := make(map[string]string)
	sent := 0
	for i := range upcoming {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		b := &upcoming[i]
		// Already running; a reminder would be late.
		if !b.StartTime.After(now) {
			continue
		}

		claimed, err := s.store.MarkReminded(ctx, b.ID, now)
		if err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to claim reminder")
			continue
		}
		if !claimed {
			continue
		}

		name, ok := names[b.FacilityID]
		if !ok {
			if f, err := s.store.GetFacility(ctx, b.FacilityID); err == nil {
				name = f.Name
			}
			names[b.FacilityID] = name
		}

		s.notifier.Notify(ctx, notify.Event{
			Type:         notify.BookingReminder,
			BookingID:    b.ID,
			FacilityID:   b.FacilityID,
			FacilityName: name,
			RecipientID:  b.RequesterID,
			Message:      fmt.Sprintf("Reminder: your booking starts in %s", b.StartTime.Sub(now).Round(time.Minute)),
			StartTime:    b.StartTime,
			EndTime:      b.EndTime,
			OccurredAt:   now,
		})
		sent++
	}

	if sent > 0 {
		s.logger.Info().Int("sent", sent).Msg("Booking reminders emitted")
	}
	return sent, nil
}
