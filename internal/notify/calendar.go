package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// EventInserter creates calendar entries.
type EventInserter interface {
	Insert(ctx context.Context, calendarID string, event *calendar.Event) error
}

// GoogleCalendar inserts events through the Google Calendar API.
type GoogleCalendar struct {
	srv *calendar.Service
}

// NewGoogleCalendar authenticates with a service account credentials file.
func NewGoogleCalendar(ctx context.Context, credentialsFile string) (*GoogleCalendar, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleCalendar{srv: srv}, nil
}

func (g *GoogleCalendar) Insert(ctx context.Context, calendarID string, event *calendar.Event) error {
	_, err := g.srv.Events.Insert(calendarID, event).Context(ctx).Do()
	return err
}

// CalendarSink mirrors approved bookings into a shared calendar.
type CalendarSink struct {
	client     EventInserter
	calendarID string
	logger     zerolog.Logger
}

func NewCalendarSink(client EventInserter, calendarID string, logger *zerolog.Logger) *CalendarSink {
	return &CalendarSink{
		client:     client,
		calendarID: calendarID,
		logger:     logger.With().Str("component", "notify.calendar").Logger(),
	}
}

func (s *CalendarSink) Name() string { return "calendar" }

// Deliver inserts one calendar entry per approved booking. The entry id is
// derived from the booking id, so a retried insert is recognised as a duplicate.
func (s *CalendarSink) Deliver(ctx context.Context, ev Event) error {
	if ev.Type != BookingApproved {
		return nil
	}

	entry := &calendar.Event{
		Id:          calendarEventID(ev.BookingID),
		Summary:     ev.FacilityName,
		Description: ev.Message,
		Location:    ev.FacilityName,
		Start:       &calendar.EventDateTime{DateTime: ev.StartTime.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.EndTime.Format(time.RFC3339)},
	}

	err := s.client.Insert(ctx, s.calendarID, entry)
	if err == nil {
		s.logger.Debug().Str("booking_id", ev.BookingID).Msg("Calendar entry created")
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusConflict:
			return nil
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return err
		case apiErr.Code >= 400:
			return Permanent(err)
		}
	}
	return err
}

// calendarEventID maps a booking id onto the base32hex alphabet calendar ids allow.
func calendarEventID(bookingID string) string {
	return "cb" + strings.ToLower(strings.ReplaceAll(bookingID, "-", ""))
}
