// Package notify delivers booking lifecycle events to people and calendars.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType names a booking lifecycle transition.
type EventType string

const (
	BookingCreated   EventType = "BookingCreated"
	BookingApproved  EventType = "BookingApproved"
	BookingRejected  EventType = "BookingRejected"
	BookingCancelled EventType = "BookingCancelled"
	// BookingReminder is sent ahead of an approved booking's start.
	BookingReminder EventType = "BookingReminder"
)

// AllEventTypes lists every booking event type.
var AllEventTypes = []EventType{BookingCreated, BookingApproved, BookingRejected, BookingCancelled, BookingReminder}

// Event is one notification about a booking.
type Event struct {
	Type         EventType
	BookingID    string
	FacilityID   string
	FacilityName string
	RecipientID  string
	Message      string
	StartTime    time.Time
	EndTime      time.Time
	OccurredAt   time.Time
}

// Notifier accepts events for delivery. Implementations must not block the caller
// on delivery and must not report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(context.Context, Event) {})

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// PermanentError marks a delivery failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the dispatcher gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryAfterError asks the dispatcher to wait before the next attempt.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

func isPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

func retryAfter(err error) (time.Duration, bool) {
	var r *RetryAfterError
	if errors.As(err, &r) {
		return r.After, true
	}
	return 0, false
}
