// Package conflict decides whether a time window collides with existing bookings.
package conflict

import (
	"context"
	"time"

	"campusbook/internal/domain"
	"campusbook/internal/model"
)

// Interval is a half-open time window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlap reports whether a and b share any instant. Touching endpoints do not overlap.
func Overlap(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Clip returns the part of iv inside window and whether it is non-empty.
func Clip(iv, window Interval) (Interval, bool) {
	if !Overlap(iv, window) {
		return Interval{}, false
	}
	out := iv
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out, true
}

// Filter selects which existing bookings count as blocking.
type Filter struct {
	Statuses  []model.BookingStatus
	ExcludeID string
}

// ApprovedOnly is the decision-time filter.
func ApprovedOnly() Filter {
	return Filter{Statuses: []model.BookingStatus{model.StatusApproved}}
}

// ApprovedOrPending is the advisory filter shown before a request is submitted.
func ApprovedOrPending() Filter {
	return Filter{Statuses: []model.BookingStatus{model.StatusApproved, model.StatusPending}}
}

// Excluding returns a copy of f that ignores the booking with the given id.
func (f Filter) Excluding(id string) Filter {
	f.ExcludeID = id
	return f
}

// BookingFinder is the storage query the checker runs.
type BookingFinder interface {
	FindOverlapping(ctx context.Context, facilityID string, start, end time.Time,
		statuses []model.BookingStatus, excludeID string) ([]model.Booking, error)
}

// Checker answers overlap questions against stored bookings. It never writes.
type Checker struct {
	bookings BookingFinder
}

func NewChecker(bookings BookingFinder) *Checker {
	return &Checker{bookings: bookings}
}

// Conflicting returns the bookings of facilityID matching filter that overlap [start, end).
func (c *Checker) Conflicting(ctx context.Context, facilityID string, start, end time.Time, filter Filter) ([]model.Booking, error) {
	if !start.Before(end) {
		return nil, domain.Validation("check conflicts", "start %s must be before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return c.bookings.FindOverlapping(ctx, facilityID, start, end, filter.Statuses, filter.ExcludeID)
}

// Overlaps reports whether any booking matching filter overlaps [start, end).
func (c *Checker) Overlaps(ctx context.Context, facilityID string, start, end time.Time, filter Filter) (bool, error) {
	found, err := c.Conflicting(ctx, facilityID, start, end, filter)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}
