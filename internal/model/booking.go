package model

import "time"

// BookingStatus is the lifecycle status of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusApproved  BookingStatus = "APPROVED"
	StatusRejected  BookingStatus = "REJECTED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// SupersededReason is recorded when an approval loses to an already approved sibling.
const SupersededReason = "superseded by conflicting approved booking"

// Booking is a request to use one facility for one contiguous time window.
type Booking struct {
	ID             string        `json:"id"`
	FacilityID     string        `json:"facility_id"`
	RequesterID    string        `json:"requester_id"`
	Purpose        string        `json:"purpose"`
	Notes          string        `json:"notes,omitempty"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Status         BookingStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	DecidedAt      *time.Time    `json:"decided_at,omitempty"`
	DecidedBy      *string       `json:"decided_by,omitempty"`
	DecisionReason *string       `json:"decision_reason,omitempty"`
	Version        int64         `json:"version"`
}

// Duration returns the length of the booked window.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// OverlapsWith checks if this booking overlaps with another booking.
// Uses half-open interval [start, end) semantics - end boundary is exclusive.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return b.StartTime.Before(other.EndTime) && other.StartTime.Before(b.EndTime)
}

// ContainsTime reports whether t falls inside [StartTime, EndTime).
func (b *Booking) ContainsTime(t time.Time) bool {
	return !t.Before(b.StartTime) && t.Before(b.EndTime)
}

// BookingFilter narrows booking listings. Zero values mean "any".
type BookingFilter struct {
	FacilityID  string
	Status      BookingStatus
	RequesterID string
	From        time.Time
	To          time.Time
	Limit       int
}
