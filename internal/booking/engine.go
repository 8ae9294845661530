// Package booking implements the booking lifecycle: request, approval,
// rejection and cancellation under per-facility serialization.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campusbook/internal/access"
	"campusbook/internal/conflict"
	"campusbook/internal/domain"
	"campusbook/internal/metrics"
	"campusbook/internal/model"
	"campusbook/internal/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the engine needs.
type Store interface {
	conflict.BookingFinder
	GetFacility(ctx context.Context, id string) (*model.Facility, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	UpdateBookingStatus(ctx context.Context, b *model.Booking, expected model.BookingStatus, expectedVersion int64) error
	// ApproveIfNoOverlap atomically re-checks approved overlaps and writes the
	// approval; the overlapping approved bookings are returned instead of writing.
	ApproveIfNoOverlap(ctx context.Context, b *model.Booking, expected model.BookingStatus, expectedVersion int64) ([]model.Booking, error)
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
}

// Authorizer decides whether an actor may perform an operation.
type Authorizer interface {
	Check(ctx context.Context, op string, policy access.Policy, actor model.Actor, ownerID string) error
}

type staticAuthorizer struct{}

func (staticAuthorizer) Check(_ context.Context, op string, policy access.Policy, actor model.Actor, ownerID string) error {
	return access.Check(op, policy, actor, ownerID)
}

// Options tunes request validation.
type Options struct {
	// MinAdvance is how far ahead of now a booking must start. Zero allows any future start.
	MinAdvance time.Duration
	// MaxAdvance caps how far ahead a booking may start. Zero means unbounded.
	MaxAdvance time.Duration
	// Location interprets facility opening hours. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time
}

// CreateRequest describes a new booking.
type CreateRequest struct {
	FacilityID  string
	RequesterID string
	Purpose     string
	Notes       string
	StartTime   time.Time
	EndTime     time.Time
}

// Engine runs booking transitions. Decisions for one facility are serialized
// through the Locker to keep contention low; correctness rests on storage:
// every status write is a compare-and-swap and approval re-checks overlaps in
// the same transaction as its write.
type Engine struct {
	store    Store
	checker  *conflict.Checker
	locker   Locker
	authz    Authorizer
	notifier notify.Notifier
	opts     Options
	logger   zerolog.Logger
}

func NewEngine(store Store, locker Locker, authz Authorizer, notifier notify.Notifier, opts Options, logger *zerolog.Logger) *Engine {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if authz == nil {
		authz = staticAuthorizer{}
	}
	if notifier == nil {
		notifier = notify.Nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Engine{
		store:    store,
		checker:  conflict.NewChecker(store),
		locker:   locker,
		authz:    authz,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "booking").Logger(),
	}
}

// Create validates req and stores it as a pending booking. Overlapping pending
// requests are allowed; an overlapping approved booking is a conflict.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	const op = "create booking"
	now := e.opts.Now()

	if err := e.validateRequest(op, req, now); err != nil {
		return nil, err
	}

	unlock, err := e.locker.Lock(ctx, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("%s: lock facility %s: %w", op, req.FacilityID, err)
	}
	defer unlock()

	facility, err := e.store.GetFacility(ctx, req.FacilityID)
	if err != nil {
		return nil, err
	}
	if err := e.validateFacility(op, facility, req); err != nil {
		return nil, err
	}

	blocked, err := e.checker.Overlaps(ctx, req.FacilityID, req.StartTime, req.EndTime, conflict.ApprovedOnly())
	if err != nil {
		return nil, err
	}
	if blocked {
		metrics.IncBookingConflict("create")
		return nil, domain.Conflict(op, "facility %s is already booked in the requested window", req.FacilityID)
	}

	b := &model.Booking{
		ID:          uuid.NewString(),
		FacilityID:  req.FacilityID,
		RequesterID: req.RequesterID,
		Purpose:     strings.TrimSpace(req.Purpose),
		Notes:       strings.TrimSpace(req.Notes),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := e.store.InsertBooking(ctx, b); err != nil {
		return nil, err
	}

	metrics.IncBookingCreated()
	e.logger.Info().
		Str("booking_id", b.ID).
		Str("facility_id", b.FacilityID).
		Str("requester_id", b.RequesterID).
		Time("start", b.StartTime).
		Time("end", b.EndTime).
		Msg("Booking requested")
	e.emit(ctx, notify.BookingCreated, b, facility, b.RequesterID, "Booking request received")

	return b, nil
}

func (e *Engine) validateRequest(op string, req CreateRequest, now time.Time) error {
	if strings.TrimSpace(req.RequesterID) == "" {
		return domain.Validation(op, "requester is required")
	}
	if strings.TrimSpace(req.FacilityID) == "" {
		return domain.Validation(op, "facility is required")
	}
	if !req.StartTime.Before(req.EndTime) {
		return domain.Validation(op, "start must be before end")
	}
	if req.StartTime.Before(now) {
		return domain.Validation(op, "start is in the past")
	}
	if e.opts.MinAdvance > 0 && req.StartTime.Before(now.Add(e.opts.MinAdvance)) {
		return domain.Validation(op, "bookings must start at least %s ahead", e.opts.MinAdvance)
	}
	if e.opts.MaxAdvance > 0 && req.StartTime.After(now.Add(e.opts.MaxAdvance)) {
		return domain.Validation(op, "bookings may start at most %s ahead", e.opts.MaxAdvance)
	}
	return nil
}

func (e *Engine) validateFacility(op string, f *model.Facility, req CreateRequest) error {
	if f.Status != model.FacilityAvailable {
		return domain.Validation(op, "facility %s is %s", f.ID, f.Status)
	}
	if !f.HasOpeningHours() {
		return nil
	}

	open, closeAt, err := f.OpeningWindow(req.StartTime.In(e.opts.Location))
	if err != nil {
		return fmt.Errorf("%s: facility %s: %w", op, f.ID, err)
	}
	if req.StartTime.Before(open) || req.EndTime.After(closeAt) {
		return domain.Validation(op, "facility %s is open %s-%s", f.ID, f.OpeningTime, f.ClosingTime)
	}
	return nil
}

// Approve moves a pending booking to approved. If an approved booking already
// overlaps it, the request is rejected as superseded and a conflict is returned.
func (e *Engine) Approve(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	const op = "approve booking"

	if err := e.authz.Check(ctx, op, access.PolicyAdminOnly, actor, ""); err != nil {
		return nil, err
	}

	b, unlock, err := e.lockBooking(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	next, err := transition(b, ActionApprove, actor, nil, e.opts.Now())
	if err != nil {
		return nil, err
	}
	conflicts, err := e.store.ApproveIfNoOverlap(ctx, &next, b.Status, b.Version)
	if err != nil {
		return nil, err
	}

	if len(conflicts) > 0 {
		reason := model.SupersededReason
		if err := e.decide(ctx, b, ActionSupersede, actor, &reason); err != nil {
			return nil, err
		}
		metrics.IncBookingConflict("approve")
		metrics.IncBookingDecision("superseded")
		e.logger.Info().
			Str("booking_id", b.ID).
			Str("facility_id", b.FacilityID).
			Str("winner_id", conflicts[0].ID).
			Str("admin_id", actor.ID).
			Msg("Booking superseded by approved overlap")
		e.emit(ctx, notify.BookingRejected, b, nil, b.RequesterID, "Booking rejected: "+reason)
		return nil, domain.Conflict(op, "booking %s overlaps approved booking %s and was rejected", b.ID, conflicts[0].ID)
	}

	*b = next
	metrics.IncBookingDecision("approved")
	e.logger.Info().Str("booking_id", b.ID).Str("admin_id", actor.ID).Msg("Booking approved")
	e.emit(ctx, notify.BookingApproved, b, nil, b.RequesterID, "Booking approved")
	return b, nil
}

// Reject moves a pending booking to rejected with an optional reason.
func (e *Engine) Reject(ctx context.Context, bookingID string, actor model.Actor, reason string) (*model.Booking, error) {
	const op = "reject booking"

	if err := e.authz.Check(ctx, op, access.PolicyAdminOnly, actor, ""); err != nil {
		return nil, err
	}

	b, unlock, err := e.lockBooking(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var why *string
	if r := strings.TrimSpace(reason); r != "" {
		why = &r
	}
	if err := e.decide(ctx, b, ActionReject, actor, why); err != nil {
		return nil, err
	}

	metrics.IncBookingDecision("rejected")
	e.logger.Info().Str("booking_id", b.ID).Str("admin_id", actor.ID).Msg("Booking rejected")
	msg := "Booking rejected"
	if why != nil {
		msg += ": " + *why
	}
	e.emit(ctx, notify.BookingRejected, b, nil, b.RequesterID, msg)
	return b, nil
}

// Cancel withdraws a pending booking. Only its requester or an administrator may do so.
func (e *Engine) Cancel(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	const op = "cancel booking"

	b, unlock, err := e.lockBooking(ctx, op, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.authz.Check(ctx, op, access.PolicyRequesterOrAdmin, actor, b.RequesterID); err != nil {
		return nil, err
	}
	if err := e.decide(ctx, b, ActionCancel, actor, nil); err != nil {
		return nil, err
	}

	metrics.IncBookingDecision("cancelled")
	e.logger.Info().Str("booking_id", b.ID).Str("actor_id", actor.ID).Msg("Booking cancelled")
	e.emit(ctx, notify.BookingCancelled, b, nil, b.RequesterID, "Booking cancelled")
	return b, nil
}

// Get returns one booking.
func (e *Engine) Get(ctx context.Context, bookingID string) (*model.Booking, error) {
	return e.store.GetBooking(ctx, bookingID)
}

// List returns bookings matching filter.
func (e *Engine) List(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Validation("list bookings", "unknown status %q", filter.Status)
	}
	return e.store.ListBookings(ctx, filter)
}

// Conflicts lists approved and pending bookings overlapping a prospective window.
// It is advisory: pending requests do not block a new one.
func (e *Engine) Conflicts(ctx context.Context, facilityID string, start, end time.Time) ([]model.Booking, error) {
	return e.checker.Conflicting(ctx, facilityID, start, end, conflict.ApprovedOrPending())
}

// lockBooking takes the lock of the booking's facility and returns a fresh
// copy of the booking read under it.
func (e *Engine) lockBooking(ctx context.Context, op, bookingID string) (*model.Booking, func(), error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := e.locker.Lock(ctx, b.FacilityID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: lock facility %s: %w", op, b.FacilityID, err)
	}

	b, err = e.store.GetBooking(ctx, bookingID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return b, unlock, nil
}

// decide applies action to b and persists it with a compare-and-swap on the
// status and version b was read with.
func (e *Engine) decide(ctx context.Context, b *model.Booking, action Action, actor model.Actor, reason *string) error {
	next, err := transition(b, action, actor, reason, e.opts.Now())
	if err != nil {
		return err
	}
	if err := e.store.UpdateBookingStatus(ctx, &next, b.Status, b.Version); err != nil {
		return err
	}
	*b = next
	return nil
}

// transition returns a copy of b moved by action and stamped with the decision.
func transition(b *model.Booking, action Action, actor model.Actor, reason *string, now time.Time) (model.Booking, error) {
	to, err := Next(b.Status, action)
	if err != nil {
		return model.Booking{}, domain.State(string(action)+" booking", "booking %s is %s", b.ID, b.Status)
	}
	decidedBy := actor.ID

	next := *b
	next.Status = to
	next.UpdatedAt = now
	next.DecidedAt = &now
	next.DecidedBy = &decidedBy
	next.DecisionReason = reason
	return next, nil
}
