// Package facility manages the catalogue of bookable facilities.
package facility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusbook/internal/config"
	"campusbook/internal/domain"
	"campusbook/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the registry needs.
type Store interface {
	CreateFacility(ctx context.Context, f *model.Facility) error
	CreateSeededFacility(ctx context.Context, key string, f *model.Facility) error
	GetFacility(ctx context.Context, id string) (*model.Facility, error)
	GetFacilityBySeedKey(ctx context.Context, key string) (*model.Facility, error)
	UpdateFacility(ctx context.Context, f *model.Facility) error
	SetFacilityStatus(ctx context.Context, id string, status model.FacilityStatus, now time.Time) error
	ListFacilities(ctx context.Context, status model.FacilityStatus) ([]model.Facility, error)
	FacilityStatusCounts(ctx context.Context) (map[model.FacilityStatus]int, error)
}

// Locker serializes status changes with booking decisions on the same facility.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Registry validates and stores facilities.
type Registry struct {
	store  Store
	locker Locker
	logger zerolog.Logger
	now    func() time.Time
}

func NewRegistry(store Store, locker Locker, logger *zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		locker: locker,
		logger: logger.With().Str("component", "facility").Logger(),
		now:    time.Now,
	}
}

// Create registers a new AVAILABLE facility.
func (r *Registry) Create(ctx context.Context, spec model.FacilitySpec) (*model.Facility, error) {
	f := r.fromSpec(spec)
	if err := validate("create facility", f); err != nil {
		return nil, err
	}
	if err := r.store.CreateFacility(ctx, f); err != nil {
		return nil, err
	}
	r.logger.Info().Str("facility_id", f.ID).Str("name", f.Name).Msg("Facility created")
	return f, nil
}

func (r *Registry) fromSpec(spec model.FacilitySpec) *model.Facility {
	now := r.now()
	return &model.Facility{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Location:    spec.Location,
		Type:        spec.Type,
		Capacity:    spec.Capacity,
		Amenities:   spec.Amenities,
		OpeningTime: spec.OpeningTime,
		ClosingTime: spec.ClosingTime,
		Status:      model.FacilityAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Update applies patch to a facility that is not retired.
func (r *Registry) Update(ctx context.Context, id string, patch model.FacilityPatch) (*model.Facility, error) {
	const op = "update facility"

	unlock, err := r.lockFacility(ctx, op, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := r.store.GetFacility(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.IsRetired() {
		return nil, domain.State(op, "facility %s is retired", id)
	}

	patch.Apply(f)
	f.Name = strings.TrimSpace(f.Name)
	if err := validate(op, f); err != nil {
		return nil, err
	}
	f.UpdatedAt = r.now()
	if err := r.store.UpdateFacility(ctx, f); err != nil {
		return nil, err
	}
	r.logger.Info().Str("facility_id", f.ID).Msg("Facility updated")
	return f, nil
}

// SetStatus changes the operational status. RETIRED is terminal and refused
// while pending bookings with a future start remain.
func (r *Registry) SetStatus(ctx context.Context, id string, status model.FacilityStatus) (*model.Facility, error) {
	const op = "set facility status"
	if !status.Valid() {
		return nil, domain.Validation(op, "unknown status %q", status)
	}

	unlock, err := r.lockFacility(ctx, op, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.store.SetFacilityStatus(ctx, id, status, r.now()); err != nil {
		return nil, err
	}
	r.logger.Info().Str("facility_id", id).Str("status", string(status)).Msg("Facility status changed")
	return r.store.GetFacility(ctx, id)
}

// lockFacility serializes the change with booking requests and decisions on
// the same facility.
func (r *Registry) lockFacility(ctx context.Context, op, id string) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: lock facility %s: %w", op, id, err)
	}
	return unlock, nil
}

// Get returns one facility.
func (r *Registry) Get(ctx context.Context, id string) (*model.Facility, error) {
	return r.store.GetFacility(ctx, id)
}

// ListAvailable returns facilities currently open for booking.
func (r *Registry) ListAvailable(ctx context.Context) ([]model.Facility, error) {
	return r.store.ListFacilities(ctx, model.FacilityAvailable)
}

// List returns every facility, retired ones included.
func (r *Registry) List(ctx context.Context) ([]model.Facility, error) {
	return r.store.ListFacilities(ctx, "")
}

// StatusSummary counts facilities per status; statuses without facilities report zero.
func (r *Registry) StatusSummary(ctx context.Context) (map[model.FacilityStatus]int, error) {
	counts, err := r.store.FacilityStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []model.FacilityStatus{model.FacilityAvailable, model.FacilityMaintenance, model.FacilityRetired} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}

// SyncResult summarizes one seed synchronization.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
}

// SyncFromConfig creates facilities for new seed keys and updates the
// descriptive fields of existing ones. Status is never changed by the seed
// file, retired facilities are skipped and nothing is deleted.
func (r *Registry) SyncFromConfig(ctx context.Context, cfg *config.FacilitiesConfig) (SyncResult, error) {
	var res SyncResult

	for _, fc := range cfg.Facilities {
		desired := model.FacilitySpec{
			Name:        fc.Name,
			Description: fc.Description,
			Location:    fc.Location,
			Type:        model.FacilityType(strings.ToUpper(fc.Type)),
			Capacity:    fc.Capacity,
			Amenities:   fc.Amenities,
			OpeningTime: fc.OpeningTime,
			ClosingTime: fc.ClosingTime,
		}

		existing, err := r.store.GetFacilityBySeedKey(ctx, fc.Key)
		if errors.Is(err, domain.ErrNotFound) {
			f := r.fromSpec(desired)
			if err := validate("sync facility "+fc.Key, f); err != nil {
				return res, err
			}
			if err := r.store.CreateSeededFacility(ctx, fc.Key, f); err != nil {
				return res, err
			}
			res.Created++
			continue
		}
		if err != nil {
			return res, err
		}

		if existing.IsRetired() {
			res.Skipped++
			continue
		}

		patch := patchFor(existing, desired)
		if patch == (model.FacilityPatch{}) {
			res.Unchanged++
			continue
		}
		if _, err := r.Update(ctx, existing.ID, patch); err != nil {
			return res, fmt.Errorf("sync facility %s: %w", fc.Key, err)
		}
		res.Updated++
	}

	r.logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("skipped", res.Skipped).
		Msg("Facilities synchronized")
	return res, nil
}

// patchFor returns a patch setting only the fields of f that differ from want.
func patchFor(f *model.Facility, want model.FacilitySpec) model.FacilityPatch {
	var p model.FacilityPatch
	if f.Name != want.Name {
		p.Name = &want.Name
	}
	if f.Description != want.Description {
		p.Description = &want.Description
	}
	if f.Location != want.Location {
		p.Location = &want.Location
	}
	if f.Type != want.Type {
		p.Type = &want.Type
	}
	if f.Capacity != want.Capacity {
		p.Capacity = &want.Capacity
	}
	if f.Amenities != want.Amenities {
		p.Amenities = &want.Amenities
	}
	if f.OpeningTime != want.OpeningTime {
		p.OpeningTime = &want.OpeningTime
	}
	if f.ClosingTime != want.ClosingTime {
		p.ClosingTime = &want.ClosingTime
	}
	return p
}

func validate(op string, f *model.Facility) error {
	if f.Name == "" {
		return domain.Validation(op, "name is required")
	}
	if f.Capacity <= 0 {
		return domain.Validation(op, "capacity must be positive, got %d", f.Capacity)
	}
	if !f.Type.Valid() {
		return domain.Validation(op, "unknown facility type %q", f.Type)
	}

	if f.OpeningTime == "" && f.ClosingTime == "" {
		return nil
	}
	if !f.HasOpeningHours() {
		return domain.Validation(op, "opening and closing time must be set together")
	}
	open, closeAt, err := f.OpeningWindow(time.Time{})
	if err != nil {
		return domain.Validation(op, "%v", err)
	}
	if !closeAt.After(open) {
		return domain.Validation(op, "closing time %s must be after opening time %s", f.ClosingTime, f.OpeningTime)
	}
	return nil
}
