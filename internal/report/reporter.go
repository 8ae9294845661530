// Package report derives read-only statistics from stored bookings.
// Every figure is recomputed from storage on each call.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"campusbook/internal/conflict"
	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/model"
	"campusbook/internal/xlsx"
	"github.com/rs/zerolog"
)

// Store is the read-only persistence the reporter needs.
type Store interface {
	conflict.BookingFinder
	GetFacility(ctx context.Context, id string) (*model.Facility, error)
	ListFacilities(ctx context.Context, status model.FacilityStatus) ([]model.Facility, error)
	CountBookings(ctx context.Context, facilityID string, status model.BookingStatus) (int, error)
	BookingStatusCounts(ctx context.Context) (map[model.BookingStatus]int, error)
	BookingCountsByFacility(ctx context.Context, status model.BookingStatus, limit int) ([]database.FacilityBookingCount, error)
}

// FacilityCount pairs a facility with its approved booking count.
type FacilityCount struct {
	FacilityID   string
	FacilityName string
	Count        int
}

// Reporter computes pending counts, utilization and rankings.
type Reporter struct {
	store    Store
	location *time.Location
	logger   zerolog.Logger
}

// NewReporter creates a reporter. loc interprets calendar days; nil means time.Local.
func NewReporter(store Store, loc *time.Location, logger *zerolog.Logger) *Reporter {
	if loc == nil {
		loc = time.Local
	}
	return &Reporter{
		store:    store,
		location: loc,
		logger:   logger.With().Str("component", "report").Logger(),
	}
}

// PendingCount returns the number of pending bookings of a facility.
func (r *Reporter) PendingCount(ctx context.Context, facilityID string) (int, error) {
	if _, err := r.store.GetFacility(ctx, facilityID); err != nil {
		return 0, err
	}
	return r.store.CountBookings(ctx, facilityID, model.StatusPending)
}

// StatusCounts returns the number of bookings per status across all facilities.
func (r *Reporter) StatusCounts(ctx context.Context) (map[model.BookingStatus]int, error) {
	counts, err := r.store.BookingStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []model.BookingStatus{model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusCancelled} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}

// Utilization returns approved booked time inside window divided by the
// window length. Bookings crossing the window edges count only their inside part.
func (r *Reporter) Utilization(ctx context.Context, facilityID string, window conflict.Interval) (float64, error) {
	if !window.Start.Before(window.End) {
		return 0, domain.Validation("utilization", "window start must be before end")
	}
	if _, err := r.store.GetFacility(ctx, facilityID); err != nil {
		return 0, err
	}

	booked, err := r.approvedIn(ctx, facilityID, window)
	if err != nil {
		return 0, err
	}
	return ratio(booked, window), nil
}

func (r *Reporter) approvedIn(ctx context.Context, facilityID string, window conflict.Interval) ([]conflict.Interval, error) {
	approved, err := r.store.FindOverlapping(ctx, facilityID, window.Start, window.End,
		[]model.BookingStatus{model.StatusApproved}, "")
	if err != nil {
		return nil, err
	}

	clipped := make([]conflict.Interval, 0, len(approved))
	for _, b := range approved {
		if iv, ok := conflict.Clip(conflict.Interval{Start: b.StartTime, End: b.EndTime}, window); ok {
			clipped = append(clipped, iv)
		}
	}
	return clipped, nil
}

func ratio(booked []conflict.Interval, window conflict.Interval) float64 {
	var total time.Duration
	for _, iv := range booked {
		total += iv.End.Sub(iv.Start)
	}
	u := float64(total) / float64(window.End.Sub(window.Start))
	if u > 1 {
		u = 1
	}
	return u
}

// TopFacilitiesByBookings ranks facilities by approved booking count, highest
// first, ties by facility id. Facilities without approved bookings rank last.
func (r *Reporter) TopFacilitiesByBookings(ctx context.Context, n int) ([]FacilityCount, error) {
	if n <= 0 {
		return nil, domain.Validation("top facilities", "n must be positive, got %d", n)
	}

	facilities, err := r.store.ListFacilities(ctx, "")
	if err != nil {
		return nil, err
	}

	counts, err := r.store.BookingCountsByFacility(ctx, model.StatusApproved, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.FacilityID] = c.Count
	}

	ranked := make([]FacilityCount, 0, len(facilities))
	for _, f := range facilities {
		ranked = append(ranked, FacilityCount{FacilityID: f.ID, FacilityName: f.Name, Count: byID[f.ID]})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].FacilityID < ranked[j].FacilityID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// FreeWindows returns the gaps between approved bookings on day. The day is
// bounded by the facility's opening hours, or by midnight when it has none.
func (r *Reporter) FreeWindows(ctx context.Context, facilityID string, day time.Time) ([]conflict.Interval, error) {
	f, err := r.store.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	window, err := r.dayWindow(f, day)
	if err != nil {
		return nil, err
	}

	booked, err := r.approvedIn(ctx, facilityID, window)
	if err != nil {
		return nil, err
	}
	sort.Slice(booked, func(i, j int) bool { return booked[i].Start.Before(booked[j].Start) })

	var free []conflict.Interval
	cursor := window.Start
	for _, iv := range booked {
		if iv.Start.After(cursor) {
			free = append(free, conflict.Interval{Start: cursor, End: iv.Start})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, conflict.Interval{Start: cursor, End: window.End})
	}
	return free, nil
}

func (r *Reporter) dayWindow(f *model.Facility, day time.Time) (conflict.Interval, error) {
	local := day.In(r.location)
	if !f.HasOpeningHours() {
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location)
		return conflict.Interval{Start: start, End: start.AddDate(0, 0, 1)}, nil
	}
	open, closeAt, err := f.OpeningWindow(local)
	if err != nil {
		return conflict.Interval{}, fmt.Errorf("facility %s: %w", f.ID, err)
	}
	return conflict.Interval{Start: open, End: closeAt}, nil
}

var utilizationColumns = []string{
	"Facility ID", "Name", "Type", "Status", "Approved in window", "Pending", "Utilization %",
}

// ExportUtilization writes an xlsx workbook with one row per facility for window.
func (r *Reporter) ExportUtilization(ctx context.Context, window conflict.Interval, w io.Writer) error {
	if !window.Start.Before(window.End) {
		return domain.Validation("export utilization", "window start must be before end")
	}

	facilities, err := r.store.ListFacilities(ctx, "")
	if err != nil {
		return err
	}

	wb := xlsx.New()
	defer wb.Close()

	if err := wb.AddSheet("Utilization"); err != nil {
		return err
	}
	if err := wb.WriteHeader(utilizationColumns); err != nil {
		return err
	}

	for _, f := range facilities {
		booked, err := r.approvedIn(ctx, f.ID, window)
		if err != nil {
			return err
		}
		pending, err := r.store.CountBookings(ctx, f.ID, model.StatusPending)
		if err != nil {
			return err
		}
		row := []any{
			f.ID, f.Name, string(f.Type), string(f.Status),
			len(booked), pending, roundPercent(ratio(booked, window)),
		}
		if err := wb.WriteRow(row); err != nil {
			return err
		}
	}

	if err := wb.Save(w); err != nil {
		return fmt.Errorf("save utilization report: %w", err)
	}
	r.logger.Info().
		Int("facilities", len(facilities)).
		Time("from", window.Start).
		Time("to", window.End).
		Msg("Utilization report exported")
	return nil
}

func roundPercent(u float64) float64 {
	return float64(int(u*10000+0.5)) / 100
}
