package report

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"campusbook/internal/conflict"
	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var day = time.Date(2030, 4, 8, 0, 0, 0, 0, time.UTC)

func h(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type fixture struct {
	reporter *Reporter
	db       *database.DB
	seq      int
}

func setupReporter(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "report.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, f := range []model.Facility{
		{ID: "f-a", Name: "Alpha", Type: model.FacilityClassroom, Capacity: 30},
		{ID: "f-b", Name: "Beta", Type: model.FacilityLab, Capacity: 20, OpeningTime: "08:00", ClosingTime: "18:00"},
		{ID: "f-c", Name: "Gamma", Type: model.FacilityLibrary, Capacity: 80},
	} {
		f.Status = model.FacilityAvailable
		f.CreatedAt, f.UpdatedAt = day, day
		require.NoError(t, db.CreateFacility(context.Background(), &f))
	}
	return &fixture{reporter: NewReporter(db, time.UTC, &logger), db: db}
}

func (f *fixture) book(t *testing.T, facility string, start, end time.Time, status model.BookingStatus) {
	t.Helper()
	f.seq++
	require.NoError(t, f.db.InsertBooking(context.Background(), &model.Booking{
		ID: facility + "-" + string(rune('a'+f.seq)), FacilityID: facility, RequesterID: "u",
		StartTime: start, EndTime: end, Status: status, CreatedAt: day, UpdatedAt: day, Version: 1,
	}))
}

func TestPendingCount(t *testing.T) {
	f := setupReporter(t)
	ctx := context.Background()
	f.book(t, "f-a", h(9, 0), h(10, 0), model.StatusPending)
	f.book(t, "f-a", h(9, 30), h(10, 30), model.StatusPending)
	f.book(t, "f-a", h(11, 0), h(12, 0), model.StatusApproved)
	f.book(t, "f-b", h(9, 0), h(10, 0), model.StatusPending)

	n, err := f.reporter.PendingCount(ctx, "f-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.reporter.PendingCount(ctx, "f-c")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.reporter.PendingCount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	counts, err := f.reporter.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.StatusPending])
	assert.Equal(t, 1, counts[model.StatusApproved])
	assert.Equal(t, 0, counts[model.StatusCancelled])
}

func TestUtilization(t *testing.T) {
	f := setupReporter(t)
	ctx := context.Background()
	// Crosses the window start: only 08:00-09:00 counts.
	f.book(t, "f-a", h(7, 0), h(9, 0), model.StatusApproved)
	f.book(t, "f-a", h(10, 0), h(11, 0), model.StatusApproved)
	// Not approved: ignored.
	f.book(t, "f-a", h(12, 0), h(14, 0), model.StatusPending)
	f.book(t, "f-a", h(14, 0), h(15, 0), model.StatusRejected)

	window := conflict.Interval{Start: h(8, 0), End: h(12, 0)}
	u, err := f.reporter.Utilization(ctx, "f-a", window)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, u, 1e-9)

	u, err = f.reporter.Utilization(ctx, "f-c", window)
	require.NoError(t, err)
	assert.Zero(t, u)

	_, err = f.reporter.Utilization(ctx, "f-a", conflict.Interval{Start: h(12, 0), End: h(8, 0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUtilization_FullyBooked(t *testing.T) {
	f := setupReporter(t)
	f.book(t, "f-a", h(6, 0), h(20, 0), model.StatusApproved)

	u, err := f.reporter.Utilization(context.Background(), "f-a", conflict.Interval{Start: h(8, 0), End: h(12, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1.0, u)
}

func TestTopFacilitiesByBookings(t *testing.T) {
	f := setupReporter(t)
	ctx := context.Background()
	f.book(t, "f-c", h(9, 0), h(10, 0), model.StatusApproved)
	f.book(t, "f-c", h(11, 0), h(12, 0), model.StatusApproved)
	f.book(t, "f-b", h(9, 0), h(10, 0), model.StatusApproved)
	f.book(t, "f-a", h(9, 0), h(10, 0), model.StatusApproved)
	f.book(t, "f-a", h(10, 0), h(11, 0), model.StatusPending)

	top, err := f.reporter.TopFacilitiesByBookings(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []FacilityCount{
		{FacilityID: "f-c", FacilityName: "Gamma", Count: 2},
		{FacilityID: "f-a", FacilityName: "Alpha", Count: 1},
	}, top)

	all, err := f.reporter.TopFacilitiesByBookings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "f-b", all[2].FacilityID)

	_, err = f.reporter.TopFacilitiesByBookings(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFreeWindows(t *testing.T) {
	f := setupReporter(t)
	ctx := context.Background()
	f.book(t, "f-b", h(8, 0), h(9, 0), model.StatusApproved)
	f.book(t, "f-b", h(11, 0), h(12, 30), model.StatusApproved)
	f.book(t, "f-b", h(12, 30), h(13, 0), model.StatusApproved)
	f.book(t, "f-b", h(15, 0), h(16, 0), model.StatusPending)

	free, err := f.reporter.FreeWindows(ctx, "f-b", h(14, 0))
	require.NoError(t, err)
	assert.Equal(t, []conflict.Interval{
		{Start: h(9, 0), End: h(11, 0)},
		{Start: h(13, 0), End: h(18, 0)},
	}, free)

	// Without opening hours the whole day is considered.
	free, err = f.reporter.FreeWindows(ctx, "f-c", h(10, 0))
	require.NoError(t, err)
	assert.Equal(t, []conflict.Interval{{Start: h(0, 0), End: h(24, 0)}}, free)
}

func TestExportUtilization(t *testing.T) {
	f := setupReporter(t)
	f.book(t, "f-a", h(8, 0), h(10, 0), model.StatusApproved)
	f.book(t, "f-a", h(13, 0), h(14, 0), model.StatusPending)

	var buf bytes.Buffer
	err := f.reporter.ExportUtilization(context.Background(), conflict.Interval{Start: h(8, 0), End: h(16, 0)}, &buf)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows("Utilization")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, utilizationColumns, rows[0])
	assert.Equal(t, []string{"f-a", "Alpha", "CLASSROOM", "AVAILABLE", "1", "1", "25"}, rows[1])
}
