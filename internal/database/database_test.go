package database

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campusbook/internal/config"
	"campusbook/internal/domain"
	"campusbook/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time {
	return base.Add(time.Duration(hour) * time.Hour)
}

func seedFacility(t *testing.T, db *DB, id string) *model.Facility {
	t.Helper()
	f := &model.Facility{
		ID:        id,
		Name:      "Room " + id,
		Location:  "Block A",
		Type:      model.FacilityClassroom,
		Capacity:  30,
		Status:    model.FacilityAvailable,
		CreatedAt: base,
		UpdatedAt: base,
	}
	require.NoError(t, db.CreateFacility(context.Background(), f))
	return f
}

func seedBooking(t *testing.T, db *DB, id, facilityID string, start, end int, status model.BookingStatus) *model.Booking {
	t.Helper()
	b := &model.Booking{
		ID:          id,
		FacilityID:  facilityID,
		RequesterID: "u-1",
		Purpose:     "lecture",
		StartTime:   at(start),
		EndTime:     at(end),
		Status:      status,
		CreatedAt:   base,
		UpdatedAt:   base,
		Version:     1,
	}
	require.NoError(t, db.InsertBooking(context.Background(), b))
	return b
}

func TestFacility_CRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	f := seedFacility(t, db, "f-1")

	got, err := db.GetFacility(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, f.Name, got.Name)
	assert.Equal(t, model.FacilityAvailable, got.Status)
	assert.True(t, got.CreatedAt.Equal(base))

	got.Capacity = 45
	got.Amenities = "projector"
	require.NoError(t, db.UpdateFacility(ctx, got))

	got, err = db.GetFacility(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, 45, got.Capacity)
	assert.Equal(t, "projector", got.Amenities)

	_, err = db.GetFacility(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetFacilityStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	seedBooking(t, db, "b-1", "f-1", 10, 11, model.StatusPending)

	require.NoError(t, db.SetFacilityStatus(ctx, "f-1", model.FacilityMaintenance, base))

	err := db.SetFacilityStatus(ctx, "f-1", model.FacilityRetired, base)
	assert.ErrorIs(t, err, domain.ErrState)

	// Pending bookings in the past do not block retirement.
	require.NoError(t, db.SetFacilityStatus(ctx, "f-1", model.FacilityRetired, at(12)))

	err = db.SetFacilityStatus(ctx, "f-1", model.FacilityAvailable, at(12))
	assert.ErrorIs(t, err, domain.ErrState)

	f, err := db.GetFacility(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, model.FacilityRetired, f.Status)

	f.Name = "renamed"
	assert.ErrorIs(t, db.UpdateFacility(ctx, f), domain.ErrState)

	assert.ErrorIs(t, db.SetFacilityStatus(ctx, "missing", model.FacilityMaintenance, base), domain.ErrNotFound)
}

func TestListFacilities_AndCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	seedFacility(t, db, "f-2")
	seedFacility(t, db, "f-3")
	require.NoError(t, db.SetFacilityStatus(ctx, "f-2", model.FacilityMaintenance, base))

	all, err := db.ListFacilities(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	available, err := db.ListFacilities(ctx, model.FacilityAvailable)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "f-1", available[0].ID)
	assert.Equal(t, "f-3", available[1].ID)

	counts, err := db.FacilityStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.FacilityAvailable])
	assert.Equal(t, 1, counts[model.FacilityMaintenance])
}

func TestSeededFacility(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	f := &model.Facility{
		ID: "f-seed", Name: "Aud 1", Type: model.FacilityAuditorium, Capacity: 200,
		Status: model.FacilityAvailable, CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, db.CreateSeededFacility(ctx, "aud-1", f))

	got, err := db.GetFacilityBySeedKey(ctx, "aud-1")
	require.NoError(t, err)
	assert.Equal(t, "f-seed", got.ID)

	_, err = db.GetFacilityBySeedKey(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	dup := *f
	dup.ID = "f-other"
	assert.Error(t, db.CreateSeededFacility(ctx, "aud-1", &dup))
}

func TestBooking_InsertGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	b := seedBooking(t, db, "b-1", "f-1", 9, 10, model.StatusPending)

	got, err := db.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(b.StartTime))
	assert.True(t, got.EndTime.Equal(b.EndTime))
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.DecidedAt)
	assert.Nil(t, got.DecidedBy)
	assert.Equal(t, int64(1), got.Version)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBooking_RejectsUnknownFacility(t *testing.T) {
	db := setupTestDB(t)
	b := &model.Booking{
		ID: "b-1", FacilityID: "ghost", RequesterID: "u", StartTime: at(1), EndTime: at(2),
		Status: model.StatusPending, CreatedAt: base, UpdatedAt: base, Version: 1,
	}
	assert.Error(t, db.InsertBooking(context.Background(), b))
}

func TestUpdateBookingStatus_CAS(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	seedBooking(t, db, "b-1", "f-1", 9, 10, model.StatusPending)

	b, err := db.GetBooking(ctx, "b-1")
	require.NoError(t, err)

	decided := at(1)
	admin := "admin-1"
	reason := "room needed for exams"
	b.Status = model.StatusRejected
	b.DecidedAt = &decided
	b.DecidedBy = &admin
	b.DecisionReason = &reason
	b.UpdatedAt = decided
	require.NoError(t, db.UpdateBookingStatus(ctx, b, model.StatusPending, 1))
	assert.Equal(t, int64(2), b.Version)

	// A second writer holding the stale snapshot loses.
	stale, err := db.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	stale.Status = model.StatusApproved
	err = db.UpdateBookingStatus(ctx, stale, model.StatusPending, 1)
	assert.ErrorIs(t, err, domain.ErrState)

	got, err := db.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.DecidedBy)
	assert.Equal(t, admin, *got.DecidedBy)
	require.NotNil(t, got.DecisionReason)
	assert.Equal(t, reason, *got.DecisionReason)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(decided))
}

func TestFindOverlapping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	seedFacility(t, db, "f-2")
	seedBooking(t, db, "b-approved", "f-1", 9, 11, model.StatusApproved)
	seedBooking(t, db, "b-pending", "f-1", 10, 12, model.StatusPending)
	seedBooking(t, db, "b-cancelled", "f-1", 10, 12, model.StatusCancelled)
	seedBooking(t, db, "b-other", "f-2", 9, 11, model.StatusApproved)

	approvedOnly := []model.BookingStatus{model.StatusApproved}
	both := []model.BookingStatus{model.StatusApproved, model.StatusPending}

	tests := []struct {
		name       string
		start, end int
		statuses   []model.BookingStatus
		exclude    string
		want       []string
	}{
		{"touching end is free", 11, 12, approvedOnly, "", nil},
		{"touching start is free", 8, 9, approvedOnly, "", nil},
		{"inside approved", 10, 11, approvedOnly, "", []string{"b-approved"}},
		{"pending included on request", 10, 11, both, "", []string{"b-approved", "b-pending"}},
		{"exclude self", 9, 11, approvedOnly, "b-approved", nil},
		{"no statuses", 9, 11, nil, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindOverlapping(ctx, "f-1", at(tt.start), at(tt.end), tt.statuses, tt.exclude)
			require.NoError(t, err)
			var ids []string
			for _, b := range got {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestListBookings_Filter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	seedFacility(t, db, "f-2")
	seedBooking(t, db, "b-1", "f-1", 9, 10, model.StatusPending)
	seedBooking(t, db, "b-2", "f-1", 11, 12, model.StatusApproved)
	seedBooking(t, db, "b-3", "f-2", 9, 10, model.StatusPending)

	all, err := db.ListBookings(ctx, model.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	f1, err := db.ListBookings(ctx, model.BookingFilter{FacilityID: "f-1"})
	require.NoError(t, err)
	require.Len(t, f1, 2)
	assert.Equal(t, "b-1", f1[0].ID)

	pending, err := db.ListBookings(ctx, model.BookingFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	window, err := db.ListBookings(ctx, model.BookingFilter{From: at(10), To: at(13)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "b-2", window[0].ID)

	limited, err := db.ListBookings(ctx, model.BookingFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := db.ListBookings(ctx, model.BookingFilter{RequesterID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func approval(b *model.Booking) *model.Booking {
	next := *b
	decided := at(1)
	by := "admin"
	next.Status = model.StatusApproved
	next.DecidedAt = &decided
	next.DecidedBy = &by
	next.UpdatedAt = decided
	return &next
}

func TestApproveIfNoOverlap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	b1 := seedBooking(t, db, "b-1", "f-1", 9, 11, model.StatusPending)
	b2 := seedBooking(t, db, "b-2", "f-1", 10, 12, model.StatusPending)
	b3 := seedBooking(t, db, "b-3", "f-1", 11, 12, model.StatusPending)

	next := approval(b1)
	conflicts, err := db.ApproveIfNoOverlap(ctx, next, model.StatusPending, 1)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.Equal(t, int64(2), next.Version)

	conflicts, err = db.ApproveIfNoOverlap(ctx, approval(b2), model.StatusPending, 1)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "b-1", conflicts[0].ID)
	stored, err := db.GetBooking(ctx, "b-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	// Touching at 11:00 is not an overlap.
	conflicts, err = db.ApproveIfNoOverlap(ctx, approval(b3), model.StatusPending, 1)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = db.ApproveIfNoOverlap(ctx, approval(b1), model.StatusPending, 1)
	assert.ErrorIs(t, err, domain.ErrState)
}

func TestApproveIfNoOverlap_StaleConcurrentWriters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")

	// Every booking overlaps every other, and each writer works from a copy
	// read before any approval happened.
	var stale []*model.Booking
	for i := 0; i < 8; i++ {
		b := seedBooking(t, db, fmt.Sprintf("b-%d", i), "f-1", 9, 10+i, model.StatusPending)
		stale = append(stale, approval(b))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, b := range stale {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := db.ApproveIfNoOverlap(ctx, b, model.StatusPending, 1)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	approved, err := db.ListBookings(ctx, model.BookingFilter{Status: model.StatusApproved})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestMarkReminded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-1")
	seedBooking(t, db, "b-1", "f-1", 9, 10, model.StatusApproved)
	seedBooking(t, db, "b-2", "f-1", 11, 12, model.StatusPending)

	ok, err := db.MarkReminded(ctx, "b-1", at(8))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.MarkReminded(ctx, "b-1", at(8))
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	ok, err = db.MarkReminded(ctx, "b-2", at(8))
	require.NoError(t, err)
	assert.False(t, ok, "pending bookings are not reminded")

	ok, err = db.MarkReminded(ctx, "missing", at(8))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedFacility(t, db, "f-a")
	seedFacility(t, db, "f-b")
	seedFacility(t, db, "f-c")
	seedBooking(t, db, "b-1", "f-b", 1, 2, model.StatusApproved)
	seedBooking(t, db, "b-2", "f-b", 3, 4, model.StatusApproved)
	seedBooking(t, db, "b-3", "f-c", 1, 2, model.StatusApproved)
	seedBooking(t, db, "b-4", "f-a", 1, 2, model.StatusApproved)
	seedBooking(t, db, "b-5", "f-a", 5, 6, model.StatusPending)

	n, err := db.CountBookings(ctx, "f-a", model.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	top, err := db.BookingCountsByFacility(ctx, model.StatusApproved, 2)
	require.NoError(t, err)
	assert.Equal(t, []FacilityBookingCount{{"f-b", 2}, {"f-a", 1}}, top)

	byStatus, err := db.BookingStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, byStatus[model.StatusApproved])
	assert.Equal(t, 1, byStatus[model.StatusPending])
}

func TestExportTables(t *testing.T) {
	db := setupTestDB(t)
	seedFacility(t, db, "f-1")
	seedBooking(t, db, "b-1", "f-1", 9, 10, model.StatusPending)

	var buf bytes.Buffer
	require.NoError(t, db.ExportTables(context.Background(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"facilities", "bookings"}, f.GetSheetList())

	rows, err := f.GetRows("bookings")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "b-1", rows[1][0])
}

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	seedFacility(t, db, "f-1")
	logger := zerolog.Nop()
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, config.BackupConfig{
		Enabled:       true,
		StoragePath:   dir,
		RetentionDays: 7,
		ExportXLSX:    true,
	}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.FileExists(t, path[:len(path)-len(".db")]+".xlsx")

	snapshot, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer snapshot.Close()
	f, err := snapshot.GetFacility(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, "Room f-1", f.Name)

	old := filepath.Join(dir, backupPrefix+"old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	stale := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, stale, stale))
	unrelated := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(unrelated, stale, stale))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, old)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, path)
}
