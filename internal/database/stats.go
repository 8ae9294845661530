package database

import (
	"context"
	"fmt"

	"campusbook/internal/model"
)

// FacilityBookingCount is the number of bookings of one facility.
type FacilityBookingCount struct {
	FacilityID string
	Count      int
}

// CountBookings counts bookings of a facility with the given status.
func (db *DB) CountBookings(ctx context.Context, facilityID string, status model.BookingStatus) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE facility_id = ? AND status = ?`,
		facilityID, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s bookings of %s: %w", status, facilityID, err)
	}
	return n, nil
}

// BookingCountsByFacility returns per-facility counts of bookings in status,
// sorted by count descending then facility id ascending. Facilities without
// such bookings are omitted. limit <= 0 means no limit.
func (db *DB) BookingCountsByFacility(ctx context.Context, status model.BookingStatus, limit int) ([]FacilityBookingCount, error) {
	query := `
		SELECT facility_id, COUNT(*) AS n
		FROM bookings
		WHERE status = ?
		GROUP BY facility_id
		ORDER BY n DESC, facility_id ASC`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("booking counts by facility: %w", err)
	}
	defer rows.Close()

	var counts []FacilityBookingCount
	for rows.Next() {
		var c FacilityBookingCount
		if err := rows.Scan(&c.FacilityID, &c.Count); err != nil {
			return nil, fmt.Errorf("scan booking count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// BookingStatusCounts returns the number of bookings per status across all facilities.
func (db *DB) BookingStatusCounts(ctx context.Context) (map[model.BookingStatus]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("booking status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.BookingStatus]int)
	for rows.Next() {
		var status model.BookingStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
