package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusbook/internal/domain"
	"campusbook/internal/model"
)

const bookingColumns = `id, facility_id, requester_id, purpose, notes, start_time, end_time, status,
	created_at, updated_at, decided_at, decided_by, decision_reason, version`

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b         model.Booking
		decidedAt sql.NullTime
		decidedBy sql.NullString
		reason    sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.FacilityID, &b.RequesterID, &b.Purpose, &b.Notes, &b.StartTime, &b.EndTime, &b.Status,
		&b.CreatedAt, &b.UpdatedAt, &decidedAt, &decidedBy, &reason, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		b.DecidedAt = &t
	}
	if decidedBy.Valid {
		b.DecidedBy = &decidedBy.String
	}
	if reason.Valid {
		b.DecisionReason = &reason.String
	}
	return &b, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: utc(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// InsertBooking stores a new booking.
func (db *DB) InsertBooking(ctx context.Context, b *model.Booking) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bookings (id, facility_id, requester_id, purpose, notes, start_time, end_time, status,
			created_at, updated_at, decided_at, decided_by, decision_reason, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.FacilityID, b.RequesterID, b.Purpose, b.Notes, utc(b.StartTime), utc(b.EndTime), b.Status,
		utc(b.CreatedAt), utc(b.UpdatedAt), nullTime(b.DecidedAt), nullString(b.DecidedBy),
		nullString(b.DecisionReason), b.Version,
	)
	if err != nil {
		return fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	return nil
}

// GetBooking returns the booking with the given id.
func (db *DB) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return getBooking(ctx, db, id)
}

func getBooking(ctx context.Context, q querier, id string) (*model.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("get booking", "booking %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// UpdateBookingStatus writes the decision fields of b only if the stored row
// still has the expected status and version. On success b.Version is bumped.
// A lost race surfaces as a StateError and leaves the row untouched.
func (db *DB) UpdateBookingStatus(ctx context.Context, b *model.Booking, expected model.BookingStatus, expectedVersion int64) error {
	return updateBookingStatus(ctx, db, b, expected, expectedVersion)
}

// ApproveIfNoOverlap writes the approval in b unless another APPROVED booking
// of the same facility intersects it. The overlap check and the
// compare-and-swap run in one immediate transaction, so no other writer on
// the database can approve a sibling in between. When overlapping approved
// bookings exist they are returned and nothing is written.
func (db *DB) ApproveIfNoOverlap(ctx context.Context, b *model.Booking, expected model.BookingStatus, expectedVersion int64) ([]model.Booking, error) {
	const op = "approve booking"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %s: begin: %w", op, b.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	conflicts, err := findOverlapping(ctx, tx, b.FacilityID, b.StartTime, b.EndTime,
		[]model.BookingStatus{model.StatusApproved}, b.ID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}

	if err := updateBookingStatus(ctx, tx, b, expected, expectedVersion); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		b.Version = expectedVersion
		return nil, fmt.Errorf("%s %s: commit: %w", op, b.ID, err)
	}
	return nil, nil
}

func updateBookingStatus(ctx context.Context, q querier, b *model.Booking, expected model.BookingStatus, expectedVersion int64) error {
	const op = "update booking status"

	res, err := q.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, decided_at = ?, decided_by = ?, decision_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND version = ?`,
		b.Status, nullTime(b.DecidedAt), nullString(b.DecidedBy), nullString(b.DecisionReason), utc(b.UpdatedAt),
		b.ID, expected, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, b.ID, err)
	}
	if n == 0 {
		current, err := getBooking(ctx, q, b.ID)
		if err != nil {
			return err
		}
		return domain.State(op, "booking %s is %s (version %d), expected %s (version %d)",
			b.ID, current.Status, current.Version, expected, expectedVersion)
	}
	b.Version = expectedVersion + 1
	return nil
}

// MarkReminded claims the start reminder of an approved booking. It reports
// false when the reminder was already claimed or the booking left APPROVED.
func (db *DB) MarkReminded(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET reminded_at = ?
		WHERE id = ? AND status = ? AND reminded_at IS NULL`,
		utc(at), id, model.StatusApproved,
	)
	if err != nil {
		return false, fmt.Errorf("mark reminded %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reminded %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// FindOverlapping returns bookings of the facility in one of statuses whose
// window intersects [start, end). excludeID, when set, is left out.
func (db *DB) FindOverlapping(ctx context.Context, facilityID string, start, end time.Time,
	statuses []model.BookingStatus, excludeID string) ([]model.Booking, error) {
	return findOverlapping(ctx, db, facilityID, start, end, statuses, excludeID)
}

func findOverlapping(ctx context.Context, q querier, facilityID string, start, end time.Time,
	statuses []model.BookingStatus, excludeID string) ([]model.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE facility_id = ? AND start_time < ? AND end_time > ? AND status IN (` + placeholders + `)`
	args := []any{facilityID, utc(end), utc(start)}
	for _, s := range statuses {
		args = append(args, s)
	}
	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY start_time, id`

	return queryBookings(ctx, q, "find overlapping", query, args...)
}

// ListBookings returns bookings matching filter ordered by start time.
func (db *DB) ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	var (
		where []string
		args  []any
	)
	if filter.FacilityID != "" {
		where = append(where, "facility_id = ?")
		args = append(args, filter.FacilityID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if !filter.From.IsZero() {
		where = append(where, "end_time > ?")
		args = append(args, utc(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, utc(filter.To))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return queryBookings(ctx, db, "list bookings", query, args...)
}

func queryBookings(ctx context.Context, q querier, op, query string, args ...any) ([]model.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan booking: %w", op, err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return bookings, nil
}
