package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campusbook/internal/domain"
	"campusbook/internal/model"
)

const facilityColumns = `id, name, description, location, type, capacity, amenities,
	opening_time, closing_time, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(row rowScanner) (*model.Facility, error) {
	var f model.Facility
	err := row.Scan(
		&f.ID, &f.Name, &f.Description, &f.Location, &f.Type, &f.Capacity, &f.Amenities,
		&f.OpeningTime, &f.ClosingTime, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFacility inserts a new facility row.
func (db *DB) CreateFacility(ctx context.Context, f *model.Facility) error {
	return db.insertFacility(ctx, f, sql.NullString{})
}

func (db *DB) insertFacility(ctx context.Context, f *model.Facility, seedKey sql.NullString) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO facilities (id, seed_key, name, description, location, type, capacity, amenities,
			opening_time, closing_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, seedKey, f.Name, f.Description, f.Location, f.Type, f.Capacity, f.Amenities,
		f.OpeningTime, f.ClosingTime, f.Status, utc(f.CreatedAt), utc(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert facility %s: %w", f.ID, err)
	}
	return nil
}

// GetFacility returns the facility with the given id.
func (db *DB) GetFacility(ctx context.Context, id string) (*model.Facility, error) {
	row := db.QueryRowContext(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, id)
	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("get facility", "facility %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get facility %s: %w", id, err)
	}
	return f, nil
}

// UpdateFacility overwrites the descriptive fields of a facility that is not retired.
func (db *DB) UpdateFacility(ctx context.Context, f *model.Facility) error {
	res, err := db.ExecContext(ctx, `
		UPDATE facilities
		SET name = ?, description = ?, location = ?, type = ?, capacity = ?, amenities = ?,
			opening_time = ?, closing_time = ?, updated_at = ?
		WHERE id = ? AND status != ?`,
		f.Name, f.Description, f.Location, f.Type, f.Capacity, f.Amenities,
		f.OpeningTime, f.ClosingTime, utc(f.UpdatedAt), f.ID, model.FacilityRetired,
	)
	if err != nil {
		return fmt.Errorf("update facility %s: %w", f.ID, err)
	}
	return db.expectOneFacility(ctx, res, f.ID, "update facility")
}

// SetFacilityStatus changes a facility status. Retiring is refused while the
// facility still has pending bookings starting after now, and a retired
// facility never changes again. Both checks run in one transaction.
func (db *DB) SetFacilityStatus(ctx context.Context, id string, status model.FacilityStatus, now time.Time) error {
	const op = "set facility status"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current model.FacilityStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM facilities WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, "facility %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if current == model.FacilityRetired {
		return domain.State(op, "facility %s is retired", id)
	}

	if status == model.FacilityRetired {
		var pending int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE facility_id = ? AND status = ? AND start_time > ?`,
			id, model.StatusPending, utc(now),
		).Scan(&pending)
		if err != nil {
			return fmt.Errorf("%s: count pending: %w", op, err)
		}
		if pending > 0 {
			return domain.State(op, "facility %s has %d pending future bookings", id, pending)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE facilities SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, utc(now), id, current)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// ListFacilities returns facilities ordered by name, optionally restricted to one status.
func (db *DB) ListFacilities(ctx context.Context, status model.FacilityStatus) ([]model.Facility, error) {
	query := `SELECT ` + facilityColumns + ` FROM facilities`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY name, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	var facilities []model.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		facilities = append(facilities, *f)
	}
	return facilities, rows.Err()
}

// FacilityStatusCounts returns the number of facilities per status.
func (db *DB) FacilityStatusCounts(ctx context.Context) (map[model.FacilityStatus]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM facilities GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("facility status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.FacilityStatus]int)
	for rows.Next() {
		var status model.FacilityStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetFacilityBySeedKey returns the facility created from the seed entry key.
func (db *DB) GetFacilityBySeedKey(ctx context.Context, key string) (*model.Facility, error) {
	row := db.QueryRowContext(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE seed_key = ?`, key)
	f, err := scanFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("get facility by seed key", "no facility for seed key %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get facility by seed key %s: %w", key, err)
	}
	return f, nil
}

// CreateSeededFacility inserts a facility remembered under a seed key.
func (db *DB) CreateSeededFacility(ctx context.Context, key string, f *model.Facility) error {
	return db.insertFacility(ctx, f, sql.NullString{String: key, Valid: true})
}

func (db *DB) expectOneFacility(ctx context.Context, res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := db.GetFacility(ctx, id); err != nil {
		return err
	}
	return domain.State(op, "facility %s is retired", id)
}
