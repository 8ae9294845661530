package database

import (
	"context"
	"fmt"
	"io"
	"time"

	"campusbook/internal/xlsx"
)

// auditTables are exported in this order, one sheet each.
var auditTables = []string{"facilities", "bookings"}

// ExportTables writes every row of the facility and booking tables to an
// xlsx workbook.
func (db *DB) ExportTables(ctx context.Context, w io.Writer) error {
	wb := xlsx.New()
	defer wb.Close()

	for _, table := range auditTables {
		if err := db.exportTable(ctx, wb, table); err != nil {
			return err
		}
	}

	if err := wb.Save(w); err != nil {
		return fmt.Errorf("save audit workbook: %w", err)
	}
	return nil
}

func (db *DB) exportTable(ctx context.Context, wb *xlsx.Workbook, table string) error {
	rows, err := db.QueryContext(ctx, `SELECT * FROM `+table+` ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("export %s: columns: %w", table, err)
	}

	if err := wb.AddSheet(table); err != nil {
		return err
	}
	if err := wb.WriteHeader(columns); err != nil {
		return err
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("export %s: scan: %w", table, err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = cellValue(v)
		}
		if err := wb.WriteRow(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}

	if db.logger != nil {
		db.logger.Debug().Str("table", table).Int("rows", wb.Rows()-1).Msg("Exported table")
	}
	return nil
}

func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}
