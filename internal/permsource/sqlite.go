// Package permsource reads a companion application's permission table.
package permsource

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/wearpkg/internal/content"
	"github.com/mattjoyce/wearpkg/internal/storage"
)

// Table is the table holding (name, granted) rows.
const Table = "permissions"

// SQLite queries a permission table stored in a sqlite database. Each locator
// names its own database file, so no connection is kept between queries.
type SQLite struct {
	logger *slog.Logger
}

func NewSQLite(logger *slog.Logger) *SQLite {
	return &SQLite{logger: logger}
}

// Query returns every row of the permissions table as raw column values.
// Rows are not validated; callers skip the ones they cannot use.
func (s *SQLite) Query(ctx context.Context, locator string) ([][]any, error) {
	path, err := content.ResolvePath(locator)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenExisting(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+Table+";")
	if err != nil {
		return nil, fmt.Errorf("query permission table: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission rows: %w", err)
	}

	s.logger.Debug("read permission table", "locator", locator, "rows", len(out), "columns", len(cols))
	return out, nil
}
