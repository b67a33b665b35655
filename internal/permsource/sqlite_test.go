package permsource

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mattjoyce/wearpkg/internal/permission"
)

func writeTable(t *testing.T, ddl string, rows ...[]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companion.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(ddl)
	require.NoError(t, err)
	for _, r := range rows {
		placeholders := "?"
		for i := 1; i < len(r); i++ {
			placeholders += ", ?"
		}
		_, err := db.Exec("INSERT INTO permissions VALUES("+placeholders+");", r...)
		require.NoError(t, err)
	}
	return path
}

func newSource() *SQLite {
	return NewSQLite(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQueryReturnsRows(t *testing.T) {
	path := writeTable(t, "CREATE TABLE permissions (name TEXT, granted INTEGER);",
		[]any{"android.permission.VIBRATE", 1},
		[]any{"android.permission.BODY_SENSORS", 0},
	)

	for _, locator := range []string{path, "file://" + path} {
		rows, err := newSource().Query(context.Background(), locator)
		require.NoError(t, err)
		assert.Equal(t, [][]any{
			{"android.permission.VIBRATE", int64(1)},
			{"android.permission.BODY_SENSORS", int64(0)},
		}, rows)
	}
}

func TestQueryPassesMalformedRowsThrough(t *testing.T) {
	path := writeTable(t, "CREATE TABLE permissions (name, granted, extra);",
		[]any{"android.permission.VIBRATE", 1, nil},
	)

	rows, err := newSource().Query(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], 3)
	assert.Empty(t, permission.TableFromRows(rows), "three-column rows are skipped by the matrix")
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	s := newSource()

	_, err := s.Query(ctx, filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)

	_, err = s.Query(ctx, "content://com.example.companion/permissions")
	assert.Error(t, err)

	path := writeTable(t, "CREATE TABLE other (x INTEGER);")
	_, err = s.Query(ctx, path)
	assert.Error(t, err)
}
