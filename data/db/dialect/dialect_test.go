package dialect

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestNew_DriverAliases(t *testing.T) {
	cases := map[string]Name{
		"sqlite":     NameSQLite,
		"SQLite3":    NameSQLite,
		"pgx":        NamePostgres,
		"postgresql": NamePostgres,
		"mysql":      NameUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, New(in).Name(), in)
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM versions WHERE item_type = ? AND item_id IN (?, ?)"
	assert.Equal(t, "SELECT * FROM versions WHERE item_type = $1 AND item_id IN ($2, $3)", New("pgx").Rebind(q))
	assert.Equal(t, "SELECT 1", New("pgx").Rebind("SELECT 1"))
	assert.Equal(t, q, New("sqlite").Rebind(q))
}

func TestBoundedDelete(t *testing.T) {
	got := New("sqlite").BoundedDelete("versions", "created_at < ?", "id")
	assert.Equal(t, "DELETE FROM versions WHERE id IN (SELECT id FROM versions WHERE created_at < ? ORDER BY id LIMIT ?)", got)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, New("sqlite").IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: book_sections.id (1555)")))
	assert.True(t, New("pgx").IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, New("pgx").IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, New("sqlite").IsUniqueViolation(nil))
}

func TestColumnTypes(t *testing.T) {
	assert.Equal(t, "BYTEA", New("pgx").BlobType())
	assert.Equal(t, "TIMESTAMPTZ", New("pgx").TimestampType())
	assert.Equal(t, "BLOB", New("sqlite").BlobType())
}
