package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// TestDB представляет временную файловую SQLite базу данных для тестов.
type TestDB struct {
	DB   *sql.DB
	Path string
}

// NewTestDB создает файловую БД во временной директории теста. БД
// закрывается и удаляется автоматически после завершения теста.
func NewTestDB(t testing.TB) *TestDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	opts := DefaultOptions()
	opts.WALMode = false
	db, err := Open(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &TestDB{DB: db, Path: path}
}

// Exec выполняет SQL команду и проверяет отсутствие ошибок.
func (tdb *TestDB) Exec(t testing.TB, query string, args ...any) sql.Result {
	t.Helper()
	res, err := tdb.DB.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
	return res
}

// TableExists проверяет существование таблицы.
func (tdb *TestDB) TableExists(t testing.TB, table string) bool {
	t.Helper()
	var name string
	err := tdb.DB.QueryRowContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("check table %s: %v", table, err)
	}
	return true
}
