package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUnavailable indicates the local storage medium cannot be used.
// Callers degrade to online-only operation rather than failing hard.
var ErrUnavailable = errors.New("local storage unavailable")

// DB wraps a SQLite database connection for the app-owned cache.db.
type DB struct {
	*sql.DB

	// Ephemeral is true when the store is the in-memory degradation
	// target and nothing will survive a restart.
	Ephemeral bool
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// A failure to open or reach the database is reported as ErrUnavailable.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrUnavailable, err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping db: %v", ErrUnavailable, err)
	}
	return &DB{DB: db}, nil
}

// OpenEphemeral opens an in-memory store. It is the online-only
// degradation target when the on-disk cache cannot be opened: reads and
// writes work for the life of the process but nothing survives restart.
func OpenEphemeral() (*DB, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open in-memory db: %v", ErrUnavailable, err)
	}
	// A shared-cache in-memory database is dropped when the last
	// connection closes. Pin one connection for the process lifetime.
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping in-memory db: %v", ErrUnavailable, err)
	}
	return &DB{DB: db, Ephemeral: true}, nil
}
