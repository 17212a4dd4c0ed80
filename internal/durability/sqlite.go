package durability

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/version"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteLog stores records in a SQLite database. Every row is tagged with
// the session id of the process that wrote it.
type SQLiteLog struct {
	db        *sql.DB
	path      string
	sessionID string
	insert    *sql.Stmt
}

// OpenSQLite opens the database at path. Call EnsureHeader to bring the
// schema up to date before appending.
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite log: %w", err)
	}
	// one writer; keeps :memory: databases on a single connection too
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite log: %w", err)
	}

	return &SQLiteLog{
		db:        db,
		path:      path,
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID identifies the rows written by this process.
func (l *SQLiteLog) SessionID() string { return l.sessionID }

// DB exposes the underlying handle for read-only inspection.
func (l *SQLiteLog) DB() *sql.DB { return l.db }

// EnsureHeader applies pending schema migrations and registers the session.
// Repeated calls are no-ops.
func (l *SQLiteLog) EnsureHeader() error {
	if err := l.migrateUp(); err != nil {
		return writeFailed("migrate", err)
	}
	if _, err := l.db.Exec(
		`INSERT OR IGNORE INTO sessions (session_id, version) VALUES (?, ?)`,
		l.sessionID, version.Version,
	); err != nil {
		return writeFailed("session", err)
	}
	if l.insert == nil {
		stmt, err := l.db.Prepare(`
			INSERT INTO readings (session_id, observed_at, observed_unix, pm25, pm10, predicted_pm25)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return writeFailed("prepare", err)
		}
		l.insert = stmt
	}
	return nil
}

// SchemaVersion returns the applied migration version, 0 when none.
func (l *SQLiteLog) SchemaVersion() (uint, bool, error) {
	m, err := l.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Append inserts one row.
func (l *SQLiteLog) Append(r Record) error {
	if l.insert == nil {
		return writeFailed("append", errors.New("schema not initialised"))
	}
	var predicted sql.NullFloat64
	if r.PredictedPM25 != nil {
		predicted = sql.NullFloat64{Float64: *r.PredictedPM25, Valid: true}
	}
	if _, err := l.insert.Exec(
		l.sessionID,
		formatTimestamp(r.ObservedAt),
		r.ObservedAt.Unix(),
		r.PM25,
		r.PM10,
		predicted,
	); err != nil {
		return writeFailed("insert", err)
	}
	return nil
}

// Count returns the number of stored readings for this session.
func (l *SQLiteLog) Count() (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM readings WHERE session_id = ?`, l.sessionID).Scan(&n)
	return n, err
}

// Close releases the database.
func (l *SQLiteLog) Close() error {
	if l.insert != nil {
		l.insert.Close()
		l.insert = nil
	}
	return l.db.Close()
}

// AttachAdminRoutes mounts tailsql over the log database on the mux's
// /debug/ handler.
func (l *SQLiteLog) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(l.path), l.db, &tailsql.DBOptions{
		Label: "DeepAir readings",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.HandleFunc("session", "Current ingestion session", func(w http.ResponseWriter, r *http.Request) {
		n, err := l.Count()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "session %s\nreadings %d\nat %s\n", l.sessionID, n, time.Now().Format(TimestampLayout))
	})
	return nil
}

func (l *SQLiteLog) migrateUp() error {
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (l *SQLiteLog) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return monitoring.Verbose() }
