// Package store persists measurement sessions and their datapoints in a
// SQLite database, and exports them for downstream filtering and report
// tooling.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB wraps the SQL database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the results database.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.Migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate creates or updates the database schema.
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		cpu INTEGER NOT NULL,
		ldist_min INTEGER NOT NULL,
		ldist_max INTEGER NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		kept_count INTEGER DEFAULT 0,
		total_count INTEGER DEFAULT 0,
		discard_count INTEGER DEFAULT 0,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS datapoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kept BOOLEAN NOT NULL,
		ldist INTEGER NOT NULL,
		wake_latency INTEGER NOT NULL,
		intr_latency INTEGER,
		silent_time INTEGER,
		aux TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
		UNIQUE (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS stats_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		sampled_at DATETIME NOT NULL,
		cpu_percent REAL,
		freq_mhz REAL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_datapoints_session ON datapoints(session_id);
	CREATE INDEX IF NOT EXISTS idx_datapoints_kept ON datapoints(session_id, kept);
	CREATE INDEX IF NOT EXISTS idx_stats_session ON stats_samples(session_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// CreateSession records the start of a measurement session under a fresh
// unique ID.
func (db *DB) CreateSession(deviceID string, cpu int, ldistMin, ldistMax uint64) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Device:    deviceID,
		CPU:       cpu,
		LDistMin:  ldistMin,
		LDistMax:  ldistMax,
		StartTime: time.Now(),
	}
	_, err := db.conn.Exec(
		`INSERT INTO sessions (id, device, cpu, ldist_min, ldist_max, start_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Device, s.CPU, s.LDistMin, s.LDistMax, s.StartTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session record: %w", err)
	}
	return s, nil
}

// FinishSession records the outcome of a session.
func (db *DB) FinishSession(id string, kept, total, discarded uint64, runErr error) error {
	end := time.Now()
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := db.conn.Exec(
		`UPDATE sessions SET end_time = ?, kept_count = ?, total_count = ?,
		 discard_count = ?, error = ? WHERE id = ?`,
		end, kept, total, discarded, errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session record: %w", err)
	}
	return nil
}

// GetSession loads one session record.
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.conn.QueryRow(
		`SELECT id, device, cpu, ldist_min, ldist_max, start_time, end_time,
		 kept_count, total_count, discard_count, COALESCE(error, '')
		 FROM sessions WHERE id = ?`, id,
	)
	var s Session
	var end sql.NullTime
	err := row.Scan(&s.ID, &s.Device, &s.CPU, &s.LDistMin, &s.LDistMax,
		&s.StartTime, &end, &s.KeptCount, &s.TotalCount, &s.DiscardCount, &s.Error)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if end.Valid {
		s.EndTime = &end.Time
	}
	return &s, nil
}

// KeptCount returns how many kept datapoints a session holds. This is the
// starting offset when a later run extends the session's result: rows that
// were emitted only because of keep-filtered do not count.
func (db *DB) KeptCount(sessionID string) (uint64, error) {
	var n uint64
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM datapoints WHERE session_id = ? AND kept = 1`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count kept datapoints: %w", err)
	}
	return n, nil
}

// InsertStatsSample appends one statistics-collector sample.
func (db *DB) InsertStatsSample(sessionID string, at time.Time, cpuPercent, freqMHz float64) error {
	_, err := db.conn.Exec(
		`INSERT INTO stats_samples (session_id, sampled_at, cpu_percent, freq_mhz)
		 VALUES (?, ?, ?, ?)`,
		sessionID, at, cpuPercent, freqMHz,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stats sample: %w", err)
	}
	return nil
}
