package store

import (
	"fmt"

	"github.com/cstatelab/wakebench/pkg/engine"
)

// SessionSink adapts the database to the engine's record sink for one
// session. Datapoints arrive in sequence order from the measurement
// goroutine; no locking is needed.
type SessionSink struct {
	db        *DB
	sessionID string
}

// Sink returns an engine sink bound to the given session.
func (db *DB) Sink(sessionID string) *SessionSink {
	return &SessionSink{db: db, sessionID: sessionID}
}

// Write appends one processed datapoint.
func (s *SessionSink) Write(dp engine.Processed, kept bool) error {
	aux := AuxData(dp.Aux)
	_, err := s.db.conn.Exec(
		`INSERT INTO datapoints (session_id, seq, kept, ldist, wake_latency, intr_latency, silent_time, aux)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, dp.Index, kept, dp.LDist, dp.WakeLatency, dp.IntrLatency, dp.SilentTime, aux,
	)
	if err != nil {
		return fmt.Errorf("failed to insert datapoint %d: %w", dp.Index, err)
	}
	return nil
}

// Datapoints returns a session's datapoints in sequence order.
func (db *DB) Datapoints(sessionID string) ([]Datapoint, error) {
	rows, err := db.conn.Query(
		`SELECT session_id, seq, kept, ldist, wake_latency,
		 COALESCE(intr_latency, 0), COALESCE(silent_time, 0), aux
		 FROM datapoints WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query datapoints: %w", err)
	}
	defer rows.Close()

	var dps []Datapoint
	for rows.Next() {
		var dp Datapoint
		if err := rows.Scan(&dp.SessionID, &dp.Seq, &dp.Kept, &dp.LDist,
			&dp.WakeLatency, &dp.IntrLatency, &dp.SilentTime, &dp.Aux); err != nil {
			return nil, fmt.Errorf("failed to scan datapoint: %w", err)
		}
		dps = append(dps, dp)
	}
	return dps, rows.Err()
}
