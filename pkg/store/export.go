package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ExportCSV writes a session's datapoints to CSV format.
func (db *DB) ExportCSV(w io.Writer, sessionID string) error {
	session, err := db.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	dps, err := db.Datapoints(sessionID)
	if err != nil {
		return fmt.Errorf("failed to get datapoints: %w", err)
	}

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	headers := []string{
		"Session", "Device", "CPU", "Seq", "Kept",
		"LDist (ns)", "WakeLatency (ns)", "IntrLatency (ns)", "SilentTime (ns)",
	}
	if err := csvWriter.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for _, dp := range dps {
		row := []string{
			session.ID,
			session.Device,
			strconv.Itoa(session.CPU),
			strconv.FormatUint(dp.Seq, 10),
			strconv.FormatBool(dp.Kept),
			strconv.FormatUint(dp.LDist, 10),
			strconv.FormatUint(dp.WakeLatency, 10),
			strconv.FormatUint(dp.IntrLatency, 10),
			strconv.FormatUint(dp.SilentTime, 10),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}

// ExportJSON writes a session and its datapoints to JSON format.
func (db *DB) ExportJSON(w io.Writer, sessionID string) error {
	session, err := db.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	dps, err := db.Datapoints(sessionID)
	if err != nil {
		return fmt.Errorf("failed to get datapoints: %w", err)
	}

	out := struct {
		Session    *Session    `json:"session"`
		Datapoints []Datapoint `json:"datapoints"`
	}{
		Session:    session,
		Datapoints: dps,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
