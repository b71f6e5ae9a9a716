package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Session is one measurement session record.
type Session struct {
	ID           string     `json:"id"`
	Device       string     `json:"device"`
	CPU          int        `json:"cpu"`
	LDistMin     uint64     `json:"ldist_min"`
	LDistMax     uint64     `json:"ldist_max"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	KeptCount    uint64     `json:"kept_count"`
	TotalCount   uint64     `json:"total_count"`
	DiscardCount uint64     `json:"discard_count"`
	Error        string     `json:"error,omitempty"`
}

// Datapoint is one persisted processed datapoint.
type Datapoint struct {
	SessionID   string  `json:"session_id"`
	Seq         uint64  `json:"seq"`
	Kept        bool    `json:"kept"`
	LDist       uint64  `json:"ldist"`
	WakeLatency uint64  `json:"wake_latency"`
	IntrLatency uint64  `json:"intr_latency,omitempty"`
	SilentTime  uint64  `json:"silent_time,omitempty"`
	Aux         AuxData `json:"aux,omitempty"`
}

// AuxData stores device-specific fields as JSON in SQLite.
type AuxData map[string]uint64

// Value implements the driver.Valuer interface.
func (a AuxData) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface.
func (a *AuxData) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into AuxData", value)
	}
	return json.Unmarshal(data, a)
}
