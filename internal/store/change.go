package store

import "time"

// Op names the kind of mutation a change-log entry records.
type Op string

const (
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpTombstone Op = "tombstone" // tombstone observed from elsewhere
	OpMerge     Op = "merge"     // sync merge result, never pushed again
)

// Change is one change-log entry.
type Change struct {
	Seq      int64     `json:"seq"`
	RecordID string    `json:"record_id"`
	Op       Op        `json:"op"`
	Clock    int64     `json:"clock"`
	Pushed   bool      `json:"pushed"`
	At       time.Time `json:"at"`
}
