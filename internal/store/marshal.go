package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/subtrackr/internal/record"
)

// marshalRecord converts a Record to JSON TEXT for the body column.
// HTML escaping is disabled so names with < > & stay readable in the database.
func marshalRecord(r record.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalRecord parses a body column back into a Record.
func unmarshalRecord(data string) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return record.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
