// Package store provides SQLite-backed durable storage for subscription records
// on a single device.
//
// The store keeps:
//   - Records: the device's canonical copy of every record, tombstones included
//   - Change log: append-only, bounded list of local mutations ordered by seq
//   - Sync state: the persisted remote cursor and this device's id
//
// # Logical Time
//
// Every local mutation bumps the touched field groups to record.Clock()+1
// with this device as origin and appends a change-log entry. Ordering never
// depends on wall-clock time; CreatedAt/UpdatedAt are display fields.
//
// # Change Log
//
// Entries stay pending until the sync engine confirms a push via MarkPushed.
// The log is bounded: pushed entries are trimmed oldest first, and if
// pending entries alone exceed the bound they are compacted to the newest
// entry per record. Compaction loses nothing because a push always sends the
// record's current row.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: a successful return means the write is on disk
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection plus an RWMutex: one writer at a time, reads in parallel
//
// Driver failures surface as ErrStorageUnavailable; nothing is dropped silently.
package store
