// Package record defines the tracked entity (Record), its transport wrapper
// (Envelope) and the deterministic merge rule that every device applies.
//
// # Versioning
//
// A Record carries one logical Version per field group (details, billing,
// status). A Version is a (Clock, Origin) pair; clocks are logical counters,
// never wall-clock time. Ordering compares Clock first and Origin (device id)
// second, so any two versions are totally ordered on every device.
//
// # Merge
//
// Merge joins each field group and the tombstone version independently,
// keeping the higher Version, which makes it commutative, associative and
// idempotent. A merged record is deleted while its tombstone clock is at
// least every group clock, so a tombstone at clock N beats any update at
// clock <= N no matter which arrives first.
//
// # Identity
//
// Fingerprint hashes the RFC 8785 canonical JSON form of an Envelope with
// SHA-256 and domain separation. Wall-clock display fields are excluded, so
// two devices holding the same logical state agree on the fingerprint.
package record
