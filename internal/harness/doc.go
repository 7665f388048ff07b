// Package harness runs multi-device sync scenarios written in YAML.
//
// A scenario declares a set of devices sharing one in-memory remote, then
// drives them step by step: local edits, syncs, and remote outages. After
// the last step its assertions check what each device ended up with.
//
// # Scenario Format
//
//	name: price_edit_survives
//	description: "An offline price edit wins after both devices sync"
//	now: 2026-03-10T12:00:00Z
//	devices: [x, y]
//	steps:
//	  - device: x
//	    create:
//	      id: sub-1
//	      name: Streaming
//	      cost: {amount: "9.99", currency: USD}
//	      cycle: monthly:15
//	      anchor: 2026-01-15
//	  - device: x
//	    sync: {expect: {pushed: 1}}
//	  - offline: true
//	  - device: y
//	    sync: {error: UNAVAILABLE}
//	  - advance: 24h
//	assertions:
//	  - type: record
//	    device: x
//	    id: sub-1
//	    expect: {cost: "12.99 USD", next_renewal: "2026-03-15"}
//	  - type: converged
//
// # Step Kinds
//
// Each step does exactly one thing:
//
//   - create, update: catalog-shaped record fields; update only changes the
//     fields it names
//   - status: {id, to} moves a record to active, paused or cancelled
//   - delete: id of the record to tombstone
//   - sync: runs the device's engine, optionally checking result counters
//     (expect) or the error code (error)
//   - offline: true/false takes the shared remote down or back up
//   - advance: moves the shared wall clock forward by a duration
//
// # Assertion Types
//
//   - record: fields of a visible record on one device
//   - deleted: the record is a tombstone on one device
//   - count: number of visible records on one device
//   - pending: number of unpushed records on one device
//   - converged: every device holds exactly the remote's documents
//
// # Determinism
//
// Devices are named by the scenario and used as origins, the wall clock is
// a testutil.FakeClock and remote revisions come from testutil.SeqTokens, so
// the trace of a scenario is identical on every run and can be compared to
// a golden file.
package harness
