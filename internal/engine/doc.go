// Package engine synchronizes the local store with the remote document store.
//
// A sync run moves through Pulling, Merging and Pushing:
//
//  1. Pull every document written after the persisted cursor. Nothing is
//     written locally until the pull has fully succeeded.
//  2. Merge each pulled envelope with the local copy using record.Merge and
//     commit all results in one store transaction.
//  3. Push every locally pending envelope with the pulled cursor as a
//     precondition. Documents rewritten after that cursor are rejected; the
//     engine pulls again and retries them, up to MaxRounds.
//
// The cursor only advances after the state it stands for is merged locally.
// When a push fast-forwards the remote (nobody else wrote in between) the
// cursor jumps to the remote head, so an immediate second run transfers
// nothing.
//
// Merge decisions are pure and synchronous; the only suspension points are
// the remote calls. Cancellation is checked between phases and never
// interrupts the merge transaction.
package engine
