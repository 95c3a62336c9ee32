// Package engine implements the canvas reconciliation engine.
//
// A Canvas holds one replica of a room's graph: the replicated document,
// the local-only block state, per-user undo history and the read-only
// snapshot preview. A Session drives a Canvas from a single goroutine.
//
// Single-writer loop:
// Local commands, remote updates from the transport and the completions of
// asynchronous calls (snapshot fetches, uploads) are all enqueued as tasks
// and executed one at a time by Session.Run. Nothing touches the Canvas
// outside that goroutine, so commands see a consistent graph without
// locks.
//
// Update flow:
//  1. A command mutates the document in one transaction.
//  2. The resulting update is appended to the update log, then broadcast.
//  3. The projection folds replicated records and local-only fields into
//     the view, and view listeners are notified with a new revision.
//
// Remote updates take the same path from step 3, tagged with a remote
// origin so they are never recorded as undoable local changes.
//
// Every revision is stamped from a monotonic Clock. Wall-clock time is
// only used for snapshot metadata.
package engine
