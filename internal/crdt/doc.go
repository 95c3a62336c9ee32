// Package crdt implements the replicated document behind a canvas.
//
// A Doc holds three collections: block records, link records and one
// text sequence per block. Records resolve concurrent writes per field by
// last-write-wins on Lamport op ids; text resolves character-wise as a
// replicated growable array. Each key keeps its incarnations, so a delete
// beats concurrent edits of what it deleted and a later re-add starts a
// new incarnation.
//
// Mutations happen only inside Doc.Transact (local, undo) or through
// Doc.ApplyUpdate (remote). Both deliver the same events, tagged with an
// Origin, so observers use a single code path for every change.
package crdt
