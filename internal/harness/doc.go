// Package harness runs multi-actor canvas scenarios and compares their
// outcome against golden files.
//
// A scenario is a YAML file naming the actors, a list of steps and a list
// of assertions. Every actor gets its own engine.Session joined to one
// in-memory transport.Hub, with deterministic ids ("<actor>-1",
// "<actor>-2", ...), so a scenario produces the same report on every run.
//
// Steps run one at a time. A step issued by one actor is fully processed,
// including the synchronous delivery of its update to the other actors'
// queues, before the next step starts. Concurrent edits are expressed with
// the partition and heal steps, which hold and release hub traffic.
//
// Example scenario:
//
//	name: lock_contention
//	actors: [alice, bob]
//	steps:
//	  - {actor: alice, op: create_block, type: text}
//	  - {actor: alice, op: toggle_lock, block: alice-1}
//	  - {op: sync}
//	  - {actor: bob, op: move_block, block: alice-1, x: 10, expect: BLOCK_LOCKED}
//	assertions:
//	  - {type: converged}
//	  - {type: block, block: alice-1, owner: alice, locked: true}
//
// The report (see Report) is serialized with ir.MarshalCanonical and
// compared with goldie against testdata/golden/<name>.golden.
package harness
