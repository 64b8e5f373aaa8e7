// Package engine implements the packsale command processor.
//
// The engine wires every component (payment authorization, escrow, caps,
// packs, chests, raffle, multi-product sale, migration) over one store and
// serializes all mutations through a single goroutine.
//
// ARCHITECTURE:
//
// Single-Writer Command Loop:
// Callers on any goroutine submit commands; Engine.Run executes them one at a
// time. This gives:
//   - one SQLite transaction per command, committed or rolled back whole
//   - a gap-free event log ordered by the logical clock
//   - cap check-and-increment without lost updates under concurrent callers
//
// Command Processing:
//  1. Command enqueued to the FIFO queue; the caller blocks on its reply
//  2. Run dequeues, draws a flow token and opens a transaction
//  3. The component call mutates state; events are buffered in a recorder
//  4. On success events get seqs from the Clock and are appended, then commit
//  5. After commit, pending outbox entries are delivered to the collectible ledger
//
// Failed commands roll back, emit nothing and rewind the clock.
//
// Logical Clock:
// Event seqs come from Clock.Next(), never from wall time. Wall time (WithNow)
// is only consulted for escrow release and signer limit windows.
package engine
