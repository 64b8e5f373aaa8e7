// Package store provides SQLite-backed durable state for the settlement engine.
//
// Every entity the engine owns lives here:
//   - Commitments: per-SKU ledger of paid-for, not yet minted units
//   - Caps: issued/capacity per product family
//   - Escrows, nonces, signer limits and usage windows
//   - Approvals and pause flags
//   - Balances (chest tokens, raffle tickets) and settled funds
//   - Outbox: side effects delivered after commit
//   - Events: append-only log ordered by logical seq
//
// All mutation happens through a Tx obtained from Store.WithTx. A Tx that
// returns an error rolls back, so an operation either commits every write or
// none of them.
//
// # Critical Patterns
//
// Logical time: event ordering uses seq (logical clock), never timestamps.
// Queries ORDER BY seq ASC, id ASC COLLATE BINARY for deterministic results.
//
// Check-and-increment: cap reservations, balance debits, nonce consumption and
// escrow transitions are single conditional statements whose RowsAffected
// reports success.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Event and outbox payloads are RFC 8785 canonical JSON (internal/canonical).
package store
