package store

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/roach88/packsale/internal/canonical"
)

// EventDomain separates event payload digests from other canonical hashes.
const EventDomain = "packsale/event/v1"

// Event is one entry of the append-only event log.
type Event struct {
	ID        string
	Seq       int64
	FlowToken string
	Kind      string

	// Payload is canonical JSON.
	Payload string

	// Digest is the hex SHA-256 of Payload under EventDomain.
	Digest string
}

// Verify reports whether Digest matches Payload.
func (ev Event) Verify() error {
	want := hex.EncodeToString(canonical.DigestBytes(EventDomain, []byte(ev.Payload)))
	if want != ev.Digest {
		return fmt.Errorf("event %s (seq %d): digest mismatch", ev.ID, ev.Seq)
	}
	return nil
}

// AppendEvent writes an event, encoding payload canonically.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (t *Tx) AppendEvent(ctx context.Context, id string, seq int64, flowToken, kind string, payload canonical.Object) (Event, error) {
	data, err := canonical.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("append event %s: %w", kind, err)
	}
	digest, err := canonical.HexDigest(EventDomain, payload)
	if err != nil {
		return Event{}, fmt.Errorf("append event %s: %w", kind, err)
	}

	ev := Event{
		ID:        id,
		Seq:       seq,
		FlowToken: flowToken,
		Kind:      kind,
		Payload:   string(data),
		Digest:    digest,
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO events (id, seq, flow_token, kind, payload, digest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.Seq, ev.FlowToken, ev.Kind, ev.Payload, ev.Digest)
	if err != nil {
		return Event{}, fmt.Errorf("append event %s: %w", kind, err)
	}
	return ev, nil
}

// Events lists events ordered by seq ASC, id ASC COLLATE BINARY.
// When flowToken is non-empty only that flow's events are returned.
// Returns an empty slice (not nil) if none exist.
func (t *Tx) Events(ctx context.Context, flowToken string) ([]Event, error) {
	query := `SELECT id, seq, flow_token, kind, payload, digest FROM events`
	var args []any
	if flowToken != "" {
		query += ` WHERE flow_token = ?`
		args = append(args, flowToken)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.FlowToken, &ev.Kind, &ev.Payload, &ev.Digest); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// MaxSeq returns the highest event seq, or 0 for an empty log.
// Used to resume the logical clock after restart.
func (t *Tx) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

// OutboxEntry is a pending external side effect.
type OutboxEntry struct {
	ID      int64
	Kind    string
	Payload string
}

// EnqueueOutbox records a side effect to deliver after commit.
func (t *Tx) EnqueueOutbox(ctx context.Context, kind string, payload canonical.Object) (int64, error) {
	data, err := canonical.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue outbox %s: %w", kind, err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox (kind, payload) VALUES (?, ?)
	`, kind, string(data))
	if err != nil {
		return 0, fmt.Errorf("enqueue outbox %s: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue outbox %s: last insert id: %w", kind, err)
	}
	return id, nil
}

// PendingOutbox lists undelivered entries in insertion order.
func (t *Tx) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, kind, payload FROM outbox WHERE delivered = 0 ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	entries := []OutboxEntry{}
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkDelivered flags an outbox entry as delivered.
func (t *Tx) MarkDelivered(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE outbox SET delivered = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark outbox %d delivered: %w", id, err)
	}
	return nil
}
