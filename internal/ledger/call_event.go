package ledger

import (
	"context"
	"fmt"
)

// callEventRepo implements CallEventRepository.
type callEventRepo struct {
	db *DB
}

// NewCallEventRepository creates a new CallEventRepository.
func NewCallEventRepository(db *DB) CallEventRepository {
	return &callEventRepo{db: db}
}

// Insert records one call lifecycle event.
func (r *callEventRepo) Insert(ctx context.Context, ev *CallEvent) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_events (call_sid, caller_id, step_key, event, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		ev.CallSID, ev.CallerID, ev.StepKey, ev.Event,
	)
	if err != nil {
		return fmt.Errorf("inserting call event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ev.ID = id
	return nil
}

// ListByCall returns all events for one call, in insertion order.
func (r *callEventRepo) ListByCall(ctx context.Context, callSID string) ([]CallEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_sid, caller_id, step_key, event, created_at
		 FROM call_events WHERE call_sid = ? ORDER BY id`, callSID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying call events: %w", err)
	}
	defer rows.Close()

	var out []CallEvent
	for rows.Next() {
		var ev CallEvent
		if err := rows.Scan(&ev.ID, &ev.CallSID, &ev.CallerID, &ev.StepKey,
			&ev.Event, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call events: %w", err)
	}
	return out, nil
}

// CountByEvent returns event counts grouped by event name.
func (r *callEventRepo) CountByEvent(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event, COUNT(*) FROM call_events GROUP BY event`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting call events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var event string
		var count int64
		if err := rows.Scan(&event, &count); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		out[event] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event counts: %w", err)
	}
	return out, nil
}
