package ledger

import (
	"context"
	"fmt"
)

// recordingRepo implements RecordingRepository.
type recordingRepo struct {
	db *DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *DB) RecordingRepository {
	return &recordingRepo{db: db}
}

// Insert adds a recording row. ON CONFLICT DO NOTHING makes redelivery of
// the same recording SID a detectable no-op: the returned bool reports
// whether this delivery was the first.
func (r *recordingRepo) Insert(ctx context.Context, rec *Recording) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (recording_sid, call_sid, caller_id, step_key, file_path, created_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(recording_sid) DO NOTHING`,
		rec.RecordingSID, rec.CallSID, rec.CallerID, rec.StepKey, rec.FilePath,
	)
	if err != nil {
		return false, fmt.Errorf("inserting recording: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether a recording SID has already been processed.
func (r *recordingRepo) Exists(ctx context.Context, recordingSID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recordings WHERE recording_sid = ?`, recordingSID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking recording: %w", err)
	}
	return count > 0, nil
}

// ListByCaller returns all recordings for a caller identity, oldest first.
func (r *recordingRepo) ListByCaller(ctx context.Context, callerID string) ([]Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recording_sid, call_sid, caller_id, step_key, file_path, created_at
		 FROM recordings WHERE caller_id = ? ORDER BY created_at`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var rec Recording
		if err := rows.Scan(&rec.RecordingSID, &rec.CallSID, &rec.CallerID,
			&rec.StepKey, &rec.FilePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning recording: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recordings: %w", err)
	}
	return out, nil
}

// Count returns the total number of stored recordings.
func (r *recordingRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes recordings older than the given number of days and
// returns the deleted rows so the archive can remove the WAV files.
func (r *recordingRepo) DeleteOlderThan(ctx context.Context, days int) ([]Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recording_sid, call_sid, caller_id, step_key, file_path, created_at
		 FROM recordings WHERE created_at < datetime('now', '-' || ? || ' days')`, days,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired recordings: %w", err)
	}
	defer rows.Close()

	var expired []Recording
	for rows.Next() {
		var rec Recording
		if err := rows.Scan(&rec.RecordingSID, &rec.CallSID, &rec.CallerID,
			&rec.StepKey, &rec.FilePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning expired recording: %w", err)
		}
		expired = append(expired, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired recordings: %w", err)
	}

	if len(expired) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM recordings WHERE created_at < datetime('now', '-' || ? || ' days')`, days,
	)
	if err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}

	return expired, nil
}
