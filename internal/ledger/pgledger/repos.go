package pgledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callscribe/callscribe/internal/ledger"
)

// recordingRepo implements ledger.RecordingRepository on PostgreSQL.
type recordingRepo struct {
	db *sql.DB
}

// NewRecordingRepository creates a RecordingRepository backed by the store.
func NewRecordingRepository(s *Store) ledger.RecordingRepository {
	return &recordingRepo{db: s.db}
}

func (r *recordingRepo) Insert(ctx context.Context, rec *ledger.Recording) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (recording_sid, call_sid, caller_id, step_key, file_path)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (recording_sid) DO NOTHING`,
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

func (r *recordingRepo) Exists(ctx context.Context, recordingSID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recordings WHERE recording_sid = $1`, recordingSID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking recording: %w", err)
	}
	return count > 0, nil
}

func (r *recordingRepo) ListByCaller(ctx context.Context, callerID string) ([]ledger.Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recording_sid, call_sid, caller_id, step_key, file_path, created_at
		 FROM recordings WHERE caller_id = $1 ORDER BY created_at`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recordings: %w", err)
	}
	defer rows.Close()

	var out []ledger.Recording
	for rows.Next() {
		var rec ledger.Recording
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

func (r *recordingRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}

func (r *recordingRepo) DeleteOlderThan(ctx context.Context, days int) ([]ledger.Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM recordings
		 WHERE created_at < NOW() - make_interval(days => $1)
		 RETURNING recording_sid, call_sid, caller_id, step_key, file_path, created_at`, days,
	)
	if err != nil {
		return nil, fmt.Errorf("deleting expired recordings: %w", err)
	}
	defer rows.Close()

	var expired []ledger.Recording
	for rows.Next() {
		var rec ledger.Recording
		if err := rows.Scan(&rec.RecordingSID, &rec.CallSID, &rec.CallerID,
			&rec.StepKey, &rec.FilePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning expired recording: %w", err)
		}
		expired = append(expired, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired recordings: %w", err)
	}
	return expired, nil
}

// callEventRepo implements ledger.CallEventRepository on PostgreSQL.
type callEventRepo struct {
	db *sql.DB
}

// NewCallEventRepository creates a CallEventRepository backed by the store.
func NewCallEventRepository(s *Store) ledger.CallEventRepository {
	return &callEventRepo{db: s.db}
}

func (r *callEventRepo) Insert(ctx context.Context, ev *ledger.CallEvent) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO call_events (call_sid, caller_id, step_key, event)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		ev.CallSID, ev.CallerID, ev.StepKey, ev.Event,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("inserting call event: %w", err)
	}
	return nil
}

func (r *callEventRepo) ListByCall(ctx context.Context, callSID string) ([]ledger.CallEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_sid, caller_id, step_key, event, created_at
		 FROM call_events WHERE call_sid = $1 ORDER BY id`, callSID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying call events: %w", err)
	}
	defer rows.Close()

	var out []ledger.CallEvent
	for rows.Next() {
		var ev ledger.CallEvent
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

// adminUserRepo implements ledger.AdminUserRepository on PostgreSQL.
type adminUserRepo struct {
	db *sql.DB
}

// NewAdminUserRepository creates an AdminUserRepository backed by the store.
func NewAdminUserRepository(s *Store) ledger.AdminUserRepository {
	return &adminUserRepo{db: s.db}
}

func (r *adminUserRepo) Create(ctx context.Context, user *ledger.AdminUser) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO admin_users (username, password_hash)
		 VALUES ($1, $2) RETURNING id`,
		user.Username, user.PasswordHash,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("inserting admin user: %w", err)
	}
	return nil
}

func (r *adminUserRepo) GetByUsername(ctx context.Context, username string) (*ledger.AdminUser, error) {
	var u ledger.AdminUser
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM admin_users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin user by username: %w", err)
	}
	return &u, nil
}

func (r *adminUserRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting admin users: %w", err)
	}
	return count, nil
}
