package repository

import (
	"context"
	"database/sql"
	"fmt"

	"comm_core/internal/domain"
)

type CallRepository struct {
	db *sql.DB
}

func NewCallRepository(db *sql.DB) *CallRepository {
	return &CallRepository{db: db}
}

func (r *CallRepository) Create(ctx context.Context, callerID, receiverID int64) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO calls (caller_id, receiver_id, status) VALUES ($1, $2, 'initiated')
		RETURNING id
	`, callerID, receiverID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create call: %w", err)
	}
	return id, nil
}

// UpdateStatus advances a call record. Ended and missed also stamp the end
// time; any status may follow 'initiated'.
func (r *CallRepository) UpdateStatus(ctx context.Context, callID int64, status domain.CallStatus) error {
	var err error
	if status == domain.CallEnded || status == domain.CallMissed {
		_, err = r.db.ExecContext(ctx, `
			UPDATE calls SET status = $1, end_time = NOW() WHERE id = $2
		`, status, callID)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE calls SET status = $1 WHERE id = $2
		`, status, callID)
	}
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	return nil
}

// HistoryForUser returns the user's calls in either direction, newest first,
// joined with both parties for display.
func (r *CallRepository) HistoryForUser(ctx context.Context, userID int64) ([]domain.Call, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.caller_id, c.receiver_id, c.status, c.start_time, c.end_time,
		       COALESCE(u1.username, ''), COALESCE(u1.profile_picture, ''),
		       COALESCE(u2.username, ''), COALESCE(u2.profile_picture, '')
		FROM calls c
		JOIN users u1 ON c.caller_id = u1.id
		JOIN users u2 ON c.receiver_id = u2.id
		WHERE c.caller_id = $1 OR c.receiver_id = $1
		ORDER BY c.start_time DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch call history: %w", err)
	}
	defer rows.Close()

	var calls []domain.Call
	for rows.Next() {
		var c domain.Call
		var endTime sql.NullTime
		if err := rows.Scan(&c.ID, &c.CallerID, &c.ReceiverID, &c.Status, &c.StartTime, &endTime,
			&c.CallerName, &c.CallerAvatar, &c.ReceiverName, &c.ReceiverAvatar); err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		if endTime.Valid {
			c.EndTime = &endTime.Time
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
