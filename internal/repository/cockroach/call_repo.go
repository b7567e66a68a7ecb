package cockroach

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vocalink-backend/internal/domain"
	apperrors "vocalink-backend/pkg/errors"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CallRepository persists completed call sessions
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// SaveEnded writes a finished session and its participants in one transaction
func (r *CallRepository) SaveEnded(ctx context.Context, sess *domain.CallSession) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperrors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO calls (
			call_id, chat_id, initiator_id, call_type, status,
			is_group, started_at, ended_at, duration_seconds, end_reason, recording_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, query,
		sess.ID,
		sess.ChatID,
		sess.InitiatorID,
		sess.Type,
		sess.Status,
		sess.IsGroupCall,
		sess.StartTime,
		sess.EndTime,
		int64(sess.Duration.Seconds()),
		sess.EndReason,
		sess.RecordingPath,
	)
	if err != nil {
		return apperrors.DatabaseError("failed to insert call", err)
	}

	for _, p := range sess.Participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (call_id, user_id, display_name, was_muted, was_video_on, was_screen_sharing)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sess.ID, p.ID, p.Name, p.IsMuted, p.IsVideoEnabled, p.IsScreenSharing)
		if err != nil {
			return apperrors.DatabaseError("failed to insert call participant", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.DatabaseError("failed to commit call", err)
	}
	return nil
}

// GetByID retrieves a stored call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT call_id, chat_id, initiator_id, call_type, status,
		       is_group, started_at, ended_at, duration_seconds, end_reason, recording_path
		FROM calls
		WHERE call_id = $1
	`
	sess, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError("failed to get call", err)
	}

	participants, err := r.getParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	sess.Participants = participants
	return sess, nil
}

// GetUserCalls retrieves a user's call history, most recent first. The limit
// defaults to 20 and is capped at 100.
func (r *CallRepository) GetUserCalls(ctx context.Context, userID string, limit, offset int) ([]*domain.CallSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT DISTINCT c.call_id, c.chat_id, c.initiator_id, c.call_type, c.status,
		       c.is_group, c.started_at, c.ended_at, c.duration_seconds, c.end_reason, c.recording_path
		FROM calls c
		LEFT JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE c.initiator_id = $1 OR cp.user_id = $1
		ORDER BY c.started_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to get user calls", err)
	}
	defer rows.Close()

	var calls []*domain.CallSession
	for rows.Next() {
		sess, err := scanCall(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("failed to scan call", err)
		}
		calls = append(calls, sess)
	}
	return calls, rows.Err()
}

func (r *CallRepository) getParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, display_name, was_muted, was_video_on, was_screen_sharing
		FROM call_participants
		WHERE call_id = $1
	`, callID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to get participants", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{ConnectionStatus: domain.ConnectionDisconnected}
		if err := rows.Scan(&p.ID, &p.Name, &p.IsMuted, &p.IsVideoEnabled, &p.IsScreenSharing); err != nil {
			return nil, apperrors.DatabaseError("failed to scan participant", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.CallSession, error) {
	sess := &domain.CallSession{}
	var durationSeconds int64
	err := row.Scan(
		&sess.ID,
		&sess.ChatID,
		&sess.InitiatorID,
		&sess.Type,
		&sess.Status,
		&sess.IsGroupCall,
		&sess.StartTime,
		&sess.EndTime,
		&durationSeconds,
		&sess.EndReason,
		&sess.RecordingPath,
	)
	if err != nil {
		return nil, err
	}
	sess.Duration = time.Duration(durationSeconds) * time.Second
	return sess, nil
}

// Schema returns the DDL for the call history tables
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS calls (
	call_id UUID PRIMARY KEY,
	chat_id STRING NOT NULL DEFAULT '',
	initiator_id STRING NOT NULL,
	call_type STRING NOT NULL,
	status STRING NOT NULL,
	is_group BOOL NOT NULL DEFAULT false,
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	duration_seconds INT NOT NULL DEFAULT 0,
	end_reason STRING NOT NULL DEFAULT '',
	recording_path STRING NOT NULL DEFAULT '',
	INDEX idx_calls_initiator (initiator_id, started_at DESC)
);

CREATE TABLE IF NOT EXISTS call_participants (
	call_id UUID NOT NULL REFERENCES calls (call_id),
	user_id STRING NOT NULL,
	display_name STRING NOT NULL DEFAULT '',
	was_muted BOOL NOT NULL DEFAULT false,
	was_video_on BOOL NOT NULL DEFAULT false,
	was_screen_sharing BOOL NOT NULL DEFAULT false,
	PRIMARY KEY (call_id, user_id),
	INDEX idx_call_participants_user (user_id)
);
`
}
