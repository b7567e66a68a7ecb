package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"vocalink-backend/internal/domain"
)

// CallEventRepository stores the append-only transition log of calls in
// Cassandra, partitioned by call
type CallEventRepository struct {
	session *gocql.Session
}

// NewCallEventRepository creates a new CallEventRepository
func NewCallEventRepository(session *gocql.Session) *CallEventRepository {
	return &CallEventRepository{session: session}
}

// Append writes one transition event
func (r *CallEventRepository) Append(ctx context.Context, event *domain.CallEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO call_events (call_id, at, status, reason, actor_id)
		VALUES (?, ?, ?, ?, ?)
	`
	err := r.session.Query(query,
		event.CallID,
		event.Timestamp,
		string(event.Status),
		event.Reason,
		event.ActorID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to append call event: %w", err)
	}
	return nil
}

// GetByCall retrieves the transition log for one call, oldest first
func (r *CallEventRepository) GetByCall(ctx context.Context, callID uuid.UUID, limit int) ([]*domain.CallEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT call_id, at, status, reason, actor_id
		FROM call_events
		WHERE call_id = ?
		ORDER BY at ASC
		LIMIT ?
	`
	iter := r.session.Query(query, callID, limit).WithContext(ctx).Iter()

	var events []*domain.CallEvent
	for {
		event := &domain.CallEvent{}
		var status string
		if !iter.Scan(&event.CallID, &event.Timestamp, &status, &event.Reason, &event.ActorID) {
			break
		}
		event.Status = domain.CallStatus(status)
		events = append(events, event)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read call events: %w", err)
	}
	return events, nil
}

// Schema returns the DDL for the call_events table
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS call_events (
	call_id uuid,
	at timestamp,
	status text,
	reason text,
	actor_id text,
	PRIMARY KEY ((call_id), at)
) WITH CLUSTERING ORDER BY (at ASC);
`
}
