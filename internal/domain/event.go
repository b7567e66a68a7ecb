package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallEvent is one entry in the append-only transition log of a call
type CallEvent struct {
	CallID    uuid.UUID  `json:"call_id"`
	Timestamp time.Time  `json:"timestamp"`
	Status    CallStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	ActorID   string     `json:"actor_id,omitempty"`
}
