package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media type of a call, fixed at creation
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallStatus represents the signaling state of a call session
type CallStatus string

const (
	CallStatusIdle       CallStatus = "idle"
	CallStatusCalling    CallStatus = "calling"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusFailed     CallStatus = "failed"
)

// ConnectionStatus tracks a single participant's link to the call
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// End reasons recorded when a session reaches ended
const (
	EndReasonNormal    = "normal"
	EndReasonRejected  = "rejected"
	EndReasonTimeout   = "timeout"
	EndReasonCancelled = "cancelled"
)

// CallParticipant represents one endpoint in a call session
type CallParticipant struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	IsMuted          bool             `json:"is_muted"`
	IsVideoEnabled   bool             `json:"is_video_enabled"`
	IsScreenSharing  bool             `json:"is_screen_sharing"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
}

// CallSession represents a single call attempt from creation to ended.
// Values handed to subscribers are deep copies; the engine owns the original.
type CallSession struct {
	ID            uuid.UUID          `json:"id"`
	Type          CallType           `json:"type"`
	Status        CallStatus         `json:"status"`
	Participants  []*CallParticipant `json:"participants"`
	InitiatorID   string             `json:"initiator_id"`
	StartTime     *time.Time         `json:"start_time,omitempty"`
	EndTime       *time.Time         `json:"end_time,omitempty"`
	Duration      time.Duration      `json:"duration,omitempty"`
	IsRecording   bool               `json:"is_recording"`
	RecordingPath string             `json:"recording_path,omitempty"`
	IsGroupCall   bool               `json:"is_group_call"`
	ChatID        string             `json:"chat_id,omitempty"`
	EndReason     string             `json:"end_reason,omitempty"`
}

// Clone returns a deep copy of the session, including participants
func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	cp := *s
	if s.StartTime != nil {
		t := *s.StartTime
		cp.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	cp.Participants = make([]*CallParticipant, len(s.Participants))
	for i, p := range s.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	return &cp
}

// Participant returns the participant with the given id, or nil
func (s *CallSession) Participant(id string) *CallParticipant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Active reports whether the session still occupies the current-call slot
func (s *CallSession) Active() bool {
	return s != nil && s.Status != CallStatusEnded && s.Status != CallStatusFailed
}
