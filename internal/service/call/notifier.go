package call

import (
	"sync"

	"vocalink-backend/internal/domain"
)

// SessionFunc receives an immutable session snapshot
type SessionFunc func(session *domain.CallSession)

// Notifier is the narrow publish surface consumed by external collaborators.
// It holds three independent single-subscriber slots; setting a callback
// replaces the previous subscriber. Snapshots delivered through it are deep
// copies, so subscribers can never mutate engine-owned state.
type Notifier struct {
	mu            sync.RWMutex
	statusChanged SessionFunc
	incomingCall  SessionFunc
	callEnded     SessionFunc
}

// OnStatusChanged registers the callback fired after every state mutation
func (n *Notifier) OnStatusChanged(fn SessionFunc) {
	n.mu.Lock()
	n.statusChanged = fn
	n.mu.Unlock()
}

// OnIncomingCall registers the callback fired once when a remote-originated
// call is first modeled as ringing
func (n *Notifier) OnIncomingCall(fn SessionFunc) {
	n.mu.Lock()
	n.incomingCall = fn
	n.mu.Unlock()
}

// OnCallEnded registers the callback fired once after a call finalizes
func (n *Notifier) OnCallEnded(fn SessionFunc) {
	n.mu.Lock()
	n.callEnded = fn
	n.mu.Unlock()
}

func (n *Notifier) notifyStatusChanged(snapshot *domain.CallSession) {
	n.mu.RLock()
	fn := n.statusChanged
	n.mu.RUnlock()
	if fn != nil {
		fn(snapshot)
	}
}

func (n *Notifier) notifyIncomingCall(snapshot *domain.CallSession) {
	n.mu.RLock()
	fn := n.incomingCall
	n.mu.RUnlock()
	if fn != nil {
		fn(snapshot)
	}
}

func (n *Notifier) notifyCallEnded(snapshot *domain.CallSession) {
	n.mu.RLock()
	fn := n.callEnded
	n.mu.RUnlock()
	if fn != nil {
		fn(snapshot)
	}
}
