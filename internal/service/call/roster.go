package call

import (
	"vocalink-backend/internal/domain"
)

// roster owns the ordered collection of participants for one session.
// Scoped to the lifetime of a single call; discarded when the session ends.
type roster struct {
	localID string
	list    []*domain.CallParticipant
}

func newRoster(localID string) *roster {
	return &roster{localID: localID}
}

// add inserts a participant if absent and returns it; on duplicate id the
// existing entry is returned unchanged
func (r *roster) add(id, name string, videoEnabled bool) *domain.CallParticipant {
	if existing := r.find(id); existing != nil {
		return existing
	}
	if name == "" {
		name = id
	}
	p := &domain.CallParticipant{
		ID:               id,
		Name:             name,
		IsVideoEnabled:   videoEnabled,
		ConnectionStatus: domain.ConnectionConnecting,
	}
	r.list = append(r.list, p)
	return p
}

// remove deletes the participant if present, preserving order
func (r *roster) remove(id string) bool {
	for i, p := range r.list {
		if p.ID == id {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return true
		}
	}
	return false
}

func (r *roster) find(id string) *domain.CallParticipant {
	for _, p := range r.list {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// local returns the participant representing this process's user
func (r *roster) local() *domain.CallParticipant {
	return r.find(r.localID)
}

func (r *roster) participants() []*domain.CallParticipant {
	return r.list
}
