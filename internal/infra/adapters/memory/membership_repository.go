package memory

import (
	"context"
	"sync"
)

// Membership - в какой комнате и под каким участником состоит соединение
type Membership struct {
	RoomID        string
	ParticipantID string
	Name          string
}

type MembershipRepository interface {
	Set(ctx context.Context, connectionID string, m Membership)
	Get(ctx context.Context, connectionID string) (Membership, bool)
	Remove(ctx context.Context, connectionID string) (Membership, bool)
}

type membershipRepository struct {
	memberships map[string]Membership
	mu          sync.RWMutex
}

func NewMembershipRepository() MembershipRepository {
	return &membershipRepository{
		memberships: make(map[string]Membership),
	}
}

func (r *membershipRepository) Set(ctx context.Context, connectionID string, m Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.memberships[connectionID] = m
}

func (r *membershipRepository) Get(ctx context.Context, connectionID string) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.memberships[connectionID]

	return m, ok
}

func (r *membershipRepository) Remove(ctx context.Context, connectionID string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memberships[connectionID]
	if ok {
		delete(r.memberships, connectionID)
	}

	return m, ok
}
