package redis

import (
	"context"
	"fmt"
	"time"

	"vocalink-backend/internal/database"
)

const (
	presenceTTL      = 5 * time.Minute
	onlineSetKey     = "presence:online"
	presenceKeyScope = "presence:%s"
)

// PresenceRepository tracks which users are reachable for calls
type PresenceRepository struct {
	db *database.RedisDB
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(db *database.RedisDB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// SetUserOnline marks user as online. The key expires unless refreshed by a
// heartbeat.
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID string) error {
	key := fmt.Sprintf(presenceKeyScope, userID)

	if err := r.db.Client.Set(ctx, key, "online", presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.db.Client.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetUserOffline marks user as offline
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID string) error {
	key := fmt.Sprintf(presenceKeyScope, userID)

	if err := r.db.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.db.Client.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// IsUserOnline checks if user is currently online
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf(presenceKeyScope, userID)

	exists, err := r.db.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// RefreshPresence keeps user online (heartbeat)
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID string) error {
	key := fmt.Sprintf(presenceKeyScope, userID)

	if err := r.db.Client.Expire(ctx, key, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineUsers retrieves the list of online user IDs
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]string, error) {
	users, err := r.db.Client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	return users, nil
}

// GetOnlineCount returns the number of online users
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.db.Client.SCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}
