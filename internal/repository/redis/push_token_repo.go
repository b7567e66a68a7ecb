package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"vocalink-backend/internal/database"
	"vocalink-backend/pkg/push"
)

// PushTokenRepository stores push notification tokens in Redis. Tokens live
// in a hash per user, with a reverse index from token value to owner so dead
// tokens reported by the provider can be dropped without knowing the user.
type PushTokenRepository struct {
	db *database.RedisDB
}

// NewPushTokenRepository creates a new PushTokenRepository
func NewPushTokenRepository(db *database.RedisDB) *PushTokenRepository {
	return &PushTokenRepository{db: db}
}

func userTokensKey(userID string) string {
	return fmt.Sprintf("push:tokens:%s", userID)
}

func tokenOwnerKey(token string) string {
	return fmt.Sprintf("push:owner:%s", token)
}

// Store saves or refreshes a token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal push token: %w", err)
	}

	pipe := r.db.Client.TxPipeline()
	pipe.HSet(ctx, userTokensKey(token.UserID), token.Token, payload)
	pipe.Set(ctx, tokenOwnerKey(token.Token), token.UserID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}
	return nil
}

// GetByUserID returns all tokens registered for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID string) ([]*push.Token, error) {
	entries, err := r.db.Client.HGetAll(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(entries))
	for _, raw := range entries {
		token := &push.Token{}
		if err := json.Unmarshal([]byte(raw), token); err != nil {
			continue // Skip corrupt entries
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// Delete removes one token for a user
func (r *PushTokenRepository) Delete(ctx context.Context, userID, token string) error {
	pipe := r.db.Client.TxPipeline()
	pipe.HDel(ctx, userTokensKey(userID), token)
	pipe.Del(ctx, tokenOwnerKey(token))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}
	return nil
}

// DeleteByToken removes a token via the reverse index
func (r *PushTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	userID, err := r.db.Client.Get(ctx, tokenOwnerKey(token)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil
		}
		return fmt.Errorf("failed to resolve token owner: %w", err)
	}
	return r.Delete(ctx, userID, token)
}
