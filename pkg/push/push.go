package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vocalink-backend/pkg/logger"
	"vocalink-backend/pkg/metrics"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token represents a push notification token for a user
type Token struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	Active    bool      `json:"active"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID string) ([]*Token, error)
	Delete(ctx context.Context, userID, token string) error
	DeleteByToken(ctx context.Context, token string) error
}

// Service handles push notification operations for the call service
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  *metrics.Metrics
}

// NewService creates a new push notification service. Metrics may be nil.
func NewService(provider Provider, repo TokenRepository, m *metrics.Metrics) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		metrics:  m,
	}
}

// RegisterToken registers a push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	token.Active = true
	token.UpdatedAt = time.Now().Unix()
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push notification token for a user
func (s *Service) UnregisterToken(ctx context.Context, userID, token string) error {
	return s.repo.Delete(ctx, userID, token)
}

// SendIncomingCall notifies callees of an incoming call
func (s *Service) SendIncomingCall(ctx context.Context, callID uuid.UUID, callerID, callerName, callType string, calleeIDs []string) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", callerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "call",
			"call_id":     callID.String(),
			"caller_id":   callerID,
			"caller_name": callerName,
			"call_type":   callType,
			"timestamp":   fmt.Sprintf("%d", time.Now().Unix()),
		},
	}
	return s.sendToUsers(ctx, notification, calleeIDs, "incoming_call")
}

// SendMissedCall notifies callees that a call rang out unanswered
func (s *Service) SendMissedCall(ctx context.Context, callID uuid.UUID, callerID, callerName string, calleeIDs []string) error {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"call_id":     callID.String(),
			"caller_id":   callerID,
			"caller_name": callerName,
		},
	}
	return s.sendToUsers(ctx, notification, calleeIDs, "missed_call")
}

// SendCallEnded notifies participants that a call has ended
func (s *Service) SendCallEnded(ctx context.Context, callID uuid.UUID, endedBy string, duration time.Duration, participantIDs []string) error {
	notification := &Notification{
		Title:    "Call Ended",
		Body:     fmt.Sprintf("Call ended by %s. Duration: %s", endedBy, formatDuration(duration)),
		Priority: "normal",
		Data: map[string]string{
			"type":     "call_ended",
			"call_id":  callID.String(),
			"ended_by": endedBy,
			"duration": fmt.Sprintf("%d", int64(duration.Seconds())),
		},
	}
	return s.sendToUsers(ctx, notification, participantIDs, "call_ended")
}

func (s *Service) sendToUsers(ctx context.Context, notification *Notification, userIDs []string, kind string) error {
	var allTokens []string
	platforms := make(map[string]bool)
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
				platforms[string(token.Type)] = true
			}
		}
	}

	if len(allTokens) == 0 {
		return nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		s.recordSend(kind, platforms, true)
		logger.Error("Failed to send push notification",
			zap.String("kind", kind),
			zap.Int("token_count", len(allTokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	s.recordSend(kind, platforms, result.FailureCount > 0)

	logger.Info("Push notification sent",
		zap.String("kind", kind),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	if len(result.InvalidTokens) > 0 {
		s.removeInvalidTokens(ctx, result.InvalidTokens)
	}
	return nil
}

// recordSend counts one dispatch per token platform involved
func (s *Service) recordSend(kind string, platforms map[string]bool, failed bool) {
	if s.metrics == nil {
		return
	}
	for platform := range platforms {
		s.metrics.RecordPushNotification(kind, platform)
		if failed {
			s.metrics.RecordPushNotificationFailure(kind, platform)
		}
	}
}

// removeInvalidTokens drops tokens the provider reported as dead
func (s *Service) removeInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, token := range invalidTokens {
		if err := s.repo.DeleteByToken(ctx, token); err != nil {
			logger.Warn("Failed to remove invalid push token",
				zap.String("token_prefix", maskPushToken(token)),
				zap.Error(err))
		}
	}
}

func formatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// maskPushToken truncates a token for safe logging
func maskPushToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "..."
}

// NopProvider discards all notifications; used when push is disabled
type NopProvider struct{}

func (NopProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	return &SendResult{SuccessCount: len(tokens)}, nil
}
