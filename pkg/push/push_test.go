package push

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vocalink-backend/pkg/logger"
	"vocalink-backend/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	args := m.Called(ctx, notification, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

type MockTokenRepo struct {
	mock.Mock
}

func (m *MockTokenRepo) Store(ctx context.Context, token *Token) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockTokenRepo) GetByUserID(ctx context.Context, userID string) ([]*Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Token), args.Error(1)
}

func (m *MockTokenRepo) Delete(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func (m *MockTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func TestSendIncomingCall_OnlyActiveTokens(t *testing.T) {
	provider := new(MockProvider)
	repo := new(MockTokenRepo)
	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "fcm-1", Type: TokenTypeFCM, Active: true},
		{UserID: "bob", Token: "apns-old", Type: TokenTypeAPNs, Active: false},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, []string{"fcm-1"}).
		Return(&SendResult{SuccessCount: 1}, nil)

	svc := NewService(provider, repo, nil)
	err := svc.SendIncomingCall(context.Background(), uuid.New(), "alice", "Alice", "video", []string{"bob"})
	require.NoError(t, err)

	provider.AssertExpectations(t)
	sent := provider.Calls[0].Arguments.Get(1).(*Notification)
	assert.Equal(t, "call", sent.Data["type"])
	assert.Equal(t, "alice", sent.Data["caller_id"])
	assert.Equal(t, "high", sent.Priority)
}

func TestSendCallEnded_Payload(t *testing.T) {
	provider := new(MockProvider)
	repo := new(MockTokenRepo)
	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "fcm-1", Type: TokenTypeFCM, Active: true},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(&SendResult{SuccessCount: 1}, nil)

	svc := NewService(provider, repo, nil)
	callID := uuid.New()
	err := svc.SendCallEnded(context.Background(), callID, "alice", 95*time.Second, []string{"bob"})
	require.NoError(t, err)

	sent := provider.Calls[0].Arguments.Get(1).(*Notification)
	assert.Equal(t, "call_ended", sent.Data["type"])
	assert.Equal(t, callID.String(), sent.Data["call_id"])
	assert.Equal(t, "95", sent.Data["duration"])
	assert.Contains(t, sent.Body, "1m 35s")
}

func TestSendMissedCall_NoActiveTokens(t *testing.T) {
	provider := new(MockProvider)
	repo := new(MockTokenRepo)
	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "stale", Type: TokenTypeFCM, Active: false},
	}, nil)

	svc := NewService(provider, repo, nil)
	err := svc.SendMissedCall(context.Background(), uuid.New(), "alice", "Alice", []string{"bob"})
	require.NoError(t, err)

	provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMissedCall_ProviderError(t *testing.T) {
	provider := new(MockProvider)
	repo := new(MockTokenRepo)
	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "fcm-1", Type: TokenTypeFCM, Active: true},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway unreachable"))

	svc := NewService(provider, repo, nil)
	err := svc.SendMissedCall(context.Background(), uuid.New(), "alice", "Alice", []string{"bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missed_call")
}

func TestSend_RemovesInvalidTokens(t *testing.T) {
	provider := new(MockProvider)
	repo := new(MockTokenRepo)
	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "dead-token", Type: TokenTypeFCM, Active: true},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(&SendResult{FailureCount: 1, InvalidTokens: []string{"dead-token"}}, nil)
	repo.On("DeleteByToken", mock.Anything, "dead-token").Return(nil)

	svc := NewService(provider, repo, nil)
	err := svc.SendIncomingCall(context.Background(), uuid.New(), "alice", "Alice", "voice", []string{"bob"})
	require.NoError(t, err)

	repo.AssertCalled(t, "DeleteByToken", mock.Anything, "dead-token")
}

func TestSend_WithMetrics(t *testing.T) {
	provider := new(MockProvider)
	repo := new(MockTokenRepo)
	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "fcm-1", Type: TokenTypeFCM, Active: true},
		{UserID: "bob", Token: "apns-1", Type: TokenTypeAPNs, Active: true},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(&SendResult{SuccessCount: 1, FailureCount: 1}, nil)

	svc := NewService(provider, repo, metrics.NewMetrics("push-test"))
	err := svc.SendIncomingCall(context.Background(), uuid.New(), "alice", "Alice", "voice", []string{"bob"})
	require.NoError(t, err)
	provider.AssertExpectations(t)
}
