package call

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vocalink-backend/internal/domain"
	"vocalink-backend/internal/middleware"
	callsvc "vocalink-backend/internal/service/call"
	"vocalink-backend/internal/service/recording"
	"vocalink-backend/pkg/logger"
	"vocalink-backend/pkg/push"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type nopRecorder struct{}

func (nopRecorder) Start(ctx context.Context, callID uuid.UUID) error {
	return nil
}

func (nopRecorder) Stop(ctx context.Context, callID uuid.UUID) (string, error) {
	return "", nil
}

// staticTokenRepo hands every user one active token
type staticTokenRepo struct{}

func (staticTokenRepo) Store(ctx context.Context, token *push.Token) error { return nil }

func (staticTokenRepo) GetByUserID(ctx context.Context, userID string) ([]*push.Token, error) {
	return []*push.Token{{UserID: userID, Token: "device-1", Type: push.TokenTypeFCM, Active: true}}, nil
}

func (staticTokenRepo) Delete(ctx context.Context, userID, token string) error { return nil }
func (staticTokenRepo) DeleteByToken(ctx context.Context, token string) error  { return nil }

// capturingProvider surfaces sent notifications to the test goroutine
type capturingProvider struct {
	sent chan *push.Notification
}

func (p *capturingProvider) Send(ctx context.Context, notification *push.Notification, tokens []string) (*push.SendResult, error) {
	p.sent <- notification
	return &push.SendResult{SuccessCount: len(tokens)}, nil
}

func newTestRouter(provider push.Provider) *gin.Engine {
	engines := callsvc.NewRegistry(func(userID, name string) *callsvc.Service {
		controller := recording.NewController(nopRecorder{}, zap.NewNop())
		return callsvc.NewService(callsvc.Config{
			LocalUserID: userID,
			LocalName:   name,
		}, domain.DefaultCallSettings(), clock.NewMock(), controller, zap.NewNop())
	})
	pushSvc := push.NewService(provider, staticTokenRepo{}, nil)
	h := NewHandler(engines, nil, nil, pushSvc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "alice")
		c.Set(middleware.ContextUsername, "Alice")
	})
	h.RegisterRoutes(router.Group("/v1"))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestReceiveCall_InvitationRings(t *testing.T) {
	provider := &capturingProvider{sent: make(chan *push.Notification, 1)}
	router := newTestRouter(provider)

	w := postJSON(t, router, "/v1/calls/incoming",
		`{"caller":{"id":"bob","name":"Bob"},"call_type":"voice"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"ringing"`)

	select {
	case <-provider.sent:
		t.Fatal("no push expected while the invitation rings")
	default:
	}
}

func TestReceiveCall_BusySendsMissedCallPush(t *testing.T) {
	provider := &capturingProvider{sent: make(chan *push.Notification, 1)}
	router := newTestRouter(provider)

	w := postJSON(t, router, "/v1/calls/incoming",
		`{"caller":{"id":"bob","name":"Bob"},"call_type":"voice"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// second invitation while the first still rings: caller hears busy
	w = postJSON(t, router, "/v1/calls/incoming",
		`{"caller":{"id":"carol","name":"Carol"},"call_type":"video"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CALL_IN_PROGRESS")

	select {
	case notification := <-provider.sent:
		assert.Equal(t, "missed_call", notification.Data["type"])
		assert.Equal(t, "carol", notification.Data["caller_id"])
		assert.Equal(t, "Carol", notification.Data["caller_name"])
	case <-time.After(2 * time.Second):
		t.Fatal("missed call push was not sent on the busy path")
	}
}
