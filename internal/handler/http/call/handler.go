package call

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vocalink-backend/internal/domain"
	"vocalink-backend/internal/middleware"
	"vocalink-backend/internal/repository/cassandra"
	"vocalink-backend/internal/repository/cockroach"
	callsvc "vocalink-backend/internal/service/call"
	apperrors "vocalink-backend/pkg/errors"
	"vocalink-backend/pkg/logger"
	"vocalink-backend/pkg/push"
	"vocalink-backend/pkg/response"
)

// Handler handles call HTTP requests. Each authenticated user drives their
// own call engine resolved through the registry.
type Handler struct {
	engines   *callsvc.Registry
	callRepo  *cockroach.CallRepository
	eventRepo *cassandra.CallEventRepository
	pushSvc   *push.Service
}

// NewHandler creates a new call handler
func NewHandler(engines *callsvc.Registry, callRepo *cockroach.CallRepository, eventRepo *cassandra.CallEventRepository, pushSvc *push.Service) *Handler {
	return &Handler{
		engines:   engines,
		callRepo:  callRepo,
		eventRepo: eventRepo,
		pushSvc:   pushSvc,
	}
}

// RegisterRoutes wires the call endpoints onto an authenticated route group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	{
		calls.POST("", h.StartCall)
		calls.POST("/incoming", h.ReceiveCall)
		calls.GET("/current", h.GetCurrentCall)
		calls.DELETE("/current", h.EndCall)
		calls.POST("/:id/answer", h.AnswerCall)
		calls.POST("/:id/reject", h.RejectCall)
		calls.GET("/:id/events", h.GetCallEvents)
		calls.GET("/history", h.GetHistory)

		calls.POST("/current/mute", h.ToggleMute)
		calls.POST("/current/video", h.ToggleVideo)
		calls.POST("/current/screen-share", h.ToggleScreenShare)
		calls.POST("/current/camera-switch", h.SwitchCamera)

		calls.POST("/current/participants", h.AddParticipant)
		calls.DELETE("/current/participants/:userID", h.RemoveParticipant)

		calls.POST("/current/recording", h.StartRecording)
		calls.DELETE("/current/recording", h.StopRecording)
	}

	settings := rg.Group("/settings")
	{
		settings.GET("/call", h.GetSettings)
		settings.PUT("/call", h.UpdateSettings)
	}
}

func (h *Handler) engine(c *gin.Context) *callsvc.Service {
	return h.engines.Get(middleware.UserID(c), middleware.Username(c))
}

// InviteRequest identifies a user to call or add
type InviteRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

// StartCallRequest represents a call initiation request
type StartCallRequest struct {
	Callees  []InviteRequest `json:"callees" binding:"required,min=1,dive"`
	CallType string          `json:"call_type" binding:"required,oneof=voice video"`
	ChatID   string          `json:"chat_id"`
}

// StartCall starts a new outgoing call
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callees := make([]callsvc.Invite, len(req.Callees))
	for i, inv := range req.Callees {
		callees[i] = callsvc.Invite{ID: inv.ID, Name: inv.Name}
	}

	sess, err := h.engine(c).StartCall(callees, domain.CallType(req.CallType), req.ChatID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sess)
}

// ReceiveCallRequest represents a remote-originated call invitation
type ReceiveCallRequest struct {
	Caller   InviteRequest `json:"caller" binding:"required"`
	CallType string        `json:"call_type" binding:"required,oneof=voice video"`
	ChatID   string        `json:"chat_id"`
}

// ReceiveCall delivers an incoming call invitation to the user's engine.
// The signaling layer calls this when a remote party dials the user.
// POST /v1/calls/incoming
func (h *Handler) ReceiveCall(c *gin.Context) {
	var req ReceiveCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sess, err := h.engine(c).ReceiveCall(callsvc.Invite{
		ID:   req.Caller.ID,
		Name: req.Caller.Name,
	}, domain.CallType(req.CallType), req.ChatID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeCallInProgress) {
			// The caller hears busy; leave the user a missed-call trace
			h.notifyMissedCall(middleware.UserID(c), req.Caller)
		}
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sess)
}

// notifyMissedCall pushes a missed-call notification for an invitation that
// never became a session, so it mints a fresh call id for the record.
func (h *Handler) notifyMissedCall(userID string, caller InviteRequest) {
	if h.pushSvc == nil {
		return
	}
	callerName := caller.Name
	if callerName == "" {
		callerName = caller.ID
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.pushSvc.SendMissedCall(ctx, uuid.New(), caller.ID, callerName, []string{userID}); err != nil {
			logger.Warn("Failed to send missed call push",
				zap.String("user_id", userID),
				zap.String("caller_id", caller.ID),
				zap.Error(err))
		}
	}()
}

// GetCurrentCall returns a snapshot of the user's current session
// GET /v1/calls/current
func (h *Handler) GetCurrentCall(c *gin.Context) {
	sess := h.engine(c).CurrentCall()
	if sess == nil {
		response.NotFound(c, "no current call")
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// AnswerCall accepts a ringing call
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	if err := h.engine(c).AnswerCall(callID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.engine(c).CurrentCall())
}

// RejectCall declines a ringing call; unknown ids are a no-op
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	h.engine(c).RejectCall(callID)
	response.Success(c, http.StatusOK, gin.H{"rejected": true})
}

// EndCall hangs up the current call; a no-op when nothing is active
// DELETE /v1/calls/current
func (h *Handler) EndCall(c *gin.Context) {
	h.engine(c).EndCall()
	response.Success(c, http.StatusOK, gin.H{"ended": true})
}

// ToggleMute flips the local microphone state
// POST /v1/calls/current/mute
func (h *Handler) ToggleMute(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"muted": h.engine(c).ToggleMute()})
}

// ToggleVideo flips the local camera state
// POST /v1/calls/current/video
func (h *Handler) ToggleVideo(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"video_enabled": h.engine(c).ToggleVideo()})
}

// ToggleScreenShare flips the local screen-share state
// POST /v1/calls/current/screen-share
func (h *Handler) ToggleScreenShare(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"screen_sharing": h.engine(c).ToggleScreenShare()})
}

// SwitchCamera requests a capture device switch
// POST /v1/calls/current/camera-switch
func (h *Handler) SwitchCamera(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"switched": h.engine(c).SwitchCamera()})
}

// AddParticipant invites another user into the current group call
// POST /v1/calls/current/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.engine(c).AddParticipant(req.ID, req.Name); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.engine(c).CurrentCall())
}

// RemoveParticipant drops a user from the current call
// DELETE /v1/calls/current/participants/:userID
func (h *Handler) RemoveParticipant(c *gin.Context) {
	h.engine(c).RemoveParticipant(c.Param("userID"))
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// StartRecording begins recording the current call
// POST /v1/calls/current/recording
func (h *Handler) StartRecording(c *gin.Context) {
	if err := h.engine(c).StartRecording(c.Request.Context()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"recording": true})
}

// StopRecording finalizes the active recording
// DELETE /v1/calls/current/recording
func (h *Handler) StopRecording(c *gin.Context) {
	path, err := h.engine(c).StopRecording(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"recording": false, "path": path})
}

// GetHistory returns the user's past calls, most recent first
// GET /v1/calls/history?limit=&offset=
func (h *Handler) GetHistory(c *gin.Context) {
	if h.callRepo == nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Call history is unavailable")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	calls, err := h.callRepo.GetUserCalls(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"calls": calls})
}

// GetCallEvents returns the transition log for a stored call
// GET /v1/calls/:id/events
func (h *Handler) GetCallEvents(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	if h.eventRepo == nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Call event log is unavailable")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.eventRepo.GetByCall(c.Request.Context(), callID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// SettingsRequest represents a call settings update
type SettingsRequest struct {
	CameraEnabledByDefault *bool   `json:"camera_enabled_by_default"`
	EnableCallRecording    *bool   `json:"enable_call_recording"`
	Quality                *string `json:"quality" binding:"omitempty,oneof=low medium high"`
}

// GetSettings returns the user's call settings
// GET /v1/settings/call
func (h *Handler) GetSettings(c *gin.Context) {
	response.Success(c, http.StatusOK, h.engine(c).Settings())
}

// UpdateSettings applies a partial call settings update
// PUT /v1/settings/call
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	eng := h.engine(c)
	settings := eng.Settings()
	if req.CameraEnabledByDefault != nil {
		settings.CameraEnabledByDefault = *req.CameraEnabledByDefault
	}
	if req.EnableCallRecording != nil {
		settings.EnableCallRecording = *req.EnableCallRecording
	}
	if req.Quality != nil {
		settings.Quality = domain.CallQuality(*req.Quality)
	}
	eng.UpdateSettings(settings)

	response.Success(c, http.StatusOK, settings)
}
