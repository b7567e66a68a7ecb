package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vocalink-backend/internal/domain"
	"vocalink-backend/internal/service/recording"
	apperrors "vocalink-backend/pkg/errors"
)

// Default transition delays. The connect hops simulate transport set-up; a
// real media transport would drive the same transitions from network events.
const (
	DefaultDialDelay    = 1 * time.Second
	DefaultConnectDelay = 2 * time.Second
	DefaultJoinDelay    = 1 * time.Second
	DefaultRingTimeout  = 30 * time.Second
)

// Timer slots. One timer per slot; scheduling into an occupied slot stops the
// previous timer first.
const (
	timerDial    = "dial"
	timerConnect = "connect"
	timerRing    = "ring"
	timerJoin    = "join:" // + participant id
)

// Config holds the per-engine identity and timing knobs
type Config struct {
	LocalUserID string
	LocalName   string

	DialDelay    time.Duration // calling/answered -> connecting
	ConnectDelay time.Duration // connecting -> connected
	JoinDelay    time.Duration // participant connecting -> connected
	RingTimeout  time.Duration // unanswered ringing -> ended
}

func (c *Config) applyDefaults() {
	if c.DialDelay <= 0 {
		c.DialDelay = DefaultDialDelay
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.JoinDelay <= 0 {
		c.JoinDelay = DefaultJoinDelay
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
}

// Invite identifies a remote participant to bring into a call
type Invite struct {
	ID   string
	Name string
}

// Service is the call-session engine for one local user. It owns the single
// current session, enforces the one-active-call invariant, and drives
// timer-based transitions through the clock. All state is guarded by one
// mutex; scheduled transitions re-validate the session id they were created
// for and are silently discarded when stale.
//
// Notifier callbacks run synchronously while the engine lock is held and must
// not call back into the engine.
type Service struct {
	mu  sync.Mutex
	cfg Config
	clk clock.Clock

	settings domain.CallSettings
	session  *domain.CallSession
	roster   *roster
	timers   map[string]*clock.Timer

	recorder *recording.Controller
	notifier *Notifier
	logger   *zap.Logger
}

// NewService creates a call-session engine for the given local user
func NewService(cfg Config, settings domain.CallSettings, clk clock.Clock, recorder *recording.Controller, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		clk:      clk,
		settings: settings,
		timers:   make(map[string]*clock.Timer),
		recorder: recorder,
		notifier: &Notifier{},
		logger:   logger.With(zap.String("local_user", cfg.LocalUserID)),
	}
}

// Events returns the engine's notifier for subscription
func (s *Service) Events() *Notifier {
	return s.notifier
}

// StartCall creates an outgoing session in the calling state and schedules
// the connect hops. Fails with CALL_IN_PROGRESS while a session is active.
func (s *Service) StartCall(callees []Invite, callType domain.CallType, chatID string) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Active() {
		return nil, apperrors.CallInProgressError()
	}
	if len(callees) == 0 {
		return nil, apperrors.InvalidInputError("at least one callee is required")
	}

	sess := &domain.CallSession{
		ID:          uuid.New(),
		Type:        callType,
		Status:      domain.CallStatusCalling,
		InitiatorID: s.cfg.LocalUserID,
		IsGroupCall: len(callees) > 1,
		ChatID:      chatID,
	}

	r := newRoster(s.cfg.LocalUserID)
	r.add(s.cfg.LocalUserID, s.cfg.LocalName, s.videoOnByDefault(callType))
	for _, inv := range callees {
		r.add(inv.ID, inv.Name, s.videoOnByDefault(callType))
	}

	s.session = sess
	s.roster = r

	s.logger.Info("call started",
		zap.String("call_id", sess.ID.String()),
		zap.String("type", string(callType)),
		zap.Int("callees", len(callees)),
		zap.Bool("group", sess.IsGroupCall))

	s.scheduleConnectHopsLocked(sess.ID)
	for _, p := range r.participants() {
		s.scheduleJoinLocked(sess.ID, p.ID)
	}

	s.emitStatusLocked()
	return s.snapshotLocked(), nil
}

// ReceiveCall models a remote-originated call as ringing. It is the external
// trigger a signaling layer fires on an incoming invitation. Fails with
// CALL_IN_PROGRESS while a session is active (the caller sees busy).
func (s *Service) ReceiveCall(caller Invite, callType domain.CallType, chatID string) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Active() {
		return nil, apperrors.CallInProgressError()
	}

	sess := &domain.CallSession{
		ID:          uuid.New(),
		Type:        callType,
		Status:      domain.CallStatusRinging,
		InitiatorID: caller.ID,
		ChatID:      chatID,
	}

	r := newRoster(s.cfg.LocalUserID)
	r.add(caller.ID, caller.Name, s.videoOnByDefault(callType))
	r.add(s.cfg.LocalUserID, s.cfg.LocalName, s.videoOnByDefault(callType))

	s.session = sess
	s.roster = r

	s.logger.Info("incoming call",
		zap.String("call_id", sess.ID.String()),
		zap.String("caller", caller.ID),
		zap.String("type", string(callType)))

	// Auto-reject when nobody answers; cancelled by any other transition
	s.scheduleLocked(timerRing, s.cfg.RingTimeout, sess.ID, func() {
		s.logger.Info("call ring timeout",
			zap.String("call_id", sess.ID.String()))
		s.endLocked(domain.EndReasonTimeout)
	})

	s.notifier.notifyIncomingCall(s.snapshotLocked())
	s.emitStatusLocked()
	return s.snapshotLocked(), nil
}

// AnswerCall accepts the current ringing session and schedules the connect
// hops. Fails with CALL_NOT_FOUND when there is no current session or the id
// does not match.
func (s *Service) AnswerCall(callID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() || s.session.ID != callID {
		return apperrors.CallNotFoundError()
	}

	s.cancelTimerLocked(timerRing)
	s.scheduleConnectHopsLocked(callID)
	for _, p := range s.roster.participants() {
		s.scheduleJoinLocked(callID, p.ID)
	}

	s.emitStatusLocked()
	return nil
}

// RejectCall declines the current session. Rejecting an unknown or already
// ended call is a safe no-op.
func (s *Service) RejectCall(callID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() || s.session.ID != callID {
		return
	}
	s.endLocked(domain.EndReasonRejected)
}

// EndCall hangs up the current session. Hanging up with no active session is
// a safe no-op.
func (s *Service) EndCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() {
		return
	}
	s.endLocked(domain.EndReasonNormal)
}

// ToggleMute flips the local participant's mute flag and returns the new
// value. Returns false with no active session or local participant.
func (s *Service) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.localParticipantLocked()
	if p == nil {
		return false
	}
	p.IsMuted = !p.IsMuted
	s.emitStatusLocked()
	return p.IsMuted
}

// ToggleVideo flips the local participant's camera flag and returns the new
// value. Turning the camera on stops an active screen share; the two sources
// are mutually exclusive. Returns false with no active session or local
// participant.
func (s *Service) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.localParticipantLocked()
	if p == nil {
		return false
	}
	p.IsVideoEnabled = !p.IsVideoEnabled
	if p.IsVideoEnabled {
		p.IsScreenSharing = false
	}
	s.emitStatusLocked()
	return p.IsVideoEnabled
}

// ToggleScreenShare flips the local participant's screen-share flag and
// returns the new value. Turning screen share on forces the camera off;
// turning it off does not re-enable the camera.
func (s *Service) ToggleScreenShare() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.localParticipantLocked()
	if p == nil {
		return false
	}
	p.IsScreenSharing = !p.IsScreenSharing
	if p.IsScreenSharing {
		p.IsVideoEnabled = false
	}
	s.emitStatusLocked()
	return p.IsScreenSharing
}

// SwitchCamera signals the media layer to switch capture device. It is a
// no-op returning false unless a video session is active; no session state
// changes.
func (s *Service) SwitchCamera() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() || s.session.Type != domain.CallTypeVideo {
		return false
	}
	s.logger.Debug("camera switch requested",
		zap.String("call_id", s.session.ID.String()))
	return true
}

// AddParticipant brings another user into the current group call. Fails with
// CALL_NOT_FOUND when no session is active and NOT_GROUP_CALL when the
// session was not created as a group call.
func (s *Service) AddParticipant(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() {
		return apperrors.CallNotFoundError()
	}
	if !s.session.IsGroupCall {
		return apperrors.NotGroupCallError()
	}

	if s.roster.find(userID) != nil {
		return nil
	}
	s.roster.add(userID, name, s.videoOnByDefault(s.session.Type))
	s.scheduleJoinLocked(s.session.ID, userID)

	s.logger.Info("participant added",
		zap.String("call_id", s.session.ID.String()),
		zap.String("user_id", userID))

	s.emitStatusLocked()
	return nil
}

// RemoveParticipant drops a user from the current call. Removing an absent
// participant is a safe no-op.
func (s *Service) RemoveParticipant(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() {
		return
	}
	if !s.roster.remove(userID) {
		return
	}
	s.cancelTimerLocked(timerJoin + userID)

	s.logger.Info("participant removed",
		zap.String("call_id", s.session.ID.String()),
		zap.String("user_id", userID))

	s.emitStatusLocked()
}

// StartRecording begins recording the current call. Fails with
// RECORDING_UNAVAILABLE when no call is active, recording is disabled by
// settings, or a recording is already running. Recorder permission failures
// propagate unchanged.
func (s *Service) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() {
		return apperrors.RecordingUnavailableError("no active call to record")
	}
	if !s.settings.EnableCallRecording {
		return apperrors.RecordingUnavailableError("call recording is disabled")
	}
	if s.recorder.Active() {
		return apperrors.RecordingUnavailableError("recording already in progress")
	}

	if err := s.recorder.Start(ctx, s.session.ID); err != nil {
		return err
	}

	s.session.IsRecording = true
	s.emitStatusLocked()
	return nil
}

// StopRecording finalizes the active recording and returns its path.
// Stopping with nothing recording returns an empty path, not an error.
func (s *Service) StopRecording(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recorder.Active() {
		return "", nil
	}

	path, err := s.recorder.Stop(ctx)
	if s.session.Active() {
		s.session.IsRecording = false
		if path != "" {
			s.session.RecordingPath = path
		}
		s.emitStatusLocked()
	}
	return path, err
}

// CurrentCall returns a snapshot of the current session, or nil
func (s *Service) CurrentCall() *domain.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	return s.snapshotLocked()
}

// Settings returns the engine's call settings
func (s *Service) Settings() domain.CallSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings replaces the engine's call settings
func (s *Service) UpdateSettings(settings domain.CallSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Close cancels all outstanding timers without ending the session; used on
// shutdown
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllTimersLocked()
}

// --- internal transitions, all called with the lock held ---

// scheduleLocked arms the named timer slot for the given session. The fired
// closure re-acquires the lock and re-validates that it still targets the
// current, live session; stale firings are absorbed silently.
func (s *Service) scheduleLocked(key string, d time.Duration, callID uuid.UUID, apply func()) {
	if prev, ok := s.timers[key]; ok {
		prev.Stop()
		delete(s.timers, key)
	}
	s.timers[key] = s.clk.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.timers, key)
		if s.session == nil || s.session.ID != callID || !s.session.Active() {
			return
		}
		apply()
	})
}

func (s *Service) cancelTimerLocked(key string) {
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *Service) cancelAllTimersLocked() {
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// scheduleConnectHopsLocked arms the two delayed hops to connecting and then
// connected
func (s *Service) scheduleConnectHopsLocked(callID uuid.UUID) {
	s.scheduleLocked(timerDial, s.cfg.DialDelay, callID, func() {
		s.session.Status = domain.CallStatusConnecting
		s.emitStatusLocked()

		s.scheduleLocked(timerConnect, s.cfg.ConnectDelay, callID, func() {
			s.session.Status = domain.CallStatusConnected
			if s.session.StartTime == nil {
				now := s.clk.Now()
				s.session.StartTime = &now
			}
			s.logger.Info("call connected",
				zap.String("call_id", callID.String()))
			s.emitStatusLocked()
		})
	})
}

func (s *Service) scheduleJoinLocked(callID uuid.UUID, userID string) {
	s.scheduleLocked(timerJoin+userID, s.cfg.DialDelay+s.cfg.ConnectDelay+s.cfg.JoinDelay, callID, func() {
		p := s.roster.find(userID)
		if p == nil || p.ConnectionStatus != domain.ConnectionConnecting {
			return
		}
		p.ConnectionStatus = domain.ConnectionConnected
		s.emitStatusLocked()
	})
}

// endLocked finalizes the current session: stops any active recording first,
// cancels outstanding timers, stamps end time and duration, notifies, and
// clears the current-session slot so a new call is admissible.
func (s *Service) endLocked(reason string) {
	sess := s.session

	if s.recorder.Active() {
		path, err := s.recorder.Stop(context.Background())
		if err != nil {
			s.logger.Warn("recording finalize failed during hang-up",
				zap.String("call_id", sess.ID.String()),
				zap.Error(err))
		}
		sess.IsRecording = false
		if path != "" {
			sess.RecordingPath = path
		}
	}

	s.cancelAllTimersLocked()

	now := s.clk.Now()
	sess.Status = domain.CallStatusEnded
	sess.EndTime = &now
	sess.EndReason = reason
	if sess.StartTime != nil {
		sess.Duration = now.Sub(*sess.StartTime)
	}

	s.logger.Info("call ended",
		zap.String("call_id", sess.ID.String()),
		zap.String("reason", reason),
		zap.Duration("duration", sess.Duration))

	final := s.snapshotLocked()
	s.notifier.notifyStatusChanged(final)
	s.notifier.notifyCallEnded(final)

	s.session = nil
	s.roster = nil
}

func (s *Service) localParticipantLocked() *domain.CallParticipant {
	if !s.session.Active() || s.roster == nil {
		return nil
	}
	return s.roster.local()
}

func (s *Service) videoOnByDefault(callType domain.CallType) bool {
	return callType == domain.CallTypeVideo && s.settings.CameraEnabledByDefault
}

func (s *Service) snapshotLocked() *domain.CallSession {
	if s.roster != nil {
		s.session.Participants = s.roster.participants()
	}
	return s.session.Clone()
}

func (s *Service) emitStatusLocked() {
	s.notifier.notifyStatusChanged(s.snapshotLocked())
}
