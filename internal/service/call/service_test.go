package call

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vocalink-backend/internal/domain"
	"vocalink-backend/internal/service/recording"
	apperrors "vocalink-backend/pkg/errors"
)

// MockRecorder is a mock implementation of recording.Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Start(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockRecorder) Stop(ctx context.Context, callID uuid.UUID) (string, error) {
	args := m.Called(ctx, callID)
	return args.String(0), args.Error(1)
}

func newTestEngine(settings domain.CallSettings) (*Service, *clock.Mock, *MockRecorder) {
	mockClock := clock.NewMock()
	mockRecorder := new(MockRecorder)
	controller := recording.NewController(mockRecorder, zap.NewNop())
	svc := NewService(Config{
		LocalUserID: "alice",
		LocalName:   "Alice",
	}, settings, mockClock, controller, zap.NewNop())
	return svc, mockClock, mockRecorder
}

func TestStartCall_ConnectSequence(t *testing.T) {
	svc, mockClock, _ := newTestEngine(domain.DefaultCallSettings())

	var statuses []domain.CallStatus
	svc.Events().OnStatusChanged(func(s *domain.CallSession) {
		statuses = append(statuses, s.Status)
	})

	sess, err := svc.StartCall([]Invite{{ID: "bob", Name: "Bob"}}, domain.CallTypeVideo, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCalling, sess.Status)
	assert.False(t, sess.IsGroupCall)
	assert.Equal(t, "alice", sess.InitiatorID)
	assert.Len(t, sess.Participants, 2)

	mockClock.Add(DefaultDialDelay)
	assert.Equal(t, domain.CallStatusConnecting, svc.CurrentCall().Status)

	mockClock.Add(DefaultConnectDelay)
	current := svc.CurrentCall()
	assert.Equal(t, domain.CallStatusConnected, current.Status)
	require.NotNil(t, current.StartTime)

	mockClock.Add(DefaultJoinDelay)
	for _, p := range svc.CurrentCall().Participants {
		assert.Equal(t, domain.ConnectionConnected, p.ConnectionStatus, "participant %s", p.ID)
	}

	assert.Contains(t, statuses, domain.CallStatusCalling)
	assert.Contains(t, statuses, domain.CallStatusConnecting)
	assert.Contains(t, statuses, domain.CallStatusConnected)
}

func TestStartCall_SecondCallRejected(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	_, err = svc.StartCall([]Invite{{ID: "carol"}}, domain.CallTypeVoice, "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeCallInProgress))
}

func TestStartCall_NoCallees(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall(nil, domain.CallTypeVoice, "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
}

func TestStartCall_CameraDefaultFromSettings(t *testing.T) {
	settings := domain.DefaultCallSettings()
	settings.CameraEnabledByDefault = false
	svc, _, _ := newTestEngine(settings)

	sess, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVideo, "")
	require.NoError(t, err)
	for _, p := range sess.Participants {
		assert.False(t, p.IsVideoEnabled)
	}
}

func TestStartCall_VoiceCallHasNoVideo(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	sess, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	for _, p := range sess.Participants {
		assert.False(t, p.IsVideoEnabled)
	}
}

func TestStartCall_AllowedAfterPreviousEnded(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	svc.EndCall()

	_, err = svc.StartCall([]Invite{{ID: "carol"}}, domain.CallTypeVoice, "")
	assert.NoError(t, err)
}

func TestEndCall_Idempotent(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	var endedCount int
	svc.Events().OnCallEnded(func(s *domain.CallSession) {
		endedCount++
		assert.Equal(t, domain.CallStatusEnded, s.Status)
		assert.Equal(t, domain.EndReasonNormal, s.EndReason)
	})

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	svc.EndCall()
	svc.EndCall()
	svc.EndCall()

	assert.Equal(t, 1, endedCount)
	assert.Nil(t, svc.CurrentCall())
}

func TestEndCall_DurationStamped(t *testing.T) {
	svc, mockClock, _ := newTestEngine(domain.DefaultCallSettings())

	var final *domain.CallSession
	svc.Events().OnCallEnded(func(s *domain.CallSession) { final = s })

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	mockClock.Add(DefaultDialDelay + DefaultConnectDelay)
	mockClock.Add(42 * time.Second)
	svc.EndCall()

	require.NotNil(t, final)
	require.NotNil(t, final.EndTime)
	assert.Equal(t, 42*time.Second, final.Duration)
}

func TestEndCall_StopsActiveRecording(t *testing.T) {
	svc, mockClock, mockRecorder := newTestEngine(domain.DefaultCallSettings())
	mockRecorder.On("Start", mock.Anything, mock.Anything).Return(nil)
	mockRecorder.On("Stop", mock.Anything, mock.Anything).Return("recordings/call.ogg", nil)

	var final *domain.CallSession
	svc.Events().OnCallEnded(func(s *domain.CallSession) { final = s })

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	mockClock.Add(DefaultDialDelay + DefaultConnectDelay)

	require.NoError(t, svc.StartRecording(context.Background()))
	assert.True(t, svc.CurrentCall().IsRecording)

	svc.EndCall()

	mockRecorder.AssertCalled(t, "Stop", mock.Anything, mock.Anything)
	require.NotNil(t, final)
	assert.False(t, final.IsRecording)
	assert.Equal(t, "recordings/call.ogg", final.RecordingPath)
}

func TestReceiveCall_AnswerConnects(t *testing.T) {
	svc, mockClock, _ := newTestEngine(domain.DefaultCallSettings())

	var incoming *domain.CallSession
	svc.Events().OnIncomingCall(func(s *domain.CallSession) { incoming = s })

	sess, err := svc.ReceiveCall(Invite{ID: "bob", Name: "Bob"}, domain.CallTypeVoice, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, sess.Status)
	assert.Equal(t, "bob", sess.InitiatorID)
	require.NotNil(t, incoming)
	assert.Equal(t, sess.ID, incoming.ID)

	require.NoError(t, svc.AnswerCall(sess.ID))
	mockClock.Add(DefaultDialDelay + DefaultConnectDelay)
	assert.Equal(t, domain.CallStatusConnected, svc.CurrentCall().Status)

	// the ring timeout must have been cancelled by the answer
	mockClock.Add(DefaultRingTimeout)
	assert.Equal(t, domain.CallStatusConnected, svc.CurrentCall().Status)
}

func TestReceiveCall_BusyRejected(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	_, err = svc.ReceiveCall(Invite{ID: "carol"}, domain.CallTypeVoice, "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeCallInProgress))
}

func TestReceiveCall_RingTimeout(t *testing.T) {
	svc, mockClock, _ := newTestEngine(domain.DefaultCallSettings())

	var endedCount int
	var final *domain.CallSession
	svc.Events().OnCallEnded(func(s *domain.CallSession) {
		endedCount++
		final = s
	})

	_, err := svc.ReceiveCall(Invite{ID: "bob"}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	mockClock.Add(DefaultRingTimeout - time.Second)
	assert.Equal(t, domain.CallStatusRinging, svc.CurrentCall().Status)
	assert.Equal(t, 0, endedCount)

	mockClock.Add(time.Second)
	assert.Nil(t, svc.CurrentCall())
	assert.Equal(t, 1, endedCount)
	require.NotNil(t, final)
	assert.Equal(t, domain.EndReasonTimeout, final.EndReason)

	// a late tick must not fire the timeout again
	mockClock.Add(DefaultRingTimeout)
	assert.Equal(t, 1, endedCount)
}

func TestAnswerCall_UnknownID(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	err := svc.AnswerCall(uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeCallNotFound))

	_, err = svc.ReceiveCall(Invite{ID: "bob"}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	err = svc.AnswerCall(uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeCallNotFound))
}

func TestRejectCall(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	var endedCount int
	var final *domain.CallSession
	svc.Events().OnCallEnded(func(s *domain.CallSession) {
		endedCount++
		final = s
	})

	// rejecting with nothing ringing is a no-op
	svc.RejectCall(uuid.New())
	assert.Equal(t, 0, endedCount)

	sess, err := svc.ReceiveCall(Invite{ID: "bob"}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	// wrong id is a no-op, right id ends the call, repeat is a no-op
	svc.RejectCall(uuid.New())
	assert.NotNil(t, svc.CurrentCall())

	svc.RejectCall(sess.ID)
	svc.RejectCall(sess.ID)

	assert.Equal(t, 1, endedCount)
	require.NotNil(t, final)
	assert.Equal(t, domain.EndReasonRejected, final.EndReason)
}

func TestStaleTimersDoNotTouchNewCall(t *testing.T) {
	svc, mockClock, _ := newTestEngine(domain.DefaultCallSettings())

	first, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	svc.EndCall()

	second, err := svc.StartCall([]Invite{{ID: "carol"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// advancing past the first call's scheduled hops must only drive the
	// second call's own transitions
	mockClock.Add(DefaultDialDelay + DefaultConnectDelay + DefaultJoinDelay)
	current := svc.CurrentCall()
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, domain.CallStatusConnected, current.Status)
}

func TestToggleMute(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	assert.False(t, svc.ToggleMute())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	assert.True(t, svc.ToggleMute())
	assert.False(t, svc.ToggleMute())
}

func TestToggleScreenShare_ForcesVideoOff(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVideo, "")
	require.NoError(t, err)

	local := svc.CurrentCall().Participant("alice")
	require.NotNil(t, local)
	assert.True(t, local.IsVideoEnabled)

	assert.True(t, svc.ToggleScreenShare())
	local = svc.CurrentCall().Participant("alice")
	assert.True(t, local.IsScreenSharing)
	assert.False(t, local.IsVideoEnabled)

	// stopping the share does not bring the camera back
	assert.False(t, svc.ToggleScreenShare())
	local = svc.CurrentCall().Participant("alice")
	assert.False(t, local.IsScreenSharing)
	assert.False(t, local.IsVideoEnabled)
}

func TestToggleVideo_StopsScreenShare(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVideo, "")
	require.NoError(t, err)

	assert.True(t, svc.ToggleScreenShare())

	// turning the camera back on must stop the share, never leave both on
	assert.True(t, svc.ToggleVideo())
	local := svc.CurrentCall().Participant("alice")
	require.NotNil(t, local)
	assert.True(t, local.IsVideoEnabled)
	assert.False(t, local.IsScreenSharing)

	// camera off again leaves the share off too
	assert.False(t, svc.ToggleVideo())
	local = svc.CurrentCall().Participant("alice")
	assert.False(t, local.IsVideoEnabled)
	assert.False(t, local.IsScreenSharing)
}

func TestSwitchCamera(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	assert.False(t, svc.SwitchCamera())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	assert.False(t, svc.SwitchCamera())
	svc.EndCall()

	_, err = svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVideo, "")
	require.NoError(t, err)
	assert.True(t, svc.SwitchCamera())
}

func TestAddParticipant(t *testing.T) {
	svc, mockClock, _ := newTestEngine(domain.DefaultCallSettings())

	err := svc.AddParticipant("dave", "Dave")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeCallNotFound))

	_, err = svc.StartCall([]Invite{{ID: "bob"}, {ID: "carol"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	require.NoError(t, svc.AddParticipant("dave", "Dave"))
	assert.Len(t, svc.CurrentCall().Participants, 4)

	// adding an existing participant changes nothing
	require.NoError(t, svc.AddParticipant("dave", "Dave"))
	assert.Len(t, svc.CurrentCall().Participants, 4)

	mockClock.Add(DefaultDialDelay + DefaultConnectDelay + DefaultJoinDelay)
	dave := svc.CurrentCall().Participant("dave")
	require.NotNil(t, dave)
	assert.Equal(t, domain.ConnectionConnected, dave.ConnectionStatus)
}

func TestAddParticipant_OneToOneCall(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	err = svc.AddParticipant("carol", "Carol")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotGroupCall))
	assert.Len(t, svc.CurrentCall().Participants, 2)
}

func TestRemoveParticipant(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	// no session, no panic
	svc.RemoveParticipant("bob")

	_, err := svc.StartCall([]Invite{{ID: "bob"}, {ID: "carol"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	var notifies int
	svc.Events().OnStatusChanged(func(*domain.CallSession) { notifies++ })

	svc.RemoveParticipant("carol")
	assert.Equal(t, 1, notifies)
	assert.Len(t, svc.CurrentCall().Participants, 2)
	assert.Nil(t, svc.CurrentCall().Participant("carol"))

	// removing again is a silent no-op
	svc.RemoveParticipant("carol")
	assert.Equal(t, 1, notifies)
}

func TestStartRecording(t *testing.T) {
	svc, mockClock, mockRecorder := newTestEngine(domain.DefaultCallSettings())
	mockRecorder.On("Start", mock.Anything, mock.Anything).Return(nil)
	mockRecorder.On("Stop", mock.Anything, mock.Anything).Return("recordings/call.ogg", nil)

	err := svc.StartRecording(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRecordingUnavailable))

	_, err = svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)
	mockClock.Add(DefaultDialDelay + DefaultConnectDelay)

	require.NoError(t, svc.StartRecording(context.Background()))
	assert.True(t, svc.CurrentCall().IsRecording)

	err = svc.StartRecording(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRecordingUnavailable))

	path, err := svc.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recordings/call.ogg", path)
	assert.False(t, svc.CurrentCall().IsRecording)
	assert.Equal(t, "recordings/call.ogg", svc.CurrentCall().RecordingPath)
}

func TestStartRecording_DisabledBySettings(t *testing.T) {
	settings := domain.DefaultCallSettings()
	settings.EnableCallRecording = false
	svc, _, mockRecorder := newTestEngine(settings)

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	err = svc.StartRecording(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRecordingUnavailable))
	mockRecorder.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestStartRecording_PermissionDeniedPropagates(t *testing.T) {
	svc, _, mockRecorder := newTestEngine(domain.DefaultCallSettings())
	denied := apperrors.PermissionDeniedError(nil)
	mockRecorder.On("Start", mock.Anything, mock.Anything).Return(denied)

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	err = svc.StartRecording(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrCodePermissionDenied))
	assert.False(t, svc.CurrentCall().IsRecording)
}

func TestStopRecording_WithoutActiveRecording(t *testing.T) {
	svc, _, mockRecorder := newTestEngine(domain.DefaultCallSettings())

	path, err := svc.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Empty(t, path)
	mockRecorder.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
}

func TestCurrentCall_SnapshotIsDetached(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	_, err := svc.StartCall([]Invite{{ID: "bob", Name: "Bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	snap := svc.CurrentCall()
	snap.Status = domain.CallStatusFailed
	snap.Participants[0].IsMuted = true
	snap.Participants[0].Name = "mangled"

	current := svc.CurrentCall()
	assert.Equal(t, domain.CallStatusCalling, current.Status)
	assert.False(t, current.Participants[0].IsMuted)
	assert.NotEqual(t, "mangled", current.Participants[0].Name)
}

func TestNotifier_SingleSlotReplacement(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	var first, second int
	svc.Events().OnStatusChanged(func(*domain.CallSession) { first++ })
	svc.Events().OnStatusChanged(func(*domain.CallSession) { second++ })

	_, err := svc.StartCall([]Invite{{ID: "bob"}}, domain.CallTypeVoice, "")
	require.NoError(t, err)

	assert.Equal(t, 0, first)
	assert.Greater(t, second, 0)
}

func TestUpdateSettings(t *testing.T) {
	svc, _, _ := newTestEngine(domain.DefaultCallSettings())

	settings := svc.Settings()
	assert.True(t, settings.EnableCallRecording)

	settings.EnableCallRecording = false
	settings.Quality = domain.QualityHigh
	svc.UpdateSettings(settings)

	got := svc.Settings()
	assert.False(t, got.EnableCallRecording)
	assert.Equal(t, domain.QualityHigh, got.Quality)
}
