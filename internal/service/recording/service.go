package recording

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "vocalink-backend/pkg/errors"
)

// Recorder is the platform audio recorder collaborator. Start acquires the
// capture resource for a call; Stop finalizes it and returns the stored path.
// Implementations may return a PERMISSION_DENIED application error from Start,
// which the engine propagates unchanged.
type Recorder interface {
	Start(ctx context.Context, callID uuid.UUID) error
	Stop(ctx context.Context, callID uuid.UUID) (string, error)
}

// Controller owns the lifecycle of the call's audio-recording resource:
// acquire, record, finalize. At most one recording is active at a time and
// the resource is never carried across a call boundary.
type Controller struct {
	mu       sync.Mutex
	recorder Recorder
	logger   *zap.Logger

	active bool
	callID uuid.UUID
}

// NewController creates a recording controller backed by the given recorder
func NewController(recorder Recorder, logger *zap.Logger) *Controller {
	return &Controller{
		recorder: recorder,
		logger:   logger,
	}
}

// Start acquires the recording resource for the given call. Errors from the
// recorder are returned as-is so permission failures keep their identity.
func (c *Controller) Start(ctx context.Context, callID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return apperrors.RecordingUnavailableError("recording already in progress")
	}

	if err := c.recorder.Start(ctx, callID); err != nil {
		return err
	}

	c.active = true
	c.callID = callID

	c.logger.Info("recording started",
		zap.String("call_id", callID.String()))

	return nil
}

// Stop finalizes the active recording and returns its stored path. Stopping
// with nothing recording is a safe no-op returning an empty path.
func (c *Controller) Stop(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return "", nil
	}

	callID := c.callID
	// The resource is released regardless of finalize outcome
	c.active = false
	c.callID = uuid.Nil

	path, err := c.recorder.Stop(ctx, callID)
	if err != nil {
		c.logger.Error("failed to finalize recording",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return "", err
	}

	c.logger.Info("recording finalized",
		zap.String("call_id", callID.String()),
		zap.String("path", path))

	return path, nil
}

// Active reports whether a recording is currently in progress
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
