// Package gate runs the one-time capability and permission check that every
// other capture feature depends on.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/media"
)

const (
	MsgNoMediaDevices = "Your device does not support camera or microphone access."
	MsgNoRecorder     = "Your system does not support media recording."
	MsgAccessDenied   = "Access to the webcam or microphone is denied. Please enable them."
)

// State is the outcome of the check. Err is one of media.ErrCapabilityMissing
// or media.ErrAccessDenied when access was not granted.
type State struct {
	Checked bool
	Granted bool
	Message string
	Err     error
}

// Authorizer asks the OS for permission before devices are opened.
type Authorizer func(ctx context.Context, video, audio bool) error

type Gate struct {
	devices   media.Devices
	authorize Authorizer
	log       zerolog.Logger

	once  sync.Once
	mu    sync.Mutex
	state State
}

func New(devices media.Devices, authorize Authorizer, log zerolog.Logger) *Gate {
	return &Gate{devices: devices, authorize: authorize, log: log}
}

// Check verifies capabilities and requests combined camera and microphone
// access. It runs once; later calls return the first result and a nil
// stream. On success the caller owns the returned stream.
func (g *Gate) Check(ctx context.Context, facing media.FacingMode) (State, media.Stream) {
	var stream media.Stream
	g.once.Do(func() {
		var st State
		st, stream = g.check(ctx, facing)
		st.Checked = true

		g.mu.Lock()
		g.state = st
		g.mu.Unlock()
	})
	return g.State(), stream
}

// State returns the result of Check, or a zero State before it has run.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) check(ctx context.Context, facing media.FacingMode) (State, media.Stream) {
	caps := g.devices.Capabilities()
	if !caps.MediaDevices {
		g.log.Error().Msg("No media device access available")
		return State{Message: MsgNoMediaDevices, Err: fmt.Errorf("%w: media devices", media.ErrCapabilityMissing)}, nil
	}
	if !caps.MediaRecorder {
		g.log.Error().Msg("No media recorder available")
		return State{Message: MsgNoRecorder, Err: fmt.Errorf("%w: media recorder", media.ErrCapabilityMissing)}, nil
	}

	if g.authorize != nil {
		if err := g.authorize(ctx, true, true); err != nil {
			g.log.Warn().Err(err).Msg("Permission refused")
			return denied(err), nil
		}
	}

	stream, err := g.devices.GetUserMedia(ctx, media.Constraints{Video: true, Audio: true, Facing: facing})
	if err != nil {
		g.log.Warn().Err(err).Msg("Device access failed")
		if errors.Is(err, media.ErrCapabilityMissing) {
			return State{Message: MsgNoRecorder, Err: err}, nil
		}
		return denied(err), nil
	}

	g.log.Info().Str("stream", stream.ID()).Msg("Camera and microphone access granted")
	return State{Granted: true}, stream
}

func denied(err error) State {
	if !errors.Is(err, media.ErrAccessDenied) {
		err = fmt.Errorf("%w: %v", media.ErrAccessDenied, err)
	}
	return State{Message: MsgAccessDenied, Err: err}
}
