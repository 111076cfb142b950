// Package device implements media.Devices on real hardware: cameras through
// pion/mediadevices and microphones through PortAudio.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/media"
)

// Device is an input device as shown in the tray menus.
type Device struct {
	ID      string
	Label   string
	Kind    media.Kind
	Default bool
}

// Platform is the desktop implementation of media.Devices.
type Platform struct {
	log zerolog.Logger

	mu       sync.Mutex
	video    config.VideoConfig
	audio    config.AudioConfig
	audioErr error
	vp8      *vpx.VP8Params
	codecErr error
	seq      atomic.Int64
}

// NewPlatform initializes PortAudio and the VP8 encoder. Failures are not
// returned; they surface through Capabilities so the gate can report them.
func NewPlatform(cfg *config.Config, log zerolog.Logger) *Platform {
	p := &Platform{
		log:   log,
		video: cfg.Video,
		audio: cfg.Audio,
	}

	if err := portaudio.Initialize(); err != nil {
		p.audioErr = fmt.Errorf("failed to initialize PortAudio: %w", err)
		log.Error().Err(err).Msg("Audio host unavailable")
	}

	vp8, err := newVP8Params(cfg.Video.BitRate)
	if err != nil {
		p.codecErr = err
		log.Error().Err(err).Msg("VP8 encoder unavailable")
	} else {
		p.vp8 = vp8
	}

	return p
}

func (p *Platform) Capabilities() media.Capabilities {
	return media.Capabilities{
		MediaDevices:  p.audioErr == nil,
		MediaRecorder: p.vp8 != nil,
	}
}

// SetVideoConfig and SetAudioConfig take effect on the next GetUserMedia.
func (p *Platform) SetVideoConfig(cfg config.VideoConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.video = cfg
}

func (p *Platform) SetAudioConfig(cfg config.AudioConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio = cfg
}

// GetUserMedia opens the requested devices. Any failure to open a device is
// reported as media.ErrAccessDenied, with nothing left open.
func (p *Platform) GetUserMedia(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Video && !c.Audio {
		return nil, fmt.Errorf("%w: no media requested", media.ErrAccessDenied)
	}

	p.mu.Lock()
	videoCfg, audioCfg := p.video, p.audio
	p.mu.Unlock()

	s := &stream{
		id:     fmt.Sprintf("stream-%d", p.seq.Add(1)),
		facing: c.Facing,
		log:    p.log,
	}

	if c.Video {
		if p.vp8 == nil {
			return nil, fmt.Errorf("%w: %v", media.ErrCapabilityMissing, p.codecErr)
		}
		dev, ok := pickCamera(ListCameras(), preferredCamera(videoCfg, c.Facing), c.Facing)
		if !ok {
			return nil, fmt.Errorf("%w: no camera found", media.ErrAccessDenied)
		}
		cam, ms, err := openCamera(dev.ID, videoCfg, p.vp8)
		if err != nil {
			return nil, fmt.Errorf("%w: camera %s: %v", media.ErrAccessDenied, dev.Label, err)
		}
		s.camera, s.cameraStream = cam, ms
		p.log.Info().Str("camera", dev.Label).Str("facing", string(c.Facing)).Msg("Camera opened")
	}

	if c.Audio {
		if p.audioErr != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %v", media.ErrCapabilityMissing, p.audioErr)
		}
		mic, err := openMicrophone(audioCfg, p.log)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: microphone: %v", media.ErrAccessDenied, err)
		}
		s.mic = mic
	}

	return s, nil
}

// Close releases the audio host.
func (p *Platform) Close() error {
	if p.audioErr == nil {
		return portaudio.Terminate()
	}
	return nil
}

func preferredCamera(cfg config.VideoConfig, f media.FacingMode) string {
	if f == media.FacingEnvironment {
		return cfg.EnvironmentDeviceID
	}
	return cfg.UserDeviceID
}

// pickCamera resolves a facing mode to a camera. A configured id or label
// wins; otherwise the first camera is "user" and the second "environment".
// Like a non-exact facingMode constraint, a missing second camera falls back
// to the first.
func pickCamera(cams []Device, preferred string, f media.FacingMode) (Device, bool) {
	if len(cams) == 0 {
		return Device{}, false
	}
	if preferred != "" {
		for _, c := range cams {
			if c.ID == preferred || c.Label == preferred {
				return c, true
			}
		}
	}
	if f == media.FacingEnvironment && len(cams) > 1 {
		return cams[1], true
	}
	return cams[0], true
}

type stream struct {
	id     string
	facing media.FacingMode
	log    zerolog.Logger

	camera       *camera
	cameraStream mediadevices.MediaStream
	mic          *microphone

	once sync.Once
	err  error
}

func (s *stream) ID() string               { return s.id }
func (s *stream) Facing() media.FacingMode { return s.facing }

func (s *stream) Video() media.VideoTrack {
	if s.camera == nil {
		return nil
	}
	return s.camera
}

func (s *stream) Audio() media.Track {
	if s.mic == nil {
		return nil
	}
	return s.mic
}

// Close stops every track and waits until the microphone is released.
func (s *stream) Close() error {
	s.once.Do(func() {
		var errs *multierror.Error
		if s.cameraStream != nil {
			if err := closeTracks(s.cameraStream); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close camera: %w", err))
			}
		}
		if s.mic != nil {
			s.mic.Close()
			s.mic.wait()
		}
		s.err = errs.ErrorOrNil()
		s.log.Debug().Str("stream", s.id).Msg("Stream released")
	})
	return s.err
}
