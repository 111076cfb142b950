// Package capture implements the capture workflow: still images, buffered
// video recordings and per-chunk audio recordings.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/artifact"
	"github.com/petems/capture-tray/internal/media"
)

const (
	MsgStreamUnavailable = "Unable to access the webcam stream."
	MsgMicrophone        = "Failed to access the microphone."
	MsgRecorder          = "Unable to start the recorder."
	MsgSaveFailed        = "Failed to save %s."
)

// ErrNothingToSave is returned by SaveImage and SaveVideo when there is no
// image or no buffered video.
var ErrNothingToSave = errors.New("nothing to save")

type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Source is the live preview the controller captures from.
type Source interface {
	Stream() media.Stream
	Screenshot() ([]byte, error)
	Facing() media.FacingMode
	SwitchCamera(ctx context.Context) (media.FacingMode, error)
}

// Saver persists artifacts. artifact.Saver implements it.
type Saver interface {
	Save(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

type Config struct {
	Source Source
	// Devices provides the audio-only stream for audio recordings.
	Devices     media.Devices
	NewRecorder media.RecorderFactory
	Saver       Saver
	Logger      zerolog.Logger
	// OnChange, if set, is called after every state change. It must not call
	// back into the controller synchronously with a blocking operation.
	OnChange func(View)
}

// View is a snapshot of the controller for rendering controls.
type View struct {
	State  State
	Kind   media.Kind
	Facing media.FacingMode
	Live   bool
	Chunks int
	// SaveVideoVisible is true while recorded video chunks are buffered.
	SaveVideoVisible bool
	Image            *artifact.Artifact
	Video            *artifact.Artifact
	Audio            *artifact.Artifact
	Error            string
}

func (v View) Recording(kind media.Kind) bool {
	return v.State == StateRecording && v.Kind == kind
}

// Controller is the Idle / Recording(kind) state machine. All methods are
// safe for concurrent use.
type Controller struct {
	cfg    Config
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	kind      media.Kind
	stopping  bool
	acquiring bool
	closed    bool
	rec       media.Recorder
	pumpDone  chan struct{}
	audio     media.Stream
	chunks    [][]byte
	image     *artifact.Artifact
	video     *artifact.Artifact
	lastAudio *artifact.Artifact
	errMsg    string
}

func New(cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// CaptureImage grabs one frame from the live preview as JPEG and keeps it as
// the captured image. Without a live stream the previous image is kept.
func (c *Controller) CaptureImage(ctx context.Context) (*artifact.Artifact, error) {
	data, err := c.cfg.Source.Screenshot()
	if err != nil {
		c.fail(MsgStreamUnavailable)
		c.log.Error().Err(err).Msg("Failed to capture image")
		if !errors.Is(err, media.ErrStreamUnavailable) {
			err = fmt.Errorf("%w: %v", media.ErrStreamUnavailable, err)
		}
		c.changed()
		return nil, err
	}

	img := &artifact.Artifact{Name: artifact.ImageFilename, MimeType: media.MimeImageJPEG, Data: data}
	c.mu.Lock()
	c.image = img
	c.errMsg = ""
	c.mu.Unlock()

	c.log.Info().Int("bytes", len(data)).Msg("Image captured")
	c.changed()
	return img, nil
}

// SaveImage writes the captured image as captured-image.jpg.
func (c *Controller) SaveImage(ctx context.Context) (*artifact.Artifact, error) {
	c.mu.Lock()
	img := c.image
	c.mu.Unlock()
	if img == nil {
		return nil, ErrNothingToSave
	}

	saved, err := c.save(ctx, img)

	c.mu.Lock()
	if c.image == img {
		c.image = saved
	}
	c.mu.Unlock()
	c.changed()
	return saved, err
}

// StartVideoRecording records the preview stream as video/webm. Chunks are
// buffered until SaveVideo.
func (c *Controller) StartVideoRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.changed()
	defer c.mu.Unlock()

	if err := c.canStartLocked(); err != nil {
		return err
	}

	stream := c.cfg.Source.Stream()
	if stream == nil {
		c.errMsg = MsgStreamUnavailable
		c.log.Error().Msg("Cannot record video without a live stream")
		return fmt.Errorf("%w: no live preview", media.ErrStreamUnavailable)
	}

	rec, err := c.startRecorder(stream, media.MimeVideoWebM)
	if err != nil {
		return err
	}

	if n := len(c.chunks); n > 0 {
		c.log.Warn().Int("chunks", n).Msg("Discarding unsaved video")
	}
	c.chunks = nil
	c.beginLocked(rec, media.KindVideo)
	return nil
}

// StartAudioRecording acquires a fresh audio-only stream and records it as
// audio/webm. Every chunk is saved as its own recorded-audio.webm.
func (c *Controller) StartAudioRecording(ctx context.Context) error {
	c.mu.Lock()
	if err := c.canStartLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.acquiring = true
	c.mu.Unlock()

	stream, err := c.cfg.Devices.GetUserMedia(ctx, media.Constraints{Audio: true})

	c.mu.Lock()
	defer c.changed()
	defer c.mu.Unlock()
	c.acquiring = false

	if err != nil {
		c.errMsg = MsgMicrophone
		c.log.Error().Err(err).Msg("Failed to acquire microphone")
		return err
	}
	if c.closed {
		stream.Close()
		return fmt.Errorf("%w: controller closed", media.ErrInvalidState)
	}

	rec, err := c.startRecorder(stream, media.MimeAudioWebM)
	if err != nil {
		stream.Close()
		return err
	}

	c.audio = stream
	c.beginLocked(rec, media.KindAudio)
	return nil
}

func (c *Controller) canStartLocked() error {
	switch {
	case c.closed:
		return fmt.Errorf("%w: controller closed", media.ErrInvalidState)
	case c.state == StateRecording, c.stopping:
		return fmt.Errorf("%w: already recording %s", media.ErrInvalidState, c.kind)
	case c.acquiring:
		return fmt.Errorf("%w: microphone request in progress", media.ErrInvalidState)
	}
	return nil
}

// startRecorder must be called with c.mu held.
func (c *Controller) startRecorder(stream media.Stream, mimeType string) (media.Recorder, error) {
	rec, err := c.cfg.NewRecorder(stream, mimeType)
	if err == nil {
		err = rec.Start(c.ctx)
	}
	if err != nil {
		c.errMsg = MsgRecorder
		c.log.Error().Err(err).Str("mime", mimeType).Msg("Failed to start recorder")
		if !errors.Is(err, media.ErrRecorderFailure) && !errors.Is(err, media.ErrStreamUnavailable) {
			err = fmt.Errorf("%w: %v", media.ErrRecorderFailure, err)
		}
		return nil, err
	}
	return rec, nil
}

// beginLocked must be called with c.mu held.
func (c *Controller) beginLocked(rec media.Recorder, kind media.Kind) {
	c.state = StateRecording
	c.kind = kind
	c.rec = rec
	c.errMsg = ""
	c.pumpDone = make(chan struct{})
	go c.pump(rec, kind, c.pumpDone)
	c.log.Info().Str("kind", kind.String()).Msg("Recording started")
}

// pump consumes recorder chunks in delivery order until the recorder closes
// its channel, then returns the controller to Idle.
func (c *Controller) pump(rec media.Recorder, kind media.Kind, done chan struct{}) {
	defer close(done)

	for chunk := range rec.Chunks() {
		if len(chunk.Data) == 0 {
			continue
		}
		switch kind {
		case media.KindVideo:
			c.mu.Lock()
			c.chunks = append(c.chunks, chunk.Data)
			c.mu.Unlock()
			c.log.Debug().Int("seq", chunk.Seq).Int("bytes", len(chunk.Data)).Msg("Video chunk buffered")
			c.changed()
		case media.KindAudio:
			c.saveAudioChunk(chunk.Data)
		}
	}

	c.mu.Lock()
	var stream media.Stream
	if c.rec == rec {
		c.state = StateIdle
		c.rec = nil
		stream, c.audio = c.audio, nil
	}
	n := len(c.chunks)
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to release microphone")
		}
	}
	c.log.Info().Str("kind", kind.String()).Int("buffered", n).Msg("Recording ended")
	c.changed()
}

func (c *Controller) saveAudioChunk(data []byte) {
	a := &artifact.Artifact{Name: artifact.AudioFilename, MimeType: media.MimeAudioWebM, Data: data}
	// save logs the failure and fills the error slot; recording goes on.
	saved, _ := c.save(c.ctx, a)

	c.mu.Lock()
	c.lastAudio = saved
	c.mu.Unlock()
	c.changed()
}

// StopRecording stops the active recorder and returns once every chunk it
// delivered has been handled. A video recording's chunks stay buffered.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording || c.stopping {
		c.mu.Unlock()
		return fmt.Errorf("%w: not recording", media.ErrInvalidState)
	}
	c.stopping = true
	rec, done, kind := c.rec, c.pumpDone, c.kind
	c.mu.Unlock()

	err := rec.Stop()
	if errors.Is(err, media.ErrInvalidState) {
		// The recorder already finalized on its own.
		err = nil
	}
	<-done

	c.mu.Lock()
	c.stopping = false
	if err != nil {
		c.errMsg = MsgRecorder
		if !errors.Is(err, media.ErrRecorderFailure) {
			err = fmt.Errorf("%w: %v", media.ErrRecorderFailure, err)
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Str("kind", kind.String()).Msg("Recorder failed to stop cleanly")
	}
	c.changed()
	return err
}

// SaveVideo joins the buffered chunks in delivery order, saves them as
// recorded-video.webm and clears the buffer.
func (c *Controller) SaveVideo(ctx context.Context) (*artifact.Artifact, error) {
	c.mu.Lock()
	if c.state == StateRecording || c.stopping {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: recording not stopped", media.ErrInvalidState)
	}
	if len(c.chunks) == 0 {
		c.mu.Unlock()
		return nil, ErrNothingToSave
	}
	data := bytes.Join(c.chunks, nil)
	c.chunks = nil
	c.mu.Unlock()

	v := &artifact.Artifact{Name: artifact.VideoFilename, MimeType: media.MimeVideoWebM, Data: data}
	saved, err := c.save(ctx, v)

	c.mu.Lock()
	c.video = saved
	c.mu.Unlock()
	c.changed()
	return saved, err
}

// SwitchCamera toggles the preview between the user and environment cameras.
// A video recording of the old stream ends with its chunks kept.
func (c *Controller) SwitchCamera(ctx context.Context) (media.FacingMode, error) {
	facing, err := c.cfg.Source.SwitchCamera(ctx)
	if err != nil {
		c.fail(MsgStreamUnavailable)
		c.log.Error().Err(err).Str("facing", string(facing)).Msg("Failed to switch camera")
	}
	c.changed()
	return facing, err
}

// save returns a copy of a carrying the saved path. On failure the copy has
// no path and the error slot is set.
func (c *Controller) save(ctx context.Context, a *artifact.Artifact) (*artifact.Artifact, error) {
	saved := *a
	path, err := c.cfg.Saver.Save(ctx, a.Name, a.MimeType, a.Data)
	if err != nil {
		c.fail(fmt.Sprintf(MsgSaveFailed, a.Name))
		c.log.Error().Err(err).Str("file", a.Name).Msg("Failed to save artifact")
		return &saved, err
	}
	saved.Path = path
	return &saved, nil
}

func (c *Controller) fail(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
}

// LastError returns the user-visible error message, or "".
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		State:            c.state,
		Kind:             c.kind,
		Chunks:           len(c.chunks),
		SaveVideoVisible: len(c.chunks) > 0,
		Image:            c.image,
		Video:            c.video,
		Audio:            c.lastAudio,
		Error:            c.errMsg,
	}
	c.mu.Unlock()

	v.Facing = c.cfg.Source.Facing()
	v.Live = c.cfg.Source.Stream() != nil
	return v
}

func (c *Controller) changed() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(c.View())
	}
}

// Close stops any recording and releases the audio-only stream. Buffered
// chunks are discarded.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rec, done := c.rec, c.pumpDone
	c.mu.Unlock()

	var errs *multierror.Error
	if rec != nil {
		if err := rec.Stop(); err != nil && !errors.Is(err, media.ErrInvalidState) {
			errs = multierror.Append(errs, fmt.Errorf("stop recorder: %w", err))
		}
		<-done
	}
	c.cancel()

	c.mu.Lock()
	c.chunks = nil
	c.mu.Unlock()

	c.log.Info().Msg("Capture controller closed")
	return errs.ErrorOrNil()
}
