// Package preview owns the live camera stream: which camera it comes from,
// whether it carries audio, and the frames shown to the user.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/petems/capture-tray/internal/media"
)

type Options struct {
	Facing       media.FacingMode
	IncludeAudio bool
	// Width and Height are the display area preview frames are fitted into.
	Width       int
	Height      int
	JPEGQuality int
	Logger      zerolog.Logger
}

// Preview holds at most one live stream. Replacing the stream always
// releases the old one before the next is acquired, so a camera is never
// held twice.
type Preview struct {
	devices media.Devices
	log     zerolog.Logger
	width   int
	height  int
	quality int

	mu     sync.Mutex
	facing media.FacingMode
	audio  bool
	stream media.Stream
	closed bool
}

func New(devices media.Devices, opts Options) *Preview {
	facing := opts.Facing
	if !facing.Valid() {
		facing = media.FacingUser
	}
	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Preview{
		devices: devices,
		log:     opts.Logger,
		width:   opts.Width,
		height:  opts.Height,
		quality: quality,
		facing:  facing,
		audio:   opts.IncludeAudio,
	}
}

// Attach adopts a stream acquired elsewhere (the gate's). A stream that
// doesn't match the wanted audio setting is replaced.
func (p *Preview) Attach(ctx context.Context, s media.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		s.Close()
		return fmt.Errorf("%w: preview closed", media.ErrStreamUnavailable)
	}

	p.releaseLocked()
	p.stream = s
	if f := s.Facing(); f.Valid() {
		p.facing = f
	}

	if (s.Audio() != nil) != p.audio {
		return p.acquireLocked(ctx)
	}
	p.log.Info().Str("stream", s.ID()).Msg("Preview attached")
	return nil
}

// Stream returns the live stream or nil.
func (p *Preview) Stream() media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

func (p *Preview) Live() bool {
	return p.Stream() != nil
}

func (p *Preview) Facing() media.FacingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.facing
}

func (p *Preview) IncludeAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audio
}

// SwitchCamera toggles the facing mode and re-acquires the stream from the
// newly selected camera. The facing mode changes even if re-acquisition
// fails; the preview is then not live.
func (p *Preview) SwitchCamera(ctx context.Context) (media.FacingMode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.facing = p.facing.Toggle()
	p.log.Info().Str("facing", string(p.facing)).Msg("Switching camera")
	return p.facing, p.reacquireLocked(ctx)
}

// SetIncludeAudio changes whether the preview stream carries audio.
func (p *Preview) SetIncludeAudio(ctx context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audio == on {
		return nil
	}
	p.audio = on
	return p.reacquireLocked(ctx)
}

// Restart re-acquires a live stream, picking up changed device settings.
func (p *Preview) Restart(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reacquireLocked(ctx)
}

func (p *Preview) reacquireLocked(ctx context.Context) error {
	if p.closed {
		return fmt.Errorf("%w: preview closed", media.ErrStreamUnavailable)
	}
	// Only a live preview is re-acquired; before the gate grants access there
	// is nothing to replace.
	if p.stream == nil {
		return nil
	}
	return p.acquireLocked(ctx)
}

func (p *Preview) acquireLocked(ctx context.Context) error {
	p.releaseLocked()

	s, err := p.devices.GetUserMedia(ctx, media.Constraints{Video: true, Audio: p.audio, Facing: p.facing})
	if err != nil {
		p.log.Error().Err(err).Str("facing", string(p.facing)).Msg("Failed to acquire preview stream")
		return err
	}
	p.stream = s
	p.log.Info().Str("stream", s.ID()).Str("facing", string(p.facing)).Bool("audio", p.audio).Msg("Preview stream acquired")
	return nil
}

func (p *Preview) releaseLocked() {
	if p.stream == nil {
		return
	}
	if err := p.stream.Close(); err != nil {
		p.log.Warn().Err(err).Str("stream", p.stream.ID()).Msg("Failed to release stream")
	}
	p.stream = nil
}

// Close releases the stream. The preview cannot be used afterwards.
func (p *Preview) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.stream != nil {
		err = p.stream.Close()
		p.stream = nil
	}
	p.closed = true
	return err
}

func (p *Preview) grab() (image.Image, func(), error) {
	s := p.Stream()
	if s == nil || s.Video() == nil {
		return nil, nil, media.ErrStreamUnavailable
	}
	fr, err := s.Video().NewFrameReader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", media.ErrStreamUnavailable, err)
	}
	img, release, err := fr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", media.ErrStreamUnavailable, err)
	}
	return img, release, nil
}

// Screenshot grabs one frame at the camera's resolution as JPEG.
func (p *Preview) Screenshot() ([]byte, error) {
	img, release, err := p.grab()
	if err != nil {
		return nil, err
	}
	defer release()
	return p.encode(img)
}

// Frame grabs one frame fitted into the display area as JPEG.
func (p *Preview) Frame() ([]byte, error) {
	img, release, err := p.grab()
	if err != nil {
		return nil, err
	}
	defer release()
	return p.encode(Fit(img, p.width, p.height))
}

func (p *Preview) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Frames calls fn with a display-sized frame every interval until ctx ends or
// fn fails. Intervals without a live stream are skipped.
func (p *Preview) Frames(ctx context.Context, interval time.Duration, fn func([]byte) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := p.Frame()
		if errors.Is(err, media.ErrStreamUnavailable) {
			continue
		}
		if err != nil {
			p.log.Debug().Err(err).Msg("Preview frame failed")
			continue
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

// Fit scales img to fit within w x h keeping its aspect ratio. Images that
// already fit, or a zero box, are returned unchanged.
func Fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if w <= 0 || h <= 0 || (b.Dx() <= w && b.Dy() <= h) {
		return img
	}

	dw, dh := w, b.Dy()*w/b.Dx()
	if dh > h {
		dw, dh = b.Dx()*h/b.Dy(), h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
