// Package media holds the device-facing types shared by the preview, the
// recorder and the capture controller.
package media

import (
	"context"
	"errors"
	"image"
	"time"
)

const (
	MimeVideoWebM = "video/webm"
	MimeAudioWebM = "audio/webm"
	MimeImageJPEG = "image/jpeg"
)

var (
	// ErrCapabilityMissing means the platform lacks a media API entirely.
	ErrCapabilityMissing = errors.New("capability missing")
	// ErrAccessDenied covers refused permission, absent hardware and devices that fail to open.
	ErrAccessDenied = errors.New("access denied")
	// ErrStreamUnavailable is returned when an action needs a live stream and none is attached.
	ErrStreamUnavailable = errors.New("stream unavailable")
	// ErrRecorderFailure wraps recorder construction, start and stop failures.
	ErrRecorderFailure = errors.New("recorder failure")
	// ErrInvalidState is returned for transitions the current state does not allow.
	ErrInvalidState = errors.New("invalid state")
)

// FacingMode selects the physical camera.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Toggle returns the other facing mode. Anything that isn't environment
// toggles to environment.
func (f FacingMode) Toggle() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

func (f FacingMode) Valid() bool {
	return f == FacingUser || f == FacingEnvironment
}

type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Constraints describes what GetUserMedia should acquire.
type Constraints struct {
	Video  bool
	Audio  bool
	Facing FacingMode
}

// Capabilities reports which platform media APIs exist.
type Capabilities struct {
	MediaDevices  bool
	MediaRecorder bool
}

// Devices is the platform's user-media API.
type Devices interface {
	Capabilities() Capabilities
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// TrackFormat describes the encoded output of a track in Matroska terms.
type TrackFormat struct {
	CodecID    string
	Width      int
	Height     int
	SampleRate float64
	Channels   int
}

// EncodedFrame is one unit of encoded media.
type EncodedFrame struct {
	Data     []byte
	Keyframe bool
}

type EncodedReader interface {
	// Read blocks until a frame is available. It returns io.EOF once the
	// reader or its track is closed.
	Read() (EncodedFrame, error)
	Close() error
}

// FrameReader yields decoded video frames. release must be called once the
// frame is no longer used.
type FrameReader interface {
	Read() (img image.Image, release func(), err error)
}

type Track interface {
	Kind() Kind
	Format() TrackFormat
	NewEncodedReader() (EncodedReader, error)
}

type VideoTrack interface {
	Track
	NewFrameReader() (FrameReader, error)
}

// Stream is a set of live tracks acquired from devices. Close releases every
// underlying device handle; calling it more than once is safe.
type Stream interface {
	ID() string
	Facing() FacingMode
	Video() VideoTrack
	Audio() Track
	Close() error
}

// Chunk is a piece of recorder output, delivered in order.
type Chunk struct {
	Seq  int
	Data []byte
	At   time.Time
}

// Recorder turns a stream into chunks of a container format.
type Recorder interface {
	MimeType() string
	Start(ctx context.Context) error
	Stop() error
	Chunks() <-chan Chunk
}

// RecorderFactory creates a recorder bound to stream.
type RecorderFactory func(stream Stream, mimeType string) (Recorder, error)
