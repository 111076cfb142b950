// Package mediatest provides in-memory devices, streams and recorders for
// tests that must run without cameras or microphones.
package mediatest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/petems/capture-tray/internal/media"
)

// Track is a fake track. Frames pushed with Push reach every open encoded
// reader; frame readers return a solid test image.
type Track struct {
	kind   media.Kind
	format media.TrackFormat
	img    image.Image

	mu      sync.Mutex
	readers []*encodedReader
	closed  bool
	done    chan struct{}
}

func NewVideoTrack(width, height int) *Track {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return &Track{
		kind:   media.KindVideo,
		format: media.TrackFormat{CodecID: "V_VP8", Width: width, Height: height},
		img:    img,
		done:   make(chan struct{}),
	}
}

func NewAudioTrack(sampleRate float64, channels int) *Track {
	return &Track{
		kind:   media.KindAudio,
		format: media.TrackFormat{CodecID: "A_PCM/FLOAT/IEEE", SampleRate: sampleRate, Channels: channels},
		done:   make(chan struct{}),
	}
}

func (t *Track) Kind() media.Kind          { return t.kind }
func (t *Track) Format() media.TrackFormat { return t.format }

func (t *Track) NewEncodedReader() (media.EncodedReader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("track closed: %w", io.EOF)
	}
	r := &encodedReader{
		frames: make(chan media.EncodedFrame, 256),
		done:   make(chan struct{}),
		track:  t.done,
	}
	t.readers = append(t.readers, r)
	return r, nil
}

func (t *Track) NewFrameReader() (media.FrameReader, error) {
	if t.img == nil {
		return nil, fmt.Errorf("not a video track")
	}
	return frameReader{t: t}, nil
}

// Push delivers f to every open reader.
func (t *Track) Push(f media.EncodedFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.readers {
		select {
		case r.frames <- f:
		case <-r.done:
		}
	}
}

// OpenReaders counts encoded readers that have not been closed.
func (t *Track) OpenReaders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.readers {
		select {
		case <-r.done:
		default:
			n++
		}
	}
	return n
}

func (t *Track) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type encodedReader struct {
	frames chan media.EncodedFrame
	done   chan struct{}
	track  chan struct{}
	once   sync.Once
}

func (r *encodedReader) Read() (media.EncodedFrame, error) {
	select {
	case f := <-r.frames:
		return f, nil
	default:
	}
	select {
	case f := <-r.frames:
		return f, nil
	case <-r.done:
		return media.EncodedFrame{}, io.EOF
	case <-r.track:
		return media.EncodedFrame{}, io.EOF
	}
}

func (r *encodedReader) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

type frameReader struct {
	t *Track
}

func (f frameReader) Read() (image.Image, func(), error) {
	if f.t.Closed() {
		return nil, func() {}, io.EOF
	}
	return f.t.img, func() {}, nil
}

// Stream is a fake media.Stream.
type Stream struct {
	id     string
	facing media.FacingMode
	video  *Track
	audio  *Track

	mu     sync.Mutex
	closes int
}

func NewStream(id string, facing media.FacingMode, video, audio *Track) *Stream {
	return &Stream{id: id, facing: facing, video: video, audio: audio}
}

func (s *Stream) ID() string               { return s.id }
func (s *Stream) Facing() media.FacingMode { return s.facing }
func (s *Stream) VideoTrack() *Track       { return s.video }
func (s *Stream) AudioTrack() *Track       { return s.audio }

func (s *Stream) Video() media.VideoTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *Stream) Audio() media.Track {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.video != nil {
		s.video.Close()
	}
	if s.audio != nil {
		s.audio.Close()
	}
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

// Devices is a fake media.Devices that records every request.
type Devices struct {
	Caps media.Capabilities
	// Err, when set, fails every GetUserMedia call.
	Err error
	// AudioErr, when set, fails audio-only requests.
	AudioErr error

	mu       sync.Mutex
	requests []media.Constraints
	streams  []*Stream
}

func NewDevices() *Devices {
	return &Devices{Caps: media.Capabilities{MediaDevices: true, MediaRecorder: true}}
}

func (d *Devices) Capabilities() media.Capabilities { return d.Caps }

func (d *Devices) GetUserMedia(ctx context.Context, c media.Constraints) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, c)
	if d.Err != nil {
		return nil, d.Err
	}
	if !c.Video && d.AudioErr != nil {
		return nil, d.AudioErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var video, audio *Track
	if c.Video {
		video = NewVideoTrack(64, 48)
	}
	if c.Audio {
		audio = NewAudioTrack(48000, 1)
	}
	facing := c.Facing
	if !c.Video {
		facing = ""
	}
	s := NewStream(fmt.Sprintf("stream-%d", len(d.streams)+1), facing, video, audio)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *Devices) Requests() []media.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]media.Constraints(nil), d.requests...)
}

func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// OpenStreams returns streams that have not been closed.
func (d *Devices) OpenStreams() []*Stream {
	var open []*Stream
	for _, s := range d.Streams() {
		if !s.Closed() {
			open = append(open, s)
		}
	}
	return open
}

// Recorder is a fake media.Recorder driven by Emit and End.
type Recorder struct {
	Stream   media.Stream
	StartErr error
	StopErr  error

	mime    string
	chunks  chan media.Chunk
	mu      sync.Mutex
	started bool
	ended   bool
	seq     int
}

func NewRecorder(stream media.Stream, mimeType string) *Recorder {
	return &Recorder{Stream: stream, mime: mimeType, chunks: make(chan media.Chunk, 64)}
}

func (r *Recorder) MimeType() string { return r.mime }

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.started {
		return media.ErrInvalidState
	}
	r.started = true
	return nil
}

func (r *Recorder) Stop() error {
	r.End()
	return r.StopErr
}

func (r *Recorder) Chunks() <-chan media.Chunk { return r.chunks }

// Emit delivers one chunk. It is a no-op after End.
func (r *Recorder) Emit(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.seq++
	r.chunks <- media.Chunk{Seq: r.seq, Data: data}
}

// End closes the chunk channel as a recorder does once finalized.
func (r *Recorder) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ended {
		r.ended = true
		close(r.chunks)
	}
}

func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Recorder) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Factory hands out fake recorders and remembers them.
type Factory struct {
	Err error

	mu        sync.Mutex
	recorders []*Recorder
}

func (f *Factory) New(stream media.Stream, mimeType string) (media.Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	r := NewRecorder(stream, mimeType)
	f.recorders = append(f.recorders, r)
	return r, nil
}

func (f *Factory) Last() *Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recorders) == 0 {
		return nil
	}
	return f.recorders[len(f.recorders)-1]
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorders)
}
