// Package recorder turns a media.Stream into WebM chunks, in the manner of a
// browser MediaRecorder: chunks are delivered in order on a channel and their
// concatenation is one complete file.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/media"
)

const (
	trackTypeVideo = 1
	trackTypeAudio = 2

	// finalizeTimeout bounds the wait for the muxer to flush on stop.
	finalizeTimeout = 2 * time.Second
)

type Options struct {
	// Timeslice emits a chunk every interval. Zero emits one chunk on stop.
	Timeslice time.Duration
	Logger    zerolog.Logger
}

// IsTypeSupported reports whether New accepts mimeType.
func IsTypeSupported(mimeType string) bool {
	return mimeType == media.MimeVideoWebM || mimeType == media.MimeAudioWebM
}

// Factory adapts New to media.RecorderFactory.
func Factory(opts Options) media.RecorderFactory {
	return func(stream media.Stream, mimeType string) (media.Recorder, error) {
		return New(stream, mimeType, opts)
	}
}

type state int

const (
	stateInactive state = iota
	stateRecording
	stateStopped
)

type source struct {
	track  media.Track
	reader media.EncodedReader
}

type sample struct {
	track int
	frame media.EncodedFrame
}

type Recorder struct {
	mime    string
	opts    Options
	log     zerolog.Logger
	tracks  []media.Track
	sources []source
	chunks  chan media.Chunk

	mu    sync.Mutex
	state state
	stop  chan struct{}
	done  chan struct{}
	err   error
}

// New creates a recorder for stream. video/webm needs a video track and also
// records the stream's audio when present; audio/webm needs an audio track.
func New(stream media.Stream, mimeType string, opts Options) (*Recorder, error) {
	if !IsTypeSupported(mimeType) {
		return nil, fmt.Errorf("%w: unsupported mime type %q", media.ErrRecorderFailure, mimeType)
	}
	if stream == nil {
		return nil, fmt.Errorf("%w: no stream", media.ErrStreamUnavailable)
	}

	var tracks []media.Track
	switch mimeType {
	case media.MimeVideoWebM:
		v := stream.Video()
		if v == nil {
			return nil, fmt.Errorf("%w: stream %s has no video track", media.ErrRecorderFailure, stream.ID())
		}
		tracks = append(tracks, v)
		if a := stream.Audio(); a != nil {
			tracks = append(tracks, a)
		}
	case media.MimeAudioWebM:
		a := stream.Audio()
		if a == nil {
			return nil, fmt.Errorf("%w: stream %s has no audio track", media.ErrRecorderFailure, stream.ID())
		}
		tracks = append(tracks, a)
	}

	return &Recorder{
		mime:   mimeType,
		opts:   opts,
		log:    opts.Logger.With().Str("mime", mimeType).Str("stream", stream.ID()).Logger(),
		tracks: tracks,
		chunks: make(chan media.Chunk, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (r *Recorder) MimeType() string { return r.mime }

// Chunks is closed after the final chunk.
func (r *Recorder) Chunks() <-chan media.Chunk { return r.chunks }

// Start opens encoded readers on every track and begins muxing.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateInactive {
		return fmt.Errorf("%w: recorder already started", media.ErrInvalidState)
	}

	for _, t := range r.tracks {
		rd, err := t.NewEncodedReader()
		if err != nil {
			r.closeReaders()
			return fmt.Errorf("%w: failed to open %s reader: %v", media.ErrRecorderFailure, t.Kind(), err)
		}
		r.sources = append(r.sources, source{track: t, reader: rd})
	}

	out := newChunkWriter()
	writers, err := webm.NewSimpleBlockWriter(out, trackEntries(r.tracks))
	if err != nil {
		r.closeReaders()
		return fmt.Errorf("%w: failed to create webm writer: %v", media.ErrRecorderFailure, err)
	}

	r.state = stateRecording

	samples := make(chan sample)
	ended := make(chan int, len(r.sources))
	quit := make(chan struct{})
	for i, s := range r.sources {
		go r.readLoop(i, s.reader, samples, ended, quit)
	}
	go r.muxLoop(ctx, out, writers, samples, ended, quit)

	r.log.Info().Int("tracks", len(r.sources)).Dur("timeslice", r.opts.Timeslice).Msg("Recorder started")
	return nil
}

// Stop finalizes the file and waits until the last chunk has been queued.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != stateRecording {
		r.mu.Unlock()
		return fmt.Errorf("%w: recorder not recording", media.ErrInvalidState)
	}
	r.state = stateStopped
	close(r.stop)
	r.mu.Unlock()

	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) readLoop(i int, rd media.EncodedReader, out chan<- sample, ended chan<- int, quit <-chan struct{}) {
	for {
		f, err := rd.Read()
		if err != nil {
			select {
			case <-quit:
			default:
				r.log.Debug().Err(err).Int("track", i).Msg("Track ended")
			}
			ended <- i
			return
		}
		if len(f.Data) == 0 {
			continue
		}
		select {
		case out <- sample{track: i, frame: f}:
		case <-quit:
			ended <- i
			return
		}
	}
}

func (r *Recorder) muxLoop(
	ctx context.Context,
	out *chunkWriter,
	writers []webm.BlockWriteCloser,
	samples <-chan sample,
	ended <-chan int,
	quit chan struct{},
) {
	defer close(r.done)

	start := time.Now()
	seq := 0
	emit := func() {
		data := out.take()
		if len(data) == 0 {
			return
		}
		seq++
		r.chunks <- media.Chunk{Seq: seq, Data: data, At: time.Now()}
	}

	var tick <-chan time.Time
	if r.opts.Timeslice > 0 {
		ticker := time.NewTicker(r.opts.Timeslice)
		defer ticker.Stop()
		tick = ticker.C
	}

	var errs *multierror.Error
	sawKeyframe := false

loop:
	for {
		select {
		case s := <-samples:
			// WebM players need the video track to open on a keyframe.
			if s.track == 0 && r.mime == media.MimeVideoWebM && !sawKeyframe {
				if !s.frame.Keyframe {
					continue
				}
				sawKeyframe = true
			}
			ts := time.Since(start).Milliseconds()
			if _, err := writers[s.track].Write(s.frame.Keyframe, ts, s.frame.Data); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("write %s block: %w", r.sources[s.track].track.Kind(), err))
				break loop
			}
		case <-tick:
			emit()
		case <-r.stop:
			break loop
		case <-ctx.Done():
			break loop
		case i := <-ended:
			r.log.Info().Str("track", r.sources[i].track.Kind().String()).Msg("Source ended, finalizing recording")
			break loop
		}
	}

	close(quit)
	r.mu.Lock()
	r.closeReaders()
	if r.state == stateRecording {
		r.state = stateStopped
	}
	r.mu.Unlock()

	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close webm track: %w", err))
		}
	}
	select {
	case <-out.closed:
	case <-time.After(finalizeTimeout):
		r.log.Warn().Msg("Muxer did not flush in time")
	}

	emit()
	close(r.chunks)

	r.mu.Lock()
	if err := errs.ErrorOrNil(); err != nil {
		r.err = fmt.Errorf("%w: %v", media.ErrRecorderFailure, err)
	}
	r.mu.Unlock()

	r.log.Info().Int("chunks", seq).Msg("Recorder stopped")
}

// closeReaders must be called with r.mu held.
func (r *Recorder) closeReaders() {
	for _, s := range r.sources {
		s.reader.Close()
	}
}

func trackEntries(tracks []media.Track) []webm.TrackEntry {
	entries := make([]webm.TrackEntry, 0, len(tracks))
	for i, t := range tracks {
		f := t.Format()
		e := webm.TrackEntry{
			Name:        t.Kind().String(),
			TrackNumber: uint64(i + 1),
			TrackUID:    uint64(1000 + i),
			CodecID:     f.CodecID,
		}
		switch t.Kind() {
		case media.KindVideo:
			e.TrackType = trackTypeVideo
			e.Video = &webm.Video{
				PixelWidth:  uint64(f.Width),
				PixelHeight: uint64(f.Height),
			}
		case media.KindAudio:
			e.TrackType = trackTypeAudio
			e.Audio = &webm.Audio{
				SamplingFrequency: f.SampleRate,
				Channels:          uint64(f.Channels),
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// chunkWriter collects muxer output between chunk boundaries. The muxer may
// write from its own goroutine.
type chunkWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	once   sync.Once
	closed chan struct{}
}

func newChunkWriter() *chunkWriter {
	return &chunkWriter{closed: make(chan struct{})}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *chunkWriter) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func (w *chunkWriter) take() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return nil
	}
	data := bytes.Clone(w.buf.Bytes())
	w.buf.Reset()
	return data
}
