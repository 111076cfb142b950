package recorder

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/capture-tray/internal/media"
	"github.com/petems/capture-tray/internal/media/mediatest"
)

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

func collect(t *testing.T, ch <-chan media.Chunk) []media.Chunk {
	t.Helper()
	var chunks []media.Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("chunk channel never closed")
		}
	}
}

func avStream() *mediatest.Stream {
	return mediatest.NewStream("s1", media.FacingUser,
		mediatest.NewVideoTrack(64, 48), mediatest.NewAudioTrack(48000, 1))
}

func TestIsTypeSupported(t *testing.T) {
	assert.True(t, IsTypeSupported("video/webm"))
	assert.True(t, IsTypeSupported("audio/webm"))
	assert.False(t, IsTypeSupported("video/mp4"))
	assert.False(t, IsTypeSupported(""))
}

func TestNewRejectsUnsupportedMimeType(t *testing.T) {
	_, err := New(avStream(), "video/x-matroska;codecs=avc1", Options{Logger: zerolog.Nop()})
	assert.True(t, errors.Is(err, media.ErrRecorderFailure))
}

func TestNewRequiresMatchingTrack(t *testing.T) {
	videoOnly := mediatest.NewStream("v", media.FacingUser, mediatest.NewVideoTrack(8, 8), nil)
	_, err := New(videoOnly, media.MimeAudioWebM, Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, media.ErrRecorderFailure)

	audioOnly := mediatest.NewStream("a", "", nil, mediatest.NewAudioTrack(48000, 1))
	_, err = New(audioOnly, media.MimeVideoWebM, Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, media.ErrRecorderFailure)

	_, err = New(nil, media.MimeVideoWebM, Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, media.ErrStreamUnavailable)
}

func TestSingleChunkOnStopWithoutTimeslice(t *testing.T) {
	s := avStream()
	r, err := New(s, media.MimeVideoWebM, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	s.VideoTrack().Push(media.EncodedFrame{Data: []byte{0x10, 0x02, 0x00}, Keyframe: true})
	s.AudioTrack().Push(media.EncodedFrame{Data: make([]byte, 64), Keyframe: true})
	s.VideoTrack().Push(media.EncodedFrame{Data: []byte{0x11, 0x02, 0x00}})

	done := make(chan []media.Chunk)
	go func() { done <- collect(t, r.Chunks()) }()

	require.NoError(t, r.Stop())
	chunks := <-done

	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Seq)
	assert.True(t, bytes.HasPrefix(chunks[0].Data, ebmlMagic), "output must start with an EBML header")
	assert.Zero(t, s.VideoTrack().OpenReaders(), "readers must be released on stop")
	assert.Zero(t, s.AudioTrack().OpenReaders())
}

func TestTimesliceEmitsOrderedChunks(t *testing.T) {
	s := avStream()
	r, err := New(s, media.MimeVideoWebM, Options{Timeslice: 10 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	done := make(chan []media.Chunk)
	go func() { done <- collect(t, r.Chunks()) }()

	for i := 0; i < 5; i++ {
		s.VideoTrack().Push(media.EncodedFrame{Data: []byte{byte(i), 0x01, 0x02}, Keyframe: i == 0})
		time.Sleep(15 * time.Millisecond)
	}
	require.NoError(t, r.Stop())
	chunks := <-done

	require.NotEmpty(t, chunks)
	var all []byte
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Seq)
		assert.NotEmpty(t, c.Data)
		all = append(all, c.Data...)
	}
	assert.True(t, bytes.HasPrefix(all, ebmlMagic))
}

func TestAudioRecording(t *testing.T) {
	s := mediatest.NewStream("a", "", nil, mediatest.NewAudioTrack(48000, 1))
	r, err := New(s, media.MimeAudioWebM, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, media.MimeAudioWebM, r.MimeType())
	require.NoError(t, r.Start(context.Background()))

	s.AudioTrack().Push(media.EncodedFrame{Data: make([]byte, 2048), Keyframe: true})

	done := make(chan []media.Chunk)
	go func() { done <- collect(t, r.Chunks()) }()
	require.NoError(t, r.Stop())

	chunks := <-done
	require.Len(t, chunks, 1)
	assert.True(t, bytes.HasPrefix(chunks[0].Data, ebmlMagic))
}

func TestStartTwiceAndStopBeforeStart(t *testing.T) {
	r, err := New(avStream(), media.MimeVideoWebM, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.ErrorIs(t, r.Stop(), media.ErrInvalidState)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), media.ErrInvalidState)

	go collect(t, r.Chunks())
	require.NoError(t, r.Stop())
	assert.ErrorIs(t, r.Stop(), media.ErrInvalidState)
}

func TestSourceEndFinalizes(t *testing.T) {
	s := avStream()
	r, err := New(s, media.MimeVideoWebM, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	done := make(chan []media.Chunk)
	go func() { done <- collect(t, r.Chunks()) }()

	// Releasing the stream ends the tracks, as a camera switch does.
	require.NoError(t, s.Close())

	chunks := <-done
	require.Len(t, chunks, 1)
	assert.ErrorIs(t, r.Stop(), media.ErrInvalidState)
}

func TestStartFailsOnClosedTrack(t *testing.T) {
	s := avStream()
	require.NoError(t, s.Close())

	r, err := New(s, media.MimeVideoWebM, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Start(context.Background()), media.ErrRecorderFailure)
}

func TestTrackEntries(t *testing.T) {
	entries := trackEntries([]media.Track{
		mediatest.NewVideoTrack(640, 480),
		mediatest.NewAudioTrack(44100, 2),
	})
	require.Len(t, entries, 2)

	assert.Equal(t, "V_VP8", entries[0].CodecID)
	assert.Equal(t, uint64(trackTypeVideo), entries[0].TrackType)
	assert.Equal(t, uint64(640), entries[0].Video.PixelWidth)
	assert.Equal(t, uint64(1), entries[0].TrackNumber)

	assert.Equal(t, "A_PCM/FLOAT/IEEE", entries[1].CodecID)
	assert.Equal(t, uint64(trackTypeAudio), entries[1].TrackType)
	assert.Equal(t, 44100.0, entries[1].Audio.SamplingFrequency)
	assert.Equal(t, uint64(2), entries[1].Audio.Channels)
}
