package device

import (
	"image"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/media"
)

func TestPickCamera(t *testing.T) {
	front := Device{ID: "video0", Label: "Integrated Camera"}
	back := Device{ID: "video2", Label: "USB Camera"}

	tests := []struct {
		name      string
		cams      []Device
		preferred string
		facing    media.FacingMode
		want      Device
		ok        bool
	}{
		{"no cameras", nil, "", media.FacingUser, Device{}, false},
		{"user takes first", []Device{front, back}, "", media.FacingUser, front, true},
		{"environment takes second", []Device{front, back}, "", media.FacingEnvironment, back, true},
		{"environment falls back to only camera", []Device{front}, "", media.FacingEnvironment, front, true},
		{"preferred id wins", []Device{front, back}, "video2", media.FacingUser, back, true},
		{"preferred label wins", []Device{front, back}, "Integrated Camera", media.FacingEnvironment, front, true},
		{"unknown preferred ignored", []Device{front, back}, "video9", media.FacingEnvironment, back, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickCamera(tt.cams, tt.preferred, tt.facing)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreferredCamera(t *testing.T) {
	cfg := config.VideoConfig{UserDeviceID: "front", EnvironmentDeviceID: "back"}
	assert.Equal(t, "front", preferredCamera(cfg, media.FacingUser))
	assert.Equal(t, "back", preferredCamera(cfg, media.FacingEnvironment))
}

func TestIsVP8Keyframe(t *testing.T) {
	assert.True(t, isVP8Keyframe([]byte{0x10, 0x02}))
	assert.False(t, isVP8Keyframe([]byte{0x11, 0x02}))
	assert.False(t, isVP8Keyframe(nil))
}

type fakeFrameReader struct {
	img      image.Image
	err      error
	released bool
}

func (f *fakeFrameReader) Read() (image.Image, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.img, func() { f.released = true }, nil
}

func TestFrameSize(t *testing.T) {
	t.Run("negotiated size wins", func(t *testing.T) {
		r := &fakeFrameReader{img: image.NewYCbCr(image.Rect(0, 0, 1280, 720), image.YCbCrSubsampleRatio420)}
		w, h := frameSize(r, 640, 480)
		assert.Equal(t, 1280, w)
		assert.Equal(t, 720, h)
		assert.True(t, r.released)
	})
	t.Run("read error falls back", func(t *testing.T) {
		w, h := frameSize(&fakeFrameReader{err: io.EOF}, 640, 480)
		assert.Equal(t, 640, w)
		assert.Equal(t, 480, h)
	})
	t.Run("empty frame falls back", func(t *testing.T) {
		w, h := frameSize(&fakeFrameReader{img: image.NewRGBA(image.Rectangle{})}, 640, 480)
		assert.Equal(t, 640, w)
		assert.Equal(t, 480, h)
	})
}

func newTestMicrophone() *microphone {
	return &microphone{
		log:      zerolog.Nop(),
		inCh:     1,
		outCh:    1,
		rate:     48000,
		loopDone: make(chan struct{}),
		subs:     make(map[*pcmReader]struct{}),
		done:     make(chan struct{}),
	}
}

func TestMicrophoneFanOut(t *testing.T) {
	m := newTestMicrophone()

	r1, err := m.NewEncodedReader()
	require.NoError(t, err)
	r2, err := m.NewEncodedReader()
	require.NoError(t, err)

	m.broadcast([]byte{1, 2, 3, 4})

	for _, r := range []media.EncodedReader{r1, r2} {
		f, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4}, f.Data)
		assert.True(t, f.Keyframe)
	}

	require.NoError(t, r1.Close())
	assert.Len(t, m.subs, 1)
	_, err = r1.Read()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, m.Close())
	_, err = r2.Read()
	assert.ErrorIs(t, err, io.EOF)

	_, err = m.NewEncodedReader()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMicrophoneDropsForSlowReader(t *testing.T) {
	m := newTestMicrophone()
	r, err := m.NewEncodedReader()
	require.NoError(t, err)

	for i := 0; i < readerBacklog+10; i++ {
		m.broadcast([]byte{byte(i)})
	}

	f, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, f.Data, "oldest buffered frame is kept")
	assert.Len(t, r.(*pcmReader).frames, readerBacklog-1)
}

func TestMicrophoneFormat(t *testing.T) {
	m := newTestMicrophone()
	assert.Equal(t, media.KindAudio, m.Kind())
	assert.Equal(t, media.TrackFormat{CodecID: codecPCMFloat, SampleRate: 48000, Channels: 1}, m.Format())
}
