package device

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/media"
)

const (
	framesPerBuffer = 512
	// readerBacklog is how many buffers a slow reader may fall behind before
	// buffers are dropped for it.
	readerBacklog = 64
)

// microphone is a portaudio input stream fanned out to any number of readers.
type microphone struct {
	log      zerolog.Logger
	stream   *portaudio.Stream
	buffer   []float32
	inCh     int
	outCh    int
	rate     float64
	loopDone chan struct{}

	mu     sync.Mutex
	subs   map[*pcmReader]struct{}
	closed bool
	done   chan struct{}
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

func openMicrophone(cfg config.AudioConfig, log zerolog.Logger) (*microphone, error) {
	device, err := findInputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	outCh := cfg.Channels
	if outCh <= 0 {
		outCh = 1
	}
	inCh := outCh
	if device.MaxInputChannels < inCh {
		inCh = device.MaxInputChannels
	}
	if inCh <= 0 {
		return nil, fmt.Errorf("device %s has no input channels", device.Name)
	}
	// Channels are only ever mixed down, never invented.
	if outCh > inCh {
		outCh = inCh
	}

	rate := float64(cfg.SampleRate)
	if rate <= 0 {
		rate = device.DefaultSampleRate
	}

	// Interleaved float32 input
	buffer := make([]float32, framesPerBuffer*inCh)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: inCh,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: framesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	m := &microphone{
		log:      log.With().Str("device", device.Name).Logger(),
		stream:   stream,
		buffer:   buffer,
		inCh:     inCh,
		outCh:    outCh,
		rate:     rate,
		loopDone: make(chan struct{}),
		subs:     make(map[*pcmReader]struct{}),
		done:     make(chan struct{}),
	}
	go m.readLoop()

	m.log.Debug().Float64("rate", rate).Int("channels", outCh).Msg("Microphone opened")
	return m, nil
}

func (m *microphone) readLoop() {
	defer close(m.loopDone)
	defer func() {
		m.stream.Stop()
		m.stream.Close()
	}()

	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			m.log.Warn().Err(err).Msg("Audio read failed")
			m.Close()
			return
		}

		var samples []float32
		if m.outCh == 1 {
			samples = downmixInterleaved(m.buffer, m.inCh, framesPerBuffer)
		} else {
			samples = make([]float32, len(m.buffer))
			copy(samples, m.buffer)
		}
		m.broadcast(encodeFloat32LE(samples))
	}
}

func (m *microphone) broadcast(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r := range m.subs {
		select {
		case r.frames <- data:
		default:
			// Drop if reader is behind (backpressure)
		}
	}
}

func (m *microphone) Kind() media.Kind { return media.KindAudio }

func (m *microphone) Format() media.TrackFormat {
	return media.TrackFormat{
		CodecID:    codecPCMFloat,
		SampleRate: m.rate,
		Channels:   m.outCh,
	}
}

func (m *microphone) NewEncodedReader() (media.EncodedReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("microphone closed: %w", io.EOF)
	}
	r := &pcmReader{
		mic:    m,
		frames: make(chan []byte, readerBacklog),
		done:   make(chan struct{}),
	}
	m.subs[r] = struct{}{}
	return r, nil
}

// Close signals the read loop to release the device. It does not wait, since
// the read loop itself calls Close on a read error; use wait for that.
func (m *microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}

// wait blocks until the device has been released.
func (m *microphone) wait() {
	<-m.loopDone
}

type pcmReader struct {
	mic    *microphone
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (r *pcmReader) Read() (media.EncodedFrame, error) {
	select {
	case data := <-r.frames:
		return media.EncodedFrame{Data: data, Keyframe: true}, nil
	case <-r.done:
		return media.EncodedFrame{}, io.EOF
	case <-r.mic.done:
		return media.EncodedFrame{}, io.EOF
	}
}

func (r *pcmReader) Close() error {
	r.once.Do(func() {
		r.mic.mu.Lock()
		delete(r.mic.subs, r)
		r.mic.mu.Unlock()
		close(r.done)
	})
	return nil
}

// downmixInterleaved averages interleaved channels into a new mono slice.
func downmixInterleaved(in []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, in)
		return out
	}
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

func encodeFloat32LE(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}

// ListMicrophones returns capture-capable audio devices.
func ListMicrophones() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Label:   d.Name,
				Kind:    media.KindAudio,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}
