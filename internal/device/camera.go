package device

import (
	"bytes"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"

	// Registers V4L2/AVFoundation/DirectShow camera drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/media"
)

const (
	codecVP8      = "V_VP8"
	codecPCMFloat = "A_PCM/FLOAT/IEEE"
)

// camera wraps a pion video track. Decoded frames feed the preview; the VP8
// encoder feeds the recorder.
type camera struct {
	track  *mediadevices.VideoTrack
	codec  string
	format media.TrackFormat
}

func newVP8Params(bitRate int) (*vpx.VP8Params, error) {
	params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if bitRate > 0 {
		params.BitRate = bitRate
	}
	return &params, nil
}

func openCamera(deviceID string, cfg config.VideoConfig, vp8 *vpx.VP8Params) (*camera, mediadevices.MediaStream, error) {
	selector := mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(vp8))

	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(deviceID)
			if cfg.Width > 0 {
				c.Width = prop.Int(cfg.Width)
			}
			if cfg.Height > 0 {
				c.Height = prop.Int(cfg.Height)
			}
			if cfg.FrameRate > 0 {
				c.FrameRate = prop.Float(cfg.FrameRate)
			}
		},
		Codec: selector,
	})
	if err != nil {
		return nil, nil, err
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		closeTracks(ms)
		return nil, nil, fmt.Errorf("camera %s produced no video track", deviceID)
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(ms)
		return nil, nil, fmt.Errorf("unexpected track type %T", tracks[0])
	}

	width, height := frameSize(vt.NewReader(false), cfg.Width, cfg.Height)
	return &camera{
		track:  vt,
		codec:  vp8.RTPCodec().MimeType,
		format: media.TrackFormat{
			CodecID: codecVP8,
			Width:   width,
			Height:  height,
		},
	}, ms, nil
}

// frameSize reads one decoded frame to learn the resolution the driver
// negotiated, which may differ from the requested one. The fallback size is
// returned if no frame can be read.
func frameSize(r media.FrameReader, fallbackW, fallbackH int) (int, int) {
	img, release, err := r.Read()
	if err != nil {
		return fallbackW, fallbackH
	}
	if release != nil {
		defer release()
	}
	b := img.Bounds()
	if b.Empty() {
		return fallbackW, fallbackH
	}
	return b.Dx(), b.Dy()
}

func closeTracks(ms mediadevices.MediaStream) error {
	var firstErr error
	for _, t := range ms.GetTracks() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *camera) Kind() media.Kind          { return media.KindVideo }
func (c *camera) Format() media.TrackFormat { return c.format }

func (c *camera) NewFrameReader() (media.FrameReader, error) {
	return c.track.NewReader(false), nil
}

func (c *camera) NewEncodedReader() (media.EncodedReader, error) {
	r, err := c.track.NewEncodedReader(c.codec)
	if err != nil {
		return nil, fmt.Errorf("failed to open VP8 encoder: %w", err)
	}
	return &vp8Reader{r: r}, nil
}

type vp8Reader struct {
	r mediadevices.EncodedReadCloser
}

func (v *vp8Reader) Read() (media.EncodedFrame, error) {
	buf, release, err := v.r.Read()
	if err != nil {
		return media.EncodedFrame{}, err
	}
	defer release()

	data := bytes.Clone(buf.Data)
	return media.EncodedFrame{Data: data, Keyframe: isVP8Keyframe(data)}, nil
}

func (v *vp8Reader) Close() error {
	return v.r.Close()
}

// isVP8Keyframe reads the frame-type bit of the VP8 frame tag (RFC 6386 9.1).
func isVP8Keyframe(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

// ListCameras returns the video inputs the camera drivers registered.
func ListCameras() []Device {
	var cams []Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		cams = append(cams, Device{
			ID:    d.DeviceID,
			Label: d.Label,
			Kind:  media.KindVideo,
		})
	}
	return cams
}
