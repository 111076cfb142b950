package tray

import (
	"testing"

	"github.com/petems/capture-tray/internal/app"
	"github.com/petems/capture-tray/internal/artifact"
	"github.com/petems/capture-tray/internal/capture"
	"github.com/petems/capture-tray/internal/device"
	"github.com/petems/capture-tray/internal/gate"
	"github.com/petems/capture-tray/internal/media"
)

func grantedView() app.View {
	return app.View{
		Gate: gate.State{Checked: true, Granted: true},
		View: capture.View{Facing: media.FacingUser, Live: true},
	}
}

func TestEmojiForStatus(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"idle", "🟢"},
		{"recording", "🔴"},
		{"error", "⚪️"},
		{"unknown", "🟢"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := emojiForStatus(tt.status); got != tt.want {
				t.Errorf("emojiForStatus(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestMenuForIdle(t *testing.T) {
	m := menuFor(grantedView())

	if !m.Controls {
		t.Fatal("controls should be visible once access is granted")
	}
	if m.Message != "" {
		t.Errorf("unexpected message %q", m.Message)
	}
	if m.SaveImage || m.SaveVideo {
		t.Error("save items should be hidden with nothing captured")
	}
	if m.VideoTitle != "Start Recording Video" || m.AudioTitle != "Start Recording Audio" {
		t.Errorf("unexpected titles %q / %q", m.VideoTitle, m.AudioTitle)
	}
	if !m.VideoEnabled || !m.AudioEnabled {
		t.Error("both recordings should be startable when idle")
	}
	if m.SwitchTitle != "Switch Camera (front)" {
		t.Errorf("unexpected switch title %q", m.SwitchTitle)
	}
}

func TestMenuForRecording(t *testing.T) {
	tests := []struct {
		name         string
		kind         media.Kind
		videoTitle   string
		audioTitle   string
		videoEnabled bool
		audioEnabled bool
	}{
		{
			name:         "video",
			kind:         media.KindVideo,
			videoTitle:   "Stop Recording Video",
			audioTitle:   "Start Recording Audio",
			videoEnabled: true,
			audioEnabled: false,
		},
		{
			name:         "audio",
			kind:         media.KindAudio,
			videoTitle:   "Start Recording Video",
			audioTitle:   "Stop Recording Audio",
			videoEnabled: false,
			audioEnabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := grantedView()
			v.State = capture.StateRecording
			v.Kind = tt.kind
			v.Chunks = 2
			v.SaveVideoVisible = true

			m := menuFor(v)
			if m.VideoTitle != tt.videoTitle {
				t.Errorf("video title = %q, want %q", m.VideoTitle, tt.videoTitle)
			}
			if m.AudioTitle != tt.audioTitle {
				t.Errorf("audio title = %q, want %q", m.AudioTitle, tt.audioTitle)
			}
			if m.VideoEnabled != tt.videoEnabled || m.AudioEnabled != tt.audioEnabled {
				t.Errorf("enabled video=%v audio=%v, want video=%v audio=%v", m.VideoEnabled, m.AudioEnabled, tt.videoEnabled, tt.audioEnabled)
			}
			if m.SaveVideo {
				t.Error("Save Video should be hidden while recording")
			}
		})
	}
}

func TestMenuForCapturedArtifacts(t *testing.T) {
	v := grantedView()
	v.Image = &artifact.Artifact{Name: artifact.ImageFilename}
	v.SaveVideoVisible = true
	v.Facing = media.FacingEnvironment

	m := menuFor(v)
	if !m.SaveImage {
		t.Error("Save Image should show once an image is captured")
	}
	if !m.SaveVideo {
		t.Error("Save Video should show while chunks are buffered")
	}
	if m.SwitchTitle != "Switch Camera (rear)" {
		t.Errorf("unexpected switch title %q", m.SwitchTitle)
	}
}

func TestMenuForGateFailure(t *testing.T) {
	v := app.View{Gate: gate.State{Checked: true, Message: gate.MsgAccessDenied, Err: media.ErrAccessDenied}}

	m := menuFor(v)
	if m.Controls {
		t.Error("controls must be hidden after a gate failure")
	}
	if m.Message != gate.MsgAccessDenied {
		t.Errorf("expected %q, got %q", gate.MsgAccessDenied, m.Message)
	}
}

func TestMenuForControllerError(t *testing.T) {
	v := grantedView()
	v.Error = capture.MsgStreamUnavailable

	m := menuFor(v)
	if !m.Controls {
		t.Error("controller errors keep the controls")
	}
	if m.Message != capture.MsgStreamUnavailable {
		t.Errorf("expected %q, got %q", capture.MsgStreamUnavailable, m.Message)
	}
}

func TestDeviceLabel(t *testing.T) {
	if got := deviceLabel(device.Device{ID: "/dev/video0"}); got != "/dev/video0" {
		t.Errorf("expected ID fallback, got %q", got)
	}
	if got := deviceLabel(device.Device{ID: "hw:1", Label: "USB Microphone"}); got != "USB Microphone" {
		t.Errorf("expected label, got %q", got)
	}
}
