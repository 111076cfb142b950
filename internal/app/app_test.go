package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/artifact"
	"github.com/petems/capture-tray/internal/capture"
	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/gate"
	"github.com/petems/capture-tray/internal/media"
	"github.com/petems/capture-tray/internal/media/mediatest"
	"github.com/petems/capture-tray/internal/preview"
)

// Mock implementations for testing
type mockStatus struct {
	mu     sync.Mutex
	last   string
	views  int
	latest View
}

func (m *mockStatus) set(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = s
}

func (m *mockStatus) SetIdle()      { m.set("idle") }
func (m *mockStatus) SetRecording() { m.set("recording") }
func (m *mockStatus) SetError()     { m.set("error") }

func (m *mockStatus) Refresh(v View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views++
	m.latest = v
}

func (m *mockStatus) Last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type testApp struct {
	*App
	devices *mediatest.Devices
	status  *mockStatus
	cfg     *config.Config
	outDir  string
	copied  []string
}

func newTestApp(t *testing.T, devices *mediatest.Devices) *testApp {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.LoadFrom(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg.OutputDir = filepath.Join(dir, "out")

	ta := &testApp{devices: devices, status: &mockStatus{}, cfg: cfg, outDir: cfg.OutputDir}
	factory := &mediatest.Factory{}
	ta.App = New(Config{
		Gate:            gate.New(devices, nil, zerolog.Nop()),
		Preview:         preview.New(devices, preview.Options{Facing: media.FacingUser, IncludeAudio: true, Logger: zerolog.Nop()}),
		Devices:         devices,
		NewRecorder:     factory.New,
		Saver:           artifact.NewSaver(cfg.OutputDir, zerolog.Nop()),
		Config:          cfg,
		Logger:          zerolog.Nop(),
		CopyToClipboard: ta.copy,
	})
	ta.SetStatusUpdater(ta.status)
	t.Cleanup(func() { ta.Shutdown(context.Background()) })
	return ta
}

func (ta *testApp) copy(s string) error {
	ta.copied = append(ta.copied, s)
	return nil
}

func TestMountGranted(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())

	st := a.Mount(context.Background())
	if !st.Granted {
		t.Fatalf("expected access granted, got %+v", st)
	}

	v := a.View()
	if !v.ControlsVisible() {
		t.Error("controls should be visible after a granted gate")
	}
	if !v.Live {
		t.Error("preview should be live")
	}
	if v.Message() != "" {
		t.Errorf("unexpected message %q", v.Message())
	}
	if a.status.Last() != "idle" {
		t.Errorf("expected idle status, got %s", a.status.Last())
	}
	if got := len(a.devices.OpenStreams()); got != 1 {
		t.Errorf("expected exactly one open stream, got %d", got)
	}
}

func TestMountGateFailureSuppressesControls(t *testing.T) {
	tests := []struct {
		name    string
		devices func() *mediatest.Devices
		message string
		err     error
	}{
		{
			name: "no media devices",
			devices: func() *mediatest.Devices {
				d := mediatest.NewDevices()
				d.Caps.MediaDevices = false
				return d
			},
			message: gate.MsgNoMediaDevices,
			err:     media.ErrCapabilityMissing,
		},
		{
			name: "no camera hardware",
			devices: func() *mediatest.Devices {
				d := mediatest.NewDevices()
				d.Err = errors.New("no camera found")
				return d
			},
			message: gate.MsgAccessDenied,
			err:     media.ErrAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t, tt.devices())

			st := a.Mount(context.Background())
			if st.Granted {
				t.Fatal("gate should not grant access")
			}

			v := a.View()
			if v.ControlsVisible() {
				t.Error("controls must be hidden after a gate failure")
			}
			if v.Live {
				t.Error("preview must not be live after a gate failure")
			}
			if v.Message() != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, v.Message())
			}
			if a.status.Last() != "error" {
				t.Errorf("expected error status, got %s", a.status.Last())
			}

			if _, err := a.CaptureImage(context.Background()); !errors.Is(err, tt.err) {
				t.Errorf("expected %v from CaptureImage, got %v", tt.err, err)
			}
			if err := a.ToggleVideoRecording(context.Background()); !errors.Is(err, tt.err) {
				t.Errorf("expected %v from ToggleVideoRecording, got %v", tt.err, err)
			}
		})
	}
}

func TestMountRunsOnce(t *testing.T) {
	devices := mediatest.NewDevices()
	a := newTestApp(t, devices)

	a.Mount(context.Background())
	a.Mount(context.Background())
	if got := len(devices.Requests()); got != 1 {
		t.Errorf("expected one device request, got %d", got)
	}
}

func TestHotkeyCapturesAndSaves(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())

	// Key release does nothing
	a.OnHotkey(false)
	if _, err := os.Stat(filepath.Join(a.outDir, artifact.ImageFilename)); !os.IsNotExist(err) {
		t.Fatal("key release should not save an image")
	}

	a.OnHotkey(true)
	if _, err := os.Stat(filepath.Join(a.outDir, "captured-image.jpg")); err != nil {
		t.Fatalf("expected captured-image.jpg: %v", err)
	}

	a.OnHotkey(true)
	if _, err := os.Stat(filepath.Join(a.outDir, "captured-image (1).jpg")); err != nil {
		t.Fatalf("second capture should not overwrite: %v", err)
	}
}

func TestHotkeyFailureShowsError(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())
	if a.status.Last() != "idle" {
		t.Fatalf("expected idle status, got %s", a.status.Last())
	}

	a.Preview().Close()
	a.OnHotkey(true)

	if a.status.Last() != "error" {
		t.Errorf("expected error status after a failed capture, got %s", a.status.Last())
	}
	a.status.mu.Lock()
	msg := a.status.latest.Message()
	a.status.mu.Unlock()
	if msg != capture.MsgStreamUnavailable {
		t.Errorf("expected %q in the refreshed view, got %q", capture.MsgStreamUnavailable, msg)
	}
}

func TestToggleVideoRecording(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())

	if err := a.ToggleVideoRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.View().Recording(media.KindVideo) {
		t.Error("should be recording video")
	}
	if a.status.Last() != "recording" {
		t.Errorf("expected recording status, got %s", a.status.Last())
	}

	if err := a.ToggleVideoRecording(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.View().State != capture.StateIdle {
		t.Error("should be idle after second toggle")
	}
	if a.View().SaveVideoVisible {
		t.Error("Save Video should stay hidden without chunks")
	}
}

func TestToggleAudioRecording(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())

	if err := a.ToggleAudioRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.View().Recording(media.KindAudio) {
		t.Error("should be recording audio")
	}
	if err := a.ToggleVideoRecording(context.Background()); !errors.Is(err, media.ErrInvalidState) {
		t.Errorf("video start while recording audio should be rejected, got %v", err)
	}
	if err := a.ToggleAudioRecording(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.View().State != capture.StateIdle {
		t.Error("should be idle after second toggle")
	}
}

func TestCopyPathToClipboard(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())

	if _, err := a.CaptureAndSave(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(a.copied) != 0 {
		t.Fatalf("clipboard used while disabled: %v", a.copied)
	}

	if err := a.SetCopyPathToClipboard(true); err != nil {
		t.Fatal(err)
	}
	img, err := a.CaptureAndSave(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.copied) != 1 || a.copied[0] != img.Path {
		t.Errorf("expected %s on the clipboard, got %v", img.Path, a.copied)
	}
}

func TestSwitchCameraPersistsFacing(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())

	facing, err := a.SwitchCamera(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if facing != media.FacingEnvironment {
		t.Errorf("expected environment, got %s", facing)
	}

	saved, err := config.LoadFrom(a.cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if saved.FacingMode != "environment" {
		t.Errorf("expected saved facing mode environment, got %s", saved.FacingMode)
	}
}

func TestSetIncludeAudio(t *testing.T) {
	devices := mediatest.NewDevices()
	a := newTestApp(t, devices)
	a.Mount(context.Background())

	if err := a.SetIncludeAudio(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if a.View().IncludeAudio {
		t.Error("audio should be excluded from the preview")
	}
	if a.Preview().Stream().Audio() != nil {
		t.Error("preview stream should not carry audio")
	}
	if got := len(devices.OpenStreams()); got != 1 {
		t.Errorf("expected one open stream after re-acquire, got %d", got)
	}
}

func TestSetOutputDir(t *testing.T) {
	a := newTestApp(t, mediatest.NewDevices())
	a.Mount(context.Background())

	dir := t.TempDir()
	if err := a.SetOutputDir(dir); err != nil {
		t.Fatal(err)
	}
	if a.View().OutputDir != dir {
		t.Errorf("expected output dir %s, got %s", dir, a.View().OutputDir)
	}
	img, err := a.CaptureAndSave(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(img.Path) != dir {
		t.Errorf("image saved to %s, expected %s", img.Path, dir)
	}
}

func TestShutdownReleasesStreams(t *testing.T) {
	devices := mediatest.NewDevices()
	a := newTestApp(t, devices)
	a.Mount(context.Background())

	if err := a.ToggleAudioRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if open := devices.OpenStreams(); len(open) != 0 {
		t.Errorf("expected every stream released, %d still open", len(open))
	}
}
