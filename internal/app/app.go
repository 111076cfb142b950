package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/artifact"
	"github.com/petems/capture-tray/internal/capture"
	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/gate"
	"github.com/petems/capture-tray/internal/media"
	"github.com/petems/capture-tray/internal/preview"
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetError()
	Refresh(View)
}

// DeviceSettings receives device choices made at runtime.
type DeviceSettings interface {
	SetVideoConfig(config.VideoConfig)
	SetAudioConfig(config.AudioConfig)
}

type Config struct {
	Gate        *gate.Gate
	Preview     *preview.Preview
	Devices     media.Devices
	NewRecorder media.RecorderFactory
	Saver       *artifact.Saver
	Settings    DeviceSettings // Optional - can be nil
	Config      *config.Config
	Logger      zerolog.Logger
	// Optional - can be nil
	StatusUpdater StatusUpdater
	// CopyToClipboard defaults to clipboard.WriteAll.
	CopyToClipboard func(string) error
}

// View is everything the tray and the web page render.
type View struct {
	Gate gate.State
	capture.View
	IncludeAudio bool
	OutputDir    string
}

// ControlsVisible is false until the gate has granted access. A failed gate
// leaves only its message.
func (v View) ControlsVisible() bool {
	return v.Gate.Granted
}

// Message is the single error text shown to the user.
func (v View) Message() string {
	if v.Gate.Checked && !v.Gate.Granted {
		return v.Gate.Message
	}
	return v.Error
}

// App is the capture widget: the gate runs once at mount, then the preview
// and the controller serve user commands.
type App struct {
	gate     *gate.Gate
	preview  *preview.Preview
	ctrl     *capture.Controller
	saver    *artifact.Saver
	settings DeviceSettings
	cfg      *config.Config
	log      zerolog.Logger
	status   StatusUpdater
	copyText func(string) error

	mu       sync.Mutex
	mounted  bool
	shutdown bool
}

func New(cfg Config) *App {
	a := &App{
		gate:     cfg.Gate,
		preview:  cfg.Preview,
		saver:    cfg.Saver,
		settings: cfg.Settings,
		cfg:      cfg.Config,
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
		copyText: cfg.CopyToClipboard,
	}
	if a.copyText == nil {
		a.copyText = clipboard.WriteAll
	}
	a.ctrl = capture.New(capture.Config{
		Source:      cfg.Preview,
		Devices:     cfg.Devices,
		NewRecorder: cfg.NewRecorder,
		Saver:       cfg.Saver,
		Logger:      cfg.Logger.With().Str("component", "capture").Logger(),
		OnChange:    func(capture.View) { a.refresh() },
	})
	cfg.Saver.Subscribe(a.onSaved)
	return a
}

func (a *App) onSaved(_ context.Context, ev artifact.Event) {
	switch ev.Type {
	case artifact.EventFinished:
		a.log.Info().Str("file", ev.Destination).Int("bytes", ev.Size).Msg("Saved")
	case artifact.EventFailed:
		a.log.Error().Err(ev.Err).Str("file", ev.Filename).Msg("Save failed")
	}
}

// SetStatusUpdater sets the status sink (for circular dependency resolution)
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	a.refresh()
}

// Mount runs the device gate and, when access is granted, starts the preview
// with the gate's stream. It only does work on the first call.
func (a *App) Mount(ctx context.Context) gate.State {
	a.mu.Lock()
	if a.mounted {
		a.mu.Unlock()
		return a.gate.State()
	}
	a.mounted = true
	a.mu.Unlock()

	st, stream := a.gate.Check(ctx, media.FacingMode(a.cfg.FacingMode))
	if !st.Granted {
		a.log.Error().Err(st.Err).Str("message", st.Message).Msg("Device access unavailable")
		a.refresh()
		return st
	}

	if err := a.preview.Attach(ctx, stream); err != nil {
		a.log.Error().Err(err).Msg("Failed to start preview")
	}
	a.refresh()
	return st
}

func (a *App) View() View {
	return View{
		Gate:         a.gate.State(),
		View:         a.ctrl.View(),
		IncludeAudio: a.preview.IncludeAudio(),
		OutputDir:    a.saver.Dir(),
	}
}

func (a *App) Preview() *preview.Preview {
	return a.preview
}

func (a *App) granted() error {
	st := a.gate.State()
	if !st.Granted {
		if st.Err != nil {
			return st.Err
		}
		return fmt.Errorf("%w: device access not checked", media.ErrAccessDenied)
	}
	return nil
}

// OnHotkey captures and saves a still image on key press.
func (a *App) OnHotkey(pressed bool) {
	if !pressed {
		return
	}
	if _, err := a.CaptureAndSave(context.Background()); err != nil {
		a.log.Error().Err(err).Msg("Hotkey capture failed")
	}
}

func (a *App) CaptureImage(ctx context.Context) (*artifact.Artifact, error) {
	if err := a.granted(); err != nil {
		return nil, err
	}
	return a.ctrl.CaptureImage(ctx)
}

func (a *App) SaveImage(ctx context.Context) (*artifact.Artifact, error) {
	if err := a.granted(); err != nil {
		return nil, err
	}
	img, err := a.ctrl.SaveImage(ctx)
	a.afterSave(img, err)
	return img, err
}

// CaptureAndSave is Capture Image followed by Save Image.
func (a *App) CaptureAndSave(ctx context.Context) (*artifact.Artifact, error) {
	if _, err := a.CaptureImage(ctx); err != nil {
		return nil, err
	}
	return a.SaveImage(ctx)
}

// ToggleVideoRecording starts a video recording when idle and stops it when
// one is running.
func (a *App) ToggleVideoRecording(ctx context.Context) error {
	if err := a.granted(); err != nil {
		return err
	}
	if a.ctrl.View().Recording(media.KindVideo) {
		return a.ctrl.StopRecording(ctx)
	}
	return a.ctrl.StartVideoRecording(ctx)
}

func (a *App) SaveVideo(ctx context.Context) (*artifact.Artifact, error) {
	if err := a.granted(); err != nil {
		return nil, err
	}
	v, err := a.ctrl.SaveVideo(ctx)
	a.afterSave(v, err)
	return v, err
}

// ToggleAudioRecording starts an audio recording when idle and stops it when
// one is running.
func (a *App) ToggleAudioRecording(ctx context.Context) error {
	if err := a.granted(); err != nil {
		return err
	}
	if a.ctrl.View().Recording(media.KindAudio) {
		return a.ctrl.StopRecording(ctx)
	}
	return a.ctrl.StartAudioRecording(ctx)
}

// SwitchCamera toggles the facing mode and remembers it for the next start.
func (a *App) SwitchCamera(ctx context.Context) (media.FacingMode, error) {
	if err := a.granted(); err != nil {
		return "", err
	}
	facing, switchErr := a.ctrl.SwitchCamera(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.FacingMode = string(facing)
	if err := a.cfg.Save(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}
	return facing, switchErr
}

func (a *App) SetIncludeAudio(ctx context.Context, on bool) error {
	if err := a.preview.SetIncludeAudio(ctx, on); err != nil {
		a.log.Error().Err(err).Bool("audio", on).Msg("Failed to re-acquire preview")
		a.refresh()
		return err
	}

	a.mu.Lock()
	a.cfg.IncludeAudio = on
	err := a.cfg.Save()
	a.mu.Unlock()
	a.refresh()
	return err
}

// Tray actions

func (a *App) SetCamera(ctx context.Context, id string) error {
	if a.ctrl.View().Recording(media.KindVideo) {
		return fmt.Errorf("cannot change camera while recording")
	}

	a.mu.Lock()
	if a.preview.Facing() == media.FacingEnvironment {
		a.cfg.Video.EnvironmentDeviceID = id
	} else {
		a.cfg.Video.UserDeviceID = id
	}
	video := a.cfg.Video
	err := a.cfg.Save()
	a.mu.Unlock()

	if a.settings != nil {
		a.settings.SetVideoConfig(video)
	}
	if restartErr := a.preview.Restart(ctx); restartErr != nil {
		return restartErr
	}
	return err
}

func (a *App) SetMicrophone(id string) error {
	if a.ctrl.View().State == capture.StateRecording {
		return fmt.Errorf("cannot change microphone while recording")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Audio.DeviceID = id
	if a.settings != nil {
		a.settings.SetAudioConfig(a.cfg.Audio)
	}
	return a.cfg.Save()
}

// SetOutputDir changes where artifacts are saved.
func (a *App) SetOutputDir(dir string) error {
	a.saver.SetDir(dir)

	a.mu.Lock()
	a.cfg.OutputDir = dir
	err := a.cfg.Save()
	a.mu.Unlock()
	a.refresh()
	return err
}

func (a *App) SetCopyPathToClipboard(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.CopyPathToClipboard = on
	return a.cfg.Save()
}

func (a *App) afterSave(art *artifact.Artifact, err error) {
	if err != nil || art == nil || art.Path == "" {
		return
	}
	a.mu.Lock()
	copyPath := a.cfg.CopyPathToClipboard
	a.mu.Unlock()
	if !copyPath {
		return
	}
	if err := a.copyText(art.Path); err != nil {
		a.log.Warn().Err(err).Msg("Failed to copy path to clipboard")
	}
}

// refresh pushes the current view to the status sink.
func (a *App) refresh() {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	if status == nil {
		return
	}

	v := a.View()
	switch {
	case v.Message() != "":
		status.SetError()
	case v.State == capture.StateRecording:
		status.SetRecording()
	default:
		status.SetIdle()
	}
	status.Refresh(v)
}

// Shutdown stops any recording and releases every stream.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	a.mu.Unlock()

	var errs *multierror.Error
	if err := a.ctrl.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("controller: %w", err))
	}
	if err := a.preview.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("preview: %w", err))
	}

	if err := errs.ErrorOrNil(); err != nil {
		a.log.Error().Err(err).Msg("Shutdown finished with errors")
		return err
	}
	a.log.Info().Msg("Capture widget shut down")
	return nil
}
