package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/getlantern/systray"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/petems/capture-tray/internal/app"
	"github.com/petems/capture-tray/internal/capture"
	"github.com/petems/capture-tray/internal/config"
	"github.com/petems/capture-tray/internal/device"
	"github.com/petems/capture-tray/internal/logging"
	"github.com/petems/capture-tray/internal/media"
)

type UI struct {
	app        *app.App
	cfg        *config.Config
	version    string
	commit     string
	previewURL func() string
	log        zerolog.Logger

	mu    sync.Mutex
	ready bool

	// Menu items
	mMessage      *systray.MenuItem
	mCapture      *systray.MenuItem
	mSaveImage    *systray.MenuItem
	mVideo        *systray.MenuItem
	mSaveVideo    *systray.MenuItem
	mSwitch       *systray.MenuItem
	mAudio        *systray.MenuItem
	mIncludeAudio *systray.MenuItem
	mCameras      *systray.MenuItem
	mMicrophones  *systray.MenuItem
	mCopyPath     *systray.MenuItem
	mPreview      *systray.MenuItem
	mOutput       *systray.MenuItem
	mAbout        *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// Refresh brings the menu in line with the widget. Calls before the tray is
// ready are dropped; onReady renders the current view itself.
func (u *UI) Refresh(v app.View) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.ready {
		return
	}
	u.render(menuFor(v))
}

// New creates the tray. previewURL is asked for the page address each time
// Open Preview is clicked.
func New(application *app.App, cfg *config.Config, version, commit string, previewURL func() string, log zerolog.Logger) *UI {
	return &UI{
		app:        application,
		cfg:        cfg,
		version:    version,
		commit:     commit,
		previewURL: previewURL,
		log:        log.With().Str("component", "tray").Logger(),
	}
}

// Run blocks until Quit is chosen. onQuit runs on the way out.
func (u *UI) Run(ctx context.Context, onQuit func()) {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, func() {
		if onQuit != nil {
			onQuit()
		}
	})
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Camera and microphone capture")

	// Build menu
	u.mMessage = systray.AddMenuItem("", "")
	u.mMessage.Disable()
	u.mMessage.Hide()

	u.mCapture = systray.AddMenuItem("Capture Image", "Take a still from the camera")
	u.mSaveImage = systray.AddMenuItem("Save Image", "Write the captured image to the output folder")
	u.mVideo = systray.AddMenuItem("Start Recording Video", "Record video from the camera")
	u.mSaveVideo = systray.AddMenuItem("Save Video", "Write the recorded video to the output folder")
	u.mAudio = systray.AddMenuItem("Start Recording Audio", "Record from the microphone")
	systray.AddSeparator()

	u.mSwitch = systray.AddMenuItem("Switch Camera", "Toggle between front and rear cameras")
	u.mIncludeAudio = systray.AddMenuItemCheckbox("Include Audio", "Capture the microphone with the preview", u.cfg.IncludeAudio)
	u.mCameras = systray.AddMenuItem("Camera", "Select video device")
	u.buildCameraMenu()
	u.mMicrophones = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildMicrophoneMenu()
	u.mCopyPath = systray.AddMenuItemCheckbox("Copy Path to Clipboard", "Copy saved file paths", u.cfg.CopyPathToClipboard)
	systray.AddSeparator()

	u.mPreview = systray.AddMenuItem("Open Preview", "Show the live preview in the browser")
	u.mOutput = systray.AddMenuItem("Open Output Folder", "Show saved captures")
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	u.mAbout = systray.AddMenuItem("About", "About CaptureTray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	u.render(menuFor(u.app.View()))
	u.mu.Unlock()

	// Event loop
	go u.handleEvents(mLogs, mQuit)
}

func (u *UI) handleEvents(mLogs, mQuit *systray.MenuItem) {
	ctx := context.Background()
	for {
		select {
		case <-u.mCapture.ClickedCh:
			u.report("capture image", ignoreArtifact(u.app.CaptureImage(ctx)))
		case <-u.mSaveImage.ClickedCh:
			u.report("save image", ignoreArtifact(u.app.SaveImage(ctx)))
		case <-u.mVideo.ClickedCh:
			u.report("toggle video recording", u.app.ToggleVideoRecording(ctx))
		case <-u.mSaveVideo.ClickedCh:
			u.report("save video", ignoreArtifact(u.app.SaveVideo(ctx)))
		case <-u.mAudio.ClickedCh:
			u.report("toggle audio recording", u.app.ToggleAudioRecording(ctx))
		case <-u.mSwitch.ClickedCh:
			if facing, err := u.app.SwitchCamera(ctx); err != nil {
				u.report("switch camera", err)
			} else {
				u.log.Info().Str("facing", string(facing)).Msg("Switched camera")
			}
		case <-u.mIncludeAudio.ClickedCh:
			u.toggleIncludeAudio(ctx)
		case <-u.mCopyPath.ClickedCh:
			u.toggleCopyPath()
		case <-u.mPreview.ClickedCh:
			u.open(u.previewURL(), browser.OpenURL)
		case <-u.mOutput.ClickedCh:
			u.open(u.app.View().OutputDir, browser.OpenFile)
		case <-mLogs.ClickedCh:
			u.open(logging.LogPath(), browser.OpenFile)
		case <-u.mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func ignoreArtifact(_ any, err error) error {
	return err
}

// report logs a failed menu action. The user sees the error through the
// message item after the next refresh.
func (u *UI) report(action string, err error) {
	if err != nil {
		u.log.Warn().Err(err).Str("action", action).Msg("Menu action failed")
	}
}

func (u *UI) buildCameraMenu() {
	cams := device.ListCameras()
	if len(cams) == 0 {
		u.mCameras.Disable()
		return
	}
	selected := u.cfg.Video.UserDeviceID
	if u.app.View().Facing == media.FacingEnvironment {
		selected = u.cfg.Video.EnvironmentDeviceID
	}
	u.buildSelectMenu(u.mCameras, cams, selected, func(id string) error {
		return u.app.SetCamera(context.Background(), id)
	})
}

func (u *UI) buildMicrophoneMenu() {
	mics, err := device.ListMicrophones()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		u.mMicrophones.Disable()
		return
	}
	u.buildSelectMenu(u.mMicrophones, mics, u.cfg.Audio.DeviceID, u.app.SetMicrophone)
}

// buildSelectMenu adds one radio-style sub item per device. An empty
// selected ID checks the system default.
func (u *UI) buildSelectMenu(parent *systray.MenuItem, devices []device.Device, selected string, choose func(id string) error) {
	items := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := parent.AddSubMenuItem(deviceLabel(dev), "")
		if dev.ID == selected || (selected == "" && dev.Default) {
			item.Check()
		}
		items[dev.ID] = item

		go func(dev device.Device, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := choose(dev.ID); err != nil {
					u.log.Warn().Err(err).Str("device", dev.Label).Msg("Failed to change device")
					continue
				}
				// Uncheck all other items
				for id, itm := range items {
					if id != dev.ID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", dev.Label).Stringer("kind", dev.Kind).Msg("Changed device")
			}
		}(dev, item)
	}
}

func deviceLabel(d device.Device) string {
	if d.Label == "" {
		return d.ID
	}
	return d.Label
}

func (u *UI) toggleIncludeAudio(ctx context.Context) {
	on := !u.mIncludeAudio.Checked()
	if err := u.app.SetIncludeAudio(ctx, on); err != nil {
		u.log.Error().Err(err).Bool("include_audio", on).Msg("Failed to change preview audio")
	}
	if u.app.View().IncludeAudio {
		u.mIncludeAudio.Check()
	} else {
		u.mIncludeAudio.Uncheck()
	}
}

func (u *UI) toggleCopyPath() {
	on := !u.mCopyPath.Checked()
	if err := u.app.SetCopyPathToClipboard(on); err != nil {
		u.log.Warn().Err(err).Msg("Failed to save config")
	}
	if on {
		u.mCopyPath.Check()
		u.log.Info().Msg("Enabled copying saved paths to the clipboard")
	} else {
		u.mCopyPath.Uncheck()
		u.log.Info().Msg("Disabled copying saved paths to the clipboard")
	}
}

func (u *UI) open(target string, opener func(string) error) {
	if target == "" {
		return
	}
	if err := opener(target); err != nil {
		u.log.Error().Err(err).Str("target", target).Msg("Failed to open")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("CaptureTray: camera and microphone capture")
}

// menuState is what the menu shows for one app.View.
type menuState struct {
	Message      string
	Controls     bool
	SaveImage    bool
	VideoTitle   string
	VideoEnabled bool
	SaveVideo    bool
	AudioTitle   string
	AudioEnabled bool
	SwitchTitle  string
	IncludeAudio bool
}

func menuFor(v app.View) menuState {
	m := menuState{
		Message:      v.Message(),
		Controls:     v.ControlsVisible(),
		SaveImage:    v.Image != nil,
		VideoTitle:   "Start Recording Video",
		VideoEnabled: true,
		SaveVideo:    v.SaveVideoVisible,
		AudioTitle:   "Start Recording Audio",
		AudioEnabled: true,
		SwitchTitle:  switchTitle(v.Facing),
		IncludeAudio: v.IncludeAudio,
	}
	if v.State == capture.StateRecording {
		switch v.Kind {
		case media.KindVideo:
			m.VideoTitle = "Stop Recording Video"
			m.AudioEnabled = false
		case media.KindAudio:
			m.AudioTitle = "Stop Recording Audio"
			m.VideoEnabled = false
		}
		m.SaveVideo = false
	}
	return m
}

func switchTitle(f media.FacingMode) string {
	if f == media.FacingEnvironment {
		return "Switch Camera (rear)"
	}
	return "Switch Camera (front)"
}

// render must be called with u.mu held after onReady.
func (u *UI) render(m menuState) {
	if m.Message != "" {
		u.mMessage.SetTitle(m.Message)
		u.mMessage.Show()
	} else {
		u.mMessage.Hide()
	}

	controls := []*systray.MenuItem{
		u.mCapture, u.mVideo, u.mAudio, u.mSwitch,
		u.mIncludeAudio, u.mCameras, u.mMicrophones, u.mCopyPath,
		u.mPreview, u.mOutput, u.mAbout,
	}
	for _, item := range controls {
		setVisible(item, m.Controls)
	}
	setVisible(u.mSaveImage, m.Controls && m.SaveImage)
	setVisible(u.mSaveVideo, m.Controls && m.SaveVideo)
	if !m.Controls {
		return
	}

	u.mVideo.SetTitle(m.VideoTitle)
	setEnabled(u.mVideo, m.VideoEnabled)
	u.mAudio.SetTitle(m.AudioTitle)
	setEnabled(u.mAudio, m.AudioEnabled)
	u.mSwitch.SetTitle(m.SwitchTitle)
	if m.IncludeAudio {
		u.mIncludeAudio.Check()
	} else {
		u.mIncludeAudio.Uncheck()
	}
}

func setVisible(item *systray.MenuItem, on bool) {
	if on {
		item.Show()
	} else {
		item.Hide()
	}
}

func setEnabled(item *systray.MenuItem, on bool) {
	if on {
		item.Enable()
	} else {
		item.Disable()
	}
}

// updateStatus sets the tray title with camera emoji and status indicator
func (u *UI) updateStatus(status string) {
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("📷 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
