package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/petems/asr-tray/internal/app"
	"github.com/petems/asr-tray/internal/config"
	"github.com/petems/asr-tray/internal/logging"
	"github.com/rs/zerolog"
)

// Longest transcript shown in a menu label
const maxLabel = 60

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Guards the last reported values so they can be applied once the
	// menu exists
	mu      sync.Mutex
	ready   bool
	state   app.State
	partial string
	final   string
	lastErr string

	// Menu items
	mStatus     *systray.MenuItem
	mPartial    *systray.MenuItem
	mFinal      *systray.MenuItem
	mConnect    *systray.MenuItem
	mDisconnect *systray.MenuItem
	mStart      *systray.MenuItem
	mStop       *systray.MenuItem
	mEnd        *systray.MenuItem
	mMode       *systray.MenuItem
	mDevices    *systray.MenuItem
	mCopyFinals *systray.MenuItem
}

func New(application *app.App, cfg *config.Config, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks on the platform event loop until Quit. Must be called from
// the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

// Status update methods for the app to call. The app holds its lock while
// calling these, so they only touch menu state.

func (u *UI) SetState(s app.State) {
	u.mu.Lock()
	u.state = s
	if s == app.StateDisconnected {
		u.partial = ""
	}
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) SetPartial(text string) {
	u.mu.Lock()
	u.partial = text
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) SetFinal(text string) {
	u.mu.Lock()
	u.final = text
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) ReportError(err error) {
	u.mu.Lock()
	u.lastErr = err.Error()
	u.mu.Unlock()
	u.refresh()
}

func (u *UI) onReady() {
	systray.SetTooltip("Streaming speech recognition")

	u.mStatus = systray.AddMenuItem("", "Connection status")
	u.mStatus.Disable()
	u.mPartial = systray.AddMenuItem("", "Latest partial result")
	u.mPartial.Disable()
	u.mFinal = systray.AddMenuItem("", "Latest final result")
	u.mFinal.Disable()
	systray.AddSeparator()

	u.mConnect = systray.AddMenuItem("Connect", "Connect to "+u.cfg.ServerURL)
	u.mDisconnect = systray.AddMenuItem("Disconnect", "Close the connection")
	u.mStart = systray.AddMenuItem("Start Mic", "Start streaming the microphone")
	u.mStop = systray.AddMenuItem("Stop Mic", "Stop streaming the microphone")
	u.mEnd = systray.AddMenuItem("End Session", "Tell the server the utterance is over")
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.cfg.Mode), "Toggle between hotkey modes")
	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()
	u.mCopyFinals = systray.AddMenuItemCheckbox("Copy Finals", "Copy final results to the clipboard", u.cfg.Inject.CopyFinals)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About ASR Tray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	state := u.app.State()
	u.mu.Lock()
	u.ready = true
	u.state = state
	u.mu.Unlock()
	u.refresh()

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mConnect.ClickedCh:
			go u.connect()
		case <-u.mDisconnect.ClickedCh:
			u.logErr(u.app.Disconnect(), "Disconnect failed")
		case <-u.mStart.ClickedCh:
			u.logErr(u.app.StartCapture(), "Start capture failed")
		case <-u.mStop.ClickedCh:
			u.logErr(u.app.StopCapture(), "Stop capture failed")
		case <-u.mEnd.ClickedCh:
			u.logErr(u.app.EndSession(), "End session failed")
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mCopyFinals.ClickedCh:
			u.toggleCopyFinals()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// connect dials off the event loop so the menu stays responsive during the
// handshake.
func (u *UI) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.Stream.HandshakeTimeout.Std()+time.Second)
	defer cancel()
	u.logErr(u.app.Connect(ctx, ""), "Connect failed")
}

func (u *UI) logErr(err error, msg string) {
	if err != nil {
		u.log.Warn().Err(err).Msg(msg)
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(fmt.Sprintf("%s (%d Hz)", dev.Name, dev.SampleRate), "")
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Device not changed")
					continue
				}
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) toggleMode() {
	oldMode := u.cfg.Mode
	newMode := config.ModePushToTalk
	if oldMode == config.ModePushToTalk {
		newMode = config.ModeToggle
	}
	if err := u.app.SetMode(newMode); err != nil {
		u.log.Warn().Err(err).Msg("Failed to save mode")
	}
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) toggleCopyFinals() {
	enabled := !u.cfg.Inject.CopyFinals
	if err := u.app.SetCopyFinals(enabled); err != nil {
		u.log.Warn().Err(err).Msg("Failed to save copy finals")
	}
	if enabled {
		u.mCopyFinals.Check()
		u.log.Info().Msg("Enabled copying finals to clipboard")
	} else {
		u.mCopyFinals.Uncheck()
		u.log.Info().Msg("Disabled copying finals to clipboard")
	}
}

func (u *UI) openLogs() {
	path := logging.LogPath()
	if err := exec.Command(openCommand(), path).Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("ASR Tray")
	systray.SetTooltip(fmt.Sprintf("ASR Tray %s (%s)", u.version, u.commit))
}

func (u *UI) onExit() {
	if u.app != nil {
		_ = u.app.Shutdown(context.Background())
	}
}

// refresh applies the last reported values to the title and menu.
func (u *UI) refresh() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.ready {
		return
	}

	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForState(u.state)))

	status := "Status: " + u.state.String()
	if u.lastErr != "" {
		status += " (" + truncate(u.lastErr, maxLabel) + ")"
	}
	u.mStatus.SetTitle(status)
	u.mPartial.SetTitle("Partial: " + truncate(u.partial, maxLabel))
	u.mFinal.SetTitle("Final: " + truncate(u.final, maxLabel))

	c := controlsFor(u.state)
	setEnabled(u.mConnect, c.connect)
	setEnabled(u.mDisconnect, c.disconnect)
	setEnabled(u.mStart, c.start)
	setEnabled(u.mStop, c.stop)
	setEnabled(u.mEnd, c.end)
}

type controls struct {
	connect    bool
	disconnect bool
	start      bool
	stop       bool
	end        bool
}

// controlsFor returns which actions are offered in a state
func controlsFor(s app.State) controls {
	return controls{
		connect:    s.CanConnect(),
		disconnect: s.CanDisconnect(),
		start:      s.CanStartCapture(),
		stop:       s.CanStopCapture(),
		end:        s.CanEndSession(),
	}
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

// emojiForState returns the appropriate status emoji
func emojiForState(s app.State) string {
	switch s {
	case app.StateCapturing:
		return "🔴" // Red - streaming audio
	case app.StateConnected:
		return "🟢" // Green - ready
	default:
		return "⚪️" // White - no connection
	}
}

func modeTitle(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func openCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "windows":
		return "notepad"
	default:
		return "xdg-open"
	}
}
