package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/asr-tray/internal/audio"
	"github.com/petems/asr-tray/internal/config"
	"github.com/petems/asr-tray/internal/inject"
	"github.com/petems/asr-tray/internal/metrics"
	"github.com/petems/asr-tray/internal/permissions"
	"github.com/petems/asr-tray/internal/transport"
	"github.com/rs/zerolog"
)

type Mode int

const (
	PushToTalk Mode = iota
	Toggle
)

var (
	ErrAcquisition       = errors.New("microphone acquisition failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrQueueOverflow     = errors.New("audio queue overflow")
)

// Transport is the streaming connection the controller drives.
type Transport interface {
	Open(ctx context.Context, address string) (<-chan transport.Event, error)
	SendAudio(frame []int16) error
	SendEnd() error
	Close() error
}

// StatusUpdater receives everything the consumer displays. Methods are
// called with the controller locked and must not call back into App.
type StatusUpdater interface {
	SetState(State)
	SetPartial(text string)
	SetFinal(text string)
	ReportError(err error)
}

// Transcript is what a consumer would currently show: the latest partial
// and the latest final, each overwritten only by its own kind.
type Transcript struct {
	Partial string
	Final   string
}

type Config struct {
	Audio         audio.Capture
	Transport     Transport
	Injector      inject.Injector  // Optional - used when copy_finals is set
	Metrics       *metrics.Metrics // Optional - a private set is created if nil
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	// Optional - defaults to permissions.EnsureMicrophone
	CheckMicrophone func() error
}

type App struct {
	audio    audio.Capture
	conn     Transport
	inj      inject.Injector
	metrics  *metrics.Metrics
	cfg      *config.Config
	log      zerolog.Logger
	status   StatusUpdater
	checkMic func() error

	// sendMu keeps packets from successive capture sessions from
	// interleaving on the wire
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	connecting bool
	connID     uint64
	queue      *audio.Packetizer
	capture    *captureSession
	captureID  uint64
	transcript Transcript
}

// captureSession is the live microphone stream plus the pipeline task
// feeding it into the queue.
type captureSession struct {
	id         uint64
	sessionID  string
	sampleRate int
	cancel     context.CancelFunc
	chunks     chan audio.Chunk
}

func New(cfg Config) *App {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	checkMic := cfg.CheckMicrophone
	if checkMic == nil {
		checkMic = permissions.EnsureMicrophone
	}

	return &App{
		audio:    cfg.Audio,
		conn:     cfg.Transport,
		inj:      cfg.Injector,
		metrics:  m,
		cfg:      cfg.Config,
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
		checkMic: checkMic,
		state:    StateDisconnected,
		queue:    audio.NewPacketizer(cfg.Config.MaxQueuedSamples(audio.PacketSamples)),
	}
}

// Connect opens the transport. Only valid while disconnected; an empty url
// uses the configured server.
func (a *App) Connect(ctx context.Context, url string) error {
	if url == "" {
		url = a.cfg.ServerURL
	}

	a.mu.Lock()
	if a.state != StateDisconnected || a.connecting {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidTransition, state)
	}
	a.connecting = true
	a.mu.Unlock()

	events, err := a.conn.Open(ctx, url)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.connecting = false

	if err != nil {
		a.reportLocked("connection", err)
		return err
	}

	a.connID++
	a.setStateLocked(StateConnected)
	a.metrics.Connections.Inc()
	a.log.Info().Str("url", url).Msg("Connected")

	go a.consumeEvents(a.connID, events)
	return nil
}

// Disconnect closes the transport, stopping capture first if needed.
func (a *App) Disconnect() error {
	a.mu.Lock()
	if a.state == StateDisconnected {
		a.mu.Unlock()
		return nil
	}

	if a.state == StateCapturing {
		a.stopCaptureLocked()
	}

	// Events still in flight for this connection are now stale
	a.connID++
	a.setStateLocked(StateDisconnected)
	// Connect waits until the socket is actually closed
	a.connecting = true
	a.mu.Unlock()

	if err := a.conn.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Error closing connection")
	}

	a.mu.Lock()
	a.connecting = false
	a.mu.Unlock()

	a.log.Info().Msg("Disconnected")
	return nil
}

// StartCapture acquires the microphone and starts streaming. Only valid
// while connected.
func (a *App) StartCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateConnected {
		return fmt.Errorf("%w: start capture while %s", ErrInvalidTransition, a.state)
	}

	if err := a.checkMic(); err != nil {
		err = fmt.Errorf("%w: %v", ErrAcquisition, err)
		a.reportLocked("acquisition", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan audio.Chunk, 16)

	rate, err := a.audio.Start(ctx, a.cfg.Audio.DeviceID, chunks)
	if err != nil {
		cancel()
		err = fmt.Errorf("%w: %v", ErrAcquisition, err)
		a.reportLocked("acquisition", err)
		return err
	}

	a.captureID++
	session := &captureSession{
		id:         a.captureID,
		sessionID:  uuid.New().String(),
		sampleRate: rate,
		cancel:     cancel,
		chunks:     chunks,
	}
	a.capture = session
	a.queue.Reset()
	a.setStateLocked(StateCapturing)
	a.metrics.CaptureSessions.Inc()

	a.log.Info().
		Str("session_id", session.sessionID).
		Int("source_rate", rate).
		Int("target_rate", audio.TargetRate).
		Msg("Capture started")

	go a.pump(ctx, session)
	return nil
}

// StopCapture releases the microphone and discards any partial packet.
func (a *App) StopCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateCapturing {
		return fmt.Errorf("%w: stop capture while %s", ErrInvalidTransition, a.state)
	}

	a.stopCaptureLocked()
	a.setStateLocked(StateConnected)
	return nil
}

// EndSession tells the recognizer the utterance stream is over.
func (a *App) EndSession() error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	if state == StateDisconnected {
		return fmt.Errorf("%w: end session while %s", ErrInvalidTransition, state)
	}

	if err := a.conn.SendEnd(); err != nil {
		a.mu.Lock()
		a.reportLocked("send", err)
		a.mu.Unlock()
		return err
	}
	a.log.Info().Msg("End of session sent")
	return nil
}

func (a *App) stopCaptureLocked() {
	session := a.capture
	if session == nil {
		return
	}

	session.cancel()
	if err := a.audio.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Error stopping audio stream")
	}

	pending := a.queue.Len()
	a.queue.Reset()
	a.capture = nil
	a.metrics.QueueDepth.Set(0)

	a.log.Info().
		Str("session_id", session.sessionID).
		Int("discarded_samples", pending).
		Msg("Capture stopped")
}

// pump feeds one capture session's chunks through the pipeline in arrival
// order until the session is cancelled.
func (a *App) pump(ctx context.Context, session *captureSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-session.chunks:
			if chunk.Err != nil {
				a.captureFailed(session.id, chunk.Err)
				return
			}
			a.processChunk(session.id, chunk)
		}
	}
}

// processChunk resamples one device buffer, queues it and sends every
// packet that is now complete. The first failed send ends the drain;
// packets still queued wait for the next chunk. Sends happen without the
// controller lock so stop and disconnect never wait on the network.
func (a *App) processChunk(id uint64, chunk audio.Chunk) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	if !a.liveLocked(id) {
		a.mu.Unlock()
		return
	}
	a.metrics.ChunksCaptured.Inc()

	if chunk.Dropped > 0 {
		a.metrics.ChunksDropped.Add(float64(chunk.Dropped))
		a.reportLocked("overflow", fmt.Errorf("%w: capture dropped %d buffers", ErrQueueOverflow, chunk.Dropped))
	}

	resampled := audio.Resample(chunk.Samples, chunk.SampleRate)
	a.metrics.SamplesResampled.Add(float64(len(resampled)))

	if dropped := a.queue.Append(resampled); dropped > 0 {
		a.metrics.SamplesDropped.Add(float64(dropped))
		a.reportLocked("overflow", fmt.Errorf("%w: dropped %d samples", ErrQueueOverflow, dropped))
	}
	a.mu.Unlock()

	for {
		a.mu.Lock()
		if !a.liveLocked(id) {
			a.mu.Unlock()
			return
		}
		packet, ok := a.queue.Next()
		a.metrics.QueueDepth.Set(float64(a.queue.Len()))
		a.mu.Unlock()
		if !ok {
			return
		}

		frame := audio.Quantize(packet)
		if err := a.conn.SendAudio(frame); err != nil {
			a.mu.Lock()
			if a.liveLocked(id) {
				a.metrics.SendFailures.Inc()
				a.reportLocked("send", err)
			}
			a.mu.Unlock()
			return
		}
		a.metrics.PacketsSent.Inc()
		a.metrics.BytesSent.Add(float64(len(frame) * 2))
	}
}

// liveLocked reports whether id is the capture session currently streaming.
func (a *App) liveLocked(id uint64) bool {
	return a.state == StateCapturing && a.capture != nil && a.capture.id == id
}

// captureFailed tears down a capture session whose device stopped
// delivering audio.
func (a *App) captureFailed(id uint64, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.liveLocked(id) {
		return
	}
	a.stopCaptureLocked()
	a.setStateLocked(StateConnected)
	a.reportLocked("acquisition", fmt.Errorf("%w: %v", ErrAcquisition, cause))
}

func (a *App) consumeEvents(id uint64, events <-chan transport.Event) {
	for ev := range events {
		a.handleEvent(id, ev)
	}
}

func (a *App) handleEvent(id uint64, ev transport.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id != a.connID {
		return
	}

	switch ev.Kind {
	case transport.EventResult:
		if ev.Result.Final {
			a.transcript.Final = ev.Result.Text
			a.metrics.Results.WithLabelValues("final").Inc()
			a.log.Info().Str("final", ev.Result.Text).Msg("Final")
			if a.status != nil {
				a.status.SetFinal(ev.Result.Text)
			}
			a.deliverFinal(ev.Result.Text)
		} else {
			a.transcript.Partial = ev.Result.Text
			a.metrics.Results.WithLabelValues("partial").Inc()
			a.log.Debug().Str("partial", ev.Result.Text).Msg("Partial")
			if a.status != nil {
				a.status.SetPartial(ev.Result.Text)
			}
		}

	case transport.EventServerError:
		a.reportLocked("server", ev.Err)

	case transport.EventParseError:
		a.reportLocked("parse", ev.Err)

	case transport.EventClosed:
		if a.state == StateCapturing {
			a.stopCaptureLocked()
		}
		a.connID++
		a.setStateLocked(StateDisconnected)
		if ev.Err != nil {
			a.reportLocked("connection", ev.Err)
		}
		a.log.Info().Msg("Connection closed")
	}
}

func (a *App) deliverFinal(text string) {
	if a.inj == nil || !a.cfg.Inject.CopyFinals {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.inj.Deliver(ctx, text); err != nil {
			a.log.Error().Err(err).Msg("Inject error")
		}
	}()
}

func (a *App) reportLocked(category string, err error) {
	a.log.Error().Err(err).Str("category", category).Msg("Pipeline error")
	a.metrics.Errors.WithLabelValues(category).Inc()
	if a.status != nil {
		a.status.ReportError(err)
	}
}

func (a *App) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.log.Debug().Stringer("from", a.state).Stringer("to", s).Msg("State change")
	a.state = s
	if a.status != nil {
		a.status.SetState(s)
	}
}

// OnHotkey starts or stops capture according to the configured mode.
// Ignored unless connected.
func (a *App) OnHotkey(pressed bool) {
	a.mu.Lock()
	mode := PushToTalk
	if a.cfg.Mode == config.ModeToggle {
		mode = Toggle
	}
	state := a.state
	a.mu.Unlock()

	var err error

	switch mode {
	case PushToTalk:
		if pressed && state == StateConnected {
			err = a.StartCapture()
		} else if !pressed && state == StateCapturing {
			err = a.StopCapture()
		}
	case Toggle:
		if !pressed {
			return
		}
		switch state {
		case StateConnected:
			err = a.StartCapture()
		case StateCapturing:
			err = a.StopCapture()
		}
	}

	if err != nil {
		a.log.Debug().Err(err).Msg("Hotkey ignored")
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Disconnect()
}

func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) Transcript() Transcript {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript
}

// QueuedSamples reports how much audio is waiting for a full packet.
func (a *App) QueuedSamples() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Len()
}

// Tray actions

func (a *App) SetMode(mode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Mode = mode
	return a.cfg.Save()
}

func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateCapturing {
		return fmt.Errorf("cannot change device while capturing")
	}

	a.cfg.Audio.DeviceID = id
	return a.cfg.Save()
}

func (a *App) SetCopyFinals(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Inject.CopyFinals = enabled
	return a.cfg.Save()
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	return a.audio.ListDevices()
}
