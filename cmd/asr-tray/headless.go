package main

import (
	"context"
	"sync"

	"github.com/petems/asr-tray/internal/app"
	"github.com/rs/zerolog"
)

// logStatus reports controller updates to the log when there is no tray.
// disconnected is closed the first time the connection is lost.
type logStatus struct {
	log          zerolog.Logger
	once         sync.Once
	disconnected chan struct{}
}

func newLogStatus(log zerolog.Logger) *logStatus {
	return &logStatus{
		log:          log,
		disconnected: make(chan struct{}),
	}
}

// SetState is called with the controller lock held and must not block.
func (s *logStatus) SetState(state app.State) {
	s.log.Info().Stringer("state", state).Msg("State")
	if state == app.StateDisconnected {
		s.once.Do(func() { close(s.disconnected) })
	}
}

func (s *logStatus) SetPartial(text string) {
	s.log.Info().Str("text", text).Msg("Partial")
}

func (s *logStatus) SetFinal(text string) {
	s.log.Info().Str("text", text).Msg("Final")
}

func (s *logStatus) ReportError(err error) {
	s.log.Warn().Err(err).Msg("Error")
}

// Disconnected is closed once the connection has been lost.
func (s *logStatus) Disconnected() <-chan struct{} {
	return s.disconnected
}

// runHeadless connects and streams until ctx is done or the server goes
// away. On a local shutdown it tells the server the session is over.
func runHeadless(ctx context.Context, application *app.App, status *logStatus, log zerolog.Logger) {
	if err := application.Connect(ctx, ""); err != nil {
		log.Error().Err(err).Msg("Connect failed")
		return
	}
	if err := application.StartCapture(); err != nil {
		log.Error().Err(err).Msg("Start capture failed")
		return
	}

	select {
	case <-ctx.Done():
	case <-status.Disconnected():
		log.Warn().Msg("Connection lost, exiting")
		return
	}

	if application.State() == app.StateCapturing {
		if err := application.StopCapture(); err != nil {
			log.Warn().Err(err).Msg("Stop capture failed")
		}
	}
	if application.State() == app.StateConnected {
		if err := application.EndSession(); err != nil {
			log.Warn().Err(err).Msg("End session failed")
		}
	}
}
