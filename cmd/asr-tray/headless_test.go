package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petems/asr-tray/internal/app"
	"github.com/petems/asr-tray/internal/audio"
	"github.com/petems/asr-tray/internal/config"
	"github.com/petems/asr-tray/internal/transport"
	"github.com/rs/zerolog"
)

type idleCapture struct{}

func (idleCapture) Start(ctx context.Context, deviceID string, out chan<- audio.Chunk) (int, error) {
	return audio.TargetRate, nil
}

func (idleCapture) Stop() error { return nil }

func (idleCapture) ListDevices() ([]audio.AudioDevice, error) { return nil, nil }

func (idleCapture) Close() error { return nil }

// remoteServer hands out one event channel the test can close from the
// server side.
type remoteServer struct {
	mu     sync.Mutex
	events chan transport.Event
	ends   int
}

func (r *remoteServer) Open(ctx context.Context, address string) (<-chan transport.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(chan transport.Event, 4)
	return r.events, nil
}

func (r *remoteServer) SendAudio(frame []int16) error { return nil }

func (r *remoteServer) SendEnd() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	return nil
}

func (r *remoteServer) Close() error { return nil }

func (r *remoteServer) hangUp() {
	r.mu.Lock()
	events := r.events
	r.mu.Unlock()
	events <- transport.Event{Kind: transport.EventClosed, Err: errors.New("server went away")}
	close(events)
}

func (r *remoteServer) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends
}

func newHeadlessApp(t *testing.T, server *remoteServer, status *logStatus) *app.App {
	t.Helper()
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	application := app.New(app.Config{
		Audio:           idleCapture{},
		Transport:       server,
		Config:          cfg,
		Logger:          zerolog.Nop(),
		StatusUpdater:   status,
		CheckMicrophone: func() error { return nil },
	})
	t.Cleanup(func() { _ = application.Shutdown(context.Background()) })
	return application
}

func TestLogStatusSignalsDisconnectOnce(t *testing.T) {
	s := newLogStatus(zerolog.Nop())

	s.SetState(app.StateConnected)
	s.SetState(app.StateCapturing)
	select {
	case <-s.Disconnected():
		t.Fatal("expected no signal while connected")
	default:
	}

	s.SetState(app.StateDisconnected)
	s.SetState(app.StateDisconnected)
	select {
	case <-s.Disconnected():
	default:
		t.Fatal("expected signal after disconnect")
	}
}

func TestRunHeadlessExitsWhenServerCloses(t *testing.T) {
	server := &remoteServer{}
	status := newLogStatus(zerolog.Nop())
	application := newHeadlessApp(t, server, status)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runHeadless(context.Background(), application, status, zerolog.Nop())
	}()

	for i := 0; application.State() != app.StateCapturing; i++ {
		if i == 200 {
			t.Fatal("timed out waiting for capture")
		}
		time.Sleep(10 * time.Millisecond)
	}
	server.hangUp()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected headless run to return after the server closed")
	}
	if application.State() != app.StateDisconnected {
		t.Errorf("expected disconnected, got %s", application.State())
	}
}

func TestRunHeadlessEndsSessionOnShutdown(t *testing.T) {
	server := &remoteServer{}
	status := newLogStatus(zerolog.Nop())
	application := newHeadlessApp(t, server, status)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runHeadless(ctx, application, status, zerolog.Nop())
	}()

	for i := 0; application.State() != app.StateCapturing; i++ {
		if i == 200 {
			t.Fatal("timed out waiting for capture")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected headless run to return after shutdown")
	}
	if server.endCount() != 1 {
		t.Errorf("expected one end-of-session message, got %d", server.endCount())
	}
}
