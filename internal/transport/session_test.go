package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/asr-tray/internal/audio"
	"github.com/rs/zerolog"
)

type received struct {
	messageType int
	data        []byte
}

// fakeRecognizer accepts one websocket, records everything the client
// sends and writes whatever is pushed on outbound.
type fakeRecognizer struct {
	server   *httptest.Server
	received chan received
	outbound chan []byte
	closeNow chan struct{}
}

func newFakeRecognizer(t *testing.T) *fakeRecognizer {
	t.Helper()
	f := &fakeRecognizer{
		received: make(chan received, 32),
		outbound: make(chan []byte, 32),
		closeNow: make(chan struct{}),
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				mt, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				f.received <- received{messageType: mt, data: data}
			}
		}()

		for {
			select {
			case msg := <-f.outbound:
				if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-f.closeNow:
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			case <-readerDone:
				return
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRecognizer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRecognizer) next(t *testing.T) received {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return received{}
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func newTestSession() *Session {
	return New(Config{HandshakeTimeout: time.Second, Logger: zerolog.Nop()})
}

func openTestSession(t *testing.T, f *fakeRecognizer) (*Session, <-chan Event) {
	t.Helper()
	s := newTestSession()
	events, err := s.Open(context.Background(), f.url())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, events
}

func TestOpenTransitionsToOpen(t *testing.T) {
	f := newFakeRecognizer(t)
	s := newTestSession()

	if s.State() != StateClosed {
		t.Fatalf("expected closed before open, got %v", s.State())
	}
	if _, err := s.Open(context.Background(), f.url()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if s.State() != StateOpen {
		t.Errorf("expected open, got %v", s.State())
	}
}

func TestOpenTwiceFails(t *testing.T) {
	f := newFakeRecognizer(t)
	s, _ := openTestSession(t, f)

	if _, err := s.Open(context.Background(), f.url()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestOpenFailureLeavesClosed(t *testing.T) {
	s := newTestSession()

	_, err := s.Open(context.Background(), "ws://127.0.0.1:1/none")
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed after failed open, got %v", s.State())
	}
}

func TestSendAudioWritesBinaryFrame(t *testing.T) {
	f := newFakeRecognizer(t)
	s, _ := openTestSession(t, f)

	frame := make([]int16, audio.PacketSamples)
	for i := range frame {
		frame[i] = 32767
	}
	if err := s.SendAudio(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := f.next(t)
	if msg.messageType != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got type %d", msg.messageType)
	}
	if len(msg.data) != audio.PacketSamples*2 {
		t.Fatalf("expected %d bytes, got %d", audio.PacketSamples*2, len(msg.data))
	}
	if !bytes.Equal(msg.data, audio.PCM16Bytes(frame)) {
		t.Error("payload does not match little-endian PCM16 frame")
	}
}

func TestSendEndWritesControlMessage(t *testing.T) {
	f := newFakeRecognizer(t)
	s, _ := openTestSession(t, f)

	if err := s.SendEnd(); err != nil {
		t.Fatalf("send end: %v", err)
	}

	msg := f.next(t)
	if msg.messageType != websocket.TextMessage {
		t.Fatalf("expected text message, got type %d", msg.messageType)
	}
	if string(msg.data) != `{"event":"end"}` {
		t.Errorf("unexpected control payload %s", msg.data)
	}
}

func TestSendWhileClosed(t *testing.T) {
	s := newTestSession()

	if err := s.SendAudio(make([]int16, audio.PacketSamples)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen for audio, got %v", err)
	}
	if err := s.SendEnd(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen for end, got %v", err)
	}
}

func TestInboundDemultiplexing(t *testing.T) {
	f := newFakeRecognizer(t)
	_, events := openTestSession(t, f)

	f.outbound <- []byte(`{"type":"pong"}`)
	f.outbound <- []byte(`{"type":"result","final":false,"text":"hel"}`)
	f.outbound <- []byte(`not json`)
	f.outbound <- []byte(`{"type":"result","final":true,"text":"hello"}`)
	f.outbound <- []byte(`{"type":"error","message":"quota exceeded"}`)

	ev := nextEvent(t, events)
	if ev.Kind != EventResult || ev.Result.Final || ev.Result.Text != "hel" {
		t.Fatalf("expected partial 'hel', got %+v", ev)
	}

	ev = nextEvent(t, events)
	if ev.Kind != EventParseError || !errors.Is(ev.Err, ErrParse) {
		t.Fatalf("expected parse error, got %+v", ev)
	}

	// The connection survives a malformed payload
	ev = nextEvent(t, events)
	if ev.Kind != EventResult || !ev.Result.Final || ev.Result.Text != "hello" {
		t.Fatalf("expected final 'hello', got %+v", ev)
	}

	ev = nextEvent(t, events)
	if ev.Kind != EventServerError || !errors.Is(ev.Err, ErrServer) {
		t.Fatalf("expected server error, got %+v", ev)
	}
	if !strings.Contains(ev.Err.Error(), "quota exceeded") {
		t.Errorf("expected server message in error, got %v", ev.Err)
	}
}

func TestRemoteCloseEmitsClosed(t *testing.T) {
	f := newFakeRecognizer(t)
	s, events := openTestSession(t, f)

	close(f.closeNow)

	ev := nextEvent(t, events)
	if ev.Kind != EventClosed {
		t.Fatalf("expected closed event, got %+v", ev)
	}
	if !errors.Is(ev.Err, ErrConnection) {
		t.Errorf("expected remote close to carry ErrConnection, got %v", ev.Err)
	}
	if _, ok := <-events; ok {
		t.Error("expected events channel to be closed after EventClosed")
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed state, got %v", s.State())
	}
	if err := s.SendAudio(make([]int16, audio.PacketSamples)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after remote close, got %v", err)
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	f := newFakeRecognizer(t)
	s, events := openTestSession(t, f)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	ev := nextEvent(t, events)
	if ev.Kind != EventClosed {
		t.Fatalf("expected closed event, got %+v", ev)
	}
	if ev.Err != nil {
		t.Errorf("expected no cause for a local close, got %v", ev.Err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %v", s.State())
	}
}

func TestReopenAfterClose(t *testing.T) {
	f := newFakeRecognizer(t)
	s, _ := openTestSession(t, f)
	s.Close()

	if _, err := s.Open(context.Background(), f.url()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s.State() != StateOpen {
		t.Errorf("expected open after reopen, got %v", s.State())
	}
}

func TestSendsArriveInOrder(t *testing.T) {
	f := newFakeRecognizer(t)
	s, _ := openTestSession(t, f)

	for i := 0; i < 3; i++ {
		frame := make([]int16, audio.PacketSamples)
		frame[0] = int16(i + 1)
		if err := s.SendAudio(frame); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := s.SendEnd(); err != nil {
		t.Fatalf("send end: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := f.next(t)
		if msg.messageType != websocket.BinaryMessage {
			t.Fatalf("message %d: expected binary, got %d", i, msg.messageType)
		}
		if msg.data[0] != byte(i+1) {
			t.Errorf("message %d out of order: first byte %d", i, msg.data[0])
		}
	}
	if msg := f.next(t); msg.messageType != websocket.TextMessage {
		t.Errorf("expected end message last, got type %d", msg.messageType)
	}
}

// A connection whose write pump is stuck must not stall the caller.
func TestSendFailsFastWhenQueueFull(t *testing.T) {
	s := newTestSession()
	s.state = StateOpen
	s.conn = &connection{
		send: make(chan outbound, 1),
		done: make(chan struct{}),
	}

	frame := make([]int16, audio.PacketSamples)
	if err := s.SendAudio(frame); err != nil {
		t.Fatalf("expected first send to queue, got %v", err)
	}

	start := time.Now()
	err := s.SendAudio(frame)
	if !errors.Is(err, ErrSend) {
		t.Fatalf("expected send error on a full queue, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected an immediate failure, took %v", elapsed)
	}
}

func TestSendAfterConnectionDoneIsNotOpen(t *testing.T) {
	s := newTestSession()
	s.state = StateOpen
	done := make(chan struct{})
	close(done)
	s.conn = &connection{
		send: make(chan outbound, 1),
		done: done,
	}

	if err := s.SendEnd(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected not open once the connection is done, got %v", err)
	}
}
