package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/asr-tray/internal/audio"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	eventBuffer    = 64
	// Outbound messages waiting for the write pump; 32 packets is 6.4s of audio
	sendBuffer = 32
)

var (
	ErrConnection  = errors.New("connection error")
	ErrNotOpen     = errors.New("connection not open")
	ErrAlreadyOpen = errors.New("connection already open")
	ErrSend        = errors.New("send failed")
	ErrParse       = errors.New("malformed message")
	ErrServer      = errors.New("server error")
)

type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type Config struct {
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// Session owns at most one WebSocket connection to the recognizer at a
// time. Sends may come from any goroutine; they are queued and written to
// the socket by the connection's write pump, so a send never blocks on the
// network.
type Session struct {
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu    sync.Mutex
	state State
	conn  *connection
}

// connection is one dialed socket, its outbound queue and the events it
// produces.
type connection struct {
	ws      *websocket.Conn
	send    chan outbound
	events  chan Event
	done    chan struct{}
	byLocal atomic.Bool
}

type outbound struct {
	messageType int
	data        []byte
}

func New(cfg Config) *Session {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Session{
		log: cfg.Logger.With().Str("component", "transport").Logger(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  audio.PacketSamples * 2,
		},
	}
}

// State reports the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open dials address and, once the handshake completes, returns the channel
// of inbound events for this connection. The channel is closed after its
// final EventClosed.
func (s *Session) Open(ctx context.Context, address string) (<-chan Event, error) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ws, resp, err := s.dialer.DialContext(ctx, address, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (HTTP %d)", ErrConnection, address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, address, err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Close was called while the handshake was in flight
		s.mu.Unlock()
		ws.Close()
		return nil, fmt.Errorf("%w: closed during handshake", ErrConnection)
	}
	conn := &connection{
		ws:     ws,
		send:   make(chan outbound, sendBuffer),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.log.Info().Str("url", address).Msg("Connected")

	go s.readPump(conn)
	go s.writePump(conn)

	return conn.events, nil
}

// SendAudio queues one PCM16 frame as a single binary message.
func (s *Session) SendAudio(frame []int16) error {
	return s.write(websocket.BinaryMessage, audio.PCM16Bytes(frame))
}

// SendEnd tells the recognizer no more audio is coming for this session.
func (s *Session) SendEnd() error {
	data, err := json.Marshal(endOfSession)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

// write hands a message to the write pump. It fails at once when the
// connection is gone or the outbound queue is full.
func (s *Session) write(messageType int, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || conn == nil {
		return ErrNotOpen
	}

	select {
	case <-conn.done:
		return ErrNotOpen
	default:
	}

	select {
	case conn.send <- outbound{messageType: messageType, data: data}:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", ErrSend)
	}
}

// Close closes the connection if one is open. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	wasOpen := s.state != StateClosed
	s.conn = nil
	s.state = StateClosed
	s.mu.Unlock()

	if !wasOpen || conn == nil {
		return nil
	}

	conn.byLocal.Store(true)

	// Queued messages are abandoned; WriteControl may run alongside the pump
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(writeWait))

	return conn.ws.Close()
}

func (s *Session) readPump(conn *connection) {
	var cause error
	defer func() {
		close(conn.done)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.state = StateClosed
		}
		s.mu.Unlock()

		if conn.byLocal.Load() {
			cause = nil
		} else {
			conn.ws.Close()
		}
		conn.events <- Event{Kind: EventClosed, Err: cause}
		close(conn.events)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !conn.byLocal.Load() {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Error().Err(err).Msg("Websocket read error")
				} else {
					s.log.Info().Err(err).Msg("Connection closed by server")
				}
			}
			cause = fmt.Errorf("%w: %v", ErrConnection, err)
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			continue
		}

		event, ok := Decode(data)
		if !ok {
			s.log.Debug().Bytes("payload", data).Msg("Ignoring message")
			continue
		}
		conn.events <- event
	}
}

// writePump is the only writer of data messages on the socket. It also
// sends the keep-alive pings. A failed write closes the socket so the read
// pump reports the connection as lost.
func (s *Session) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case msg := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(msg.messageType, msg.data); err != nil {
				if !conn.byLocal.Load() {
					s.log.Error().Err(err).Msg("Websocket write error")
				}
				conn.ws.Close()
				return
			}
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
