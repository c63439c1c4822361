package transport

import (
	"encoding/json"
	"fmt"
)

// Inbound message types
const (
	TypeResult = "result"
	TypeError  = "error"
	TypePong   = "pong"
)

// Message is the JSON envelope the recognizer sends. Type selects which of
// the remaining fields are meaningful.
type Message struct {
	Type    string `json:"type"`
	Final   bool   `json:"final,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

type controlMessage struct {
	Event string `json:"event"`
}

// endOfSession is the only control message the client sends.
var endOfSession = controlMessage{Event: "end"}

type EventKind int

const (
	EventResult EventKind = iota
	EventServerError
	EventParseError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventServerError:
		return "server_error"
	case EventParseError:
		return "parse_error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Result is a partial or final transcription.
type Result struct {
	Final bool
	Text  string
}

// Event is one inbound notification for the session owner.
type Event struct {
	Kind   EventKind
	Result Result
	// Err is set for EventServerError and EventParseError, and for
	// EventClosed when the connection was not closed locally.
	Err error
}

// Decode turns one inbound text payload into an event. The boolean is false
// for messages that carry nothing for the consumer (keep-alive acks and
// unknown types).
func Decode(data []byte) (Event, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{Kind: EventParseError, Err: fmt.Errorf("%w: %v", ErrParse, err)}, true
	}

	switch msg.Type {
	case TypeResult:
		return Event{Kind: EventResult, Result: Result{Final: msg.Final, Text: msg.Text}}, true
	case TypeError:
		text := msg.Message
		if text == "" {
			text = "unknown"
		}
		return Event{Kind: EventServerError, Err: fmt.Errorf("%w: %s", ErrServer, text)}, true
	default:
		return Event{}, false
	}
}
