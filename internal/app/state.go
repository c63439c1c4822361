package app

import "fmt"

// State is the controller's position in the connection/capture lifecycle.
//
//	Disconnected --Connect--> Connected --StartCapture--> Capturing
//	     ^                      |  ^                          |
//	     +---Disconnect/close---+  +--------StopCapture-------+
//	     ^                                                    |
//	     +-----------------Disconnect/close-------------------+
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateCapturing:
		return "capturing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CanConnect and the helpers below mirror which controls a consumer should
// offer in each state.
func (s State) CanConnect() bool      { return s == StateDisconnected }
func (s State) CanDisconnect() bool   { return s != StateDisconnected }
func (s State) CanStartCapture() bool { return s == StateConnected }
func (s State) CanStopCapture() bool  { return s == StateCapturing }
func (s State) CanEndSession() bool   { return s != StateDisconnected }
