package audio

import "context"

const (
	// TargetRate is the sample rate every outbound packet is normalized to
	TargetRate = 16000
	// PacketSamples is 200ms of audio at TargetRate
	PacketSamples = 3200
)

// Chunk is one buffer of mono float samples as delivered by the device,
// tagged with the rate it was captured at.
type Chunk struct {
	Samples    []float32
	SampleRate int
	// Dropped counts buffers discarded since the previous chunk because
	// the consumer fell behind.
	Dropped int
	// Err is set on the last chunk of a stream that failed; it carries no
	// samples.
	Err error
}

// Capture defines the interface for audio capture
type Capture interface {
	// Start opens the device at its native rate and returns that rate.
	// Chunks are delivered on out until ctx is cancelled or Stop is called.
	// A device failure is delivered as a final chunk with Err set.
	Start(ctx context.Context, deviceID string, out chan<- Chunk) (int, error)
	Stop() error
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID         string
	Name       string
	Default    bool
	SampleRate int
}
