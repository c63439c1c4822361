package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/asr-tray/internal/config"
)

const defaultFramesPerBuffer = 4096

type portAudioCapture struct {
	framesPerBuffer int
	channels        int

	mu     sync.Mutex
	stream *portaudio.Stream
}

// New creates a new PortAudio-based audio capture
func New(cfg config.AudioConfig) (Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	return &portAudioCapture{
		framesPerBuffer: frames,
		channels:        channels,
	}, nil
}

func (p *portAudioCapture) Start(ctx context.Context, deviceID string, out chan<- Chunk) (int, error) {
	device, err := findInputDevice(deviceID)
	if err != nil {
		return 0, err
	}

	channels := p.channels
	if channels > device.MaxInputChannels {
		channels = device.MaxInputChannels
	}
	if channels < 1 {
		return 0, fmt.Errorf("device has no input channels: %s", device.Name)
	}

	// Capture at whatever rate the hardware prefers; the pipeline resamples.
	sampleRate := int(device.DefaultSampleRate)
	frames := p.framesPerBuffer

	buffer := make([]float32, frames*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: frames,
	}, buffer)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return 0, fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	go func() {
		defer func() {
			stream.Close()
			p.mu.Lock()
			if p.stream == stream {
				p.stream = nil
			}
			p.mu.Unlock()
		}()

		read := func() ([]float32, error) {
			err := stream.Read()
			if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
				return nil, err
			}
			return downmixInterleaved(buffer, channels, frames), err
		}
		readLoop(ctx, read, sampleRate, out)
		stream.Stop()
	}()

	return sampleRate, nil
}

// readLoop pulls buffers from read and forwards them on out until ctx is
// cancelled or read fails. Overflowed input is not fatal; the buffer is
// still forwarded and the lost input is counted as one dropped buffer. When
// out is full the buffer is dropped and counted on the next chunk that
// gets through.
// A fatal error is forwarded as a chunk carrying Err.
func readLoop(ctx context.Context, read func() ([]float32, error), sampleRate int, out chan<- Chunk) {
	dropped := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		samples, err := read()
		if errors.Is(err, portaudio.InputOverflowed) {
			dropped++
			err = nil
		}
		if err != nil {
			select {
			case out <- Chunk{SampleRate: sampleRate, Dropped: dropped, Err: err}:
			case <-ctx.Done():
			}
			return
		}

		chunk := Chunk{
			Samples:    samples,
			SampleRate: sampleRate,
			Dropped:    dropped,
		}

		select {
		case out <- chunk:
			dropped = 0
		case <-ctx.Done():
			return
		default:
			// Consumer is behind; drop rather than stall the device
			dropped++
		}
	}
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

// downmixInterleaved averages interleaved frames into a freshly allocated
// mono buffer. The source buffer is reused by PortAudio, so mono input is
// copied as well.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, input[:frames])
		return out
	}

	for f := 0; f < frames; f++ {
		var sum float32
		base := f * channels
		for c := 0; c < channels; c++ {
			sum += input[base+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

func (p *portAudioCapture) Stop() error {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream != nil {
		return stream.Stop()
	}
	return nil
}

func (p *portAudioCapture) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:         d.Name,
				Name:       d.Name,
				Default:    d == defaultDevice,
				SampleRate: int(d.DefaultSampleRate),
			})
		}
	}

	return result, nil
}

func (p *portAudioCapture) Close() error {
	p.Stop()
	portaudio.Terminate()
	return nil
}
