package audio

// Packetizer buffers resampled samples and hands them out in packets of
// exactly PacketSamples. It is not safe for concurrent use; the owner
// serializes access.
type Packetizer struct {
	buf        []float32
	head       int
	maxSamples int
}

// NewPacketizer returns an empty queue holding at most maxSamples samples.
// A non-positive maxSamples leaves the queue unbounded.
func NewPacketizer(maxSamples int) *Packetizer {
	return &Packetizer{
		buf:        make([]float32, 0, PacketSamples*2),
		maxSamples: maxSamples,
	}
}

// Append adds samples to the tail in order. When the bound would be
// exceeded the oldest samples are discarded first; the number discarded is
// returned.
func (p *Packetizer) Append(samples []float32) int {
	p.compact()
	p.buf = append(p.buf, samples...)

	if p.maxSamples <= 0 || p.Len() <= p.maxSamples {
		return 0
	}

	dropped := p.Len() - p.maxSamples
	p.head += dropped
	return dropped
}

// Next removes one packet from the head, if a whole one is queued.
func (p *Packetizer) Next() ([]float32, bool) {
	if p.Len() < PacketSamples {
		return nil, false
	}

	packet := make([]float32, PacketSamples)
	copy(packet, p.buf[p.head:p.head+PacketSamples])
	p.head += PacketSamples
	return packet, true
}

// DrainReady removes every complete packet from the head of the queue.
// Fewer than PacketSamples samples remain afterwards.
func (p *Packetizer) DrainReady() [][]float32 {
	var packets [][]float32
	for {
		packet, ok := p.Next()
		if !ok {
			return packets
		}
		packets = append(packets, packet)
	}
}

// Len returns the number of samples waiting for a full packet.
func (p *Packetizer) Len() int {
	return len(p.buf) - p.head
}

// Reset discards everything queued, including a partial trailing packet.
func (p *Packetizer) Reset() {
	p.buf = p.buf[:0]
	p.head = 0
}

// compact moves unread samples to the front so the backing array is reused
// instead of growing with every append.
func (p *Packetizer) compact() {
	if p.head == 0 {
		return
	}
	n := copy(p.buf, p.buf[p.head:])
	p.buf = p.buf[:n]
	p.head = 0
}
