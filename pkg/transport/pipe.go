package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition describes how the emulated medium impairs frames.
// Rates are probabilities in [0, 1] applied per transmitted frame.
type NetworkCondition struct {
	// DropRate loses the frame entirely.
	DropRate float64

	// DelayMin and DelayMax bound a uniformly distributed transmit delay.
	DelayMin time.Duration
	DelayMax time.Duration

	// DuplicateRate delivers the frame twice, as a retransmission whose
	// acknowledgement was lost would.
	DuplicateRate float64

	// CorruptRate flips one random bit of the frame.
	CorruptRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess delivers queued frames from a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is the auto-delivery period.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: time.Millisecond,
	}
}

// Pipe is an in-memory radio link between exactly two nodes, built on
// pion's test.Bridge. Without auto-processing, frames stay queued until
// Tick or Process is called, which makes delivery order deterministic.
type Pipe struct {
	bridge   *test.Bridge
	interval time.Duration

	mu        sync.Mutex
	condition NetworkCondition
	rng       *rand.Rand
	closed    bool
	ticker    chan struct{} // non-nil while auto-processing
	wg        sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:   test.NewBridge(),
		interval: config.ProcessInterval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if p.interval <= 0 {
		p.interval = time.Millisecond
	}
	if config.AutoProcess {
		p.mu.Lock()
		p.startLocked()
		p.mu.Unlock()
	}
	return p
}

func (p *Pipe) startLocked() {
	stop := make(chan struct{})
	p.ticker = stop
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				p.bridge.Tick()
			}
		}
	}()
}

// stopLocked ends auto-processing. The caller must wait on p.wg after
// releasing the lock.
func (p *Pipe) stopLocked() {
	if p.ticker != nil {
		close(p.ticker)
		p.ticker = nil
	}
}

// SetAutoProcess switches background delivery on or off.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	if p.closed || (p.ticker != nil) == enabled {
		p.mu.Unlock()
		return
	}
	if enabled {
		p.startLocked()
		p.mu.Unlock()
		return
	}
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

// AutoProcess reports whether background delivery is on.
func (p *Pipe) AutoProcess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}

// SetCondition sets the impairments applied in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current impairments.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.condition
}

// Tick delivers at most one queued frame per direction and returns how
// many were delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued frame and returns the count.
func (p *Pipe) Process() int {
	total := 0
	for n := p.Tick(); n > 0; n = p.Tick() {
		total += n
	}
	return total
}

// Close stops delivery and closes both ends. It is idempotent.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	if err1 := p.bridge.GetConn1().Close(); err0 == nil {
		return err1
	}
	return err0
}

func (p *Pipe) end(id int) net.Conn {
	if id == 0 {
		return p.bridge.GetConn0()
	}
	return p.bridge.GetConn1()
}

// impair applies the current condition to one outgoing frame and returns
// the copies to put on the medium (none, one or two) and the delay
// before transmission.
func (p *Pipe) impair(frame []byte) ([][]byte, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.condition

	if c.DropRate > 0 && p.rng.Float64() < c.DropRate {
		return nil, 0
	}

	delay := c.DelayMin
	if c.DelayMax > c.DelayMin {
		delay += time.Duration(p.rng.Int63n(int64(c.DelayMax - c.DelayMin)))
	}

	out := frame
	if c.CorruptRate > 0 && len(frame) > 0 && p.rng.Float64() < c.CorruptRate {
		out = make([]byte, len(frame))
		copy(out, frame)
		bit := p.rng.Intn(len(out) * 8)
		out[bit/8] ^= 1 << (bit % 8)
	}

	if c.DuplicateRate > 0 && p.rng.Float64() < c.DuplicateRate {
		return [][]byte{out, out}, delay
	}
	return [][]byte{out}, delay
}

// PipeAddr is the net.Addr of a pipe end.
type PipeAddr struct {
	ID   int // 0 or 1
	Port int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

// PipePacketConn adapts one end of a Pipe to net.PacketConn so that it can
// back a UDP transport. Every frame goes to the single peer regardless of
// the destination address.
type PipePacketConn struct {
	pipe  *Pipe
	conn  net.Conn
	local PipeAddr
	peer  PipeAddr
}

var _ net.PacketConn = (*PipePacketConn)(nil)

// ReadFrom reads one frame. The source is always the peer.
func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peer, err
}

// WriteTo puts b on the medium subject to the pipe's NetworkCondition.
// A dropped frame still reports success, as a radio transmit would.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	if len(b) > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}
	copies, delay := c.pipe.impair(b)
	if delay > 0 {
		time.Sleep(delay)
	}
	for _, f := range copies {
		if _, err := c.conn.Write(f); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func (c *PipePacketConn) Close() error { return c.conn.Close() }

func (c *PipePacketConn) LocalAddr() net.Addr { return c.local }

func (c *PipePacketConn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

func (c *PipePacketConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *PipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// PipeFactory hands out the packet connection for one side of a Pipe.
type PipeFactory struct {
	pipe *Pipe
	id   int

	once sync.Once
	conn *PipePacketConn
}

// NewPipeFactoryPair returns both sides of a new auto-processing pipe.
func NewPipeFactoryPair() (*PipeFactory, *PipeFactory) {
	return NewPipeFactoryPairWithConfig(DefaultPipeConfig())
}

// NewPipeFactoryPairWithConfig returns both sides of a new pipe.
//
// For deterministic delivery:
//
//	f0, f1 := transport.NewPipeFactoryPairWithConfig(transport.PipeConfig{})
//	// ... send ...
//	f0.Pipe().Process()
func NewPipeFactoryPairWithConfig(config PipeConfig) (*PipeFactory, *PipeFactory) {
	p := NewPipeWithConfig(config)
	return &PipeFactory{pipe: p, id: 0}, &PipeFactory{pipe: p, id: 1}
}

// Pipe returns the shared pipe.
func (f *PipeFactory) Pipe() *Pipe { return f.pipe }

// LocalAddr returns this side's address.
func (f *PipeFactory) LocalAddr() net.Addr {
	return PipeAddr{ID: f.id, Port: DefaultPort}
}

// PeerAddr returns the other side's address.
func (f *PipeFactory) PeerAddr() net.Addr {
	return PipeAddr{ID: 1 - f.id, Port: DefaultPort}
}

// SetCondition sets impairments on the shared pipe.
func (f *PipeFactory) SetCondition(cond NetworkCondition) {
	f.pipe.SetCondition(cond)
}

// CreatePacketConn returns this side's packet connection; repeated calls
// return the same connection.
func (f *PipeFactory) CreatePacketConn() net.PacketConn {
	f.once.Do(func() {
		f.conn = &PipePacketConn{
			pipe:  f.pipe,
			conn:  f.pipe.end(f.id),
			local: PipeAddr{ID: f.id, Port: DefaultPort},
			peer:  PipeAddr{ID: 1 - f.id, Port: DefaultPort},
		}
	})
	return f.conn
}
