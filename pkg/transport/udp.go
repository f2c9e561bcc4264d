package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// DefaultPort is the default UDP port for radio emulation.
const DefaultPort = 15400

// readBufferSize leaves room to detect oversized datagrams.
const readBufferSize = 2 * MaxFrameSize

// Consecutive read errors back off between these bounds.
const (
	rxBackoffMin = 5 * time.Millisecond
	rxBackoffMax = time.Second
)

// UDP emulates a radio over a datagram socket: each datagram carries
// exactly one PHY payload. Datagrams longer than MaxFrameSize never reach
// the handler, as a real PHY could not have received them.
type UDP struct {
	conn    net.PacketConn
	handler FrameHandler
	done    chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool

	sent      atomic.Uint64
	received  atomic.Uint64
	oversized atomic.Uint64
	rxErrors  atomic.Uint64
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn.
	// If nil, one is opened on ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":15400").
	// Empty selects an ephemeral port. Ignored if Conn is set.
	ListenAddr string

	// FrameHandler is called for each received frame. Required.
	FrameHandler FrameHandler

	// LoggerFactory creates the "transport-udp" logger.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// UDPStats counts frames seen by a UDP transport.
type UDPStats struct {
	Sent      uint64
	Received  uint64
	Oversized uint64
	RxErrors  uint64
}

// NewUDP creates a UDP transport. The socket is bound immediately;
// frames are delivered only after Start.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.FrameHandler == nil {
		return nil, ErrNoHandler
	}

	conn := config.Conn
	if conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		c, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		conn = c
	}

	u := &UDP{
		conn:    conn,
		handler: config.FrameHandler,
		done:    make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}
	return u, nil
}

// Start launches the receive loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case u.closed:
		return ErrClosed
	case u.started:
		return ErrAlreadyStarted
	}
	u.started = true

	if u.log != nil {
		u.log.Infof("radio up on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.receiveLoop()
	return nil
}

// Stop closes the socket and waits for the receive loop to exit.
// A second call returns ErrClosed.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("radio down")
	}
	close(u.done)

	_ = u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

// Send transmits one frame to addr.
func (u *UDP) Send(frame []byte, addr net.Addr) error {
	u.mu.RLock()
	closed := u.closed
	u.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if addr == nil {
		return ErrInvalidAddress
	}
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	if _, err := u.conn.WriteTo(frame, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("tx %d bytes to %v failed: %v", len(frame), addr, err)
		}
		return err
	}
	u.sent.Add(1)
	if u.log != nil {
		u.log.Tracef("tx %d bytes to %v", len(frame), addr)
	}
	return nil
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Stats returns a snapshot of the frame counters.
func (u *UDP) Stats() UDPStats {
	return UDPStats{
		Sent:      u.sent.Load(),
		Received:  u.received.Load(),
		Oversized: u.oversized.Load(),
		RxErrors:  u.rxErrors.Load(),
	}
}

func (u *UDP) stopping() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

func (u *UDP) receiveLoop() {
	defer u.wg.Done()

	buf := make([]byte, readBufferSize)
	var backoff time.Duration
	for !u.stopping() {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			u.rxErrors.Add(1)
			backoff = min(max(2*backoff, rxBackoffMin), rxBackoffMax)
			if u.log != nil {
				u.log.Warnf("rx error: %v (retry in %v)", err, backoff)
			}
			if !u.sleep(backoff) {
				return
			}
			continue
		}
		backoff = 0
		u.deliver(buf[:n], addr)
	}
}

// sleep waits for d and reports false if Stop was called meanwhile.
func (u *UDP) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-u.done:
		return false
	case <-t.C:
		return true
	}
}

// deliver hands one datagram to the handler as a fresh copy.
func (u *UDP) deliver(datagram []byte, addr net.Addr) {
	switch {
	case len(datagram) == 0:
		return
	case len(datagram) > MaxFrameSize:
		u.oversized.Add(1)
		if u.log != nil {
			u.log.Warnf("rx %d bytes from %v exceeds PHY payload, dropped", len(datagram), addr)
		}
		return
	}

	data := make([]byte, len(datagram))
	copy(data, datagram)
	u.received.Add(1)
	if u.log != nil {
		u.log.Tracef("rx %d bytes from %v", len(data), addr)
	}
	u.handler(&ReceivedFrame{Data: data, PeerAddr: addr})
}
