// Package link is a secured link-layer endpoint over an emulated radio.
//
// An Endpoint frames payloads as IEEE 802.15.4 data frames, secures them
// with the installed link key, and exchanges them as datagrams over a
// net.PacketConn (a UDP socket or an in-memory pipe). Incoming frames are
// filtered by destination, authenticated, checked against the per-source
// replay window, and handed to the configured Handler.
package link

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/keystore"
	"github.com/backkem/linksec/pkg/security"
	"github.com/backkem/linksec/pkg/transport"
	"github.com/pion/logging"
)

// Received is a frame accepted by an Endpoint.
type Received struct {
	// Header is the decoded MAC header.
	Header frame.Header

	// Payload is the plaintext MAC payload.
	Payload []byte

	// Source is the originator's extended address, or 0 for an unsecured
	// frame from an unknown short address.
	Source uint64

	// PeerAddr is the transport address the frame arrived from.
	PeerAddr net.Addr
}

// Handler is called for each accepted frame.
type Handler func(*Received)

// Stats counts frames processed by an Endpoint.
type Stats struct {
	Sent             uint64
	Received         uint64
	DroppedMalformed uint64
	DroppedFiltered  uint64
	DroppedSecurity  uint64
	DroppedReplay    uint64
}

type stats struct {
	sent      atomic.Uint64
	received  atomic.Uint64
	malformed atomic.Uint64
	filtered  atomic.Uint64
	security  atomic.Uint64
	replayed  atomic.Uint64
}

// Endpoint is a secured link-layer endpoint.
type Endpoint struct {
	config    Config
	keys      *security.Manager
	codec     *frame.Codec
	counter   *frame.FrameCounter
	replay    *frame.ReplayFilter
	neighbors *NeighborTable
	transport *transport.UDP
	log       logging.LeveledLogger

	sequence atomic.Uint32
	stats    stats

	mu      sync.RWMutex
	started bool
	closed  bool
}

// New creates an endpoint and binds its transport. Keys from
// config.KeyStore are installed before New returns.
func New(config Config) (*Endpoint, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Endpoint{
		config:    config,
		keys:      security.NewManager(security.ManagerConfig{MaxContexts: config.MaxKeys}),
		replay:    frame.NewReplayFilter(),
		neighbors: NewNeighborTable(),
	}
	e.codec = frame.NewCodec(e.keys, config.ExtAddress)

	// The first sequence number is random (Section 7.5.6.1).
	var seq [1]byte
	if _, err := rand.Read(seq[:]); err == nil {
		e.sequence.Store(uint32(seq[0]))
	}

	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("link")
	}

	counter, err := newFrameCounter(config)
	if err != nil {
		return nil, err
	}
	e.counter = counter
	if e.log != nil && config.Counters != nil {
		e.log.Infof("frame counter resumes at %d", counter.Current())
	}

	if config.KeyStore != nil {
		n, err := keystore.Load(config.KeyStore, e.keys)
		if err != nil {
			return nil, err
		}
		if e.log != nil {
			e.log.Infof("loaded %d link keys", n)
		}
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:          config.Conn,
		ListenAddr:    config.ListenAddr,
		FrameHandler:  e.handleFrame,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	e.transport = udp

	return e, nil
}

// newFrameCounter resumes the outgoing counter from the configured store.
func newFrameCounter(config Config) (*frame.FrameCounter, error) {
	if config.Counters == nil {
		return frame.NewFrameCounterWithValue(config.FrameCounter), nil
	}

	mark, err := config.Counters.LoadCounter(config.ExtAddress)
	if err != nil {
		return nil, fmt.Errorf("link: load frame counter: %w", err)
	}
	start := max(config.FrameCounter, mark)

	store, ext := config.Counters, config.ExtAddress
	return frame.NewReservingFrameCounter(start, config.CounterReserve, func(limit uint32) error {
		return store.SaveCounter(ext, limit)
	}), nil
}

// Start begins receiving frames.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.transport.Start(); err != nil {
		return err
	}
	e.started = true

	if e.log != nil {
		e.log.Infof("link up: ext=%016X short=%04X pan=%04X level=%s",
			e.config.ExtAddress, e.config.ShortAddress, e.config.PANID, e.config.Level)
	}
	return nil
}

// Stop closes the transport, saves the frame counter position and wipes
// every installed key.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	err := e.transport.Stop()
	if cerr := e.counter.Checkpoint(); cerr != nil {
		if e.log != nil {
			e.log.Warnf("frame counter checkpoint: %v", cerr)
		}
		if err == nil {
			err = cerr
		}
	}
	for _, id := range e.keys.IDs() {
		e.keys.Remove(id)
	}

	if e.log != nil {
		e.log.Info("link down")
	}
	return err
}

// LocalAddr returns the transport address the endpoint receives on.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.transport.LocalAddr()
}

// Neighbors returns the neighbor table.
func (e *Endpoint) Neighbors() *NeighborTable {
	return e.neighbors
}

// AddNeighbor makes a device reachable and lets its short-addressed
// frames be authenticated.
func (e *Endpoint) AddNeighbor(n Neighbor) {
	e.neighbors.Add(n)
}

// SetKey installs key as the outgoing link key (config.KeyID) and
// persists it when a key store is configured.
func (e *Endpoint) SetKey(key []byte) error {
	return e.SetKeyFor(e.config.KeyID, key)
}

// SetKeyFor installs key under id. Replay windows kept under id are
// dropped only when it replaces different key material, since a peer's
// counters may restart under a new key but never under the same one.
// Windows survive UnsetKeyFor.
func (e *Endpoint) SetKeyFor(id security.KeyID, key []byte) error {
	if id.Mode > uint8(frame.KeyIDModeSource8) {
		return ErrInvalidKeyID
	}
	if e.config.KeyStore != nil {
		if err := e.config.KeyStore.Put(id, key); err != nil {
			return err
		}
	}

	ctx := e.keys.Context(id)
	changed := ctx != nil && !ctx.Matches(key)
	if _, err := e.keys.Install(id, key); err != nil {
		return err
	}
	if changed {
		e.replay.ForgetKey(id)
	}

	if e.log != nil {
		e.log.Infof("installed %v", id)
	}
	return nil
}

// UnsetKey removes the outgoing link key. Secured sends fail until a new
// key is set.
func (e *Endpoint) UnsetKey() error {
	return e.UnsetKeyFor(e.config.KeyID)
}

// UnsetKeyFor removes the key installed under id.
func (e *Endpoint) UnsetKeyFor(id security.KeyID) error {
	if e.config.KeyStore != nil {
		if err := e.config.KeyStore.Delete(id); err != nil {
			return err
		}
	}
	if e.keys.Remove(id) && e.log != nil {
		e.log.Infof("removed %v", id)
	}
	return nil
}

// Keys returns the installed key IDs.
func (e *Endpoint) Keys() []security.KeyID {
	return e.keys.IDs()
}

// Stats returns a snapshot of the frame counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		Sent:             e.stats.sent.Load(),
		Received:         e.stats.received.Load(),
		DroppedMalformed: e.stats.malformed.Load(),
		DroppedFiltered:  e.stats.filtered.Load(),
		DroppedSecurity:  e.stats.security.Load(),
		DroppedReplay:    e.stats.replayed.Load(),
	}
}

// FrameCounter returns the next outgoing frame counter value.
func (e *Endpoint) FrameCounter() uint32 {
	return e.counter.Current()
}

// Send secures payload in a data frame addressed to dest and transmits it
// to every neighbor dest resolves to.
func (e *Endpoint) Send(dest frame.Address, payload []byte) error {
	e.mu.RLock()
	started, closed := e.started, e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	targets := e.neighbors.Resolve(dest)
	if len(targets) == 0 {
		return fmt.Errorf("%w: %+v", ErrNoNeighbor, dest)
	}

	header, err := e.header(dest)
	if err != nil {
		return err
	}

	data, err := e.codec.Encode(header, payload)
	if err != nil {
		return err
	}

	for _, n := range targets {
		if err := e.transport.Send(data, n.Addr); err != nil {
			return fmt.Errorf("link: send to %016X: %w", n.ExtAddress, err)
		}
	}
	e.stats.sent.Add(1)

	if e.log != nil {
		e.log.Debugf("sent seq=%d counter=%d len=%d to %d neighbor(s)",
			header.Sequence, header.Security.FrameCounter, len(data), len(targets))
	}
	return nil
}

// header builds the MAC header for an outgoing data frame.
func (e *Endpoint) header(dest frame.Address) (*frame.Header, error) {
	h := &frame.Header{
		Type:             frame.FrameTypeData,
		PANIDCompression: true,
		Version:          frame.FrameVersion2006,
		Sequence:         uint8(e.sequence.Add(1)),
		DestPAN:          e.config.PANID,
		Dest:             dest,
		SrcPAN:           e.config.PANID,
		Src:              frame.ExtendedAddress(e.config.ExtAddress),
	}
	if e.config.ShortAddress != frame.NoShortAddress {
		h.Src = frame.ShortAddress(e.config.ShortAddress)
	}

	if !e.config.secured() {
		return h, nil
	}

	counter, err := e.counter.Next()
	if err != nil {
		return nil, err
	}

	id := e.config.KeyID
	h.SecurityEnabled = true
	h.Security = frame.AuxSecurityHeader{
		Level:        e.config.Level,
		KeyIDMode:    frame.KeyIDMode(id.Mode),
		FrameCounter: counter,
		KeySource:    id.Source,
		KeyIndex:     id.Index,
	}
	return h, nil
}

// handleFrame is the transport receive path.
func (e *Endpoint) handleFrame(rf *transport.ReceivedFrame) {
	r, err := e.accept(rf)
	if err != nil {
		if e.log != nil {
			e.log.Debugf("dropped frame from %v: %v", rf.PeerAddr, err)
		}
		return
	}

	e.stats.received.Add(1)
	e.config.Handler(r)
}

// accept runs the incoming checks in order: parse, destination filter,
// security processing, replay window.
func (e *Endpoint) accept(rf *transport.ReceivedFrame) (*Received, error) {
	raw, err := frame.DecodeRaw(rf.Data)
	if err != nil {
		e.stats.malformed.Add(1)
		return nil, err
	}

	if !e.addressedToUs(&raw.Header) {
		e.stats.filtered.Add(1)
		return nil, errNotForUs
	}

	source, known := e.sourceExtAddress(&raw.Header.Src)

	if !raw.Header.IsSecured() {
		if e.config.secured() && !e.config.AllowUnsecured {
			e.stats.security.Add(1)
			return nil, errUnsecured
		}
		f, err := e.codec.Decode(rf.Data, source)
		if err != nil {
			e.stats.malformed.Add(1)
			return nil, err
		}
		return &Received{Header: f.Header, Payload: f.Payload, Source: source, PeerAddr: rf.PeerAddr}, nil
	}

	if !known {
		e.stats.security.Add(1)
		return nil, ErrUnknownSource
	}

	f, err := e.codec.Decode(rf.Data, source)
	if err != nil {
		e.stats.security.Add(1)
		return nil, err
	}

	if err := e.replay.Check(f.Header.Security.KeyID(), source, f.Header.Security.FrameCounter); err != nil {
		e.stats.replayed.Add(1)
		return nil, err
	}

	return &Received{Header: f.Header, Payload: f.Payload, Source: source, PeerAddr: rf.PeerAddr}, nil
}

var (
	errNotForUs  = errors.New("link: not addressed to this endpoint")
	errUnsecured = errors.New("link: unsecured frame rejected")
)

// addressedToUs applies the MAC receive filter on the destination fields.
func (e *Endpoint) addressedToUs(h *frame.Header) bool {
	if h.Dest.Mode == frame.AddrModeNone {
		return true
	}
	if h.DestPAN != e.config.PANID && h.DestPAN != frame.BroadcastShortAddress {
		return false
	}
	switch h.Dest.Mode {
	case frame.AddrModeShort:
		return h.Dest.Short == frame.BroadcastShortAddress ||
			(e.config.ShortAddress != frame.NoShortAddress && h.Dest.Short == e.config.ShortAddress)
	case frame.AddrModeExtended:
		return h.Dest.Extended == e.config.ExtAddress
	}
	return false
}

// sourceExtAddress resolves the originator's extended address.
func (e *Endpoint) sourceExtAddress(src *frame.Address) (uint64, bool) {
	switch src.Mode {
	case frame.AddrModeExtended:
		return src.Extended, true
	case frame.AddrModeShort:
		if n, ok := e.neighbors.ByShort(src.Short); ok {
			return n.ExtAddress, true
		}
	}
	return 0, false
}
