package link

import (
	"net"

	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/keystore"
	"github.com/backkem/linksec/pkg/security"
	"github.com/pion/logging"
)

// DefaultKeyID is the outgoing key used when none is configured:
// key identifier mode 1 with key index 1.
var DefaultKeyID = security.KeyID{Mode: uint8(frame.KeyIDModeIndex), Index: 1}

// Config configures an Endpoint.
type Config struct {
	// ExtAddress is the local 64-bit extended address. It is the nonce
	// source for every frame this endpoint secures.
	// Required.
	ExtAddress uint64

	// ShortAddress is the local short address.
	// frame.NoShortAddress makes the endpoint send from its extended address.
	// DefaultConfig: frame.NoShortAddress
	ShortAddress uint16

	// PANID is the PAN the endpoint belongs to.
	PANID uint16

	// Level is the security level applied to outgoing frames.
	// DefaultConfig: security.LevelENCMIC32
	Level security.Level

	// KeyID selects the outgoing key.
	// DefaultConfig: DefaultKeyID
	KeyID security.KeyID

	// FrameCounter is the lowest outgoing frame counter value. With a
	// counter store the endpoint resumes from the stored mark if it is higher.
	FrameCounter uint32

	// Counters persists the outgoing frame counter ahead of use so that a
	// restart under the same key never repeats a nonce. If nil and KeyStore
	// implements keystore.CounterStore, KeyStore is used. Without either the
	// counter lives only in memory.
	Counters keystore.CounterStore

	// CounterReserve is how many counter values each write to Counters
	// reserves.
	// Default: frame.DefaultCounterReserve
	CounterReserve uint32

	// AllowUnsecured delivers frames that arrive without security.
	// When false, unsecured frames are dropped unless Level is LevelNone.
	AllowUnsecured bool

	// MaxKeys limits the number of installed keys.
	// Default: security.DefaultMaxContexts
	MaxKeys int

	// KeyStore, if set, is loaded at start and receives SetKey/UnsetKey.
	KeyStore keystore.Store

	// Conn is an optional pre-existing PacketConn for the emulated radio.
	// If nil, a UDP socket is opened on ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the UDP address to listen on. Ignored if Conn is set.
	ListenAddr string

	// Handler is called for each accepted frame.
	Handler Handler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns a configuration with the default security settings.
// ExtAddress and Handler still need to be set.
func DefaultConfig() Config {
	return Config{
		ShortAddress: frame.NoShortAddress,
		Level:        security.LevelENCMIC32,
		KeyID:        DefaultKeyID,
		MaxKeys:      security.DefaultMaxContexts,
	}
}

// WithDefaults returns a copy of the config with zero fields filled in.
// Level and KeyID are kept as given: their zero values select unsecured
// operation and the implicit key.
func (c Config) WithDefaults() Config {
	if c.MaxKeys <= 0 {
		c.MaxKeys = security.DefaultMaxContexts
	}
	if c.CounterReserve == 0 {
		c.CounterReserve = frame.DefaultCounterReserve
	}
	if c.Counters == nil {
		if cs, ok := c.KeyStore.(keystore.CounterStore); ok {
			c.Counters = cs
		}
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ExtAddress == 0 {
		return ErrNoExtAddress
	}
	if c.Handler == nil {
		return ErrNoHandler
	}
	if c.Level.Encrypted() && c.Level.TagLen() == 0 {
		return security.ErrUnauthenticatedEncryption
	}
	if c.KeyID.Mode > uint8(frame.KeyIDModeSource8) {
		return ErrInvalidKeyID
	}
	return nil
}

// secured reports whether outgoing frames carry security.
func (c Config) secured() bool {
	return c.Level != security.LevelNone
}
