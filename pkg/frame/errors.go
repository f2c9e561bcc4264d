package frame

import (
	"errors"

	"github.com/backkem/linksec/pkg/security"
)

// Frame layer errors.
var (
	// Header decoding errors
	ErrFrameTooShort        = errors.New("frame: data too short")
	ErrInvalidFrameType     = errors.New("frame: invalid frame type (reserved value)")
	ErrInvalidAddrMode      = errors.New("frame: invalid addressing mode (reserved value)")
	ErrUnsupportedVersion   = errors.New("frame: security requires frame version 2006")
	ErrMissingSourceExtAddr = errors.New("frame: source extended address unknown")

	// Frame errors
	ErrFrameTooLong = errors.New("frame: exceeds maximum size")

	// Security errors
	ErrSecurityProcessing = errors.New("frame: security processing failed")
	ErrUnknownKey         = errors.New("frame: no key for key identifier")

	// Counter errors
	ErrReplayDetected   = errors.New("frame: replay detected (duplicate counter)")
	ErrCounterExhausted = errors.New("frame: frame counter exhausted")
	ErrCounterPersist   = errors.New("frame: frame counter not persisted")
)

// MAC frame format constants.
const (
	// MaxFrameSize is the largest MAC frame handled, FCS excluded.
	MaxFrameSize = security.MaxFrameSize

	// FrameControlSize is the size of the frame control field.
	FrameControlSize = 2

	// SequenceNumberSize is the size of the sequence number field.
	SequenceNumberSize = 1

	// PANIDSize is the size of a PAN identifier.
	PANIDSize = 2

	// ShortAddressSize is the size of a short address.
	ShortAddressSize = 2

	// ExtendedAddressSize is the size of an extended address.
	ExtendedAddressSize = 8

	// MinHeaderSize is frame control plus sequence number.
	MinHeaderSize = FrameControlSize + SequenceNumberSize

	// AuxHeaderMinSize is security control plus frame counter.
	AuxHeaderMinSize = 5

	// BroadcastShortAddress is the broadcast short address and PAN identifier.
	BroadcastShortAddress uint16 = 0xFFFF

	// NoShortAddress marks a device that has no short address assigned
	// and must use its extended address as source.
	NoShortAddress uint16 = 0xFFFE
)

// Frame control bit positions (Section 7.2.1.1).
const (
	fcFrameTypeMask    uint16 = 0x0007
	fcSecurityEnabled  uint16 = 0x0008
	fcFramePending     uint16 = 0x0010
	fcAckRequest       uint16 = 0x0020
	fcPANIDCompression uint16 = 0x0040
	fcTwoBitMask       uint16 = 0x0003

	fcDestAddrModeShift = 10
	fcFrameVersionShift = 12
	fcSrcAddrModeShift  = 14
)

// Security control bit positions (Section 7.6.2.2).
const (
	scLevelMask     uint8 = 0x07
	scKeyIDModeMask uint8 = 0x03

	scKeyIDModeShift = 3
)

// Counter constants (Section 7.6.1).
const (
	// CounterWindowSize is the replay window behind the highest counter seen.
	CounterWindowSize = 32

	// CounterExhausted is the frame counter value that may never be sent.
	CounterExhausted uint32 = 0xFFFFFFFF
)
