// Package frame implements IEEE 802.15.4 MAC framing and link-layer security
// processing on top of package security.
//
// The package provides:
//   - MAC header encoding/decoding (frame control, sequence number, addressing)
//   - Auxiliary security header encoding/decoding (security control, frame
//     counter, key identifier)
//   - Secured frame encode/decode through a security.Context
//   - Outgoing frame counters and replay detection
//
// References:
//   - IEEE 802.15.4-2006 Section 7.2.1 (general MAC frame format)
//   - IEEE 802.15.4-2006 Section 7.6.2 (auxiliary security header)
//   - IEEE 802.15.4-2006 Section 7.6.3 (security operations, CCM* nonce)
package frame

import "fmt"

// FrameType identifies the MAC frame type (frame control bits 0-2).
type FrameType uint8

const (
	// FrameTypeBeacon is a beacon frame.
	FrameTypeBeacon FrameType = 0

	// FrameTypeData is a data frame.
	FrameTypeData FrameType = 1

	// FrameTypeAck is an acknowledgment frame.
	FrameTypeAck FrameType = 2

	// FrameTypeCommand is a MAC command frame.
	// Its first payload byte (command frame identifier) is never encrypted.
	FrameTypeCommand FrameType = 3
)

// String returns a human-readable name for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameTypeBeacon:
		return "Beacon"
	case FrameTypeData:
		return "Data"
	case FrameTypeAck:
		return "Ack"
	case FrameTypeCommand:
		return "Command"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// IsValid returns true if the frame type is not a reserved value.
func (t FrameType) IsValid() bool {
	return t <= FrameTypeCommand
}

// AddrMode is an addressing mode (frame control bits 10-11 and 14-15).
type AddrMode uint8

const (
	// AddrModeNone means the address and its PAN identifier are absent.
	AddrModeNone AddrMode = 0

	// AddrModeShort is a 16-bit short address.
	AddrModeShort AddrMode = 2

	// AddrModeExtended is a 64-bit extended address.
	AddrModeExtended AddrMode = 3
)

// Size returns the address field size in bytes.
func (m AddrMode) Size() int {
	switch m {
	case AddrModeShort:
		return ShortAddressSize
	case AddrModeExtended:
		return ExtendedAddressSize
	default:
		return 0
	}
}

// String returns a human-readable name for the addressing mode.
func (m AddrMode) String() string {
	switch m {
	case AddrModeNone:
		return "None"
	case AddrModeShort:
		return "Short"
	case AddrModeExtended:
		return "Extended"
	default:
		return fmt.Sprintf("AddrMode(%d)", uint8(m))
	}
}

// IsValid returns true if the addressing mode is not the reserved value 1.
func (m AddrMode) IsValid() bool {
	return m == AddrModeNone || m == AddrModeShort || m == AddrModeExtended
}

// FrameVersion is the frame version subfield (frame control bits 12-13).
type FrameVersion uint8

const (
	// FrameVersion2003 is IEEE 802.15.4-2003. Security processing for this
	// version uses a different auxiliary header and is not supported.
	FrameVersion2003 FrameVersion = 0

	// FrameVersion2006 is IEEE 802.15.4-2006.
	FrameVersion2006 FrameVersion = 1
)

// KeyIDMode is the key identifier mode (security control bits 3-4).
type KeyIDMode uint8

const (
	// KeyIDModeImplicit identifies the key implicitly from the originator and recipient.
	KeyIDModeImplicit KeyIDMode = 0

	// KeyIDModeIndex identifies the key by a 1-byte key index and macDefaultKeySource.
	KeyIDModeIndex KeyIDMode = 1

	// KeyIDModeSource4 carries a 4-byte key source and a key index.
	KeyIDModeSource4 KeyIDMode = 2

	// KeyIDModeSource8 carries an 8-byte key source and a key index.
	KeyIDModeSource8 KeyIDMode = 3
)

// Size returns the size of the key identifier field in bytes.
func (m KeyIDMode) Size() int {
	switch m {
	case KeyIDModeIndex:
		return 1
	case KeyIDModeSource4:
		return 5
	case KeyIDModeSource8:
		return 9
	default:
		return 0
	}
}

// String returns a human-readable name for the key identifier mode.
func (m KeyIDMode) String() string {
	switch m {
	case KeyIDModeImplicit:
		return "Implicit"
	case KeyIDModeIndex:
		return "Index"
	case KeyIDModeSource4:
		return "Source4"
	case KeyIDModeSource8:
		return "Source8"
	default:
		return fmt.Sprintf("KeyIDMode(%d)", uint8(m))
	}
}
