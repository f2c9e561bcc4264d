package frame

import (
	"encoding/binary"

	"github.com/backkem/linksec/pkg/security"
)

// Address is a MAC address in one of the addressing modes.
type Address struct {
	// Mode selects which of Short or Extended is meaningful.
	Mode AddrMode

	// Short is the 16-bit short address (AddrModeShort).
	Short uint16

	// Extended is the 64-bit extended address (AddrModeExtended).
	Extended uint64
}

// ShortAddress returns a short-mode address.
func ShortAddress(addr uint16) Address {
	return Address{Mode: AddrModeShort, Short: addr}
}

// ExtendedAddress returns an extended-mode address.
func ExtendedAddress(addr uint64) Address {
	return Address{Mode: AddrModeExtended, Extended: addr}
}

// AuxSecurityHeader is the auxiliary security header (Section 7.6.2).
// All multi-byte fields are little-endian on the wire.
type AuxSecurityHeader struct {
	// Level is the security level applied to the frame.
	Level security.Level

	// KeyIDMode selects which key identifier fields are present.
	KeyIDMode KeyIDMode

	// FrameCounter is the originator's frame counter, also part of the nonce.
	FrameCounter uint32

	// KeySource is present for KeyIDModeSource4 (low 32 bits) and KeyIDModeSource8.
	KeySource uint64

	// KeyIndex is present for every key identifier mode except implicit.
	KeyIndex uint8
}

// Size returns the encoded size of the auxiliary security header.
func (a *AuxSecurityHeader) Size() int {
	return AuxHeaderMinSize + a.KeyIDMode.Size()
}

// KeyID returns the key table lookup key for this header.
func (a *AuxSecurityHeader) KeyID() security.KeyID {
	id := security.KeyID{Mode: uint8(a.KeyIDMode)}
	switch a.KeyIDMode {
	case KeyIDModeIndex:
		id.Index = a.KeyIndex
	case KeyIDModeSource4:
		id.Source = a.KeySource & 0xFFFFFFFF
		id.Index = a.KeyIndex
	case KeyIDModeSource8:
		id.Source = a.KeySource
		id.Index = a.KeyIndex
	}
	return id
}

func (a *AuxSecurityHeader) securityControl() uint8 {
	return uint8(a.Level)&scLevelMask | (uint8(a.KeyIDMode)&scKeyIDModeMask)<<scKeyIDModeShift
}

func (a *AuxSecurityHeader) encodeTo(buf []byte) int {
	buf[0] = a.securityControl()
	binary.LittleEndian.PutUint32(buf[1:], a.FrameCounter)
	offset := AuxHeaderMinSize

	switch a.KeyIDMode {
	case KeyIDModeSource4:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(a.KeySource))
		offset += 4
	case KeyIDModeSource8:
		binary.LittleEndian.PutUint64(buf[offset:], a.KeySource)
		offset += 8
	}
	if a.KeyIDMode != KeyIDModeImplicit {
		buf[offset] = a.KeyIndex
		offset++
	}
	return offset
}

func (a *AuxSecurityHeader) decode(data []byte) (int, error) {
	if len(data) < AuxHeaderMinSize {
		return 0, ErrFrameTooShort
	}

	sc := data[0]
	a.Level = security.Level(sc & scLevelMask)
	a.KeyIDMode = KeyIDMode((sc >> scKeyIDModeShift) & scKeyIDModeMask)
	a.FrameCounter = binary.LittleEndian.Uint32(data[1:])

	if len(data) < a.Size() {
		return 0, ErrFrameTooShort
	}

	offset := AuxHeaderMinSize
	a.KeySource = 0
	a.KeyIndex = 0
	switch a.KeyIDMode {
	case KeyIDModeSource4:
		a.KeySource = uint64(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
	case KeyIDModeSource8:
		a.KeySource = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
	}
	if a.KeyIDMode != KeyIDModeImplicit {
		a.KeyIndex = data[offset]
		offset++
	}
	return offset, nil
}

// Header is the MAC header (Section 7.2.1), including the auxiliary
// security header when SecurityEnabled is set.
type Header struct {
	// Type is the frame type.
	Type FrameType

	// SecurityEnabled indicates the auxiliary security header is present.
	SecurityEnabled bool

	// FramePending indicates the sender has more data for the recipient.
	FramePending bool

	// AckRequest asks the recipient to acknowledge the frame.
	AckRequest bool

	// PANIDCompression omits the source PAN identifier when both addresses
	// are present; the source PAN is then the destination PAN.
	PANIDCompression bool

	// Version is the frame version.
	Version FrameVersion

	// Sequence is the data sequence number (DSN or BSN).
	Sequence uint8

	// DestPAN is the destination PAN identifier, present with a destination address.
	DestPAN uint16

	// Dest is the destination address.
	Dest Address

	// SrcPAN is the source PAN identifier.
	SrcPAN uint16

	// Src is the source address.
	Src Address

	// Security is the auxiliary security header, valid when SecurityEnabled.
	Security AuxSecurityHeader
}

// srcPANPresent reports whether the source PAN identifier is on the wire.
func (h *Header) srcPANPresent() bool {
	if h.Src.Mode == AddrModeNone {
		return false
	}
	return !(h.PANIDCompression && h.Dest.Mode != AddrModeNone)
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int {
	size := MinHeaderSize

	if h.Dest.Mode != AddrModeNone {
		size += PANIDSize + h.Dest.Mode.Size()
	}
	if h.srcPANPresent() {
		size += PANIDSize
	}
	size += h.Src.Mode.Size()

	if h.SecurityEnabled {
		size += h.Security.Size()
	}
	return size
}

// Encode serializes the header to bytes.
// The returned slice is the associated data of a secured frame.
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())
	h.EncodeTo(buf)
	return buf
}

// EncodeTo serializes the header into the provided buffer.
// The buffer must be at least Size() bytes long.
// Returns the number of bytes written.
func (h *Header) EncodeTo(buf []byte) int {
	binary.LittleEndian.PutUint16(buf, h.frameControl())
	offset := FrameControlSize

	buf[offset] = h.Sequence
	offset++

	if h.Dest.Mode != AddrModeNone {
		binary.LittleEndian.PutUint16(buf[offset:], h.DestPAN)
		offset += PANIDSize
		offset += putAddress(buf[offset:], h.Dest)
	}

	if h.srcPANPresent() {
		binary.LittleEndian.PutUint16(buf[offset:], h.SrcPAN)
		offset += PANIDSize
	}
	offset += putAddress(buf[offset:], h.Src)

	if h.SecurityEnabled {
		offset += h.Security.encodeTo(buf[offset:])
	}
	return offset
}

// frameControl constructs the frame control field.
func (h *Header) frameControl() uint16 {
	fc := uint16(h.Type) & fcFrameTypeMask

	if h.SecurityEnabled {
		fc |= fcSecurityEnabled
	}
	if h.FramePending {
		fc |= fcFramePending
	}
	if h.AckRequest {
		fc |= fcAckRequest
	}
	if h.PANIDCompression {
		fc |= fcPANIDCompression
	}

	fc |= (uint16(h.Dest.Mode) & fcTwoBitMask) << fcDestAddrModeShift
	fc |= (uint16(h.Version) & fcTwoBitMask) << fcFrameVersionShift
	fc |= (uint16(h.Src.Mode) & fcTwoBitMask) << fcSrcAddrModeShift
	return fc
}

// Decode deserializes a header from bytes.
// Returns the number of bytes consumed from data.
func (h *Header) Decode(data []byte) (int, error) {
	if len(data) < MinHeaderSize {
		return 0, ErrFrameTooShort
	}

	fc := binary.LittleEndian.Uint16(data)
	offset := FrameControlSize

	h.Type = FrameType(fc & fcFrameTypeMask)
	if !h.Type.IsValid() {
		return 0, ErrInvalidFrameType
	}
	h.SecurityEnabled = fc&fcSecurityEnabled != 0
	h.FramePending = fc&fcFramePending != 0
	h.AckRequest = fc&fcAckRequest != 0
	h.PANIDCompression = fc&fcPANIDCompression != 0
	h.Version = FrameVersion((fc >> fcFrameVersionShift) & fcTwoBitMask)

	h.Dest = Address{Mode: AddrMode((fc >> fcDestAddrModeShift) & fcTwoBitMask)}
	h.Src = Address{Mode: AddrMode((fc >> fcSrcAddrModeShift) & fcTwoBitMask)}
	if !h.Dest.Mode.IsValid() || !h.Src.Mode.IsValid() {
		return 0, ErrInvalidAddrMode
	}

	h.Sequence = data[offset]
	offset++

	// Addressing fields, without the auxiliary security header
	required := h.Size()
	if h.SecurityEnabled {
		required -= h.Security.Size()
	}
	if len(data) < required {
		return 0, ErrFrameTooShort
	}

	h.DestPAN = 0
	if h.Dest.Mode != AddrModeNone {
		h.DestPAN = binary.LittleEndian.Uint16(data[offset:])
		offset += PANIDSize
		offset += getAddress(data[offset:], &h.Dest)
	}

	switch {
	case h.srcPANPresent():
		h.SrcPAN = binary.LittleEndian.Uint16(data[offset:])
		offset += PANIDSize
	case h.Src.Mode != AddrModeNone:
		h.SrcPAN = h.DestPAN
	default:
		h.SrcPAN = 0
	}
	offset += getAddress(data[offset:], &h.Src)

	h.Security = AuxSecurityHeader{}
	if h.SecurityEnabled {
		if h.Version < FrameVersion2006 {
			return 0, ErrUnsupportedVersion
		}
		n, err := h.Security.decode(data[offset:])
		if err != nil {
			return 0, err
		}
		offset += n
	}

	return offset, nil
}

// Validate checks the header for consistency.
func (h *Header) Validate() error {
	if !h.Type.IsValid() {
		return ErrInvalidFrameType
	}
	if !h.Dest.Mode.IsValid() || !h.Src.Mode.IsValid() {
		return ErrInvalidAddrMode
	}
	if h.SecurityEnabled && h.Version < FrameVersion2006 {
		return ErrUnsupportedVersion
	}
	if h.Size() > MaxFrameSize {
		return ErrFrameTooLong
	}
	return nil
}

func putAddress(buf []byte, addr Address) int {
	switch addr.Mode {
	case AddrModeShort:
		binary.LittleEndian.PutUint16(buf, addr.Short)
		return ShortAddressSize
	case AddrModeExtended:
		binary.LittleEndian.PutUint64(buf, addr.Extended)
		return ExtendedAddressSize
	default:
		return 0
	}
}

func getAddress(data []byte, addr *Address) int {
	switch addr.Mode {
	case AddrModeShort:
		addr.Short = binary.LittleEndian.Uint16(data)
		return ShortAddressSize
	case AddrModeExtended:
		addr.Extended = binary.LittleEndian.Uint64(data)
		return ExtendedAddressSize
	default:
		return 0
	}
}
