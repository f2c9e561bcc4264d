// Package security implements the link-layer frame security engine.
//
// It has two parts:
//   - Context: one CCM* engine bound to one 128-bit key, with key
//     installation, replacement and removal. Manager keeps a table of them
//     indexed by key identifier.
//   - SecureFrame: the in-place transform that authenticates and optionally
//     encrypts an outgoing frame, or verifies and decrypts an incoming one.
//
// The frame buffer is laid out as
//
//	[header: hdrLen][payload: pldLen][tag: tagLen]
//
// where the header is authenticated only, the payload is authenticated and
// encrypted when the security level asks for it, and the tag is appended on
// encrypt and consumed on decrypt. The whole frame never exceeds 127 bytes.
//
// References:
//   - IEEE 802.15.4-2006 Section 7.6.2 (security levels, Table 95)
//   - IEEE 802.15.4-2006 Annex B (CCM* mode of operation)
package security

import "fmt"

// Frame size limits.
const (
	// MaxFrameSize is the link-layer PDU limit (aMaxPHYPacketSize).
	MaxFrameSize = 127

	// MaxTagSize is the largest MIC a security level can select.
	MaxTagSize = 16

	// KeySize is the size of a link key (AES-128).
	KeySize = 16
)

// Security level byte layout.
const (
	levelTagMask     uint8 = 0x03
	levelEncryptFlag uint8 = 0x04
)

// Level is the security level byte of a frame.
// Bits 0-1 select the tag length, bit 2 selects encryption, and the
// remaining bits are ignored.
type Level uint8

// Security levels from IEEE 802.15.4-2006 Table 95.
const (
	LevelNone      Level = 0x00
	LevelMIC32     Level = 0x01
	LevelMIC64     Level = 0x02
	LevelMIC128    Level = 0x03
	LevelENC       Level = 0x04
	LevelENCMIC32  Level = 0x05
	LevelENCMIC64  Level = 0x06
	LevelENCMIC128 Level = 0x07
)

var tagLengths = [4]int{0, 4, 8, 16}

// TagLen returns the MIC length in bytes: 0, 4, 8 or 16.
func (l Level) TagLen() int {
	return tagLengths[uint8(l)&levelTagMask]
}

// Encrypted reports whether the payload is encrypted at this level.
func (l Level) Encrypted() bool {
	return uint8(l)&levelEncryptFlag != 0
}

// String returns the Table 95 name of the level.
func (l Level) String() string {
	names := [8]string{"None", "MIC-32", "MIC-64", "MIC-128", "ENC", "ENC-MIC-32", "ENC-MIC-64", "ENC-MIC-128"}
	return names[uint8(l)&(levelTagMask|levelEncryptFlag)]
}

// DecodeLevel splits a security level byte into its tag length and
// encryption flag. Every byte value decodes; the high bits are ignored.
func DecodeLevel(b byte) (tagLen int, encrypted bool) {
	l := Level(b)
	return l.TagLen(), l.Encrypted()
}

// Direction selects the transform direction.
type Direction uint8

const (
	// DirectionEncrypt authenticates and (optionally) encrypts a frame.
	DirectionEncrypt Direction = iota

	// DirectionDecrypt verifies and (optionally) decrypts a frame.
	DirectionDecrypt
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case DirectionEncrypt:
		return "Encrypt"
	case DirectionDecrypt:
		return "Decrypt"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// IsValid returns true if the direction is a defined value.
func (d Direction) IsValid() bool {
	return d == DirectionEncrypt || d == DirectionDecrypt
}
