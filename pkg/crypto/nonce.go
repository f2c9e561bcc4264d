// Nonce construction for IEEE 802.15.4 link-layer security.
// This implements the CCM* nonce from IEEE 802.15.4-2006 Section 7.6.3.2.

package crypto

import (
	"encoding/binary"
)

// Nonce layout constants.
const (
	// NonceBlockSize is the size of the nonce block handed to the frame
	// transform. It mirrors one AES block: only bytes 1..13 carry the nonce.
	NonceBlockSize = 16

	// nonceOffset is where the 13-byte nonce starts inside a NonceBlock.
	// Byte 0 is where CCM places its flags octet in B_0/A_i and is not
	// part of the nonce.
	nonceOffset = 1

	// ExtendedAddressSize is the size of an IEEE EUI-64 device address.
	ExtendedAddressSize = 8

	// FrameCounterSize is the size of the auxiliary header frame counter.
	FrameCounterSize = 4
)

// NonceBlock is a 16-byte buffer carrying a 13-byte CCM* nonce at offset 1.
// Byte 0 and bytes 14..15 are ignored by the frame transform.
type NonceBlock [NonceBlockSize]byte

// BuildNonceBlock constructs the link-layer nonce for a frame.
//
// Format (inside the block):
//
//	reserved (1) || ExtendedAddress (8 BE) || FrameCounter (4 BE) || SecurityLevel (1) || reserved (2)
//
// Parameters:
//   - extendedAddress: EUI-64 of the frame originator
//   - frameCounter: value carried in the auxiliary security header
//   - securityLevel: security level byte of the frame
func BuildNonceBlock(extendedAddress uint64, frameCounter uint32, securityLevel uint8) NonceBlock {
	var b NonceBlock

	off := nonceOffset
	binary.BigEndian.PutUint64(b[off:], extendedAddress)
	off += ExtendedAddressSize

	binary.BigEndian.PutUint32(b[off:], frameCounter)
	off += FrameCounterSize

	b[off] = securityLevel

	return b
}

// NonceBlockFrom wraps a raw 13-byte nonce into a NonceBlock.
// Returns ErrCCMInvalidNonceSize if nonce is not 13 bytes.
func NonceBlockFrom(nonce []byte) (NonceBlock, error) {
	var b NonceBlock
	if len(nonce) != CCMNonceSize {
		return b, ErrCCMInvalidNonceSize
	}
	copy(b[nonceOffset:], nonce)
	return b, nil
}

// Nonce returns the effective 13-byte nonce (bytes 1..13).
// The returned slice aliases the block.
func (b *NonceBlock) Nonce() []byte {
	return b[nonceOffset : nonceOffset+CCMNonceSize]
}
