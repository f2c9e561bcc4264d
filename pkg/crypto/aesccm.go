// CCM* implementation for IEEE 802.15.4 link-layer security.
// This implements AES-128-CCM as defined in NIST 800-38C and RFC 3610,
// extended to CCM* (IEEE 802.15.4-2006 Annex B) which additionally permits
// a zero-length authentication tag.
//
// IEEE 802.15.4 profiles CCM* with:
//   - Key length: 128 bits (16 bytes)
//   - MIC/Tag length: 0, 4, 8 or 16 bytes (the primitive accepts every even
//     length from 4 to 16 as well)
//   - Nonce length: 13 bytes
//   - L = 2 (length field size)

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// CCM* constants from IEEE 802.15.4-2006 Annex B.
const (
	// CCMKeySize is the AES-128 key size in bytes.
	CCMKeySize = 16

	// CCMNonceSize is the link-layer nonce size in bytes.
	CCMNonceSize = 13

	// CCMMaxTagSize is the largest authentication tag in bytes.
	CCMMaxTagSize = 16

	// aesBlockSize is the AES block size (always 16 bytes).
	aesBlockSize = 16
)

// Errors
var (
	ErrCCMInvalidKeySize   = errors.New("ccm: invalid key size, must be 16 bytes")
	ErrCCMInvalidNonceSize = errors.New("ccm: invalid nonce size")
	ErrCCMInvalidTagSize   = errors.New("ccm: invalid tag size, must be 0, 4, 6, 8, 10, 12, 14, or 16")
	ErrCCMPlaintextTooLong = errors.New("ccm: plaintext too long")
	ErrCCMShortBuffer      = errors.New("ccm: output buffer too short")
	ErrCCMAuthFailed       = errors.New("ccm: message authentication failed")
)

// CCMStar is an AES-128 CCM* cipher instance bound to one key.
// The tag length is chosen per call, which is what 802.15.4 needs: the
// security level of every frame selects its own MIC size.
//
// A CCMStar holds no per-call state, but callers that model a scarce
// hardware engine should still serialize use (see pkg/security).
type CCMStar struct {
	block   cipher.Block
	lenSize int // L: length field size (15 - nonceSize)
}

// NewCCMStar creates a CCM* cipher with the 13-byte link-layer nonce.
// The key must be exactly 16 bytes (128 bits).
func NewCCMStar(key []byte) (*CCMStar, error) {
	return NewCCMStarWithNonceSize(key, CCMNonceSize)
}

// NewCCMStarWithNonceSize creates a CCM* cipher with a custom nonce size.
// This allows testing with RFC 3610 style vectors.
//
// Parameters:
//   - key: 16-byte AES-128 key
//   - nonceSize: nonce length in bytes (7-13 per NIST 800-38C)
func NewCCMStarWithNonceSize(key []byte, nonceSize int) (*CCMStar, error) {
	if len(key) != CCMKeySize {
		return nil, ErrCCMInvalidKeySize
	}

	// L = 15 - n, where 2 <= L <= 8
	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrCCMInvalidNonceSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &CCMStar{
		block:   block,
		lenSize: lenSize,
	}, nil
}

// ValidTagSize reports whether n is a tag length CCM* can produce.
func ValidTagSize(n int) bool {
	if n == 0 {
		return true
	}
	return n >= 4 && n <= CCMMaxTagSize && n%2 == 0
}

// NonceSize returns the required nonce size for this cipher.
func (c *CCMStar) NonceSize() int {
	return 15 - c.lenSize
}

// SealTo encrypts plaintext into dst and writes the encrypted tag into tag.
// The tag length M is len(tag); M == 0 yields encryption only.
//
// dst must be at least len(plaintext) bytes. dst may alias plaintext exactly
// but must not otherwise overlap it. Nothing is allocated.
func (c *CCMStar) SealTo(dst, tag, nonce, plaintext, aad []byte) error {
	if err := c.checkParams(nonce, len(tag), len(plaintext)); err != nil {
		return err
	}
	if len(dst) < len(plaintext) {
		return ErrCCMShortBuffer
	}

	// T is computed over the plaintext before dst is touched, so the
	// exact-alias case is safe.
	if len(tag) > 0 {
		var mac [aesBlockSize]byte
		c.computeTag(&mac, nonce, plaintext, aad, len(tag))

		var s0 [aesBlockSize]byte
		c.generateS0(&s0, nonce)
		for i := range tag {
			tag[i] = mac[i] ^ s0[i]
		}
	}

	c.ctrEncrypt(nonce, dst[:len(plaintext)], plaintext)
	return nil
}

// OpenTo decrypts ciphertext into dst and verifies tag in constant time.
// On authentication failure dst is wiped and ErrCCMAuthFailed is returned,
// so unauthenticated plaintext is never left behind.
//
// dst must be at least len(ciphertext) bytes and must not overlap ciphertext.
func (c *CCMStar) OpenTo(dst, nonce, ciphertext, tag, aad []byte) error {
	if err := c.checkParams(nonce, len(tag), len(ciphertext)); err != nil {
		return err
	}
	if len(dst) < len(ciphertext) {
		return ErrCCMShortBuffer
	}

	plaintext := dst[:len(ciphertext)]
	c.ctrEncrypt(nonce, plaintext, ciphertext)

	if err := c.verifyTag(nonce, plaintext, tag, aad); err != nil {
		clear(plaintext)
		return err
	}
	return nil
}

// Verify recomputes the tag over an unencrypted message and compares it with
// tag in constant time. It is the receive side of a MIC-only frame, where
// the payload travels in clear but was authenticated as CCM* message data.
func (c *CCMStar) Verify(nonce, plaintext, tag, aad []byte) error {
	if err := c.checkParams(nonce, len(tag), len(plaintext)); err != nil {
		return err
	}
	return c.verifyTag(nonce, plaintext, tag, aad)
}

// Seal encrypts and authenticates plaintext with associated data.
// Returns ciphertext || tag (len(plaintext) + tagSize bytes).
func (c *CCMStar) Seal(nonce, plaintext, aad []byte, tagSize int) ([]byte, error) {
	if !ValidTagSize(tagSize) {
		return nil, ErrCCMInvalidTagSize
	}
	out := make([]byte, len(plaintext)+tagSize)
	if err := c.SealTo(out[:len(plaintext)], out[len(plaintext):], nonce, plaintext, aad); err != nil {
		return nil, err
	}
	return out, nil
}

// Open decrypts and verifies ciphertext || tag with associated data.
// Returns the decrypted plaintext, or an error if authentication fails.
func (c *CCMStar) Open(nonce, ciphertext, aad []byte, tagSize int) ([]byte, error) {
	if !ValidTagSize(tagSize) {
		return nil, ErrCCMInvalidTagSize
	}
	if len(ciphertext) < tagSize {
		return nil, ErrCCMShortBuffer
	}

	data := ciphertext[:len(ciphertext)-tagSize]
	tag := ciphertext[len(ciphertext)-tagSize:]

	plaintext := make([]byte, len(data))
	if err := c.OpenTo(plaintext, nonce, data, tag, aad); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (c *CCMStar) checkParams(nonce []byte, tagSize, msgLen int) error {
	if len(nonce) != c.NonceSize() {
		return ErrCCMInvalidNonceSize
	}
	if !ValidTagSize(tagSize) {
		return ErrCCMInvalidTagSize
	}
	// Maximum message length with L bytes for the length field
	if c.lenSize < 8 && uint64(msgLen) > (uint64(1)<<(8*c.lenSize))-1 {
		return ErrCCMPlaintextTooLong
	}
	return nil
}

// verifyTag compares the expected tag for plaintext with the received one.
func (c *CCMStar) verifyTag(nonce, plaintext, tag, aad []byte) error {
	if len(tag) == 0 {
		return nil
	}

	var mac [aesBlockSize]byte
	c.computeTag(&mac, nonce, plaintext, aad, len(tag))

	var s0 [aesBlockSize]byte
	c.generateS0(&s0, nonce)

	var expected [CCMMaxTagSize]byte
	for i := range tag {
		expected[i] = mac[i] ^ s0[i]
	}

	if subtle.ConstantTimeCompare(tag, expected[:len(tag)]) != 1 {
		return ErrCCMAuthFailed
	}
	return nil
}

// computeTag computes the CBC-MAC authentication tag T into mac.
// This follows NIST 800-38C Section 6.1 and RFC 3610 Section 2.2, with the
// CCM* encoding M' = 0 for a zero-length tag.
func (c *CCMStar) computeTag(mac *[aesBlockSize]byte, nonce, plaintext, aad []byte, tagSize int) {
	// Flags = Reserved(1) || Adata(1) || M'(3) || L'(3)
	var b0 [aesBlockSize]byte
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	if tagSize > 0 {
		flags |= byte((tagSize-2)/2) << 3
	}
	flags |= byte(c.lenSize - 1)

	b0[0] = flags
	nonceSize := c.NonceSize()
	copy(b0[1:1+nonceSize], nonce)
	c.putLength(b0[1+nonceSize:], len(plaintext))

	c.block.Encrypt(mac[:], b0[:])

	if len(aad) > 0 {
		// For 0 < l(a) < 2^16 - 2^8: 2 bytes
		// For 2^16 - 2^8 <= l(a) < 2^32: 0xFFFE || 4 bytes
		// Larger: 0xFFFF || 8 bytes
		var aadBlock [aesBlockSize]byte
		aadLen := len(aad)
		var headerLen int

		if aadLen < (1<<16)-(1<<8) {
			binary.BigEndian.PutUint16(aadBlock[0:2], uint16(aadLen))
			headerLen = 2
		} else if uint64(aadLen) < (1 << 32) {
			aadBlock[0] = 0xFF
			aadBlock[1] = 0xFE
			binary.BigEndian.PutUint32(aadBlock[2:6], uint32(aadLen))
			headerLen = 6
		} else {
			aadBlock[0] = 0xFF
			aadBlock[1] = 0xFF
			binary.BigEndian.PutUint64(aadBlock[2:10], uint64(aadLen))
			headerLen = 10
		}

		n := copy(aadBlock[headerLen:], aad)
		c.macBlock(mac, aadBlock[:])
		c.macPadded(mac, aad[n:])
	}

	c.macPadded(mac, plaintext)
}

// macPadded feeds data into the CBC-MAC, zero-padding the last block.
func (c *CCMStar) macPadded(mac *[aesBlockSize]byte, data []byte) {
	for len(data) > 0 {
		var block [aesBlockSize]byte
		n := copy(block[:], data)
		data = data[n:]
		c.macBlock(mac, block[:])
	}
}

func (c *CCMStar) macBlock(mac *[aesBlockSize]byte, block []byte) {
	for i := 0; i < aesBlockSize; i++ {
		mac[i] ^= block[i]
	}
	c.block.Encrypt(mac[:], mac[:])
}

// generateS0 generates the S_0 keystream block used to encrypt the tag.
// S_0 = E(K, A_0) where A_0 is the counter block with counter = 0.
func (c *CCMStar) generateS0(s0 *[aesBlockSize]byte, nonce []byte) {
	// A_0 flags = Reserved(2) || 0(3) || L'(3)
	var a0 [aesBlockSize]byte
	a0[0] = byte(c.lenSize - 1)
	copy(a0[1:1+c.NonceSize()], nonce)
	c.block.Encrypt(s0[:], a0[:])
}

// ctrEncrypt encrypts/decrypts data using CTR mode starting from counter 1.
// This uses the counter generation function from NIST 800-38C Appendix A.3.
func (c *CCMStar) ctrEncrypt(nonce []byte, dst, src []byte) {
	var ctr [aesBlockSize]byte
	ctr[0] = byte(c.lenSize - 1)
	copy(ctr[1:1+c.NonceSize()], nonce)
	ctr[aesBlockSize-1] = 1

	var keystream [aesBlockSize]byte
	for i := 0; i < len(src); i += aesBlockSize {
		c.block.Encrypt(keystream[:], ctr[:])

		end := i + aesBlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ keystream[j-i]
		}

		incrementCounter(ctr[aesBlockSize-c.lenSize:])
	}
}

// putLength encodes the message length into dst as a big-endian value.
// dst must have at least c.lenSize bytes.
func (c *CCMStar) putLength(dst []byte, length int) {
	for i := c.lenSize - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

// incrementCounter increments a big-endian counter.
func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}

// CCMStarEncrypt is a convenience function for one-shot CCM* encryption
// with a 13-byte nonce. Returns ciphertext || tag.
func CCMStarEncrypt(key, nonce, plaintext, aad []byte, tagSize int) ([]byte, error) {
	ccm, err := NewCCMStar(key)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, plaintext, aad, tagSize)
}

// CCMStarDecrypt is a convenience function for one-shot CCM* decryption
// with a 13-byte nonce. ciphertext carries the tag at its end.
func CCMStarDecrypt(key, nonce, ciphertext, aad []byte, tagSize int) ([]byte, error) {
	ccm, err := NewCCMStar(key)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, ciphertext, aad, tagSize)
}
