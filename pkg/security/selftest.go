package security

import (
	"bytes"
	"fmt"

	"github.com/backkem/linksec/pkg/crypto"
)

// Known-answer test data: a 33-byte Green Power frame authenticated with
// the default GP group key at MIC-32, no payload.
var (
	selfTestKey = []byte{
		0x70, 0xAD, 0x7D, 0x16, 0xDD, 0xDF, 0x0C, 0x04,
		0x3B, 0x08, 0x5F, 0x7D, 0x33, 0x53, 0x2B, 0x44,
	}

	selfTestNonce = crypto.NonceBlock{
		0x00, 0x93, 0x00, 0x00, 0x00, 0x01, 0xFF, 0xFF,
		0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	selfTestHeader = []byte{
		0xFF, 0x48, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x17, 0x88,
		0x01, 0x00, 0x80, 0x73, 0x9E, 0x00, 0x11, 0x3B, 0x72, 0x00, 0x97,
		0xB0, 0x6F, 0xD3, 0xDA, 0x1C, 0x0E, 0x30, 0x6D, 0x91, 0xC4,
	}

	selfTestMIC = []byte{0x50, 0x45, 0xFE, 0x79}
)

// SelfTest runs the power-on known-answer test on a fresh context:
// the frame must authenticate to the expected MIC and then verify.
func SelfTest() error {
	ctx, err := NewContext(selfTestKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSelfTestFailed, err)
	}

	var buf [MaxFrameSize]byte
	hdrLen := copy(buf[:], selfTestHeader)

	if err := ctx.Encrypt(buf[:], selfTestNonce, nil, hdrLen, 0, LevelMIC32); err != nil {
		return fmt.Errorf("%w: encrypt: %w", ErrSelfTestFailed, err)
	}
	if mic := buf[hdrLen : hdrLen+len(selfTestMIC)]; !bytes.Equal(mic, selfTestMIC) {
		return fmt.Errorf("%w: MIC %x, want %x", ErrSelfTestFailed, mic, selfTestMIC)
	}

	if err := ctx.Decrypt(buf[:], selfTestNonce, nil, hdrLen, 0, LevelMIC32); err != nil {
		return fmt.Errorf("%w: decrypt: %w", ErrSelfTestFailed, err)
	}
	if !bytes.Equal(buf[:hdrLen], selfTestHeader) {
		return fmt.Errorf("%w: header modified", ErrSelfTestFailed)
	}
	return nil
}
