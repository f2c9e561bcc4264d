package frame

import (
	"fmt"

	"github.com/backkem/linksec/pkg/crypto"
	"github.com/backkem/linksec/pkg/security"
)

// KeyResolver returns the security context for a key identifier,
// or nil if no key is installed. *security.Manager implements it.
type KeyResolver interface {
	Context(id security.KeyID) *security.Context
}

// Codec secures outgoing frames and unsecures incoming ones.
type Codec struct {
	keys       KeyResolver
	extAddress uint64 // own extended address for outgoing nonces
}

// NewCodec creates a codec that looks keys up in keys and secures outgoing
// frames under the local extended address extAddress.
func NewCodec(keys KeyResolver, extAddress uint64) *Codec {
	return &Codec{
		keys:       keys,
		extAddress: extAddress,
	}
}

// Encode serializes and secures a frame for transmission.
// This implements outgoing frame security (Section 7.5.8.2.1).
//
// header.Security.FrameCounter must be fresh for the key: the (key, nonce)
// pair is never checked for reuse here.
//
// Returns the complete frame: header || payload || MIC.
func (c *Codec) Encode(header *Header, payload []byte) ([]byte, error) {
	if err := header.Validate(); err != nil {
		return nil, err
	}

	n := header.Size()
	tagLen := 0
	if header.IsSecured() {
		tagLen = header.Security.Level.TagLen()
	}
	if n+len(payload)+tagLen > MaxFrameSize {
		return nil, ErrFrameTooLong
	}

	buf := make([]byte, n+len(payload)+tagLen)
	header.EncodeTo(buf)
	copy(buf[n:], payload)

	if !header.IsSecured() {
		return buf, nil
	}

	ctx, err := c.context(&header.Security)
	if err != nil {
		return nil, err
	}

	level := header.Security.Level
	nonce := crypto.BuildNonceBlock(c.extAddress, header.Security.FrameCounter, uint8(level))
	hdrLen, pldLen := securedRegions(header, n, len(payload))

	if err := ctx.Encrypt(buf, nonce, nil, hdrLen, pldLen, level); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecurityProcessing, err)
	}
	return buf, nil
}

// Decode parses and unsecures a received frame.
// This implements incoming frame security (Section 7.5.8.2.3).
//
// The nonce uses the source extended address from the header when present,
// and srcExtAddress otherwise (a short-addressed originator whose extended
// address the caller has looked up).
//
// data is not modified. Replay checking is left to the caller.
func (c *Codec) Decode(data []byte, srcExtAddress uint64) (*Frame, error) {
	raw, err := DecodeRaw(data)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	n := raw.HeaderLen
	payloadLen := len(raw.Payload)
	frame := &Frame{
		Header:  raw.Header,
		Payload: buf[n : n+payloadLen],
		MIC:     buf[n+payloadLen:],
	}

	if !frame.Header.IsSecured() {
		return frame, nil
	}

	ctx, err := c.context(&frame.Header.Security)
	if err != nil {
		return nil, err
	}

	if frame.Header.Src.Mode == AddrModeExtended {
		srcExtAddress = frame.Header.Src.Extended
	}
	level := frame.Header.Security.Level
	nonce := crypto.BuildNonceBlock(srcExtAddress, frame.Header.Security.FrameCounter, uint8(level))
	hdrLen, pldLen := securedRegions(&frame.Header, n, payloadLen)

	if err := ctx.Decrypt(buf, nonce, nil, hdrLen, pldLen, level); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecurityProcessing, err)
	}
	return frame, nil
}

func (c *Codec) context(aux *AuxSecurityHeader) (*security.Context, error) {
	id := aux.KeyID()
	ctx := c.keys.Context(id)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, id)
	}
	return ctx, nil
}
