package frame

import (
	"github.com/backkem/linksec/pkg/security"
)

// Frame is a decoded MAC frame.
// For a secured frame the payload is the recovered plaintext and MIC is the
// verified tag.
type Frame struct {
	Header  Header
	Payload []byte
	MIC     []byte
}

// RawFrame is a MAC frame split into its wire regions without security
// processing. Payload may still be encrypted.
type RawFrame struct {
	Header    Header
	HeaderLen int
	Payload   []byte
	MIC       []byte
}

// DecodeRaw splits data into header, payload and MIC.
// The returned slices alias data.
func DecodeRaw(data []byte) (*RawFrame, error) {
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLong
	}

	raw := &RawFrame{}
	n, err := raw.Header.Decode(data)
	if err != nil {
		return nil, err
	}
	raw.HeaderLen = n

	tagLen := 0
	if raw.Header.SecurityEnabled {
		tagLen = raw.Header.Security.Level.TagLen()
	}
	if len(data) < n+tagLen {
		return nil, ErrFrameTooShort
	}

	raw.Payload = data[n : len(data)-tagLen]
	raw.MIC = data[len(data)-tagLen:]
	return raw, nil
}

// IsSecured reports whether the frame needs security processing.
func (h *Header) IsSecured() bool {
	return h.SecurityEnabled && h.Security.Level != security.LevelNone
}

// EncodeUnsecured serializes a frame that carries no auxiliary security header.
func (f *Frame) EncodeUnsecured() ([]byte, error) {
	if f.Header.SecurityEnabled {
		return nil, ErrSecurityProcessing
	}
	if err := f.Header.Validate(); err != nil {
		return nil, err
	}

	n := f.Header.Size()
	if n+len(f.Payload) > MaxFrameSize {
		return nil, ErrFrameTooLong
	}

	buf := make([]byte, n+len(f.Payload))
	f.Header.EncodeTo(buf)
	copy(buf[n:], f.Payload)
	return buf, nil
}

// securedRegions returns the header and payload lengths handed to the
// security transform for a frame whose MAC header is hdrLen bytes.
//
// Authentication-only levels authenticate the whole frame as associated
// data. Encrypting levels encrypt the payload, except the command frame
// identifier of a MAC command, which stays in the clear.
func securedRegions(h *Header, hdrLen, payloadLen int) (int, int) {
	if !h.Security.Level.Encrypted() {
		return hdrLen + payloadLen, 0
	}
	if h.Type == FrameTypeCommand && payloadLen > 0 {
		return hdrLen + 1, payloadLen - 1
	}
	return hdrLen, payloadLen
}
