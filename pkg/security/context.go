package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/backkem/linksec/internal/syncutil"
	"github.com/backkem/linksec/pkg/crypto"
)

// Context binds one CCM* engine to one link key.
//
// A Context runs at most one operation at a time: SecureFrame, Rekey and
// Zeroize all take the same lock, so a key is never swapped under an
// in-flight frame. Distinct contexts share nothing and run concurrently.
type Context struct {
	mu          syncutil.Mutex
	engine      *crypto.CCMStar // nil when key-less
	fingerprint [sha256.Size]byte
}

// NewContext creates a context bound to key.
// A nil key creates a key-less context; every SecureFrame call on it must
// then carry its own key. Any other key length fails with ErrInvalidKey.
func NewContext(key []byte) (*Context, error) {
	c := &Context{}
	if key == nil {
		return c, nil
	}

	engine, err := newEngine(key)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	c.fingerprint = sha256.Sum256(key)
	return c, nil
}

// Rekey replaces the bound key. Frames already processed are unaffected.
// On error the previous key stays installed.
func (c *Context) Rekey(key []byte) error {
	engine, err := newEngine(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = engine
	c.fingerprint = sha256.Sum256(key)
	return nil
}

// Matches reports whether key is the bound key. A key-less context
// matches nothing.
func (c *Context) Matches(key []byte) bool {
	if len(key) != KeySize {
		return false
	}
	fp := sha256.Sum256(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine != nil && subtle.ConstantTimeCompare(fp[:], c.fingerprint[:]) == 1
}

// HasKey reports whether a key is bound to the context.
func (c *Context) HasKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine != nil
}

// Zeroize drops the bound key. The context becomes key-less.
func (c *Context) Zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = nil
	c.fingerprint = [sha256.Size]byte{}
}

// Encrypt secures buf in place. See SecureFrame.
func (c *Context) Encrypt(buf []byte, nonce crypto.NonceBlock, key []byte, hdrLen, pldLen int, level Level) error {
	return c.SecureFrame(buf, nonce, key, hdrLen, pldLen, level, DirectionEncrypt)
}

// Decrypt unsecures buf in place. See SecureFrame.
func (c *Context) Decrypt(buf []byte, nonce crypto.NonceBlock, key []byte, hdrLen, pldLen int, level Level) error {
	return c.SecureFrame(buf, nonce, key, hdrLen, pldLen, level, DirectionDecrypt)
}

// SecureFrame runs the CCM* transform over buf in place.
//
// buf holds header (hdrLen bytes), payload (pldLen bytes) and tag space
// (level.TagLen() bytes). The header is associated data, the payload is
// the CCM* message. Only bytes 1..13 of nonce are used.
//
// On encrypt, the tag is written after the payload and, for encrypting
// levels, the payload is replaced by ciphertext. On decrypt, the trailing
// tag is verified and, for encrypting levels, the payload is replaced by
// plaintext. A nil key uses the bound key; a non-nil key is used for this
// call only.
//
// A call that returns an error leaves buf unchanged.
func (c *Context) SecureFrame(buf []byte, nonce crypto.NonceBlock, key []byte, hdrLen, pldLen int, level Level, dir Direction) error {
	if !dir.IsValid() {
		return ErrInvalidDirection
	}

	tagLen, encrypted := level.TagLen(), level.Encrypted()
	if hdrLen < 0 || pldLen < 0 || hdrLen+pldLen+tagLen > MaxFrameSize {
		return ErrFrameTooLong
	}
	end := hdrLen + pldLen + tagLen
	if len(buf) < end {
		return ErrBufferTooShort
	}
	if encrypted && pldLen == 0 {
		return ErrEmptyPayload
	}
	if encrypted && tagLen == 0 {
		return ErrUnauthenticatedEncryption
	}
	if key != nil && len(key) != KeySize {
		return ErrInvalidKey
	}

	// Level 0: the frame travels in clear.
	if tagLen == 0 && !encrypted {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	engine := c.engine
	if key != nil {
		var err error
		if engine, err = crypto.NewCCMStar(key); err != nil {
			return engineFailure(err)
		}
	}
	if engine == nil {
		return ErrNoKey
	}

	f := frameView{
		header:  buf[:hdrLen],
		payload: buf[hdrLen : hdrLen+pldLen],
		tag:     buf[hdrLen+pldLen : end],
	}

	if dir == DirectionEncrypt {
		return f.encrypt(engine, nonce.Nonce(), encrypted)
	}
	return f.decrypt(engine, nonce.Nonce(), encrypted)
}

// frameView splits a frame buffer into its three regions.
type frameView struct {
	header  []byte
	payload []byte
	tag     []byte
}

func (f frameView) encrypt(engine *crypto.CCMStar, nonce []byte, encrypted bool) error {
	var staging [MaxFrameSize]byte
	var tag [MaxTagSize]byte
	defer clear(staging[:])

	out := staging[:len(f.payload)]
	if err := engine.SealTo(out, tag[:len(f.tag)], nonce, f.payload, f.header); err != nil {
		return engineFailure(err)
	}

	// MIC-only levels discard the ciphertext: the payload stays in clear.
	if encrypted {
		copy(f.payload, out)
	}
	copy(f.tag, tag[:len(f.tag)])
	return nil
}

func (f frameView) decrypt(engine *crypto.CCMStar, nonce []byte, encrypted bool) error {
	if !encrypted {
		// The payload is already plaintext; it only has to verify.
		return verifyResult(engine.Verify(nonce, f.payload, f.tag, f.header))
	}

	var staging [MaxFrameSize]byte
	defer clear(staging[:])

	out := staging[:len(f.payload)]
	if err := verifyResult(engine.OpenTo(out, nonce, f.payload, f.tag, f.header)); err != nil {
		return err
	}
	copy(f.payload, out)
	return nil
}

func verifyResult(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, crypto.ErrCCMAuthFailed):
		return ErrAuthenticationFailure
	default:
		return engineFailure(err)
	}
}

func engineFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrCryptoEngineFailure, err)
}

func newEngine(key []byte) (*crypto.CCMStar, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	engine, err := crypto.NewCCMStar(key)
	if err != nil {
		return nil, engineFailure(err)
	}
	return engine, nil
}
