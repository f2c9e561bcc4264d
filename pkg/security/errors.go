package security

import "errors"

// Security engine errors.
var (
	// ErrInvalidKey is returned when key material is not 16 bytes.
	ErrInvalidKey = errors.New("security: invalid key length")

	// ErrNoKey is returned when a key-less context is used without a per-call key.
	ErrNoKey = errors.New("security: no key installed")

	// ErrEmptyPayload is returned when encryption is requested for an empty payload.
	ErrEmptyPayload = errors.New("security: encryption requested with empty payload")

	// ErrUnauthenticatedEncryption is returned for encryption with a zero-length tag.
	// Such frames would carry ciphertext nothing authenticates.
	ErrUnauthenticatedEncryption = errors.New("security: encryption without authentication tag not permitted")

	// ErrInvalidDirection is returned for a direction other than Encrypt or Decrypt.
	ErrInvalidDirection = errors.New("security: invalid direction")

	// ErrFrameTooLong is returned when header, payload and tag exceed 127 bytes.
	ErrFrameTooLong = errors.New("security: frame exceeds maximum size")

	// ErrBufferTooShort is returned when the buffer cannot hold header, payload and tag.
	ErrBufferTooShort = errors.New("security: buffer too short for frame")

	// ErrAuthenticationFailure is returned when a received tag does not verify.
	// The frame should be dropped; the payload is left as received.
	ErrAuthenticationFailure = errors.New("security: authentication failed")

	// ErrCryptoEngineFailure is returned when the CCM* primitive rejects an operation.
	ErrCryptoEngineFailure = errors.New("security: crypto engine failure")

	// ErrManagerFull is returned when no more contexts can be installed.
	ErrManagerFull = errors.New("security: context table full")

	// ErrSelfTestFailed is returned when the power-on known-answer test fails.
	ErrSelfTestFailed = errors.New("security: self test failed")
)
