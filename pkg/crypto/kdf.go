package crypto

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Iteration bounds accepted for passphrase-provisioned link keys.
const (
	PBKDF2IterationsMin = 1000
	PBKDF2IterationsMax = 100000
)

// hkdfMaxLength is 255 * HashLen for SHA-256 (RFC 5869 §2.3).
const hkdfMaxLength = 255 * sha256.Size

var errKDFLength = errors.New("crypto: invalid derived key length")

// HKDFSHA256 returns length bytes of HKDF-SHA256 output (RFC 5869).
// salt and info may be nil.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	if length <= 0 || length > hkdfMaxLength {
		return nil, errKDFLength
	}
	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, inputKey, salt, info), okm); err != nil {
		return nil, err
	}
	return okm, nil
}

// PBKDF2SHA256 stretches password into keyLen bytes with PBKDF2-HMAC-SHA256.
// Callers enforce the PBKDF2IterationsMin..PBKDF2IterationsMax range.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}
