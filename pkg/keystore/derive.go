package keystore

import (
	"encoding/binary"
	"errors"

	"github.com/backkem/linksec/pkg/crypto"
	"github.com/backkem/linksec/pkg/security"
)

// deriveInfo labels keys produced by DeriveKey.
var deriveInfo = []byte("linksec link key")

// ErrInvalidIterations is returned when a PBKDF2 iteration count is out of range.
var ErrInvalidIterations = errors.New("keystore: iteration count out of range")

// DeriveKey derives the link key for id from a network master secret using
// HKDF-SHA256. The key ID is bound into the info string so every ID gets an
// independent key.
func DeriveKey(master []byte, id security.KeyID) ([]byte, error) {
	if len(master) == 0 {
		return nil, security.ErrInvalidKey
	}

	info := make([]byte, len(deriveInfo)+10)
	n := copy(info, deriveInfo)
	info[n] = id.Mode
	binary.BigEndian.PutUint64(info[n+1:], id.Source)
	info[n+9] = id.Index

	return crypto.HKDFSHA256(master, nil, info, security.KeySize)
}

// KeyFromPassphrase derives a link key from a passphrase using
// PBKDF2-HMAC-SHA256.
func KeyFromPassphrase(passphrase string, salt []byte, iterations int) ([]byte, error) {
	if passphrase == "" {
		return nil, security.ErrInvalidKey
	}
	if iterations < crypto.PBKDF2IterationsMin || iterations > crypto.PBKDF2IterationsMax {
		return nil, ErrInvalidIterations
	}
	return crypto.PBKDF2SHA256([]byte(passphrase), salt, iterations, security.KeySize), nil
}
