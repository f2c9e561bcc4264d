package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Test vectors from RFC 5869 (SHA-256 cases).
// https://datatracker.ietf.org/doc/html/rfc5869#appendix-A
var hkdfSHA256TestVectors = []struct {
	name   string
	ikm    string // Input Keying Material (hex)
	salt   string // Salt (hex)
	info   string // Info (hex)
	length int    // Output length in bytes
	okm    string // Expected Output Keying Material (hex)
}{
	{
		name:   "RFC5869_TC1",
		ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		salt:   "000102030405060708090a0b0c",
		info:   "f0f1f2f3f4f5f6f7f8f9",
		length: 42,
		okm:    "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
	},
	// Zero-length salt/info
	{
		name:   "RFC5869_TC3",
		ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		salt:   "",
		info:   "",
		length: 42,
		okm:    "8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d9d201395faa4b61a96c8",
	},
}

func TestHKDFSHA256(t *testing.T) {
	for _, tc := range hkdfSHA256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			ikm, _ := hex.DecodeString(tc.ikm)
			salt, _ := hex.DecodeString(tc.salt)
			info, _ := hex.DecodeString(tc.info)
			expected, _ := hex.DecodeString(tc.okm)

			okm, err := HKDFSHA256(ikm, salt, info, tc.length)
			if err != nil {
				t.Fatalf("HKDFSHA256 failed: %v", err)
			}

			if !bytes.Equal(okm, expected) {
				t.Errorf("OKM mismatch\ngot:  %x\nwant: %x", okm, expected)
			}
		})
	}
}

func TestHKDFSHA256_DistinctInfo(t *testing.T) {
	ikm := []byte("network master key material")

	k1, err := HKDFSHA256(ikm, nil, []byte("link-key/1"), CCMKeySize)
	if err != nil {
		t.Fatalf("HKDFSHA256 failed: %v", err)
	}
	k2, err := HKDFSHA256(ikm, nil, []byte("link-key/2"), CCMKeySize)
	if err != nil {
		t.Fatalf("HKDFSHA256 failed: %v", err)
	}

	if bytes.Equal(k1, k2) {
		t.Error("different info strings produced the same key")
	}
}

// PBKDF2-HMAC-SHA256 vectors from draft-josefsson-scrypt-kdf-00.
func TestPBKDF2SHA256(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		salt       string
		iterations int
		keyLen     int
		expected   string
	}{
		{
			name:       "scrypt_kdf_00_TC1",
			password:   "passwd",
			salt:       "salt",
			iterations: 1,
			keyLen:     64,
			expected:   "55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expected, _ := hex.DecodeString(tc.expected)
			got := PBKDF2SHA256([]byte(tc.password), []byte(tc.salt), tc.iterations, tc.keyLen)
			if !bytes.Equal(got, expected) {
				t.Errorf("derived key mismatch\ngot:  %x\nwant: %x", got, expected)
			}
		})
	}
}

func TestHKDFSHA256_InvalidLength(t *testing.T) {
	for _, length := range []int{0, -1, 255*32 + 1} {
		if _, err := HKDFSHA256([]byte("ikm"), nil, nil, length); err == nil {
			t.Errorf("HKDFSHA256(length=%d) succeeded, want error", length)
		}
	}
}
