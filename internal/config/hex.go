package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HexUint64 is a 64-bit value written as hex text, e.g. "ACDE480000000001".
type HexUint64 uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexUint64) UnmarshalText(text []byte) error {
	v, err := parseHex(string(text), 64)
	if err != nil {
		return err
	}
	*h = HexUint64(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h HexUint64) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%016X", uint64(h))), nil
}

// HexUint16 is a 16-bit value written as hex text, e.g. "4321".
type HexUint16 uint16

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexUint16) UnmarshalText(text []byte) error {
	v, err := parseHex(string(text), 16)
	if err != nil {
		return err
	}
	*h = HexUint16(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h HexUint16) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%04X", uint16(h))), nil
}

// HexBytes is a byte string written as hex text. Colons and spaces
// between bytes are allowed.
type HexBytes []byte

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexBytes) UnmarshalText(text []byte) error {
	s := strings.NewReplacer(":", "", " ", "").Replace(string(text))
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*h = b
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(hex.EncodeToString(h))), nil
}

func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return 0, errors.New("empty hex value")
	}
	v, err := strconv.ParseUint(s, 16, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %q", s)
	}
	return v, nil
}
