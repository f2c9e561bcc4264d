package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/linksec/pkg/security"
)

// annexCKey is the key of the IEEE 802.15.4-2006 Annex C examples.
var annexCKey = []byte{
	0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7,
	0xC8, 0xC9, 0xCA, 0xCB, 0xCC, 0xCD, 0xCE, 0xCF,
}

func newTestKeys(t *testing.T) *security.Manager {
	t.Helper()
	m := security.NewManager(security.ManagerConfig{})
	for _, id := range []security.KeyID{{Mode: 0}, {Mode: 1, Index: 1}} {
		if _, err := m.Install(id, annexCKey); err != nil {
			t.Fatalf("Install(%v) error: %v", id, err)
		}
	}
	return m
}

func TestCodecEncodeVectors(t *testing.T) {
	commandHeader := dataHeader()
	commandHeader.Type = FrameTypeCommand
	commandHeader.Sequence = 0x02
	commandHeader.Dest = ShortAddress(0x0000)
	commandHeader.Security.Level = security.LevelENCMIC64
	commandHeader.Security.FrameCounter = 7

	tests := []struct {
		name    string
		source  uint64
		header  Header
		payload string
		want    string
	}{
		{
			// IEEE 802.15.4-2006 Annex C.2.1, MIC-64
			name:    "Annex C beacon",
			source:  0xACDE480000000001,
			header:  beaconHeader(),
			payload: "55cf000051525354",
			want:    "08d0842143010000000048deac0205000000" + "55cf000051525354" + "223bc1ec841ab553",
		},
		{
			name:    "Data frame, ENC-MIC-32",
			source:  0xACDE480000000002,
			header:  dataHeader(),
			payload: "68656c6c6f",
			want:    "69d80121433412020000000048deac0d0600000001" + "e1104b561b" + "0223c5f6",
		},
		{
			// The command frame identifier stays in the clear.
			name:    "Command frame, ENC-MIC-64",
			source:  0xACDE480000000002,
			header:  commandHeader,
			payload: "018e",
			want:    "6bd80221430000020000000048deac0e0700000001" + "0127" + "525271fc6fd11775",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			keys := newTestKeys(t)
			codec := NewCodec(keys, tc.source)
			payload := mustHex(t, tc.payload)

			got, err := codec.Encode(&tc.header, payload)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			want := mustHex(t, tc.want)
			if !bytes.Equal(got, want) {
				t.Errorf("Encode() =\n%x\nwant\n%x", got, want)
			}

			// The receiver decodes with its own codec; the nonce comes
			// from the source address in the header.
			rx := NewCodec(keys, 0x1111111111111111)
			frame, err := rx.Decode(got, 0)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if frame.Header != tc.header {
				t.Errorf("Decode() header = %+v, want %+v", frame.Header, tc.header)
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Errorf("Decode() payload = %x, want %x", frame.Payload, payload)
			}
			if !bytes.Equal(got, want) {
				t.Error("Decode() modified its input")
			}
		})
	}
}

func TestCodecShortSourceUsesLookedUpAddress(t *testing.T) {
	keys := newTestKeys(t)
	const ext = uint64(0x0102030405060708)

	h := dataHeader()
	h.Src = ShortAddress(0x0042)
	payload := []byte("short source")

	data, err := NewCodec(keys, ext).Encode(&h, payload)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	rx := NewCodec(keys, 0)
	frame, err := rx.Decode(data, ext)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("Decode() payload = %q, want %q", frame.Payload, payload)
	}

	if _, err := rx.Decode(data, ext+1); !errors.Is(err, security.ErrAuthenticationFailure) {
		t.Errorf("Decode() with wrong address error = %v, want %v", err, security.ErrAuthenticationFailure)
	}
}

func TestCodecTamperedFrame(t *testing.T) {
	keys := newTestKeys(t)
	codec := NewCodec(keys, 0xACDE480000000002)

	h := dataHeader()
	data, err := codec.Encode(&h, []byte("payload"))
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	for i := range data {
		tampered := append([]byte(nil), data...)
		tampered[i] ^= 0x01

		_, err := codec.Decode(tampered, 0)
		if err == nil {
			t.Errorf("byte %d: Decode() accepted tampered frame", i)
		}
	}

	_, err = codec.Decode(data[:len(data)-1], 0)
	if !errors.Is(err, ErrSecurityProcessing) || !errors.Is(err, security.ErrAuthenticationFailure) {
		t.Errorf("truncated: Decode() error = %v", err)
	}
}

func TestCodecAuthenticationOnly(t *testing.T) {
	keys := newTestKeys(t)
	codec := NewCodec(keys, 0xACDE480000000002)

	h := dataHeader()
	h.Security.Level = security.LevelMIC128
	payload := []byte("readable")

	data, err := codec.Encode(&h, payload)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	n := h.Size()
	if !bytes.Equal(data[n:n+len(payload)], payload) {
		t.Errorf("payload = %x, want clear %x", data[n:n+len(payload)], payload)
	}
	if len(data) != n+len(payload)+16 {
		t.Errorf("len = %d, want %d", len(data), n+len(payload)+16)
	}

	frame, err := codec.Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(frame.MIC) != 16 {
		t.Errorf("MIC length = %d, want 16", len(frame.MIC))
	}
}

func TestCodecEncodeErrors(t *testing.T) {
	keys := newTestKeys(t)
	codec := NewCodec(keys, 1)

	h := dataHeader()
	h.Security.Level = security.LevelENC
	if _, err := codec.Encode(&h, []byte{1}); !errors.Is(err, security.ErrUnauthenticatedEncryption) {
		t.Errorf("ENC level: error = %v, want %v", err, security.ErrUnauthenticatedEncryption)
	}

	h = dataHeader()
	if _, err := codec.Encode(&h, nil); !errors.Is(err, security.ErrEmptyPayload) {
		t.Errorf("empty payload: error = %v, want %v", err, security.ErrEmptyPayload)
	}

	h = dataHeader()
	h.Security.KeyIndex = 7
	if _, err := codec.Encode(&h, []byte{1}); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key: error = %v, want %v", err, ErrUnknownKey)
	}

	h = dataHeader()
	if _, err := codec.Encode(&h, make([]byte, 103)); err != ErrFrameTooLong {
		t.Errorf("too long: error = %v, want %v", err, ErrFrameTooLong)
	}
	h = dataHeader()
	if _, err := codec.Encode(&h, make([]byte, 102)); err != nil {
		t.Errorf("maximum size: error = %v", err)
	}
}

func TestCodecUnsecured(t *testing.T) {
	codec := NewCodec(newTestKeys(t), 1)

	h := Header{
		Type:             FrameTypeData,
		PANIDCompression: true,
		Version:          FrameVersion2006,
		DestPAN:          0xABCD,
		Dest:             ShortAddress(BroadcastShortAddress),
		Src:              ShortAddress(0x0001),
	}
	data, err := codec.Encode(&h, []byte("hi"))
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	f := &Frame{Header: h, Payload: []byte("hi")}
	want, err := f.EncodeUnsecured()
	if err != nil {
		t.Fatalf("EncodeUnsecured() error: %v", err)
	}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode() = %x, want %x", data, want)
	}

	frame, err := codec.Decode(data, 0)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if string(frame.Payload) != "hi" || len(frame.MIC) != 0 {
		t.Errorf("Decode() = %q / %x", frame.Payload, frame.MIC)
	}
}

func TestDecodeRaw(t *testing.T) {
	data := mustHex(t, "08d0842143010000000048deac0205000000"+"55cf000051525354"+"223bc1ec841ab553")
	raw, err := DecodeRaw(data)
	if err != nil {
		t.Fatalf("DecodeRaw() error: %v", err)
	}
	if raw.HeaderLen != 18 {
		t.Errorf("HeaderLen = %d, want 18", raw.HeaderLen)
	}
	if !bytes.Equal(raw.Payload, mustHex(t, "55cf000051525354")) {
		t.Errorf("Payload = %x", raw.Payload)
	}
	if !bytes.Equal(raw.MIC, mustHex(t, "223bc1ec841ab553")) {
		t.Errorf("MIC = %x", raw.MIC)
	}

	if _, err := DecodeRaw(data[:20]); err != ErrFrameTooShort {
		t.Errorf("DecodeRaw() short error = %v, want %v", err, ErrFrameTooShort)
	}
	if _, err := DecodeRaw(make([]byte, MaxFrameSize+1)); err != ErrFrameTooLong {
		t.Errorf("DecodeRaw() long error = %v, want %v", err, ErrFrameTooLong)
	}
}
