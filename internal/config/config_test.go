package config

import (
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/security"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[link]
ext_address    = "ACDE480000000001"
short_address  = "0001"
pan_id         = "0x4321"
security_level = "enc-mic-64"
key_id_mode    = 1
key_index      = 2
frame_counter  = 100

[keys]
link_key   = "C0:C1:C2:C3:C4:C5:C6:C7:C8:C9:CA:CB:CC:CD:CE:CF"
store_path = "keys.db"

[transport]
listen = "127.0.0.1:15400"

[[neighbors]]
ext_address   = "ACDE480000000002"
short_address = "0002"
addr          = "127.0.0.1:15401"

[[neighbors]]
ext_address = "ACDE480000000003"
addr        = "127.0.0.1:15402"

[log]
level = "debug"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, HexUint64(0xACDE480000000001), cfg.Link.ExtAddress)
	assert.Equal(t, HexUint16(0x4321), cfg.Link.PANID)
	assert.Equal(t, uint32(100), cfg.Link.FrameCounter)
	assert.Equal(t, "keys.db", cfg.Keys.StorePath)
	assert.Equal(t, DefaultIterations, cfg.Keys.Iterations)
	assert.Len(t, cfg.Neighbors, 2)
	assert.Equal(t, security.KeyID{Mode: 1, Index: 2}, cfg.KeyID())

	key, err := cfg.LinkKey()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0xC0, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7,
		0xC8, 0xC9, 0xCA, 0xCB, 0xCC, 0xCD, 0xCE, 0xCF,
	}, key)
}

func TestEndpoint(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	ep, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xACDE480000000001), ep.ExtAddress)
	assert.Equal(t, uint16(0x0001), ep.ShortAddress)
	assert.Equal(t, uint16(0x4321), ep.PANID)
	assert.Equal(t, security.LevelENCMIC64, ep.Level)
	assert.Equal(t, security.KeyID{Mode: 1, Index: 2}, ep.KeyID)
	assert.Equal(t, uint32(100), ep.FrameCounter)
	assert.Equal(t, "127.0.0.1:15400", ep.ListenAddr)

	neighbors, err := cfg.LinkNeighbors()
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, uint64(0xACDE480000000002), neighbors[0].ExtAddress)
	assert.Equal(t, uint16(0x0002), neighbors[0].ShortAddress)
	assert.Equal(t, frame.NoShortAddress, neighbors[1].ShortAddress)
	udp, ok := neighbors[0].Addr.(*net.UDPAddr)
	require.True(t, ok)
	assert.Equal(t, 15401, udp.Port)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(`
[link]
ext_address = "1"
`)
	require.NoError(t, err)
	assert.Equal(t, "ENC-MIC-32", cfg.Link.SecurityLevel)
	assert.Equal(t, ":15400", cfg.Transport.Listen)
	assert.Equal(t, "info", cfg.Log.Level)

	ep, err := cfg.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, frame.NoShortAddress, ep.ShortAddress)
	assert.Equal(t, security.LevelENCMIC32, ep.Level)

	key, err := cfg.LinkKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestParsePassphrase(t *testing.T) {
	cfg, err := Parse(`
[link]
ext_address = "ACDE480000000001"

[keys]
passphrase = "correct horse"
salt       = "linksec-pan-0x4321"
iterations = 1000
`)
	require.NoError(t, err)

	key, err := cfg.LinkKey()
	require.NoError(t, err)
	assert.Equal(t, "7ccc46038723335ec43d64821dfd7b35", hex.EncodeToString(key))
}

func TestParseMasterSecret(t *testing.T) {
	cfg, err := Parse(`
[link]
ext_address = "ACDE480000000001"
key_id_mode = 1
key_index   = 1

[keys]
master_secret = "000102030405060708090A0B0C0D0E0F"
`)
	require.NoError(t, err)

	key, err := cfg.LinkKey()
	require.NoError(t, err)
	assert.Equal(t, "d4cd663eed74a5e32d16a5df7376c7bb", hex.EncodeToString(key))

	// Each key identifier gets its own key.
	cfg.Link.KeyIndex = 2
	other, err := cfg.LinkKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing ext address", `[link]
pan_id = "1"`},
		{"bad hex", `[link]
ext_address = "xyz"`},
		{"ext address overflow", `[link]
ext_address = "1ACDE480000000001"`},
		{"bad short address", `[link]
ext_address = "1"
short_address = "10000"`},
		{"unknown level", `[link]
ext_address = "1"
security_level = "MIC-24"`},
		{"encryption without tag", `[link]
ext_address = "1"
security_level = "ENC"`},
		{"key id mode", `[link]
ext_address = "1"
key_id_mode = 4`},
		{"short key", `[link]
ext_address = "1"
[keys]
link_key = "C0C1"`},
		{"key and passphrase", `[link]
ext_address = "1"
[keys]
link_key = "C0C1C2C3C4C5C6C7C8C9CACBCCCDCECF"
passphrase = "pw"`},
		{"passphrase and master secret", `[link]
ext_address = "1"
[keys]
passphrase = "pw"
master_secret = "000102030405060708090A0B0C0D0E0F"`},
		{"neighbor without addr", `[link]
ext_address = "1"
[[neighbors]]
ext_address = "2"`},
		{"bad log level", `[link]
ext_address = "1"
[log]
level = "loud"`},
		{"unknown key", `[link]
ext_address = "1"
colour = "blue"`},
		{"not toml", `[link`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, HexUint64(0xACDE480000000001), cfg.Link.ExtAddress)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want security.Level
	}{
		{"None", security.LevelNone},
		{"mic-32", security.LevelMIC32},
		{"MIC-128", security.LevelMIC128},
		{"ENC-MIC-128", security.LevelENCMIC128},
		{"6", security.LevelENCMIC64},
		{"0x02", security.LevelMIC64},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("8")
	assert.Error(t, err)
	_, err = ParseLevel("")
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("Debug")
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelDebug, level)

	level, err = ParseLogLevel("off")
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelDisabled, level)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestHexMarshalText(t *testing.T) {
	text, err := HexUint64(0xACDE480000000001).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ACDE480000000001", string(text))

	text, err = HexUint16(0x42).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0042", string(text))

	var b HexBytes
	require.NoError(t, b.UnmarshalText([]byte("01 02:0a")))
	assert.Equal(t, HexBytes{0x01, 0x02, 0x0A}, b)
}
