// Package config loads the node configuration file.
//
// The file is TOML:
//
//	[link]
//	ext_address    = "ACDE480000000001"
//	short_address  = "0001"            # empty: send from the extended address
//	pan_id         = "4321"
//	security_level = "ENC-MIC-32"
//	key_id_mode    = 1
//	key_index      = 1
//
//	[keys]
//	link_key   = "C0C1C2C3C4C5C6C7C8C9CACBCCCDCECF"
//	store_path = "/var/lib/linksec/keys.db"
//
// Instead of link_key, keys may name a passphrase (with salt and
// iterations) or a master_secret from which the key for the configured
// key identifier is derived with HKDF.
//
//	[transport]
//	listen = ":15400"
//
//	[[neighbors]]
//	ext_address   = "ACDE480000000002"
//	short_address = "0002"
//	addr          = "127.0.0.1:15401"
//
//	[log]
//	level = "info"
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/backkem/linksec/pkg/frame"
	"github.com/backkem/linksec/pkg/keystore"
	"github.com/backkem/linksec/pkg/link"
	"github.com/backkem/linksec/pkg/security"
	"github.com/backkem/linksec/pkg/transport"
	"github.com/pion/logging"
)

// DefaultIterations is the PBKDF2 iteration count for passphrase keys.
const DefaultIterations = 10000

// Config is the node configuration.
type Config struct {
	Link      LinkConfig       `toml:"link"`
	Keys      KeysConfig       `toml:"keys"`
	Transport TransportConfig  `toml:"transport"`
	Neighbors []NeighborConfig `toml:"neighbors"`
	Log       LogConfig        `toml:"log"`
}

// LinkConfig holds addressing and outgoing security settings.
type LinkConfig struct {
	ExtAddress     HexUint64 `toml:"ext_address"`
	ShortAddress   string    `toml:"short_address"`
	PANID          HexUint16 `toml:"pan_id"`
	SecurityLevel  string    `toml:"security_level"`
	KeyIDMode      uint8     `toml:"key_id_mode"`
	KeySource      HexUint64 `toml:"key_source"`
	KeyIndex       uint8     `toml:"key_index"`
	FrameCounter   uint32    `toml:"frame_counter"`
	AllowUnsecured bool      `toml:"allow_unsecured"`
}

// KeysConfig selects where the link key comes from. LinkKey, Passphrase
// and MasterSecret are mutually exclusive.
type KeysConfig struct {
	LinkKey      HexBytes `toml:"link_key"`
	Passphrase   string   `toml:"passphrase"`
	Salt         string   `toml:"salt"`
	Iterations   int      `toml:"iterations"`
	MasterSecret HexBytes `toml:"master_secret"`
	StorePath    string   `toml:"store_path"`
}

// TransportConfig configures the emulated radio socket.
type TransportConfig struct {
	Listen string `toml:"listen"`
}

// NeighborConfig is a statically configured neighbor.
type NeighborConfig struct {
	ExtAddress   HexUint64 `toml:"ext_address"`
	ShortAddress string    `toml:"short_address"`
	Addr         string    `toml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the default configuration. ExtAddress still needs to be set.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			SecurityLevel: security.LevelENCMIC32.String(),
			KeyIDMode:     uint8(frame.KeyIDModeIndex),
			KeyIndex:      1,
		},
		Keys: KeysConfig{
			Iterations: DefaultIterations,
		},
		Transport: TransportConfig{
			Listen: fmt.Sprintf(":%d", transport.DefaultPort),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and validates the configuration file at path.
// Keys absent from the file keep their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return finish(cfg, md)
}

// Parse decodes and validates configuration text.
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return finish(cfg, md)
}

func finish(cfg *Config, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithDefaults fills zero fields that have a default.
func (c *Config) WithDefaults() {
	if c.Keys.Iterations == 0 {
		c.Keys.Iterations = DefaultIterations
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first problem in the configuration.
func (c *Config) Validate() error {
	if c.Link.ExtAddress == 0 {
		return errors.New("config: link.ext_address is required")
	}
	if _, err := parseShort(c.Link.ShortAddress); err != nil {
		return fmt.Errorf("config: link.short_address: %w", err)
	}
	level, err := ParseLevel(c.Link.SecurityLevel)
	if err != nil {
		return fmt.Errorf("config: link.security_level: %w", err)
	}
	if level.Encrypted() && level.TagLen() == 0 {
		return fmt.Errorf("config: link.security_level: %w", security.ErrUnauthenticatedEncryption)
	}
	if c.Link.KeyIDMode > uint8(frame.KeyIDModeSource8) {
		return fmt.Errorf("config: link.key_id_mode %d out of range", c.Link.KeyIDMode)
	}

	if len(c.Keys.LinkKey) > 0 && len(c.Keys.LinkKey) != security.KeySize {
		return fmt.Errorf("config: keys.link_key must be %d bytes", security.KeySize)
	}
	sources := 0
	for _, set := range []bool{len(c.Keys.LinkKey) > 0, c.Keys.Passphrase != "", len(c.Keys.MasterSecret) > 0} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("config: keys.link_key, keys.passphrase and keys.master_secret are mutually exclusive")
	}

	for i, n := range c.Neighbors {
		if n.ExtAddress == 0 {
			return fmt.Errorf("config: neighbors[%d].ext_address is required", i)
		}
		if _, err := parseShort(n.ShortAddress); err != nil {
			return fmt.Errorf("config: neighbors[%d].short_address: %w", i, err)
		}
		if n.Addr == "" {
			return fmt.Errorf("config: neighbors[%d].addr is required", i)
		}
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// KeyID returns the outgoing key identifier.
func (c *Config) KeyID() security.KeyID {
	return security.KeyID{
		Mode:   c.Link.KeyIDMode,
		Source: uint64(c.Link.KeySource),
		Index:  c.Link.KeyIndex,
	}
}

// LinkKey returns the configured link key, deriving it from the passphrase
// or master secret when one is set. It returns nil when no key is configured.
func (c *Config) LinkKey() ([]byte, error) {
	if len(c.Keys.LinkKey) > 0 {
		key := make([]byte, len(c.Keys.LinkKey))
		copy(key, c.Keys.LinkKey)
		return key, nil
	}
	if c.Keys.Passphrase != "" {
		return keystore.KeyFromPassphrase(c.Keys.Passphrase, []byte(c.Keys.Salt), c.Keys.Iterations)
	}
	if len(c.Keys.MasterSecret) > 0 {
		return keystore.DeriveKey(c.Keys.MasterSecret, c.KeyID())
	}
	return nil, nil
}

// Endpoint converts the configuration into a link.Config.
// Conn, KeyStore, Handler and LoggerFactory are left for the caller.
func (c *Config) Endpoint() (link.Config, error) {
	short, err := parseShort(c.Link.ShortAddress)
	if err != nil {
		return link.Config{}, err
	}
	level, err := ParseLevel(c.Link.SecurityLevel)
	if err != nil {
		return link.Config{}, err
	}

	cfg := link.DefaultConfig()
	cfg.ExtAddress = uint64(c.Link.ExtAddress)
	cfg.ShortAddress = short
	cfg.PANID = uint16(c.Link.PANID)
	cfg.Level = level
	cfg.KeyID = c.KeyID()
	cfg.FrameCounter = c.Link.FrameCounter
	cfg.AllowUnsecured = c.Link.AllowUnsecured
	cfg.ListenAddr = c.Transport.Listen
	return cfg, nil
}

// LinkNeighbors resolves the configured neighbors.
func (c *Config) LinkNeighbors() ([]link.Neighbor, error) {
	out := make([]link.Neighbor, 0, len(c.Neighbors))
	for i, n := range c.Neighbors {
		short, err := parseShort(n.ShortAddress)
		if err != nil {
			return nil, fmt.Errorf("config: neighbors[%d]: %w", i, err)
		}
		addr, err := net.ResolveUDPAddr("udp", n.Addr)
		if err != nil {
			return nil, fmt.Errorf("config: neighbors[%d]: %w", i, err)
		}
		out = append(out, link.Neighbor{
			ExtAddress:   uint64(n.ExtAddress),
			ShortAddress: short,
			Addr:         addr,
		})
	}
	return out, nil
}

// ParseLevel accepts a level name ("ENC-MIC-32", case-insensitive) or its
// numeric value (0-7).
func ParseLevel(s string) (security.Level, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 0, 8); err == nil {
		if v > 7 {
			return 0, fmt.Errorf("level %d out of range", v)
		}
		return security.Level(v), nil
	}
	for l := security.LevelNone; l <= security.LevelENCMIC128; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// ParseLogLevel maps a level name onto a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// parseShort parses a hex short address; empty means none assigned.
func parseShort(s string) (uint16, error) {
	if s == "" {
		return frame.NoShortAddress, nil
	}
	v, err := parseHex(s, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
