// Package config loads securenet node configuration from TOML with
// SECURENET_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/securenet/envelope"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendNATS   = "nats"
)

// Bounds for the dial timeout, in milliseconds.
const (
	MinDialTimeout = 100
	MaxDialTimeout = 600000
)

const (
	defaultDataDir       = ".securenet"
	defaultBrokerAddress = "nats://127.0.0.1:4222"
	defaultDialTimeout   = 5000
	defaultLogLevel      = "info"
)

// Directory selects the identity directory.
type Directory struct {
	// Backend is "bolt" or "memory".
	Backend string
	// Path is the bbolt database file. Relative paths are under DataDir.
	Path string
}

// Transport selects the pub/sub transport.
type Transport struct {
	// Backend is "nats" or "memory".
	Backend string
	// Address is the NATS server URL; a bare host:port is accepted.
	Address string
	// DialTimeout is in milliseconds.
	DialTimeout int
}

// Envelope selects the encryption scheme for outgoing packets.
type Envelope struct {
	Scheme string
}

// Network tunes the secure network.
type Network struct {
	SendSocketCache bool
}

// Logging configures logrus.
type Logging struct {
	Level string
}

// Metrics configures the Prometheus endpoint. An empty Address disables it.
type Metrics struct {
	Address string
}

// Config is the top level node configuration.
type Config struct {
	// Identity is the local identifier, name@namespace.
	Identity string
	// DataDir holds the key store and the default directory database.
	DataDir string

	Directory Directory
	Transport Transport
	Envelope  Envelope
	Network   Network
	Logging   Logging
	Metrics   Metrics
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses b, applies environment overrides and validates the result.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown keys %v", undecoded)
	}

	ApplyEnvironment(cfg)
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load on the contents of path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// FixupAndValidate fills in defaults and checks every field.
func (c *Config) FixupAndValidate() error {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Directory.Backend == "" {
		c.Directory.Backend = BackendBolt
	}
	if c.Directory.Path == "" {
		c.Directory.Path = "directory.db"
	}
	if c.Transport.Backend == "" {
		c.Transport.Backend = BackendNATS
	}
	if c.Transport.Address == "" {
		c.Transport.Address = defaultBrokerAddress
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = defaultDialTimeout
	}
	if c.Envelope.Scheme == "" {
		c.Envelope.Scheme = string(envelope.DefaultScheme)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if c.Identity != "" {
		id, err := identity.Parse(c.Identity)
		if err != nil {
			return fmt.Errorf("config: Identity: %w", err)
		}
		c.Identity = id.String()
	}
	switch c.Directory.Backend {
	case BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: Directory.Backend %q is not one of bolt, memory", c.Directory.Backend)
	}
	switch c.Transport.Backend {
	case BackendNATS, BackendMemory:
	default:
		return fmt.Errorf("config: Transport.Backend %q is not one of tcp, memory", c.Transport.Backend)
	}
	if c.Transport.DialTimeout < MinDialTimeout || c.Transport.DialTimeout > MaxDialTimeout {
		return fmt.Errorf("config: Transport.DialTimeout %d out of range [%d, %d]", c.Transport.DialTimeout, MinDialTimeout, MaxDialTimeout)
	}
	if !envelope.Supported(envelope.Scheme(c.Envelope.Scheme)) {
		return fmt.Errorf("config: Envelope.Scheme %q is not supported", c.Envelope.Scheme)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: Logging.Level: %w", err)
	}
	return nil
}

// ID returns the parsed local identity, or the zero ID when unset.
func (c *Config) ID() identity.ID {
	if c.Identity == "" {
		return identity.ID{}
	}
	id, err := identity.Parse(c.Identity)
	if err != nil {
		return identity.ID{}
	}
	return id
}

// DirectoryPath resolves Directory.Path against DataDir.
func (c *Config) DirectoryPath() string {
	if filepath.IsAbs(c.Directory.Path) {
		return c.Directory.Path
	}
	return filepath.Join(c.DataDir, c.Directory.Path)
}

// DialTimeout returns Transport.DialTimeout as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Transport.DialTimeout) * time.Millisecond
}

// LogLevel returns the parsed logging level, defaulting to info.
func (c *Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ApplyEnvironment overrides cfg from SECURENET_* variables. Unparseable or
// out of range values are logged and ignored.
func ApplyEnvironment(cfg *Config) {
	parseString(&cfg.Identity, "SECURENET_IDENTITY")
	parseString(&cfg.DataDir, "SECURENET_DATA_DIR")
	parseString(&cfg.Directory.Backend, "SECURENET_DIRECTORY_BACKEND")
	parseString(&cfg.Directory.Path, "SECURENET_DIRECTORY_PATH")
	parseString(&cfg.Transport.Backend, "SECURENET_TRANSPORT_BACKEND")
	parseString(&cfg.Transport.Address, "SECURENET_BROKER_ADDRESS")
	parseDialTimeout(cfg)
	parseString(&cfg.Envelope.Scheme, "SECURENET_ENVELOPE_SCHEME")
	parseBool(&cfg.Network.SendSocketCache, "SECURENET_SEND_SOCKET_CACHE")
	parseString(&cfg.Logging.Level, "SECURENET_LOG_LEVEL")
	parseString(&cfg.Metrics.Address, "SECURENET_METRICS_ADDRESS")
}

func parseString(dst *string, envVar string) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		*dst = v
	}
}

func parseBool(dst *bool, envVar string) {
	str := os.Getenv(envVar)
	if str == "" {
		return
	}
	v, err := strconv.ParseBool(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBool",
			"env_var":     envVar,
			"value":       str,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	*dst = v
}

func parseDialTimeout(cfg *Config) {
	str := os.Getenv("SECURENET_DIAL_TIMEOUT")
	if str == "" {
		return
	}
	timeout, err := strconv.Atoi(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDialTimeout",
			"env_var":     "SECURENET_DIAL_TIMEOUT",
			"value":       str,
			"error":       err.Error(),
			"using_value": cfg.Transport.DialTimeout,
		}).Warn("Failed to parse SECURENET_DIAL_TIMEOUT environment variable, using default")
		return
	}
	if timeout < MinDialTimeout || timeout > MaxDialTimeout {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDialTimeout",
			"env_var":     "SECURENET_DIAL_TIMEOUT",
			"value":       timeout,
			"min":         MinDialTimeout,
			"max":         MaxDialTimeout,
			"using_value": cfg.Transport.DialTimeout,
		}).Warn("SECURENET_DIAL_TIMEOUT value out of bounds, using default")
		return
	}
	cfg.Transport.DialTimeout = timeout
}
