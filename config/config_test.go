package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
Identity = "Alice@Example"
DataDir = "/var/lib/securenet"

[Directory]
Backend = "memory"

[Transport]
Address = "10.0.0.1:9000"
DialTimeout = 2500

[Envelope]
Scheme = "hpke"

[Network]
SendSocketCache = true

[Logging]
Level = "debug"

[Metrics]
Address = ":9100"
`

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "alice@example", cfg.Identity)
	assert.Equal(t, "alice@example", cfg.ID().String())
	assert.Equal(t, BackendMemory, cfg.Directory.Backend)
	assert.Equal(t, BackendNATS, cfg.Transport.Backend)
	assert.Equal(t, "10.0.0.1:9000", cfg.Transport.Address)
	assert.Equal(t, 2500*time.Millisecond, cfg.DialTimeout())
	assert.Equal(t, "hpke", cfg.Envelope.Scheme)
	assert.True(t, cfg.Network.SendSocketCache)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
	assert.Equal(t, ":9100", cfg.Metrics.Address)
	assert.Equal(t, "/var/lib/securenet/directory.db", cfg.DirectoryPath())
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, defaultDataDir, cfg.DataDir)
	assert.Equal(t, BackendBolt, cfg.Directory.Backend)
	assert.Equal(t, BackendNATS, cfg.Transport.Backend)
	assert.Equal(t, defaultBrokerAddress, cfg.Transport.Address)
	assert.Equal(t, "sealedbox", cfg.Envelope.Scheme)
	assert.False(t, cfg.Network.SendSocketCache)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel())
	assert.True(t, cfg.ID().IsZero())
	assert.Equal(t, filepath.Join(defaultDataDir, "directory.db"), cfg.DirectoryPath())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad toml", `Identity = `},
		{"unknown key", `Colour = "blue"`},
		{"bad identity", `Identity = "not valid!"`},
		{"bad directory backend", "[Directory]\nBackend = \"redis\""},
		{"bad transport backend", "[Transport]\nBackend = \"udp\""},
		{"timeout too small", "[Transport]\nDialTimeout = 5"},
		{"bad scheme", "[Envelope]\nScheme = \"rot13\""},
		{"bad level", "[Logging]\nLevel = \"loud\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			assert.Error(t, err)
		})
	}

	_, err := Load(nil)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SECURENET_IDENTITY", "bob@example")
	t.Setenv("SECURENET_BROKER_ADDRESS", "broker:1")
	t.Setenv("SECURENET_ENVELOPE_SCHEME", "noise")
	t.Setenv("SECURENET_SEND_SOCKET_CACHE", "true")
	t.Setenv("SECURENET_DIAL_TIMEOUT", "750")

	cfg, err := Load([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "bob@example", cfg.Identity)
	assert.Equal(t, "broker:1", cfg.Transport.Address)
	assert.Equal(t, "noise", cfg.Envelope.Scheme)
	assert.Equal(t, 750*time.Millisecond, cfg.DialTimeout())
}

func TestEnvironmentBadValuesKeepConfig(t *testing.T) {
	t.Setenv("SECURENET_SEND_SOCKET_CACHE", "maybe")
	t.Setenv("SECURENET_DIAL_TIMEOUT", "99999999")

	cfg, err := Load([]byte(sample))
	require.NoError(t, err)
	assert.True(t, cfg.Network.SendSocketCache)
	assert.Equal(t, 2500*time.Millisecond, cfg.DialTimeout())

	t.Setenv("SECURENET_DIAL_TIMEOUT", "soon")
	cfg, err = Load([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.DialTimeout())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice@example", cfg.Identity)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
