package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/opd-ai/securenet/config"
	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/keymanager"
	"github.com/opd-ai/securenet/secure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// passphraseEnv names the variable holding the key store passphrase.
const passphraseEnv = "SECURENET_PASSPHRASE"

type globalFlags struct {
	configFile string
	identity   string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   "securenet",
		Short: "Authenticated, encrypted messaging over publish/subscribe",
		Long: `securenet exchanges typed messages between named identities over an
untrusted publish/subscribe broker. Every message is signed by its sender's
certificate and sealed to the recipient's public key from the identity
directory.

Configuration is read from a TOML file and SECURENET_* environment
variables. The key store passphrase is taken from SECURENET_PASSPHRASE.`,
		Example: `  # Create keys for alice and publish them in the local directory
  securenet keygen --identity alice@example
  securenet register --self --identity alice@example

  # Run a broker
  securenet broker --listen 127.0.0.1:4222

  # Listen as bob, send as alice
  securenet listen --identity bob@example
  securenet send --identity alice@example bob@example "hello bob"`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configFile, "config", "f", "",
		"path to the node configuration file (TOML format)")
	cmd.PersistentFlags().StringVarP(&g.identity, "identity", "i", "",
		"local identity, overrides the configuration")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "",
		"log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newKeygenCommand(&g),
		newRegisterCommand(&g),
		newListCommand(&g),
		newBrokerCommand(&g),
		newListenCommand(&g),
		newSendCommand(&g),
	)
	return cmd
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(g *globalFlags) (*config.Config, error) {
	var cfg *config.Config
	if g.configFile != "" {
		loaded, err := config.LoadFile(g.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %w", g.configFile, err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		config.ApplyEnvironment(cfg)
	}

	if g.identity != "" {
		cfg.Identity = g.identity
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	logrus.SetLevel(cfg.LogLevel())
	return cfg, nil
}

func requireIdentity(cfg *config.Config) error {
	if cfg.ID().IsZero() {
		return errors.New("no identity configured, use --identity or SECURENET_IDENTITY")
	}
	return nil
}

func openKeyStore(cfg *config.Config) (*crypto.EncryptedKeyStore, error) {
	pass := os.Getenv(passphraseEnv)
	if pass == "" {
		return nil, fmt.Errorf("%s must be set", passphraseEnv)
	}
	return crypto.NewEncryptedKeyStore(filepath.Join(cfg.DataDir, "keys"), []byte(pass))
}

// loadClaim opens the key store and returns the local claim, generating
// keys on first use when create is set.
func loadClaim(cfg *config.Config, create bool) (*secure.Claim, *keymanager.Local, error) {
	if err := requireIdentity(cfg); err != nil {
		return nil, nil, err
	}
	ks, err := openKeyStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	defer ks.Close()

	id := cfg.ID()
	var keys *keymanager.Local
	if create {
		keys, _, err = keymanager.LoadOrGenerate(ks, id.String())
	} else {
		var bundle *crypto.KeyBundle
		bundle, err = ks.LoadKeyBundle(id.String())
		if errors.Is(err, crypto.ErrKeyFileNotFound) {
			err = fmt.Errorf("no keys for %s, run keygen first: %w", id, err)
		}
		if err == nil {
			keys = keymanager.New(bundle)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return &secure.Claim{ID: id, Keys: keys}, keys, nil
}

// serveMetrics exposes /metrics on addr in the background. An empty addr
// disables it.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "serveMetrics",
			"addr":     addr,
		}).Info("Serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"error":    err.Error(),
			}).Error("Metrics server stopped")
		}
	}()
}
