package factory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opd-ai/securenet/broker"
	"github.com/opd-ai/securenet/config"
	"github.com/opd-ai/securenet/directory"
	"github.com/opd-ai/securenet/envelope"
	"github.com/opd-ai/securenet/messenger"
	"github.com/opd-ai/securenet/network"
	"github.com/opd-ai/securenet/secure"
	"github.com/opd-ai/securenet/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// NodeFactory builds node components from a configuration. It is safe for
// concurrent use.
type NodeFactory struct {
	mu     sync.RWMutex
	cfg    config.Config
	memory *transport.MemoryBroker
	bolts  []*directory.Bolt
}

// NewNodeFactory returns a factory for cfg. A nil cfg uses config.Default
// with environment overrides applied.
func NewNodeFactory(cfg *config.Config) *NodeFactory {
	if cfg == nil {
		cfg = config.Default()
		config.ApplyEnvironment(cfg)
		if err := cfg.FixupAndValidate(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewNodeFactory",
				"error":    err.Error(),
			}).Warn("Environment produced an invalid configuration, using defaults")
			cfg = config.Default()
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewNodeFactory",
		"directory":         cfg.Directory.Backend,
		"transport":         cfg.Transport.Backend,
		"envelope_scheme":   cfg.Envelope.Scheme,
		"send_socket_cache": cfg.Network.SendSocketCache,
	}).Info("Created node factory with configuration")

	return &NodeFactory{cfg: *cfg}
}

// Config returns a copy of the current configuration.
func (f *NodeFactory) Config() config.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// UseMemoryTransport switches to the shared in-process broker.
func (f *NodeFactory) UseMemoryTransport() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "UseMemoryTransport",
		"previous": f.cfg.Transport.Backend,
	}).Info("Switching factory to memory transport")
	f.cfg.Transport.Backend = config.BackendMemory
}

// UseMemoryDirectory switches OpenDirectory to an in-process directory.
func (f *NodeFactory) UseMemoryDirectory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Directory.Backend = config.BackendMemory
}

// OpenDirectory opens the configured directory. Bolt directories are
// closed by Close.
func (f *NodeFactory) OpenDirectory() (directory.Registry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.cfg.Directory.Backend {
	case config.BackendMemory:
		return directory.NewMemory()
	case config.BackendBolt:
		path := f.cfg.DirectoryPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory database dir: %w", err)
		}
		db, err := directory.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		f.bolts = append(f.bolts, db)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown directory backend %q", f.cfg.Directory.Backend)
	}
}

// Clients returns the configured transport client factory.
func (f *NodeFactory) Clients() (transport.ClientFactory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.cfg.Transport.Backend {
	case config.BackendMemory:
		if f.memory == nil {
			f.memory = transport.NewMemoryBroker()
		}
		return f.memory, nil
	case config.BackendNATS:
		return broker.NewFactory(f.cfg.Transport.Address, f.cfg.DialTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", f.cfg.Transport.Backend)
	}
}

// MemoryBroker returns the shared in-process broker, or nil when the
// memory transport has not been used.
func (f *NodeFactory) MemoryBroker() *transport.MemoryBroker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.memory
}

// NewNetwork builds a secure network for claim over the configured
// transport. reg may be nil.
func (f *NodeFactory) NewNetwork(dir directory.Directory, claim *secure.Claim, reg prometheus.Registerer) (*network.Network, error) {
	clients, err := f.Clients()
	if err != nil {
		return nil, err
	}

	cfg := f.Config()
	opts := []network.Option{network.WithScheme(envelope.Scheme(cfg.Envelope.Scheme))}
	if cfg.Network.SendSocketCache {
		opts = append(opts, network.WithSendSocketCache())
	}
	if reg != nil {
		opts = append(opts, network.WithRegisterer(reg))
	}
	return network.New(dir, clients, claim, opts...)
}

// NewMessenger builds a network and a protocol messenger on top of it.
func (f *NodeFactory) NewMessenger(dir directory.Directory, claim *secure.Claim, protocol []messenger.MessageSchema, reg prometheus.Registerer) (*messenger.ProtocolMessenger, *network.Network, error) {
	net, err := f.NewNetwork(dir, claim, reg)
	if err != nil {
		return nil, nil, err
	}
	pm, err := messenger.New(net, protocol)
	if err != nil {
		net.Close()
		return nil, nil, err
	}
	return pm, net, nil
}

// Close releases directories and the memory broker created by the factory.
func (f *NodeFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, db := range f.bolts {
		errs = append(errs, db.Close())
	}
	f.bolts = nil
	if f.memory != nil {
		errs = append(errs, f.memory.Close())
		f.memory = nil
	}
	return errors.Join(errs...)
}
