// Package factory assembles a securenet node from its configuration.
//
// The factory picks the concrete directory and transport named by a
// config.Config and wires them into secure networks and protocol
// messengers, so commands and tests never choose implementations
// themselves.
//
// # Backends
//
//   - Directory.Backend "bolt" opens a bbolt database, "memory" an empty
//     in-process directory.
//   - Transport.Backend "nats" connects to a NATS server, "memory" uses one
//     in-process broker shared by every network the factory builds.
//
// # Usage
//
//	f := factory.NewNodeFactory(cfg)
//	defer f.Close()
//
//	dir, err := f.OpenDirectory()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pm, net, err := f.NewMessenger(dir, claim, protocol, prometheus.DefaultRegisterer)
//
// # Testing Support
//
// UseMemoryTransport switches a factory to the in-process broker, which is
// what most tests want:
//
//	f := factory.NewNodeFactory(nil)
//	f.UseMemoryTransport()
package factory
