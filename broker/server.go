package broker

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/sirupsen/logrus"
)

// MaxPayload bounds a single published envelope.
const MaxPayload = 8 * 1024 * 1024

const readyTimeout = 5 * time.Second

// ErrNotReady is returned when the embedded server does not start
// accepting clients in time.
var ErrNotReady = errors.New("broker: server not ready for connections")

// Server is an embedded NATS server.
type Server struct {
	ns *server.Server
}

// Listen starts a server on addr (host:port). Port 0 picks a free port.
func Listen(addr string) (*Server, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("broker: listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("broker: listen port: %w", err)
	}
	if port == 0 {
		port = server.RANDOM_PORT
	}

	ns, err := server.NewServer(&server.Options{
		ServerName: "securenet-broker",
		Host:       host,
		Port:       port,
		MaxPayload: MaxPayload,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	ns.SetLogger(natsLogger{},
		logrus.IsLevelEnabled(logrus.DebugLevel),
		logrus.IsLevelEnabled(logrus.TraceLevel))

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, ErrNotReady
	}

	logrus.WithFields(logrus.Fields{
		"function": "broker.Listen",
		"url":      ns.ClientURL(),
	}).Info("Broker accepting connections")
	return &Server{ns: ns}, nil
}

// Addr returns the client URL, e.g. nats://127.0.0.1:4222.
func (s *Server) Addr() string {
	return s.ns.ClientURL()
}

// HasSubscribers reports whether any client subscribes to topic.
func (s *Server) HasSubscribers(topic string) bool {
	return s.ns.GlobalAccount().SubscriptionInterest(topic)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.ns.NumClients()
}

// Wait blocks until the server has shut down.
func (s *Server) Wait() {
	s.ns.WaitForShutdown()
}

// Close disconnects every client and stops the server. It is safe to call
// more than once.
func (s *Server) Close() error {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	return nil
}
