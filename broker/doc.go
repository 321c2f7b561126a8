// Package broker runs the publish/subscribe transport under a secure network
// on NATS.
//
// Server embeds a nats-server instance; Client is a transport.PubSubClient
// over a nats.go connection and Factory hands clients to the socket layer.
// Inbox topics map one to one onto NATS subjects, so a node's traffic flows
// on "topic_<id>". The server only ever sees subjects and sealed envelopes.
//
// Example:
//
//	srv, err := broker.Listen("127.0.0.1:4222")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//
//	clients := broker.NewFactory(srv.Addr(), 5*time.Second)
//	net, err := network.New(dir, clients, claim)
//
// Any NATS server works as well; point Transport.Address at its URL.
package broker
