// Package transport provides the socket layer securenet sends and receives
// ciphertext over.
//
// Sockets sit on top of a [PubSubClient], a minimal publish/subscribe
// connection. A [ClientFactory] hands out clients scoped to the local
// identity and, for send sockets, the recipient. Every identity owns one inbox
// topic, "topic_<id>" (see [Topic]).
//
// A [SocketFactory] opens two kinds of socket:
//
//   - [ReceiveSocket] subscribes to the owner's inbox on Connect and fans
//     each [Delivery] out to its listeners in registration order.
//   - [SendSocket] publishes payloads to the recipient's inbox.
//
// Sockets must be connected before use; Send on an unconnected socket returns
// [ErrNotConnected].
//
//	sockets := transport.NewSocketFactory(clients)
//	out, err := sockets.OpenSend(self, bob, keys)
//	if err != nil {
//	    return err
//	}
//	defer out.Close()
//	if err := out.Connect(ctx); err != nil {
//	    return err
//	}
//	return out.Send(ctx, ciphertext)
//
// [MemoryBroker] is an in-process ClientFactory used by tests and single
// process deployments. The broker package provides a TCP implementation.
package transport
