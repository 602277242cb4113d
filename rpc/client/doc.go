// Package client implements a typed RPC client for one cache of a dCache
// server.
//
// Every connection the transport opens is bound to the cache by an Init
// handshake before it carries requests. The first connection uses the
// configured client id (a random one if unset), further connections get the
// id with a "#n" suffix, so the server sees each of them as its own session.
//
// Failed commands are answered by the server with an exception packet, the
// client returns it as *common.ExceptionDescriptor. IsException tests for a
// specific error code:
//
//	c, err := client.NewClient(1, "default", config, tcp.NewTCPClientTransport(), serializer.NewMsgpackSerializer())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if _, err := c.Add("user:1", []byte("alice"), client.WithTags("users")); client.IsException(err, common.ErrorCodeKeyExists) {
//		// the key is already present
//	}
//	value, ok, err := c.Get("user:1")
//
// Chunked responses (bulk reads, searches) are merged before they are
// returned. The client is safe for concurrent use.
package client
