// Package transport defines how data service messages travel between client
// and server, independent of the protocol underneath.
//
// IRPCClientTransport sends a serialized request to a shard and returns the
// serialized response. IRPCServerTransport accepts requests and dispatches them
// to the ServerHandleFunc registered for their shard.
//
// Implementations: tcp and unix (framed, multiplexed, see package base) and
// http (one POST per request).
package transport
