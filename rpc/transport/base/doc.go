// Package base holds the frame protocol shared by the tcp and unix transports.
// The protocol specific parts (dialing, listening, socket options) are plugged
// in through IClientConnector and IServerConnector.
//
// Frame layout:
//
//	shardID u64 | requestID u64 | length u32 | payload
//
// The shard id selects the server adapter (1 is the data service, 2 the read
// only meta store), the request id correlates responses on a connection that
// carries many requests at once.
//
// Client side, clientTransport keeps ConnectionsPerEndpoint connections per
// endpoint and picks one round robin. Pending requests wait on a channel keyed
// by request id; a broken connection fails its pending requests and is redialed
// up to RetryCount times. Server side, every accepted connection gets a reader
// goroutine and WorkersPerConn workers, request buffers come from a sync.Pool
// and header plus payload are written with a single net.Buffers write.
//
// A client that stops talking to the server is not detected here. The data
// service adapter tracks client leases on top of the transport.
package base
