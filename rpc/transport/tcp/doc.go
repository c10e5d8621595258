// Package tcp runs the framed transport of package base over TCP, for clients
// on other hosts.
//
// The socket settings of the transport config (no delay, buffer sizes, keep
// alive, linger) are applied to every dialed and accepted connection.
// DefaultBufferSize (512 KB) is the request buffer size used when none is
// configured.
package tcp
