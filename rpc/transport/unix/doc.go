// Package unix runs the framed transport of package base over unix domain
// sockets. It is the transport for applications on the same host as the data
// service: the endpoint is a socket path, and a stale socket file left behind
// by a crashed server is removed before listening.
package unix
