// Package rpc is the communication layer between applications and the kvds data
// service. Stores are opened, used and released across process and network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: Client stubs of the data service and of the meta store.
//
//   - server: The server composition root and the adapters translating requests
//     into data service and store calls.
package rpc
