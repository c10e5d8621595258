// Package serializer converts common.Message values to bytes and back for the
// transports of the kvds data service.
//
// Three implementations of IRPCSerializer are available:
//
//   - binary (NewBinarySerializer): a flag byte announces which fields are
//     present and only those are written. Store handles, statuses, app and
//     store ids and key lists are encoded as fixed or length prefixed fields.
//     This is the default of the CLI.
//
//   - json (NewJSONSerializer): readable on the wire, handy when debugging a
//     client with the http transport.
//
//   - gob (NewGOBSerializer): kept for completeness, it is the slowest and
//     produces the largest frames (see benchmark_test.go).
//
// New selects an implementation by its name, as given by the --serializer
// flag. Client and server must use the same serializer. Payloads that are structs of
// the data service (options, device lists, device events) are already JSON
// inside Message.Value and are not interpreted by the serializer.
//
// All implementations are stateless and safe for concurrent use.
package serializer
