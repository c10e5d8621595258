// Package cmd implements the command-line interface of the kvds data service.
// It provides a hierarchical command structure for running the service and
// talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starting and configuring the data service
//   - store: Store operations of an application (put, get, list, close, delete, bench, ...)
//   - meta: Read only access to the synchronized meta records
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See kvds -help for a list of all commands.
package cmd
