// Package internal holds the messages exchanged with the meta store state
// machine: Command entries of the raft log and Query lookups.
//
// Commands are encoded with a leading version byte and varint lengths (see
// Command.MarshalBinary). Every replica decodes the same bytes, so the format
// must stay stable for as long as a log written by an older binary can be
// replayed.
package internal
