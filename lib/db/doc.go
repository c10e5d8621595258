// Package db defines the KVDB interface implemented by the embedded key-value
// engines of kvds. Every persistent structure of the data service (the meta
// store, the per-application delegate stores and the backup files) is built on
// top of a KVDB.
//
// Key Components:
//
//   - KVDB: write operations (Set, SetE, SetEIfUnset, Expire, Delete), reads
//     (Get, Has, Scan), persistence (Save, Load) and the logical write index.
//
//   - Feature: bit flags advertised through SupportsFeature. Callers that need
//     prefix enumeration check FeatureScan before relying on Scan.
//
//   - KeyValue and DatabaseInfo: value types returned by scans and diagnostics.
//
// Note on Time-Based Operations:
//   - Every write carries a write index used as logical clock. Expiration and
//     deletion deadlines are relative to it and the index only ever grows
//     (SetWriteIdx ignores smaller values).
//   - Get never returns an expired entry and Has never reports a deleted one,
//     no matter whether the garbage collector already removed it physically.
//     Scan follows Get semantics.
package db
