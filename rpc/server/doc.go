// Package server implements the RPC server of kvds.
// It wires the data service with its collaborators and serves it to client stubs.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes one request of a shard.
//
//   - DataServiceAdapter: Serves dataservice.IKvStoreDataService on shard
//     common.ShardDataService. Opened stores stay on the server and are addressed by
//     handle ids. Each client stub is a session identified by a token, every request
//     refreshes its lease. An expired lease kills the death observers of the client,
//     so the data service runs AppExit for its apps.
//
//   - NewIStoreServerAdapter: Serves a store.IStore, used read only on shard
//     common.ShardMetaStore to inspect the synchronized meta records.
//
//   - NewRPCServer: Composition root. It builds the device provider, the meta manager
//     (optionally replicated with Raft), the permission validator, the account delegate,
//     the backup handler and the data service from a common.ServerConfig.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  RootDir:     "/var/lib/kvds",
//	  ServiceName: "kvds",
//	  MetaMode:    common.MetaModeLocal,
//	  Transport:   common.ServerTransportConfig{Endpoint: "/tmp/kvds.sock"},
//	  Discovery:   common.DiscoveryConfig{Mode: common.DiscoveryStatic, DeviceId: "dev-a"},
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  unix.NewUnixServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// Serve blocks until ctx is done
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// In Raft meta mode the synchronized meta records live in a dragonboat shard with id
// common.ShardMetaStore. RTTMillisecond, SnapshotEntries, CompactionOverhead, DataDir,
// ReplicaID and ClusterMembers must then be configured.
//
// Thread Safety:
//
//	The adapters are safe for concurrent use, requests of all connections are handled
//	independently. Serve must be called only once.
package server
