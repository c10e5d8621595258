// Package client implements the RPC client stubs of kvds.
//
// Key Components:
//
//   - NewDataServiceClient: Creates a stub implementing dataservice.IKvStoreDataService.
//     Opened stores are returned as handles implementing kvstore.ISingleKvStore, every
//     store operation is forwarded to the server. The stub keeps its lease on the
//     server alive with a heartbeat and polls device events for its listeners.
//
//   - NewRPCStore: Creates a client implementing store.IStore, used to read the meta
//     records on shard common.ShardMetaStore.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond:   5,
//	  HeartbeatSecond: 3,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"/tmp/kvds.sock"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	ds, _ := client.NewDataServiceClient(config, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
//	defer ds.Close()
//
//	ctx := kvstore.WithCaller(context.Background(), kvstore.Caller{UID: 1000})
//	ds.GetSingleKvStore(ctx, kvstore.DefaultOptions(), "com.example", "settings", func(s kvstore.ISingleKvStore) {
//	  if s != nil {
//	    s.Put("theme", []byte("dark"))
//	  }
//	})
//
// Failures of the transport are reported as kvstore.IpcError.
//
// Thread Safety:
//
//	All clients are safe for concurrent use.
package client
