// Package common holds the types shared by the kvds RPC server, client and
// transports.
//
//   - Message: the single request/response structure. Which fields are set
//     depends on the MessageType. Options, device lists and sync labels travel
//     as JSON in Value, store statuses as int32 in Status.
//
//   - MessageType: meta store operations (Set ... Scan), data service
//     operations (GetKvStore ... Heartbeat) and operations on an open store
//     handle (StorePut ... StoreGetSecurityLevel).
//
//   - ServerConfig / ClientConfig: settings read by the serve command and the
//     client commands. The server config converts to Dragonboat configs when the
//     meta store is replicated.
//
//   - Logger: a Dragonboat logger factory with the `LEVEL | pkg | message`
//     format. InitLoggers sets the level of every package logger.
package common
