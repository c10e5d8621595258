/*
Package kvstore holds the types shared by the data service, its managers and the
rpc facade: the Status result codes, store Options, store handles, device types
and the remote object abstraction used for client death notification.

Operations report a Status. Code that works with Go errors converts in both directions:

	if err := status.Err(); err != nil { ... }
	status := kvstore.StatusOf(err)

The caller identity (uid, pid) travels in the context, see WithCaller.
*/
package kvstore
