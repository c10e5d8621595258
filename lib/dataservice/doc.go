/*
Package dataservice implements the kvds data service, the single entry point
applications use to open, close and delete their stores.

A store-open request runs through these steps:

	validate input -> resolve identity -> check options against the meta record
	-> resolve the secret key -> open -> persist the meta record

When the engine rejects the key of an existing encrypted store, the service
reloads the key from its file copy and retries once. If that fails too and a
backup exists, the damaged store is deleted, recreated and filled from the backup
(RECOVER_SUCCESS or RECOVER_FAILED).

Account events are serialized against store-open requests: while an account
event is processed every open request fails fast with
SYSTEM_ACCOUNT_EVENT_PROCESSING.

Only the main device account ("0") is supported.
*/
package dataservice
