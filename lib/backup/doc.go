/*
Package backup exports stores to backup files and restores damaged stores from them.

A backup file is the engine export of a store, sealed with the store secret key
when the store is encrypted. It is named by the SHA-256 of
"<userId>_<bundleName>_<storeId>" and lives in the backup directory of the
device account in the protection class of the store.

The Handler runs BackSchedule in the background and writes every store whose
meta record has the backup option. A new backup is written next to the old one
and renamed into place, so a crash never leaves a half written backup. Export
and import of the same file are serialized through a lock in a
lockmgr.ILockManager.
*/
package backup
