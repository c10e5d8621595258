/*
Package delegate is the embedded store engine behind the data service.

Every store is a maple database kept in memory and mirrored to a single file:

	<dataDir>/<sha256(storeId)>/store.db

Encrypted stores seal the file with XChaCha20-Poly1305. The AEAD key is derived
per file from the 32 byte store secret with HKDF-SHA256 and a random salt, so
re-writing a file never reuses a key/nonce pair. Opening a sealed file without
the right secret, or a plain file with a secret, fails with
ErrInvalidPasswdOrCorrupted, which the data service treats as a crypto error.

Files are replaced atomically (write to ".tmp", fsync, rename). Open databases
are shared process wide: two managers opening the same file get handles on the
same database and the file is closed with its last handle.

Export and Import use the same file format and back the backup subsystem.
*/
package delegate
