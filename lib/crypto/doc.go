/*
Package crypto contains the hashing and key generation helpers used across kvds.

Sha256 produces the lowercase digests used for file names (store directories,
backup files, secret key files). Sha256UserId turns a numeric OS uid into the
uppercase harmony account id. Both formats are persisted on disk and must not be
unified.

GetRandomKey draws secret keys from crypto/rand, Zero wipes key buffers once they
are no longer needed:

	key := crypto.GetRandomKey(32)
	defer crypto.Zero(key)
*/
package crypto
