/*
Package meta stores the metadata of the kvds service: one KvStoreMetaData record
per opened store, the sealed secret keys of encrypted stores and the sync
strategies (capability labels) of every store.

Synchronized records live in a store.IStore. By default this is a local maple
backed store persisted to <MetaDir>/meta.db, but any IStore (for example a raft
replicated dstore) can be supplied. Secret keys and the root key marker live in a
second, device local store persisted to <MetaDir>/meta.local.db. Every update is
additionally exported to BackupDir so a damaged meta file can be restored.

Secret keys are never stored in plain text. A random 32 byte root key in
<MetaDir>/root.key seals every work key with XChaCha20-Poly1305. The key files
below SecretKeyDir hold the creation time (8 bytes, little endian unix seconds)
followed by the sealed key, and are used to recover the meta copy.

Key layout:

	KvStoreMetaData###<deviceId>###<deviceAccountId>###<groupId>###<bundleName>###<storeId>
	SecretKey###<deviceAccountId>###<groupId>###<bundleName>###<storeId>###KEY|SINGLE_KEY
	StrategyMetaData###<deviceId>###<deviceAccountId>###<groupId>###<bundleName>###<storeId>

Usage Example:

	mm, err := meta.NewKvStoreMetaManager(meta.Options{
	    MetaDir:       "/var/lib/kvds/meta",
	    SecretKeyDir:  "/var/lib/kvds/de/kvds",
	    BackupDir:     "/var/lib/kvds/backup/meta",
	    LocalDeviceId: func() string { return deviceId },
	})
	if err != nil {
	    return err
	}
	defer mm.Close()
	if mm.CheckRootKeyExist() != kvstore.Success {
	    mm.GenerateRootKey()
	}
*/
package meta
