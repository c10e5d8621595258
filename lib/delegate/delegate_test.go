package delegate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/kvds/lib/crypto"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainOpt() Option {
	return Option{CreateIfNecessary: true}
}

func encOpt(key []byte) Option {
	return Option{CreateIfNecessary: true, IsEncryptedDb: true, Passwd: key}
}

func TestOpenPutGetReopen(t *testing.T) {
	m := NewManager("app", "user", t.TempDir())

	s, err := m.GetKvStore("store", plainOpt())
	require.NoError(t, err)
	require.NoError(t, s.Put("k1", []byte("v1")))
	require.NoError(t, s.PutBatch([]kvstore.Entry{{Key: "k2", Value: []byte("v2")}, {Key: "x", Value: []byte("x")}}))
	require.NoError(t, s.Delete("x"))

	_, err = s.Get("x")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	require.NoError(t, m.CloseKvStore(s))
	assert.True(t, errors.Is(m.CloseKvStore(s), ErrAlreadyClosed))
	assert.False(t, IsOpen(s.Path()))

	s, err = m.GetKvStore("store", Option{})
	require.NoError(t, err)
	defer m.CloseKvStore(s)

	entries, err := s.GetEntries("k")
	require.NoError(t, err)
	assert.Equal(t, []kvstore.Entry{{Key: "k1", Value: []byte("v1")}, {Key: "k2", Value: []byte("v2")}}, entries)
}

func TestStoreNotFound(t *testing.T) {
	m := NewManager("app", "user", t.TempDir())
	_, err := m.GetKvStore("missing", Option{})
	assert.True(t, errors.Is(err, ErrStoreNotFound))

	assert.True(t, errors.Is(m.DeleteKvStore("missing"), ErrStoreNotFound))
}

func TestInvalidArgs(t *testing.T) {
	m := NewManager("app", "user", t.TempDir())
	_, err := m.GetKvStore("", plainOpt())
	assert.True(t, errors.Is(err, ErrInvalidArgs))

	_, err = m.GetKvStore("s", Option{CreateIfNecessary: true, IsEncryptedDb: true})
	assert.True(t, errors.Is(err, ErrInvalidArgs))

	s, err := m.GetKvStore("s", plainOpt())
	require.NoError(t, err)
	defer m.CloseKvStore(s)
	assert.True(t, errors.Is(s.Put("", []byte("v")), ErrInvalidArgs))
}

func TestEncryptedStore(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("app", "user", dir)
	key := crypto.GetRandomKey(32)

	s, err := m.GetKvStore("secret", encOpt(key))
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("plaintext-value")))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-value")
	require.NoError(t, m.CloseKvStore(s))

	_, err = m.GetKvStore("secret", encOpt(crypto.GetRandomKey(32)))
	assert.True(t, errors.Is(err, ErrInvalidPasswdOrCorrupted), "wrong key")

	_, err = m.GetKvStore("secret", Option{})
	assert.True(t, errors.Is(err, ErrInvalidPasswdOrCorrupted), "missing key")

	s, err = m.GetKvStore("secret", encOpt(key))
	require.NoError(t, err)
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext-value"), v)
	require.NoError(t, m.CloseKvStore(s))

	// a plain store refuses a key
	p, err := m.GetKvStore("plain", plainOpt())
	require.NoError(t, err)
	require.NoError(t, m.CloseKvStore(p))
	_, err = m.GetKvStore("plain", encOpt(key))
	assert.True(t, errors.Is(err, ErrInvalidPasswdOrCorrupted))
}

func TestCorruptedFile(t *testing.T) {
	m := NewManager("app", "user", t.TempDir())
	key := crypto.GetRandomKey(32)
	s, err := m.GetKvStore("s", encOpt(key))
	require.NoError(t, err)
	path := s.Path()
	require.NoError(t, m.CloseKvStore(s))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = m.GetKvStore("s", encOpt(key))
	assert.True(t, errors.Is(err, ErrInvalidPasswdOrCorrupted))

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err = m.GetKvStore("s", encOpt(key))
	assert.True(t, errors.Is(err, ErrInvalidPasswdOrCorrupted))
}

func TestSharedDatabaseRefcount(t *testing.T) {
	dir := t.TempDir()
	a := NewManager("app", "user", dir)
	b := NewManager("app", "user", dir)

	s1, err := a.GetKvStore("s", plainOpt())
	require.NoError(t, err)
	s2, err := b.GetKvStore("s", plainOpt())
	require.NoError(t, err)

	require.NoError(t, s1.Put("k", []byte("v")))
	v, err := s2.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	assert.True(t, errors.Is(a.DeleteKvStore("s"), ErrBusy))

	require.NoError(t, a.CloseKvStore(s1))
	assert.True(t, IsOpen(s2.Path()))
	_, err = s1.Get("k")
	assert.True(t, errors.Is(err, ErrAlreadyClosed))

	require.NoError(t, b.CloseKvStore(s2))
	assert.False(t, IsOpen(s2.Path()))

	require.NoError(t, a.DeleteKvStore("s"))
	_, err = os.Stat(a.GetDatabaseDir("s"))
	assert.True(t, os.IsNotExist(err))
}

func TestRekey(t *testing.T) {
	m := NewManager("app", "user", t.TempDir())
	oldKey := crypto.GetRandomKey(32)
	newKey := crypto.GetRandomKey(32)

	s, err := m.GetKvStore("s", encOpt(oldKey))
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Rekey(newKey))
	require.NoError(t, m.CloseKvStore(s))

	_, err = m.GetKvStore("s", encOpt(oldKey))
	assert.True(t, errors.Is(err, ErrInvalidPasswdOrCorrupted))

	s, err = m.GetKvStore("s", encOpt(newKey))
	require.NoError(t, err)
	defer m.CloseKvStore(s)
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	p, err := m.GetKvStore("p", plainOpt())
	require.NoError(t, err)
	defer m.CloseKvStore(p)
	assert.True(t, errors.Is(p.Rekey(newKey), ErrInvalidArgs))
}

func TestExportImport(t *testing.T) {
	m := NewManager("app", "user", t.TempDir())
	key := crypto.GetRandomKey(32)
	backup := filepath.Join(t.TempDir(), "backup", "s.bak")

	s, err := m.GetKvStore("s", Option{CreateIfNecessary: true, IsEncryptedDb: true, Passwd: key, SecurityLevel: kvstore.S2})
	require.NoError(t, err)
	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))
	require.NoError(t, s.Export(backup, key))
	assert.Equal(t, kvstore.S2, s.SecurityLevel())

	require.NoError(t, s.Put("c", []byte("3")))
	require.NoError(t, s.Delete("a"))

	assert.True(t, errors.Is(s.Import(backup, crypto.GetRandomKey(32)), ErrInvalidPasswdOrCorrupted))
	assert.True(t, errors.Is(s.Import(backup+".missing", key), ErrStoreNotFound))

	require.NoError(t, s.Import(backup, key))
	entries, err := s.GetEntries("")
	require.NoError(t, err)
	assert.Equal(t, []kvstore.Entry{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}}, entries)

	// imported content is persisted
	require.NoError(t, m.CloseKvStore(s))
	s, err = m.GetKvStore("s", encOpt(key))
	require.NoError(t, err)
	defer m.CloseKvStore(s)
	_, err = s.Get("c")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	size, err := m.GetKvStoreDiskSize("s")
	require.NoError(t, err)
	assert.Positive(t, size)
}
