package testing

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/kvds/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs the conformance suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory())
		})

		t.Run("Expire", func(t *testing.T) {
			testExpire(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("SetEIfUnset", func(t *testing.T) {
			testSetEIfUnset(t, factory())
		})

		t.Run("StaleWrite", func(t *testing.T) {
			testStaleWrite(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// expectValue fails the test if key does not resolve to want (nil want means "absent").
func expectValue(t *testing.T, database db.KVDB, key string, want []byte) {
	t.Helper()
	got, ok := database.Get(key)
	switch {
	case want == nil && ok:
		t.Errorf("expected key %q to be absent, got %q", key, got)
	case want != nil && !ok:
		t.Errorf("expected key %q to exist", key)
	case want != nil && !bytes.Equal(got, want):
		t.Errorf("key %q: expected %q, got %q", key, want, got)
	}
}

// scanKeys collects the keys visited by Scan in sorted order.
func scanKeys(database db.KVDB, prefix string) []string {
	var keys []string
	database.Scan(prefix, func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	database.Set("key", []byte("value1"), 0)
	expectValue(t, database, "key", []byte("value1"))

	database.Set("key", []byte("value2"), 0)
	expectValue(t, database, "key", []byte("value2"))

	expectValue(t, database, "missing", nil)

	// returned values are copies
	got, _ := database.Get("key")
	got[0] = 'X'
	expectValue(t, database, "key", []byte("value2"))

	// empty keys and values are valid
	database.Set("", []byte{}, 0)
	if v, ok := database.Get(""); !ok || len(v) != 0 {
		t.Errorf("expected empty key with empty value, got %q (ok=%v)", v, ok)
	}
}

func testKeyExpiry(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet|db.FeatureHas)

	database.SetE("k", []byte("v"), 100, 10, 20)

	database.SetWriteIdx(109)
	expectValue(t, database, "k", []byte("v"))

	database.SetWriteIdx(110)
	expectValue(t, database, "k", nil)
	if !database.Has("k") {
		t.Errorf("expired key must still be reported by Has")
	}

	database.SetWriteIdx(120)
	if database.Has("k") {
		t.Errorf("deleted key must not be reported by Has")
	}

	database.SetE("forever", []byte("v"), 200, 0, 0)
	database.SetWriteIdx(10_000)
	expectValue(t, database, "forever", []byte("v"))
}

func testExpire(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureExpire)

	database.Set("k", []byte("v"), 0)
	database.Expire("k", 10)

	expectValue(t, database, "k", nil)
	if !database.Has("k") {
		t.Errorf("expected key to exist after Expire")
	}

	// no-op on missing keys
	database.Expire("missing", 11)
	if database.Has("missing") {
		t.Errorf("Expire must not create keys")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureDelete)

	database.Set("k", []byte("v"), 0)
	database.Delete("k", 10)

	expectValue(t, database, "k", nil)
	if database.Has("k") {
		t.Errorf("expected key to be gone after Delete")
	}

	database.Delete("missing", 11)
	if database.Has("missing") {
		t.Errorf("Delete must not create keys")
	}
}

func testSetEIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetEIfUnset|db.FeatureGet)

	database.SetEIfUnset("k", []byte("first"), 0, 0, 10)
	database.SetEIfUnset("k", []byte("second"), 5, 0, 0)
	expectValue(t, database, "k", []byte("first"))

	// once the first entry is deleted the key can be claimed again
	database.SetEIfUnset("k", []byte("third"), 10, 0, 0)
	expectValue(t, database, "k", []byte("third"))
}

func testStaleWrite(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	database.Set("k", []byte("new"), 20)
	database.Set("k", []byte("old"), 10)
	expectValue(t, database, "k", []byte("new"))
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureScan|db.FeatureSetE|db.FeatureDelete)

	database.Set("meta###a", []byte("1"), 1)
	database.Set("meta###b", []byte("2"), 1)
	database.Set("meta###c", []byte("3"), 1)
	database.Set("other###a", []byte("4"), 1)
	database.SetE("meta###ttl", []byte("5"), 1, 5, 0)
	database.Delete("meta###c", 2)

	if got := scanKeys(database, "meta###"); fmt.Sprint(got) != "[meta###a meta###b meta###ttl]" {
		t.Errorf("unexpected scan result %v", got)
	}

	// expired entries are skipped
	database.SetWriteIdx(6)
	if got := scanKeys(database, "meta###"); fmt.Sprint(got) != "[meta###a meta###b]" {
		t.Errorf("unexpected scan result after expiry %v", got)
	}

	if got := scanKeys(database, ""); len(got) != 3 {
		t.Errorf("empty prefix should visit all live keys, got %v", got)
	}

	visited := 0
	database.Scan("", func(string, []byte) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("scan must stop when fn returns false, visited %d", visited)
	}

	database.Scan("meta###a", func(_ string, value []byte) bool {
		if !bytes.Equal(value, []byte("1")) {
			t.Errorf("unexpected value %q", value)
		}
		return true
	})
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	restored := factory()
	defer database.Close()
	defer restored.Close()

	requireFeature(t, database, db.FeatureSave|db.FeatureLoad|db.FeatureSetE)

	const n = 500
	for i := 0; i < n; i++ {
		database.Set(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), 1)
	}
	database.SetE("expiring", []byte("x"), 1, 0, 50)
	database.Delete("key-0", 2)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	expectValue(t, restored, "key-0", nil)
	for i := 1; i < n; i++ {
		expectValue(t, restored, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
	}

	// deletion deadlines survive a snapshot
	expectValue(t, restored, "expiring", []byte("x"))
	restored.SetWriteIdx(51)
	expectValue(t, restored, "expiring", nil)

	if database.SupportsFeature(db.FeatureScan) {
		if got := scanKeys(restored, "key-"); len(got) != n-1 {
			t.Errorf("expected %d keys after load, got %d", n-1, len(got))
		}
	}

	if err := restored.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("expected error for invalid snapshot")
	}
}

func testConcurrent(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				database.Set(key, []byte(key), uint64(i))
				if v, ok := database.Get(key); !ok || string(v) != key {
					t.Errorf("lost write for %s", key)
				}
			}
		}(w)
	}
	wg.Wait()
}
