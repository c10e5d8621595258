// Package testing provides the conformance suite every db.KVDB engine must
// pass, including scans and snapshot round trips.
//
// Example usage:
//
//	func TestMyEngine(t *testing.T) {
//		dbtesting.RunKVDBTests(t, "MyEngine", func() db.KVDB {
//			return NewMyEngine()
//		})
//	}
package testing
