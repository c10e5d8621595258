package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve an entry by key.
	QueryTHas                        // Check if a key was ever inserted.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
	QueryTScan                       // Enumerate live entries below a key prefix.
)

var queryNames = [...]string{"Get", "Has", "GetDBInfo", "Scan"}

func (q QueryType) String() string {
	if int(q) < len(queryNames) {
		return queryNames[q]
	}
	return "Unknown"
}

// Query is a read-only lookup passed to SyncRead or StaleRead. Queries never
// enter the raft log, so they are passed as values and not encoded.
type Query struct {
	Type QueryType
	Key  string // key, or prefix for QueryTScan, empty for QueryTGetDBInfo
}

// QueryResult is the result of a QueryTGet lookup.
// The other queries return bool, []db.KeyValue or db.DatabaseInfo.
type QueryResult struct {
	Ok    bool
	Value []byte
}
