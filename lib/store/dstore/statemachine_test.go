package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/store"
	"github.com/ValentinKolb/kvds/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStateMachine(t *testing.T) sm.IConcurrentStateMachine {
	t.Helper()
	fsm := NewStateMachineFactory(func() db.KVDB { return maple.NewMapleDB(nil) })(2, 1)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

func entry(t *testing.T, index uint64, cmd internal.Command) sm.Entry {
	t.Helper()
	data, err := cmd.MarshalBinary()
	require.NoError(t, err)
	return sm.Entry{Index: index, Cmd: data}
}

func TestStateMachineApplyAndLookup(t *testing.T) {
	fsm := newStateMachine(t)

	entries, err := fsm.Update([]sm.Entry{
		entry(t, 1, internal.Command{Type: internal.CommandTSet, Key: "meta###a", Value: []byte("1")}),
		entry(t, 2, internal.Command{Type: internal.CommandTSet, Key: "meta###b", Value: []byte("2")}),
		entry(t, 3, internal.Command{Type: internal.CommandTSetIfUnset, Key: "meta###a", Value: []byte("x")}),
		entry(t, 4, internal.Command{Type: internal.CommandTDelete, Key: "meta###b"}),
		{Index: 5, Cmd: []byte{0xff}},
	})
	require.NoError(t, err)
	for _, e := range entries[:4] {
		assert.Equal(t, uint64(store.RetCSuccess), e.Result.Value, string(e.Result.Data))
	}
	assert.Equal(t, uint64(store.RetCInvalidOperation), entries[4].Result.Value)

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: "meta###a"})
	require.NoError(t, err)
	assert.Equal(t, internal.QueryResult{Ok: true, Value: []byte("1")}, res)

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTScan, Key: "meta###"})
	require.NoError(t, err)
	assert.Equal(t, []db.KeyValue{{Key: "meta###a", Value: []byte("1")}}, res)

	_, err = fsm.Lookup("not a query")
	assert.Error(t, err)
}

func TestStateMachineSnapshot(t *testing.T) {
	src := newStateMachine(t)
	_, err := src.Update([]sm.Entry{entry(t, 1, internal.Command{Type: internal.CommandTSet, Key: "k", Value: []byte("v")})})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(nil, &buf, nil, nil))

	dst := newStateMachine(t)
	require.NoError(t, dst.RecoverFromSnapshot(&buf, nil, nil))
	res, err := dst.Lookup(internal.Query{Type: internal.QueryTHas, Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, true, res)
}
