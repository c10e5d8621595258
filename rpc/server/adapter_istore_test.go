package server

import (
	"testing"

	"github.com/ValentinKolb/kvds/lib/db"
	"github.com/ValentinKolb/kvds/lib/db/engines/maple"
	"github.com/ValentinKolb/kvds/lib/store/lstore"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalStore() lstore.ILocalStore {
	return lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
}

func TestIStoreAdapterReadWrite(t *testing.T) {
	adapter := NewIStoreServerAdapter(newLocalStore(), false)

	resp := adapter.Handle(common.NewSetRequest("meta###a", []byte("1")))
	require.Empty(t, resp.Err)
	resp = adapter.Handle(common.NewSetRequest("meta###b", []byte("2")))
	require.Empty(t, resp.Err)
	resp = adapter.Handle(common.NewSetRequest("other", []byte("3")))
	require.Empty(t, resp.Err)

	resp = adapter.Handle(common.NewGetRequest("meta###a"))
	assert.True(t, resp.Ok)
	assert.Equal(t, []byte("1"), resp.Value)

	resp = adapter.Handle(common.NewScanRequest("meta###"))
	require.Empty(t, resp.Err)
	keys := make([]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, []string{"meta###a", "meta###b"}, keys)

	resp = adapter.Handle(common.NewDeleteRequest("meta###a"))
	require.Empty(t, resp.Err)
	resp = adapter.Handle(common.NewHasRequest("meta###a"))
	assert.False(t, resp.Ok)
}

func TestIStoreAdapterReadOnly(t *testing.T) {
	s := newLocalStore()
	require.NoError(t, s.Set("k", []byte("v")))
	adapter := NewIStoreServerAdapter(s, true)

	for _, req := range []*common.Message{
		common.NewSetRequest("k", []byte("x")),
		common.NewSetERequest("k", []byte("x"), 1, 0),
		common.NewSetEIfUnsetRequest("n", []byte("x"), 0, 0),
		common.NewExpireRequest("k"),
		common.NewDeleteRequest("k"),
	} {
		resp := adapter.Handle(req)
		assert.Equal(t, errReadOnly.Error(), resp.Err, req.MsgType.String())
	}

	resp := adapter.Handle(common.NewGetRequest("k"))
	assert.True(t, resp.Ok)
	assert.Equal(t, []byte("v"), resp.Value)
}

func TestIStoreAdapterUnsupported(t *testing.T) {
	adapter := NewIStoreServerAdapter(newLocalStore(), false)
	resp := adapter.Handle(&common.Message{MsgType: common.MsgTDSHeartbeat})
	assert.Equal(t, common.MsgTError, resp.MsgType)

	resp = NewIStoreServerAdapter(nil, true).Handle(common.NewGetRequest("k"))
	assert.Equal(t, common.MsgTError, resp.MsgType)
}
