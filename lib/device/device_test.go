package device

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) OnDeviceChanged(info BasicInfo, change ChangeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, info.DeviceId+":"+change.String())
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestNodeID(t *testing.T) {
	assert.Len(t, NodeID("device"), 16)
	assert.Equal(t, NodeID("device"), NodeID("device"))
	assert.NotEqual(t, NodeID("a"), NodeID("b"))
	assert.Empty(t, NodeID(""))
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(BasicInfo{}, []BasicInfo{{DeviceId: "peer-1"}})
	assert.NotEmpty(t, p.GetLocalBasicInfo().DeviceId)
	assert.Len(t, p.GetRemoteNodesBasicInfo(), 1)

	r := &recorder{}
	require.NoError(t, p.StartWatchDeviceChange(r, PipeInfo{PipeId: "test"}))
	assert.ErrorIs(t, p.StartWatchDeviceChange(nil, PipeInfo{}), ErrNilObserver)

	p.SetOnline(BasicInfo{DeviceId: "peer-2"})
	p.SetOnline(BasicInfo{DeviceId: "peer-2", DeviceName: "renamed"})
	p.SetOffline("peer-1")
	p.SetOffline("unknown")

	assert.Equal(t, []string{"peer-2:online", "peer-2:online", "peer-1:offline"}, r.get())
	remote := p.GetRemoteNodesBasicInfo()
	require.Len(t, remote, 1)
	assert.Equal(t, "renamed", remote[0].DeviceName)

	require.NoError(t, p.StopWatchDeviceChange(r, PipeInfo{}))
	assert.Error(t, p.StopWatchDeviceChange(r, PipeInfo{}))
	p.SetOffline("peer-2")
	assert.Len(t, r.get(), 3)
}

func TestEventCodec(t *testing.T) {
	ev, err := decodeEvent(encodeEvent(BasicInfo{DeviceId: "d", DeviceName: "n"}, Offline))
	require.NoError(t, err)
	assert.Equal(t, "d", ev.Device.DeviceId)
	assert.Equal(t, Offline, ev.Change)

	_, err = decodeEvent("{")
	assert.Error(t, err)
	assert.Equal(t, "kvds:device:x", presenceKey("x"))
}

// TestRedisProvider needs a redis server, set KVDS_TEST_REDIS=host:port to run it.
func TestRedisProvider(t *testing.T) {
	addr := os.Getenv("KVDS_TEST_REDIS")
	if addr == "" {
		t.Skip("KVDS_TEST_REDIS not set")
	}
	ctx := context.Background()

	a, err := NewRedisProvider(ctx, RedisConfig{Addr: addr, TTL: 3 * time.Second})
	require.NoError(t, err)
	defer a.Close()

	r := &recorder{}
	require.NoError(t, a.StartWatchDeviceChange(r, PipeInfo{}))

	b, err := NewRedisProvider(ctx, RedisConfig{Addr: addr, TTL: 3 * time.Second})
	require.NoError(t, err)
	bId := b.GetLocalBasicInfo().DeviceId

	assert.Eventually(t, func() bool {
		for _, d := range a.GetRemoteNodesBasicInfo() {
			if d.DeviceId == bId {
				return true
			}
		}
		return false
	}, 2*time.Second, 50*time.Millisecond)

	require.NoError(t, b.Close())
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{bId + ":online", bId + ":offline"}, r.get())
	}, 2*time.Second, 50*time.Millisecond)
}
