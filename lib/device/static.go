package device

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// StaticProvider is a provider with a fixed peer list that changes only through SetOnline and SetOffline.
type StaticProvider struct {
	local     BasicInfo
	mu        sync.RWMutex
	peers     []BasicInfo
	observers observers
}

// NewStaticProvider creates a provider for local with the given peers online.
// An empty local device id is replaced by a random uuid.
func NewStaticProvider(local BasicInfo, peers []BasicInfo) *StaticProvider {
	if local.DeviceId == "" {
		local.DeviceId = uuid.NewString()
	}
	if local.DeviceType == "" {
		local.DeviceType = "server"
	}
	return &StaticProvider{local: local, peers: slices.Clone(peers), observers: newObservers()}
}

func (p *StaticProvider) GetLocalBasicInfo() BasicInfo { return p.local }

func (p *StaticProvider) GetRemoteNodesBasicInfo() []BasicInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.peers)
}

func (p *StaticProvider) StartWatchDeviceChange(observer ChangeObserver, pipe PipeInfo) error {
	return p.observers.add(observer, pipe)
}

func (p *StaticProvider) StopWatchDeviceChange(observer ChangeObserver, _ PipeInfo) error {
	return p.observers.remove(observer)
}

func (p *StaticProvider) ToNodeID(deviceId string) string { return NodeID(deviceId) }

func (p *StaticProvider) Close() error { return nil }

// SetOnline adds or updates a peer and notifies the observers.
func (p *StaticProvider) SetOnline(info BasicInfo) {
	p.mu.Lock()
	idx := slices.IndexFunc(p.peers, func(b BasicInfo) bool { return b.DeviceId == info.DeviceId })
	if idx >= 0 {
		p.peers[idx] = info
	} else {
		p.peers = append(p.peers, info)
	}
	p.mu.Unlock()
	p.observers.notify(info, Online)
}

// SetOffline removes a peer and notifies the observers. Unknown ids are ignored.
func (p *StaticProvider) SetOffline(deviceId string) {
	p.mu.Lock()
	idx := slices.IndexFunc(p.peers, func(b BasicInfo) bool { return b.DeviceId == deviceId })
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	info := p.peers[idx]
	p.peers = slices.Delete(p.peers, idx, idx+1)
	p.mu.Unlock()
	p.observers.notify(info, Offline)
}
