package dataservice

import (
	"context"

	"github.com/ValentinKolb/kvds/lib/device"
	"github.com/ValentinKolb/kvds/lib/kvstore"
)

// listenerBridge is the single provider observer of the service. It translates
// provider events and fans them out to every registered listener.
type listenerBridge struct {
	s *Service
}

func (b *listenerBridge) OnDeviceChanged(info device.BasicInfo, change device.ChangeType) {
	changeType := kvstore.DeviceOffline
	if change == device.Online {
		changeType = kvstore.DeviceOnline
		// a new peer needs the current meta records
		b.s.cfg.Meta.SyncMeta()
	}
	out := kvstore.DeviceInfo{
		DeviceId:   b.s.cfg.Devices.ToNodeID(info.DeviceId),
		DeviceName: info.DeviceName,
		DeviceType: info.DeviceType,
	}

	b.s.deviceMu.Lock()
	listeners := make([]kvstore.IDeviceStatusChangeListener, 0, len(b.s.deviceListeners))
	for l := range b.s.deviceListeners {
		listeners = append(listeners, l)
	}
	b.s.deviceMu.Unlock()

	log.Debugf("device %s %s, %d listeners", out.DeviceId, changeType, len(listeners))
	for _, l := range listeners {
		l.OnChange(out, changeType)
	}
}

func toDeviceInfo(info device.BasicInfo) kvstore.DeviceInfo {
	return kvstore.DeviceInfo{DeviceId: info.DeviceId, DeviceName: info.DeviceName, DeviceType: info.DeviceType}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (s *Service) GetLocalDevice(context.Context) (kvstore.DeviceInfo, kvstore.Status) {
	return toDeviceInfo(s.cfg.Devices.GetLocalBasicInfo()), kvstore.Success
}

func (s *Service) GetDeviceList(_ context.Context, strategy kvstore.DeviceFilterStrategy) ([]kvstore.DeviceInfo, kvstore.Status) {
	nodes := s.cfg.Devices.GetRemoteNodesBasicInfo()
	list := make([]kvstore.DeviceInfo, 0, len(nodes))
	for _, n := range nodes {
		list = append(list, toDeviceInfo(n))
	}
	log.Debugf("device list with strategy %d: %d devices", strategy, len(list))
	return list, kvstore.Success
}

func (s *Service) StartWatchDeviceChange(_ context.Context, listener kvstore.IDeviceStatusChangeListener, strategy kvstore.DeviceFilterStrategy) kvstore.Status {
	if listener == nil {
		return kvstore.InvalidArgument
	}
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()
	if s.deviceBridge == nil {
		bridge := &listenerBridge{s: s}
		if err := s.cfg.Devices.StartWatchDeviceChange(bridge, device.PipeInfo{PipeId: watcherPipe}); err != nil {
			log.Errorf("watch device change: %v", err)
			return kvstore.Error
		}
		s.deviceBridge = bridge
	}
	s.deviceListeners[listener] = struct{}{}
	log.Debugf("device listener added with strategy %d", strategy)
	return kvstore.Success
}

func (s *Service) StopWatchDeviceChange(_ context.Context, listener kvstore.IDeviceStatusChangeListener) kvstore.Status {
	if listener == nil {
		return kvstore.InvalidArgument
	}
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()
	if _, ok := s.deviceListeners[listener]; !ok {
		return kvstore.IllegalState
	}
	delete(s.deviceListeners, listener)
	return kvstore.Success
}
