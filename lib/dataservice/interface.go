package dataservice

import (
	"context"

	"github.com/ValentinKolb/kvds/lib/kvstore"
)

// IKvStoreDataService is the contract between applications and the data service.
//
// The calling application is taken from the context (see kvstore.WithCaller).
// Every store-open call invokes its callback exactly once: with the handle on
// success (and after a recovery from backup), with nil otherwise.
type IKvStoreDataService interface {

	// --------------------------------------------------------------------------
	// Stores
	// --------------------------------------------------------------------------

	// GetKvStore opens a multi version, single version or device collaboration store.
	GetKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, cb func(kvstore.IKvStore)) kvstore.Status

	// GetSingleKvStore opens a single version or device collaboration store.
	GetSingleKvStore(ctx context.Context, options kvstore.Options, appId kvstore.AppId, storeId kvstore.StoreId, cb func(kvstore.ISingleKvStore)) kvstore.Status

	// GetAllKvStoreId lists the stores of appId known to the meta store.
	GetAllKvStoreId(ctx context.Context, appId kvstore.AppId, cb func(kvstore.Status, []kvstore.StoreId))

	// CloseKvStore releases one reference of a store, STORE_NOT_OPEN if it is not open.
	CloseKvStore(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) kvstore.Status

	// CloseAllKvStore closes every store of appId.
	CloseAllKvStore(ctx context.Context, appId kvstore.AppId) kvstore.Status

	// DeleteKvStore removes a store with its backups, meta data and secret key.
	DeleteKvStore(ctx context.Context, appId kvstore.AppId, storeId kvstore.StoreId) kvstore.Status

	// DeleteAllKvStore deletes every store of appId, stopping at the first failure.
	DeleteAllKvStore(ctx context.Context, appId kvstore.AppId) kvstore.Status

	// --------------------------------------------------------------------------
	// Clients
	// --------------------------------------------------------------------------

	// RegisterClientDeathObserver runs AppExit when observer dies.
	// A second registration for the same app replaces the first.
	RegisterClientDeathObserver(ctx context.Context, appId kvstore.AppId, observer kvstore.IRemoteObject) kvstore.Status

	// AppExit releases everything held for appId.
	AppExit(ctx context.Context, appId kvstore.AppId) kvstore.Status

	// --------------------------------------------------------------------------
	// Devices
	// --------------------------------------------------------------------------

	GetLocalDevice(ctx context.Context) (kvstore.DeviceInfo, kvstore.Status)
	GetDeviceList(ctx context.Context, strategy kvstore.DeviceFilterStrategy) ([]kvstore.DeviceInfo, kvstore.Status)
	StartWatchDeviceChange(ctx context.Context, listener kvstore.IDeviceStatusChangeListener, strategy kvstore.DeviceFilterStrategy) kvstore.Status
	StopWatchDeviceChange(ctx context.Context, listener kvstore.IDeviceStatusChangeListener) kvstore.Status
}
