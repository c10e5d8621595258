package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := NewValidator(DefaultAllowLists(), nil)

	assert.True(t, v.IsSystemService("form_storage"))
	assert.False(t, v.IsSystemService("form_storage2"), "system services are exact matches")

	assert.True(t, v.IsAutoLaunchEnabled("providers.calendar"))
	assert.True(t, v.IsAutoLaunchEnabled("com.ohos.providers.calendar.sync"))
	assert.False(t, v.IsAutoLaunchEnabled("com.example.app"))

	assert.True(t, v.CheckSyncPermission("user", "app", 0))
}

func TestCustomChecker(t *testing.T) {
	v := NewValidator(DefaultAllowLists(), func(userId, appId string, uid int32) bool {
		return appId != "blocked"
	})
	assert.False(t, v.CheckSyncPermission("u", "blocked", 0))
	assert.True(t, v.CheckSyncPermission("u", "open", 0))
}

func TestAllowListsImmutable(t *testing.T) {
	lists := DefaultAllowLists()
	v := NewValidator(lists, nil)

	lists.SystemServices[0] = "changed"
	assert.True(t, v.IsSystemService("bundle_manager_service"))

	copied := v.AllowLists()
	copied.AutoLaunchApps = nil
	assert.True(t, v.IsAutoLaunchEnabled("com.ohos.launcher"))
}

func TestLoadAllowLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autoLaunchApps:\n  - com.example.sync\n"), 0o600))

	lists, err := LoadAllowLists(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.sync"}, lists.AutoLaunchApps)
	assert.Equal(t, DefaultAllowLists().SystemServices, lists.SystemServices)

	_, err = LoadAllowLists(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("autoLaunchApps: {"), 0o600))
	_, err = LoadAllowLists(path)
	assert.Error(t, err)
}

func TestPermissionChangedRegistry(t *testing.T) {
	v := NewValidator(DefaultAllowLists(), nil)
	tuple := KvStoreTuple{UserId: "u1", AppId: "app"}

	assert.True(t, v.RegisterPermissionChanged(tuple))
	assert.False(t, v.RegisterPermissionChanged(tuple))

	moved := KvStoreTuple{UserId: "u2", AppId: "app"}
	v.UpdateKvStoreTupleMap(tuple, moved)
	assert.False(t, v.IsRegistered(tuple))
	assert.True(t, v.IsRegistered(moved))

	v.UnregisterPermissionChanged(moved)
	assert.False(t, v.IsRegistered(moved))
}
