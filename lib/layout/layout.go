package layout

import (
	"path/filepath"

	"github.com/ValentinKolb/kvds/lib/kvstore"
)

// PathType is the protection class a store lives in.
type PathType int

const (
	// PathDE is device encrypted storage, available right after boot.
	PathDE PathType = iota
	// PathCE is credential encrypted storage, available after the user unlocked the device.
	PathCE
)

// PathTypes lists every protection class.
var PathTypes = [...]PathType{PathDE, PathCE}

func (p PathType) String() string {
	if p == PathDE {
		return "de"
	}
	return "ce"
}

// ConvertPathType returns the protection class of a store.
// Stores without a label of system services, as well as S0 and S1 stores, live in DE.
func ConvertPathType(isSystemService bool, level kvstore.SecurityLevel) PathType {
	if (level == kvstore.NoLabel && isSystemService) || level == kvstore.S0 || level == kvstore.S1 {
		return PathDE
	}
	return PathCE
}

// Layout describes the directory tree of the service below Root:
//
//	<Root>/<de|ce>/<ServiceName>/<deviceAccountId>/default/<bundleName>   store data
//	<Root>/<de|ce>/<ServiceName>/<deviceAccountId>/backup                backups
//	<Root>/de/<ServiceName>/Meta                                         meta store
type Layout struct {
	Root        string
	ServiceName string
}

// ServiceDir returns <Root>/<de|ce>/<ServiceName>.
func (l Layout) ServiceDir(t PathType) string {
	return filepath.Join(l.Root, t.String(), l.ServiceName)
}

// DeviceAccountDir contains everything stored for one device account in t.
func (l Layout) DeviceAccountDir(deviceAccountId string, t PathType) string {
	return filepath.Join(l.ServiceDir(t), deviceAccountId)
}

// DataStoragePath is the directory of the stores of one app.
func (l Layout) DataStoragePath(deviceAccountId, bundleName string, t PathType) string {
	return filepath.Join(l.DeviceAccountDir(deviceAccountId, t), "default", bundleName)
}

// BackupPath is the directory of the backup files of one device account.
func (l Layout) BackupPath(deviceAccountId string, t PathType) string {
	return filepath.Join(l.DeviceAccountDir(deviceAccountId, t), "backup")
}

// MetaDir holds the meta store and the root key.
func (l Layout) MetaDir() string {
	return filepath.Join(l.ServiceDir(PathDE), "Meta")
}

// SecretKeyDir is the root of the secret key files.
func (l Layout) SecretKeyDir() string {
	return l.ServiceDir(PathDE)
}
