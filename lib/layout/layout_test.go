package layout

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/stretchr/testify/assert"
)

func TestConvertPathType(t *testing.T) {
	assert.Equal(t, PathDE, ConvertPathType(true, kvstore.NoLabel))
	assert.Equal(t, PathCE, ConvertPathType(false, kvstore.NoLabel))
	assert.Equal(t, PathDE, ConvertPathType(false, kvstore.S0))
	assert.Equal(t, PathDE, ConvertPathType(false, kvstore.S1))
	assert.Equal(t, PathCE, ConvertPathType(true, kvstore.S2))
	assert.Equal(t, PathCE, ConvertPathType(false, kvstore.S4))
}

func TestPaths(t *testing.T) {
	l := Layout{Root: "/data", ServiceName: "kvds"}

	assert.Equal(t, filepath.FromSlash("/data/ce/kvds/0/default/com.example"), l.DataStoragePath("0", "com.example", PathCE))
	assert.Equal(t, filepath.FromSlash("/data/de/kvds/0/backup"), l.BackupPath("0", PathDE))
	assert.Equal(t, filepath.FromSlash("/data/de/kvds/Meta"), l.MetaDir())
	assert.Equal(t, "de", PathDE.String())
	assert.Equal(t, "ce", PathCE.String())
}
