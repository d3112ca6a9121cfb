package filestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/webdeploy/pkg/config/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `yaml:"name"`
	Items []string `yaml:"items"`
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cfg.yaml")
	store := filestore.New(path)
	assert.False(t, store.Exists())

	require.NoError(t, store.Save(doc{Name: "site", Items: []string{"a", "b"}}))
	assert.True(t, store.Exists())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	var got doc
	require.NoError(t, store.Load(&got))
	assert.Equal(t, doc{Name: "site", Items: []string{"a", "b"}}, got)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0600))

	tests := []struct {
		name string
		path string
		out  any
	}{
		{name: "nil output", path: empty, out: nil},
		{name: "missing file", path: filepath.Join(dir, "absent.yaml"), out: &doc{}},
		{name: "empty file", path: empty, out: &doc{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, filestore.New(tt.path).Load(tt.out))
		})
	}
}
