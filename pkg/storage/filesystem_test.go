package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndRead(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("2024-T1/rankings.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "2024-T1/rankings.csv", rel)

	data, err := store.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../x.csv", "/etc/passwd"} {
		_, err := store.Save(name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	_, err = store.Save("old.csv", []byte("x"))
	require.NoError(t, err)
	_, err = store.Save("new.csv", []byte("x"))
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.csv"), past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.csv"}, deleted)
	_, err = store.Read("new.csv")
	assert.NoError(t, err)
}

func TestLocalStorageList(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	names, err := store.List("results/2024-T1")
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"results/2024-T1/school/b.json", "results/2024-T1/region/region.json", "results/2024-T2/region/region.json"} {
		_, err := store.Save(name, []byte("{}"))
		require.NoError(t, err)
	}
	names, err = store.List("results/2024-T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"results/2024-T1/region/region.json", "results/2024-T1/school/b.json"}, names)
}
