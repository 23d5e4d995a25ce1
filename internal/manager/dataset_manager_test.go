package manager

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetManager_GetStoreCaches(t *testing.T) {
	tmpDir := t.TempDir()

	dm := NewDatasetManager(tmpDir, MemoryProfileLow, false, Options{})
	defer dm.CloseAll()

	_, err := dm.CreateDataset("images", "pixel rows")
	require.NoError(t, err)

	s1, err := dm.GetStore("images")
	require.NoError(t, err)
	require.NotNil(t, s1)

	s1Again, err := dm.GetStore("images")
	require.NoError(t, err)
	assert.Same(t, s1, s1Again)
}

func TestDatasetManager_EvictionClosesStores(t *testing.T) {
	tmpDir := t.TempDir()

	dm := NewDatasetManager(tmpDir, MemoryProfileLow, false, Options{MaxOpenStores: 1})
	defer dm.CloseAll()

	for _, name := range []string{"p1", "p2"} {
		_, err := dm.CreateDataset(name, "")
		require.NoError(t, err)
	}

	s1, err := dm.GetStore("p1")
	require.NoError(t, err)
	meta, err := s1.PutSamples("x", []float32{1, 2})
	require.NoError(t, err)

	// Opening p2 evicts (and closes) p1; reopening p1 must see the same data.
	_, err = dm.GetStore("p2")
	require.NoError(t, err)

	s1Reopened, err := dm.GetStore("p1")
	require.NoError(t, err)
	assert.NotSame(t, s1, s1Reopened)

	got, err := s1Reopened.GetMeta(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
}

func TestDatasetManager_CreateDataset(t *testing.T) {
	tmpDir := t.TempDir()
	dm := NewDatasetManager(tmpDir, MemoryProfileDefault, false, Options{})
	defer dm.CloseAll()

	info, err := dm.CreateDataset("tensors", "activations")
	require.NoError(t, err)
	assert.Equal(t, "tensors", info.ID)
	assert.FileExists(t, filepath.Join(tmpDir, "tensors", metadataFile))

	_, err = dm.CreateDataset("tensors", "")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	for _, bad := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err = dm.CreateDataset(bad, "")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "name %q", bad)
	}

	ro := NewDatasetManager(tmpDir, MemoryProfileDefault, true, Options{})
	_, err = ro.CreateDataset("other", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDatasetManager_ListDatasets_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "d1"), 0755))

	dm := NewDatasetManager(tmpDir, MemoryProfileDefault, false, Options{})

	datasets, err := dm.ListDatasets()
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "d1", datasets[0].ID)

	// Created out of band, so the cached list is still served.
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "d2"), 0755))
	datasets, err = dm.ListDatasets()
	require.NoError(t, err)
	assert.Len(t, datasets, 1)

	dm.mu.Lock()
	dm.lastListBuild = time.Now().Add(-2 * DatasetListTTL)
	dm.mu.Unlock()

	datasets, err = dm.ListDatasets()
	require.NoError(t, err)
	assert.Len(t, datasets, 2)

	// CreateDataset invalidates the cache immediately.
	_, err = dm.CreateDataset("d3", "third")
	require.NoError(t, err)
	datasets, err = dm.ListDatasets()
	require.NoError(t, err)
	require.Len(t, datasets, 3)
	assert.Equal(t, "third", datasets[2].Description)
}

func TestDatasetManager_UnknownDatasetSuggests(t *testing.T) {
	tmpDir := t.TempDir()
	dm := NewDatasetManager(tmpDir, MemoryProfileDefault, false, Options{})
	defer dm.CloseAll()

	_, err := dm.CreateDataset("embeddings", "")
	require.NoError(t, err)

	_, err = dm.GetStore("embedings")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var nf *DatasetNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "embeddings", nf.Suggestion)

	assert.Equal(t, "", dm.Suggest("zzz"))
}

func TestDatasetManager_FrameCache(t *testing.T) {
	tmpDir := t.TempDir()
	dm := NewDatasetManager(tmpDir, MemoryProfileDefault, false, Options{})
	defer dm.CloseAll()

	_, err := dm.CreateDataset("frames", "")
	require.NoError(t, err)
	s, err := dm.GetStore("frames")
	require.NoError(t, err)

	meta, err := s.PutSamples("ramp", []float32{1, 2, 3, 4, 5})
	require.NoError(t, err)

	f1, err := dm.GetFrame("frames", meta.ID)
	require.NoError(t, err)
	require.Len(t, f1.Samples, 5)
	assert.Equal(t, float32(1), f1.Samples[0])

	// Mutating a returned frame must not leak into the cache.
	f1.Samples[0] = 999
	f2, err := dm.GetFrame("frames", meta.ID)
	require.NoError(t, err)
	assert.Equal(t, float32(1), f2.Samples[0])

	require.NoError(t, dm.DeleteBlob("frames", meta.ID))
	_, err = dm.GetFrame("frames", meta.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
