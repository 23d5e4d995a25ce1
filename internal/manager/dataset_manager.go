package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/agext/levenshtein"
	"github.com/duynguyendang/sq8/pkg/codec"
	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
	"github.com/duynguyendang/sq8/pkg/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"
)

// DatasetInfo represents the dataset information exposed by the API.
type DatasetInfo struct {
	ID          string    `json:"id" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// MemoryProfile defines the memory optimization strategy
type MemoryProfile string

const (
	MemoryProfileDefault MemoryProfile = "default"
	MemoryProfileLow     MemoryProfile = "low"

	MaxOpenStores  = 10
	DatasetListTTL = 1 * time.Minute
	FrameCacheSize = 256
	FrameCacheTTL  = 5 * time.Minute

	metadataFile = "dataset.yaml"
)

var datasetNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// DatasetNotFoundError is returned for unknown datasets. Suggestion holds the
// closest existing dataset name, if any is close enough.
type DatasetNotFoundError struct {
	Name       string
	Suggestion string
}

func (e *DatasetNotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("dataset %q not found (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("dataset %q not found", e.Name)
}

func (e *DatasetNotFoundError) Unwrap() error {
	return apperrors.ErrNotFound
}

// Options tunes cache sizes. Zero fields fall back to the package defaults.
type Options struct {
	MaxOpenStores  int
	FrameCacheSize int
	FrameCacheTTL  time.Duration
}

// DatasetManager manages one blob store per dataset directory.
type DatasetManager struct {
	baseDir       string
	stores        *lru.Cache[string, *store.Store]
	frames        *expirable.LRU[string, codec.Frame]
	mu            sync.RWMutex
	profile       MemoryProfile
	readOnly      bool
	cachedList    []DatasetInfo
	lastListBuild time.Time
}

// NewDatasetManager creates a new DatasetManager rooted at baseDir.
func NewDatasetManager(baseDir string, profile MemoryProfile, readOnly bool, opts Options) *DatasetManager {
	if opts.MaxOpenStores <= 0 {
		opts.MaxOpenStores = MaxOpenStores
	}
	if opts.FrameCacheSize <= 0 {
		opts.FrameCacheSize = FrameCacheSize
	}
	if opts.FrameCacheTTL <= 0 {
		opts.FrameCacheTTL = FrameCacheTTL
	}

	// Evicted stores are closed so their directory locks are released.
	stores, _ := lru.NewWithEvict[string, *store.Store](opts.MaxOpenStores, func(name string, s *store.Store) {
		if err := s.Close(); err != nil {
			slog.Warn("failed to close evicted store", "dataset", name, "error", err)
		}
	})

	return &DatasetManager{
		baseDir:  baseDir,
		stores:   stores,
		frames:   expirable.NewLRU[string, codec.Frame](opts.FrameCacheSize, nil, opts.FrameCacheTTL),
		profile:  profile,
		readOnly: readOnly,
	}
}

// ReadOnly reports whether stores are opened read-only.
func (dm *DatasetManager) ReadOnly() bool {
	return dm.readOnly
}

// GetStore retrieves a dataset's store, opening it if necessary.
func (dm *DatasetManager) GetStore(name string) (*store.Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if s, ok := dm.stores.Get(name); ok {
		return s, nil
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	// Double-check under lock
	if s, ok := dm.stores.Get(name); ok {
		return s, nil
	}

	dir := filepath.Join(dm.baseDir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, &DatasetNotFoundError{Name: name, Suggestion: dm.suggestLocked(name)}
	}

	cfg := store.DefaultConfig(dir)
	cfg.ReadOnly = dm.readOnly
	cfg.BypassLockGuard = dm.readOnly

	if dm.profile == MemoryProfileLow {
		cfg.BlockCacheSize = 64 << 20 // 64 MB
		cfg.IndexCacheSize = 16 << 20 // 16 MB
		cfg.Profile = store.ProfileLowMem
	}

	s, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for dataset %s: %w", name, err)
	}

	dm.stores.Add(name, s)
	return s, nil
}

// CreateDataset creates the dataset directory and its metadata file.
func (dm *DatasetManager) CreateDataset(name, description string) (DatasetInfo, error) {
	if err := validateName(name); err != nil {
		return DatasetInfo{}, err
	}
	if dm.readOnly {
		return DatasetInfo{}, fmt.Errorf("cannot create dataset in read-only mode: %w", apperrors.ErrInvalidInput)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	dir := filepath.Join(dm.baseDir, name)
	if _, err := os.Stat(dir); err == nil {
		return DatasetInfo{}, fmt.Errorf("dataset %q: %w", name, apperrors.ErrConflict)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return DatasetInfo{}, fmt.Errorf("failed to create dataset dir: %w", err)
	}

	info := DatasetInfo{
		ID:          name,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return DatasetInfo{}, fmt.Errorf("failed to marshal dataset metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0644); err != nil {
		return DatasetInfo{}, fmt.Errorf("failed to write dataset metadata: %w", err)
	}

	dm.cachedList = nil
	slog.Info("dataset created", "dataset", name, "dir", dir)
	return info, nil
}

// ListDatasets returns the available datasets, cached for DatasetListTTL.
func (dm *DatasetManager) ListDatasets() ([]DatasetInfo, error) {
	dm.mu.RLock()
	if time.Since(dm.lastListBuild) < DatasetListTTL && dm.cachedList != nil {
		list := slices.Clone(dm.cachedList)
		dm.mu.RUnlock()
		return list, nil
	}
	dm.mu.RUnlock()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastListBuild) < DatasetListTTL && dm.cachedList != nil {
		return slices.Clone(dm.cachedList), nil
	}

	list, err := dm.scanLocked()
	if err != nil {
		return nil, err
	}
	dm.cachedList = list
	dm.lastListBuild = time.Now()
	return slices.Clone(list), nil
}

// scanLocked reads dataset directories from disk. Callers hold dm.mu.
func (dm *DatasetManager) scanLocked() ([]DatasetInfo, error) {
	entries, err := os.ReadDir(dm.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []DatasetInfo{}, nil
		}
		return nil, err
	}

	datasets := []DatasetInfo{}
	for _, entry := range entries {
		if !entry.IsDir() || !datasetNamePattern.MatchString(entry.Name()) {
			continue
		}
		id := entry.Name()
		info := DatasetInfo{ID: id, Name: id}

		metaPath := filepath.Join(dm.baseDir, id, metadataFile)
		if data, err := os.ReadFile(metaPath); err == nil {
			var meta DatasetInfo
			if err := yaml.Unmarshal(data, &meta); err == nil {
				if meta.Name != "" {
					info.Name = meta.Name
				}
				info.Description = meta.Description
				info.CreatedAt = meta.CreatedAt
			} else {
				slog.Warn("ignoring malformed dataset metadata", "path", metaPath, "error", err)
			}
		}
		datasets = append(datasets, info)
	}

	sort.Slice(datasets, func(i, j int) bool { return datasets[i].ID < datasets[j].ID })
	return datasets, nil
}

// GetFrame returns the decoded samples of a blob, served from the frame
// cache when possible. The returned samples are a private copy.
func (dm *DatasetManager) GetFrame(dataset, id string) (codec.Frame, error) {
	key := dataset + "/" + id
	if f, ok := dm.frames.Get(key); ok {
		return cloneFrame(f), nil
	}

	s, err := dm.GetStore(dataset)
	if err != nil {
		return codec.Frame{}, err
	}
	f, err := s.GetSamples(id)
	if err != nil {
		return codec.Frame{}, err
	}

	dm.frames.Add(key, f)
	return cloneFrame(f), nil
}

// DeleteBlob removes a blob and drops it from the frame cache.
func (dm *DatasetManager) DeleteBlob(dataset, id string) error {
	s, err := dm.GetStore(dataset)
	if err != nil {
		return err
	}
	if err := s.Delete(id); err != nil {
		return err
	}
	dm.frames.Remove(dataset + "/" + id)
	return nil
}

// Suggest returns the existing dataset name closest to name, or "" when
// nothing is within a small edit distance.
func (dm *DatasetManager) Suggest(name string) string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.suggestLocked(name)
}

func (dm *DatasetManager) suggestLocked(name string) string {
	datasets, err := dm.scanLocked()
	if err != nil {
		return ""
	}

	best, bestDist := "", -1
	for _, d := range datasets {
		dist := levenshtein.Distance(name, d.ID, nil)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = d.ID, dist
		}
	}

	limit := max(2, len(name)/3)
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}

// CloseAll closes all open stores and drops cached frames.
func (dm *DatasetManager) CloseAll() {
	dm.stores.Purge()
	dm.frames.Purge()
}

func validateName(name string) error {
	if !datasetNamePattern.MatchString(name) {
		return fmt.Errorf("invalid dataset name %q: %w", name, apperrors.ErrInvalidInput)
	}
	return nil
}

func cloneFrame(f codec.Frame) codec.Frame {
	return codec.Frame{Header: f.Header, Samples: slices.Clone(f.Samples)}
}
