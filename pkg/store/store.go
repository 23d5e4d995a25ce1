package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/duynguyendang/sq8/pkg/codec"
	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
)

// Key prefixes for blob storage in BadgerDB.
const (
	blobPrefix = byte(0x20) // ID -> S2(encoded buffer)
	metaPrefix = byte(0x21) // ID -> JSON(Meta)
)

// ErrBlobNotFound is returned when no blob exists under the requested ID.
var ErrBlobNotFound = fmt.Errorf("blob: %w", apperrors.ErrNotFound)

// Meta describes a stored buffer without its payload.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	Min       float32   `json:"min"`
	Max       float32   `json:"max"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists encoded buffers in BadgerDB.
type Store struct {
	db  *badger.DB
	cfg *Config
}

// Open validates cfg and opens the underlying BadgerDB.
func Open(cfg *Config) (*Store, error) {
	slog.Info("opening blob store",
		"dataDir", cfg.DataDir,
		"inMemory", cfg.InMemory,
		"profile", cfg.Profile,
		"readOnly", cfg.ReadOnly,
	)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := OpenBadgerDB(cfg)
	if err != nil {
		slog.Error("failed to open BadgerDB", "dataDir", cfg.DataDir, "error", err)
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the underlying BadgerDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores an already encoded buffer under a fresh ID.
// The header is validated before anything is written.
func (s *Store) Put(name string, buf []byte) (Meta, error) {
	h, err := codec.ReadHeader(buf)
	if err != nil {
		return Meta{}, err
	}

	id := uuid.New()
	meta := Meta{
		ID:        id.String(),
		Name:      name,
		Count:     len(buf) - codec.HeaderSize,
		Min:       h.Min,
		Max:       h.Max,
		Size:      len(buf),
		CreatedAt: time.Now().UTC(),
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("failed to marshal blob meta: %w", err)
	}
	compressed := s2.Encode(nil, buf)

	err = s.withWriteTxn(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(id), compressed); err != nil {
			return err
		}
		return txn.Set(metaKey(id), metaBytes)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("failed to store blob %s: %w", meta.ID, err)
	}

	slog.Debug("blob stored",
		"id", meta.ID,
		"name", name,
		"count", meta.Count,
		"compressedBytes", len(compressed),
	)
	return meta, nil
}

// PutSamples encodes samples and stores the resulting buffer.
func (s *Store) PutSamples(name string, samples []float32) (Meta, error) {
	buf, err := codec.Encode(samples)
	if err != nil {
		return Meta{}, err
	}
	return s.Put(name, buf)
}

// Get returns the encoded buffer stored under id.
func (s *Store) Get(id string) ([]byte, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.withReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(uid))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}

	buf, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob %s: %w", id, err)
	}
	return buf, nil
}

// GetSamples loads and decodes the buffer stored under id.
func (s *Store) GetSamples(id string) (codec.Frame, error) {
	buf, err := s.Get(id)
	if err != nil {
		return codec.Frame{}, err
	}
	h, samples, err := codec.DecodeInto(nil, buf)
	if err != nil {
		return codec.Frame{}, fmt.Errorf("stored blob %s: %w", id, err)
	}
	return codec.Frame{Header: h, Samples: samples}, nil
}

// GetMeta returns the metadata stored for id.
func (s *Store) GetMeta(id string) (Meta, error) {
	uid, err := parseID(id)
	if err != nil {
		return Meta{}, err
	}

	var meta Meta
	err = s.withReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(uid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Meta{}, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
		}
		return Meta{}, fmt.Errorf("failed to get blob meta: %w", err)
	}
	return meta, nil
}

// Delete removes the blob and its metadata.
func (s *Store) Delete(id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}

	return s.withWriteTxn(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(uid)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrBlobNotFound, id)
			}
			return err
		}
		if err := txn.Delete(blobKey(uid)); err != nil {
			return err
		}
		return txn.Delete(metaKey(uid))
	})
}

// List returns the metadata of every blob, oldest first.
func (s *Store) List() ([]Meta, error) {
	metas := []Meta{}
	err := s.withReadTxn(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{metaPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var meta Meta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("failed to decode meta %x: %w", it.Item().Key(), err)
			}
			metas = append(metas, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas, nil
}

// Count returns the number of stored blobs.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.withReadTxn(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{metaPrefix}
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// withReadTxn executes a function within a read transaction.
func (s *Store) withReadTxn(fn func(*badger.Txn) error) error {
	return s.db.View(fn)
}

// withWriteTxn executes a function within a write transaction.
func (s *Store) withWriteTxn(fn func(*badger.Txn) error) error {
	if s.cfg.ReadOnly {
		return fmt.Errorf("store is read-only: %w", apperrors.ErrInvalidInput)
	}
	return s.db.Update(fn)
}

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid blob id %q: %w", id, apperrors.ErrInvalidInput)
	}
	return uid, nil
}

func blobKey(id uuid.UUID) []byte {
	key := make([]byte, 1+len(id))
	key[0] = blobPrefix
	copy(key[1:], id[:])
	return key
}

func metaKey(id uuid.UUID) []byte {
	key := make([]byte, 1+len(id))
	key[0] = metaPrefix
	copy(key[1:], id[:])
	return key
}
