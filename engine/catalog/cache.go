package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/motolight/motolight/engine/domain"
)

// SchemaVersion tags the cached layout. Entries with another version are
// ignored.
const SchemaVersion = 2

var cacheKey = []byte("catalog:snapshot")

// Snapshot is a catalog copy with the time it was read from the database.
type Snapshot struct {
	Catalog   domain.Catalog
	FetchedAt time.Time
}

type cacheEntry struct {
	Version   int              `json:"version"`
	FetchedAt int64            `json:"fetchedAt"`
	Vehicles  []domain.Make    `json:"vehicles"`
	Fixtures  []domain.Fixture `json:"fixtures"`
}

// BadgerCache keeps the last good catalog on disk for cold starts.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens (or creates) the cache under dir. An empty dir keeps
// the cache in memory.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Load returns the cached snapshot. ok is false when nothing usable is
// stored.
func (c *BadgerCache) Load() (Snapshot, bool, error) {
	var entry cacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load catalog cache: %w", err)
	}
	if entry.Version != SchemaVersion {
		return Snapshot{}, false, nil
	}
	return Snapshot{
		Catalog:   domain.Catalog{Vehicles: entry.Vehicles, Fixtures: entry.Fixtures},
		FetchedAt: time.UnixMilli(entry.FetchedAt),
	}, true, nil
}

// Save replaces the cached snapshot.
func (c *BadgerCache) Save(s Snapshot) error {
	data, err := json.Marshal(cacheEntry{
		Version:   SchemaVersion,
		FetchedAt: s.FetchedAt.UnixMilli(),
		Vehicles:  s.Catalog.Vehicles,
		Fixtures:  s.Catalog.Fixtures,
	})
	if err != nil {
		return fmt.Errorf("marshal catalog cache: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey, data)
	})
}

// Close releases the database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
