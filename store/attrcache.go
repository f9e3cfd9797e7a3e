package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nutsdb/nutsdb"
)

const attrBucket = "records"

// DefaultAttrTTL is the default time-to-live for cached resolutions. It is
// deliberately short: the cache exists to absorb the lookup/getattr bursts
// the kernel sends around every operation, not to hide remote writers for
// long.
const DefaultAttrTTL = time.Second

// AttrCache is an optional NutsDB-backed cache of resolved inode documents,
// keyed by path. It sits between the open-handle table and the by-path
// index in the driver's resolution chain. Every mutation the driver makes
// invalidates the affected paths; writes from other mounts stay invisible
// until the TTL runs out, which is the accepted trade.
//
// The cache is strictly best-effort: a failure to read or write it is
// logged and treated as a miss, never surfaced to the filesystem.
type AttrCache struct {
	db     *nutsdb.DB
	ttl    uint32
	logger *slog.Logger
}

// OpenAttrCache opens (or creates) the cache database in dir. A ttl of zero
// falls back to DefaultAttrTTL.
func OpenAttrCache(dir string, ttl time.Duration, logger *slog.Logger) (*AttrCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultAttrTTL
	}
	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(dir),
		nutsdb.WithSegmentSize(8*1024*1024),
		nutsdb.WithEntryIdxMode(nutsdb.HintKeyAndRAMIdxMode),
		nutsdb.WithRWMode(nutsdb.MMap),
	)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *nutsdb.Tx) error {
		if err := tx.NewBucket(nutsdb.DataStructureBTree, attrBucket); err != nil &&
			!errors.Is(err, nutsdb.ErrBucketAlreadyExist) {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	ttlSec := uint32(ttl.Seconds())
	if ttlSec == 0 {
		ttlSec = 1
	}
	logger.Info("attribute cache ready", "dir", dir, "ttl", ttl)
	return &AttrCache{db: db, ttl: ttlSec, logger: logger}, nil
}

// Get returns the cached record for path, if a live entry exists.
func (c *AttrCache) Get(path string) (*Record, bool) {
	var rec Record
	err := c.db.View(func(tx *nutsdb.Tx) error {
		val, err := tx.Get(attrBucket, []byte(path))
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, false
	}
	c.logger.Debug("attr cache hit", "path", path)
	return &rec, true
}

// Put stores the record for path until the TTL runs out.
func (c *AttrCache) Put(path string, rec *Record) {
	err := c.db.Update(func(tx *nutsdb.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Put(attrBucket, []byte(path), data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("attr cache put failed", "path", path, "error", err)
	}
}

// Invalidate drops any cached entry for path. Most invalidations target
// paths that were never cached; that is not an error.
func (c *AttrCache) Invalidate(path string) {
	c.db.Update(func(tx *nutsdb.Tx) error {
		tx.Delete(attrBucket, []byte(path))
		return nil
	})
}

// Close closes the cache database.
func (c *AttrCache) Close() error {
	return c.db.Close()
}
