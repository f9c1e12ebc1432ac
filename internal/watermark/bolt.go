package watermark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	apperrors "tap-reputation-poller/internal/errors"
)

var bucketWatermarks = []byte("watermarks")

// BoltStore keeps watermarks in an embedded bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.NewIO("create bolt dir", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.NewIOf("open bolt", "%s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWatermarks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.NewIO("create bucket", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	var raw []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketWatermarks).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, apperrors.NewIO("read watermark", err)
	}
	if raw == nil {
		return time.Time{}, false, nil
	}

	ts, err := ParseTimestamp(string(raw))
	if err != nil {
		return time.Time{}, false, apperrors.NewIO("decode watermark", fmt.Errorf("key %s: %w", key, err))
	}
	return ts, true, nil
}

func (b *BoltStore) Set(ctx context.Context, key string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWatermarks).Put([]byte(key), []byte(Format(ts)))
	})
	if err != nil {
		return apperrors.NewIO("write watermark", err)
	}
	return nil
}

var _ Store = (*BoltStore)(nil)
