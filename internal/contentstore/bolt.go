package contentstore

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

var blobBucket = []byte("blobs")

// BoltStore is a Store backed by a BoltDB bucket keyed by CID. Payloads are
// re-hashed on Get so a tampered blob is reported rather than returned.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// NewBoltStore creates a BoltStore on an open database.
func NewBoltStore(db *bolt.DB, logger *zap.Logger) *BoltStore {
	return &BoltStore{db: db, logger: logger}
}

// Put implements Store.
func (s *BoltStore) Put(_ context.Context, data []byte) (string, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	key := c.Bytes()

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(blobBucket)
		if err != nil {
			return err
		}
		if b.Get(key) != nil {
			return nil
		}
		return b.Put(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Debug("blob stored", zap.String("cid", c.String()), zap.Int("bytes", len(data)))
	return c.String(), nil
}

// Get implements Store.
func (s *BoltStore) Get(_ context.Context, id string) ([]byte, error) {
	c, err := ParseCID(id)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(c.Bytes()); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := verify(c, data); err != nil {
		s.logger.Warn("blob failed integrity check", zap.String("cid", id), zap.Error(err))
		return nil, err
	}
	return data, nil
}
