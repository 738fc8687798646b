package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var (
	chainBucket = []byte("ledger")
	chainKey    = []byte("chain")
)

// BoltStorage keeps the chain document under a single key in a BoltDB file.
// The database may be shared with other components.
type BoltStorage struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStorage creates a BoltStorage on an open database.
func NewBoltStorage(db *bolt.DB) *BoltStorage {
	return &BoltStorage{db: db, now: time.Now}
}

// Load implements Storage.
func (s *BoltStorage) Load(_ context.Context) ([]byte, error) {
	var doc []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chainBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(chainKey); v != nil {
			// Bolt values are only valid inside the transaction.
			doc = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt view: %w", err)
	}
	if doc == nil {
		return nil, ErrNoState
	}
	return doc, nil
}

// Save implements Storage.
func (s *BoltStorage) Save(_ context.Context, doc []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(chainBucket)
		if err != nil {
			return err
		}
		return b.Put(chainKey, doc)
	})
	if err != nil {
		return fmt.Errorf("bolt update: %w", err)
	}
	return nil
}

// Quarantine implements Quarantiner by moving the document to a
// "chain.corrupt-<unix>" key in the same bucket.
func (s *BoltStorage) Quarantine(_ context.Context) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%d", chainKey, s.now().Unix())
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chainBucket)
		if b == nil {
			return nil
		}
		v := b.Get(chainKey)
		if v == nil {
			return nil
		}
		if err := b.Put([]byte(dst), append([]byte(nil), v...)); err != nil {
			return err
		}
		return b.Delete(chainKey)
	})
	if err != nil {
		return "", fmt.Errorf("bolt quarantine: %w", err)
	}
	return "bolt:" + string(chainBucket) + "/" + dst, nil
}
