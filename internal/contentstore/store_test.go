package contentstore_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"go.uber.org/zap"
)

var ctx = context.Background()

func openBolt(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "blobs.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// stores returns every local backend so they are held to the same contract.
func stores(t *testing.T) map[string]contentstore.Store {
	return map[string]contentstore.Store{
		"memory": contentstore.NewMemoryStore(),
		"bolt":   contentstore.NewBoltStore(openBolt(t), zap.NewNop()),
	}
}

func TestStore_putGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte(`{"patient_id":"P1"}`)
			id, err := s.Put(ctx, payload)
			if err != nil {
				t.Fatal(err)
			}
			want, _ := contentstore.ComputeCID(payload)
			if id != want.String() {
				t.Errorf("Put() id = %s, want %s", id, want)
			}

			got, err := s.Get(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("Get() = %q, want %q", got, payload)
			}

			again, err := s.Put(ctx, payload)
			if err != nil || again != id {
				t.Errorf("second Put() = %s, %v; want same id", again, err)
			}
		})
	}
}

func TestStore_notFound(t *testing.T) {
	unknown, _ := contentstore.ComputeCID([]byte("never stored"))
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, unknown.String()); !errors.Is(err, contentstore.ErrNotFound) {
				t.Errorf("unknown cid: expected ErrNotFound, got %v", err)
			}
			if _, err := s.Get(ctx, "not-a-cid"); !errors.Is(err, contentstore.ErrNotFound) {
				t.Errorf("malformed cid: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestBoltStore_detectsTamperedBlob(t *testing.T) {
	db := openBolt(t)
	s := contentstore.NewBoltStore(db, zap.NewNop())
	id, err := s.Put(ctx, []byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	c, _ := contentstore.ParseCID(id)
	if err := db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("blobs")).Put(c.Bytes(), []byte("forged"))
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, id); err == nil {
		t.Error("expected integrity error for tampered blob")
	}
}

func TestMemoryStore_copiesPayload(t *testing.T) {
	s := contentstore.NewMemoryStore()
	payload := []byte("abc")
	id, _ := s.Put(ctx, payload)
	payload[0] = 'x'

	got, _ := s.Get(ctx, id)
	if string(got) != "abc" {
		t.Errorf("stored payload aliased caller slice: %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
