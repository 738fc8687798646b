package contentstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/recordchain/internal/contentstore"
)

type countingStore struct {
	*contentstore.MemoryStore
	gets atomic.Int32
}

func (s *countingStore) Get(c context.Context, id string) ([]byte, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(c, id)
}

func TestCachedStore_readThrough(t *testing.T) {
	backing := &countingStore{MemoryStore: contentstore.NewMemoryStore()}
	id, err := backing.Put(ctx, []byte("report"))
	if err != nil {
		t.Fatal(err)
	}

	cached := contentstore.NewCachedStore(backing, time.Minute)
	for i := 0; i < 3; i++ {
		got, err := cached.Get(ctx, id)
		if err != nil || string(got) != "report" {
			t.Fatalf("Get = %q, %v", got, err)
		}
	}
	if n := backing.gets.Load(); n != 1 {
		t.Errorf("backing store read %d times, want 1", n)
	}
}

func TestCachedStore_putPopulates(t *testing.T) {
	backing := &countingStore{MemoryStore: contentstore.NewMemoryStore()}
	cached := contentstore.NewCachedStore(backing, time.Minute)

	id, err := cached.Put(ctx, []byte("scan"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Get(ctx, id); err != nil {
		t.Fatal(err)
	}
	if n := backing.gets.Load(); n != 0 {
		t.Errorf("backing store read %d times after Put, want 0", n)
	}
}

func TestCachedStore_returnsCopies(t *testing.T) {
	cached := contentstore.NewCachedStore(contentstore.NewMemoryStore(), time.Minute)
	id, _ := cached.Put(ctx, []byte("abc"))

	got, _ := cached.Get(ctx, id)
	got[0] = 'X'
	again, _ := cached.Get(ctx, id)
	if string(again) != "abc" {
		t.Errorf("cached payload mutated through returned slice: %q", again)
	}
}

func TestCachedStore_expiryAndEvict(t *testing.T) {
	backing := &countingStore{MemoryStore: contentstore.NewMemoryStore()}
	cached := contentstore.NewCachedStore(backing, 10*time.Millisecond)

	for _, s := range []string{"a", "b", "c"} {
		if _, err := cached.Put(ctx, []byte(s)); err != nil {
			t.Fatal(err)
		}
	}
	if cached.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", cached.Len())
	}

	time.Sleep(20 * time.Millisecond)

	if n := cached.Evict(); n != 3 {
		t.Errorf("Evict() removed %d entries, want 3", n)
	}
	if cached.Len() != 0 {
		t.Errorf("cache has %d entries after eviction, want 0", cached.Len())
	}
}

func TestCachedStore_errorsNotCached(t *testing.T) {
	cached := contentstore.NewCachedStore(contentstore.NewMemoryStore(), time.Minute)
	missing, _ := contentstore.ComputeCID([]byte("never stored"))

	if _, err := cached.Get(ctx, missing.String()); !errors.Is(err, contentstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if cached.Len() != 0 {
		t.Errorf("miss was cached: %d entries", cached.Len())
	}
}
