// Package contentstore defines the content-addressed blob store that ledger
// callers use to externalize payloads before recording a reference on chain.
//
// Identifiers are CIDs. The local backends (MemoryStore, BoltStore) derive a
// CIDv1 with the raw codec and a sha2-256 multihash; IPFSStore delegates to an
// IPFS node's RPC API and returns whatever CID the node assigns.
package contentstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	// ErrNotFound is returned when an identifier is unknown to the store.
	ErrNotFound = errors.New("content not found")

	// ErrStoreUnavailable is returned when the backing service cannot be reached.
	ErrStoreUnavailable = errors.New("content store unavailable")
)

// Store puts and gets immutable payloads by content identifier.
type Store interface {
	// Put stores data and returns its content identifier.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the payload previously stored under id.
	Get(ctx context.Context, id string) ([]byte, error)
}

// ComputeCID returns the CIDv1 (raw codec, sha2-256) of data.
func ComputeCID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// ParseCID decodes id. A malformed id cannot name any stored content, so the
// error wraps ErrNotFound.
func ParseCID(id string) (cid.Cid, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid cid %q: %v", ErrNotFound, id, err)
	}
	return c, nil
}

// verify checks that data hashes to c.
func verify(c cid.Cid, data []byte) error {
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("rehash content: %w", err)
	}
	if !got.Equals(c) {
		return fmt.Errorf("content for %s does not match its identifier", c)
	}
	return nil
}
