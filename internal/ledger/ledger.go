// Package ledger implements a local, single-writer, tamper-evident block chain.
//
// Every block records the hash of its predecessor and is sealed by a
// proof-of-work nonce search, so any out-of-band edit to a persisted block is
// detectable via Validate. The chain begins with a genesis block whose
// previous hash is the sentinel "0"; genesis is hashed but never mined.
//
// The whole chain is persisted as one JSON document through a Storage backend:
//   - FileStorage: a single file, replaced atomically on every append.
//   - BoltStorage: a single key in a BoltDB bucket.
//   - PostgresStorage: a single row in PostgreSQL.
package ledger

import (
	"errors"
	"fmt"
)

// GenesisPrevHash is the previous-hash sentinel carried by the genesis block.
const GenesisPrevHash = "0"

// GenesisMarker is the data value stored in the genesis block under the "marker" key.
const GenesisMarker = "Genesis Block"

// DefaultDifficulty is the number of leading zero hex characters required of
// a sealed block hash when no difficulty is configured.
const DefaultDifficulty = 2

// DefaultMaxSealIterations caps the nonce search of a single seal.
const DefaultMaxSealIterations = 1 << 32

var (
	// ErrSealingExhausted is returned when the nonce search reaches its
	// iteration cap without satisfying the difficulty. Safe to retry.
	ErrSealingExhausted = errors.New("sealing exhausted")

	// ErrPersistence is returned when the chain could not be written to
	// storage. The append it wraps did not happen.
	ErrPersistence = errors.New("ledger persistence failed")

	// ErrCorruptChain is returned when persisted state cannot be parsed.
	ErrCorruptChain = errors.New("persisted chain is corrupt")

	// ErrNotReady is returned by operations invoked before Load.
	ErrNotReady = errors.New("ledger not loaded")

	// ErrInvalidRecord is returned when block data holds an unsupported value.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNoState is returned by a Storage that holds no persisted chain yet.
	ErrNoState = errors.New("no persisted chain")
)

// ChainInvalidError identifies the first block that failed validation.
type ChainInvalidError struct {
	Index  int
	Reason string
}

func (e *ChainInvalidError) Error() string {
	return fmt.Sprintf("chain invalid at index %d: %s", e.Index, e.Reason)
}

// ErrBlockNotFound is returned by Get for an index outside the chain.
var ErrBlockNotFound = errors.New("block not found")
