package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the fixed format of Block.Timestamp.
const TimestampLayout = time.RFC3339Nano

// ctxCheckInterval is how many nonces are tried between context checks.
const ctxCheckInterval = 1 << 12

// Block is a single sealed entry in the ledger.
type Block struct {
	Index        int    `json:"index"`
	Timestamp    string `json:"timestamp"`
	Data         Record `json:"data"`
	PreviousHash string `json:"previous_hash"`
	Nonce        uint64 `json:"nonce"`
	Hash         string `json:"hash"`
}

// BlockRecord is the persisted form of a Block.
type BlockRecord struct {
	Index        int    `json:"index"`
	Timestamp    string `json:"timestamp"`
	Data         Record `json:"data"`
	PreviousHash string `json:"previous_hash"`
	Nonce        uint64 `json:"nonce"`
	Hash         string `json:"hash"`
}

// ComputeHash returns the hex SHA-256 digest over the block's index,
// timestamp, canonical data, previous hash, and nonce. It returns "" when the
// data cannot be canonicalised, which never matches a stored hash.
func (b *Block) ComputeHash() string {
	prefix, err := b.hashPrefix()
	if err != nil {
		return ""
	}
	return hashWithNonce(prefix, b.Nonce)
}

// MeetsDifficulty reports whether the stored hash starts with difficulty
// zero characters.
func (b *Block) MeetsDifficulty(difficulty int) bool {
	return meetsDifficulty(b.Hash, difficulty)
}

// Seal searches for a nonce whose hash satisfies difficulty, starting from the
// current nonce. It gives up with ErrSealingExhausted after maxIterations
// attempts (0 means DefaultMaxSealIterations) and returns ctx's error if the
// context ends first.
func (b *Block) Seal(ctx context.Context, difficulty int, maxIterations uint64) error {
	if difficulty < 0 || difficulty > sha256.Size*2 {
		return fmt.Errorf("difficulty %d out of range [0, %d]", difficulty, sha256.Size*2)
	}
	if maxIterations == 0 {
		maxIterations = DefaultMaxSealIterations
	}
	prefix, err := b.hashPrefix()
	if err != nil {
		return err
	}

	b.Hash = hashWithNonce(prefix, b.Nonce)
	for i := uint64(0); !meetsDifficulty(b.Hash, difficulty); i++ {
		if i >= maxIterations {
			return fmt.Errorf("%w: no nonce after %d iterations at difficulty %d",
				ErrSealingExhausted, maxIterations, difficulty)
		}
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b.Nonce++
		b.Hash = hashWithNonce(prefix, b.Nonce)
	}
	return nil
}

// ToRecord converts b to its persisted form.
func (b *Block) ToRecord() BlockRecord {
	return BlockRecord{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Data:         b.Data.Clone(),
		PreviousHash: b.PreviousHash,
		Nonce:        b.Nonce,
		Hash:         b.Hash,
	}
}

// FromRecord rebuilds a Block from its persisted form. Fields are taken
// verbatim; the hash is not recomputed.
func FromRecord(r BlockRecord) Block {
	return Block{
		Index:        r.Index,
		Timestamp:    r.Timestamp,
		Data:         r.Data.Clone(),
		PreviousHash: r.PreviousHash,
		Nonce:        r.Nonce,
		Hash:         r.Hash,
	}
}

func (b *Block) clone() Block {
	c := *b
	c.Data = b.Data.Clone()
	return c
}

// hashPrefix renders every hashed field except the nonce.
func (b *Block) hashPrefix() (string, error) {
	data, err := b.Data.Canonical()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return fmt.Sprintf("%d|%s|%s|%s|", b.Index, b.Timestamp, data, b.PreviousHash), nil
}

func hashWithNonce(prefix string, nonce uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s%d", prefix, nonce)
	return hex.EncodeToString(h.Sum(nil))
}

func meetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// newGenesis builds the genesis block at ts. Genesis is hashed, not mined.
func newGenesis(ts time.Time) Block {
	g := Block{
		Index:        0,
		Timestamp:    ts.UTC().Format(TimestampLayout),
		Data:         Record{"marker": GenesisMarker},
		PreviousHash: GenesisPrevHash,
	}
	g.Hash = g.ComputeHash()
	return g
}
