package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CorruptPolicy selects what Load does with a persisted chain it cannot parse.
type CorruptPolicy int

const (
	// ResetOnCorrupt quarantines the unreadable document when the storage
	// supports it, logs a warning, and starts a fresh genesis chain.
	ResetOnCorrupt CorruptPolicy = iota
	// FailOnCorrupt makes Load return ErrCorruptChain.
	FailOnCorrupt
)

// ParseCorruptPolicy maps "reset" or "fail" to a CorruptPolicy.
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch s {
	case "", "reset":
		return ResetOnCorrupt, nil
	case "fail":
		return FailOnCorrupt, nil
	default:
		return 0, fmt.Errorf("unknown corrupt policy %q (want reset or fail)", s)
	}
}

// Option configures a Ledger.
type Option func(*Ledger) error

// WithDifficulty sets the number of leading zero hex characters required of
// sealed block hashes.
func WithDifficulty(d int) Option {
	return func(l *Ledger) error {
		if d < 0 || d > 64 {
			return fmt.Errorf("difficulty %d out of range [0, 64]", d)
		}
		l.difficulty = d
		return nil
	}
}

// WithMaxSealIterations caps the nonce search of each Append.
func WithMaxSealIterations(n uint64) Option {
	return func(l *Ledger) error {
		l.maxIterations = n
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) error {
		if logger != nil {
			l.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) error {
		l.now = now
		return nil
	}
}

// WithCorruptPolicy selects the Load behaviour for unreadable state.
func WithCorruptPolicy(p CorruptPolicy) Option {
	return func(l *Ledger) error {
		l.corrupt = p
		return nil
	}
}

// WithVerifyOnLoad makes Load run Validate and fail with the resulting
// *ChainInvalidError when the persisted chain does not verify.
func WithVerifyOnLoad(enabled bool) Option {
	return func(l *Ledger) error {
		l.verifyOnLoad = enabled
		return nil
	}
}

// Predicate selects blocks by their data.
type Predicate func(Record) bool

// FieldEquals matches blocks whose data holds value under key.
func FieldEquals(key, value string) Predicate {
	return func(r Record) bool {
		v, ok := r.Text(key)
		return ok && v == value
	}
}

// Ledger owns the ordered block sequence and is its only point of mutation.
// Append is serialised by an exclusive lock held for the whole
// build-seal-persist sequence; reads share the lock.
type Ledger struct {
	mu      sync.RWMutex
	storage Storage
	blocks  []Block
	ready   bool

	difficulty    int
	maxIterations uint64
	corrupt       CorruptPolicy
	verifyOnLoad  bool
	logger        *zap.Logger
	now           func() time.Time
}

// New creates an unloaded Ledger over storage. Call Load before use.
func New(storage Storage, opts ...Option) (*Ledger, error) {
	if storage == nil {
		return nil, errors.New("ledger: storage is required")
	}
	l := &Ledger{
		storage:       storage,
		difficulty:    DefaultDifficulty,
		maxIterations: DefaultMaxSealIterations,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Open creates a Ledger and loads it.
func Open(ctx context.Context, storage Storage, opts ...Option) (*Ledger, error) {
	l, err := New(storage, opts...)
	if err != nil {
		return nil, err
	}
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Difficulty returns the configured sealing difficulty.
func (l *Ledger) Difficulty() int { return l.difficulty }

// Load reads the persisted chain. When nothing is persisted a genesis-only
// chain is created and saved. Unparseable state is handled per the
// configured CorruptPolicy.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.storage.Load(ctx)
	switch {
	case errors.Is(err, ErrNoState):
		l.logger.Info("no persisted chain, creating genesis")
		return l.initGenesisLocked(ctx)
	case err != nil:
		return fmt.Errorf("load chain: %w", err)
	}

	blocks, err := decodeChain(doc)
	if err != nil {
		if l.corrupt == FailOnCorrupt {
			return err
		}
		fields := []zap.Field{zap.Error(err)}
		if q, ok := l.storage.(Quarantiner); ok {
			where, qerr := q.Quarantine(ctx)
			if qerr != nil {
				return fmt.Errorf("%w; quarantine failed: %w", err, qerr)
			}
			fields = append(fields, zap.String("quarantined_to", where))
		}
		l.logger.Warn("persisted chain is corrupt, reinitializing with genesis", fields...)
		return l.initGenesisLocked(ctx)
	}

	if l.verifyOnLoad {
		if err := validateChain(blocks); err != nil {
			return err
		}
	}

	l.blocks = blocks
	l.ready = true
	l.logger.Info("chain loaded",
		zap.Int("blocks", len(blocks)),
		zap.String("tip", blocks[len(blocks)-1].Hash),
	)
	return nil
}

func (l *Ledger) initGenesisLocked(ctx context.Context) error {
	blocks := []Block{newGenesis(l.now())}
	if err := l.saveLocked(ctx, blocks); err != nil {
		return err
	}
	l.blocks = blocks
	l.ready = true
	return nil
}

// Append seals a new block carrying data and persists the chain. If the write
// fails the block is discarded and ErrPersistence is returned.
func (l *Ledger) Append(ctx context.Context, data Record) (Block, error) {
	norm, err := normalizeRecord(data)
	if err != nil {
		return Block{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return Block{}, ErrNotReady
	}

	prev := l.blocks[len(l.blocks)-1]
	b := Block{
		Index:        len(l.blocks),
		Timestamp:    l.now().UTC().Format(TimestampLayout),
		Data:         norm,
		PreviousHash: prev.Hash,
	}

	start := time.Now()
	if err := b.Seal(ctx, l.difficulty, l.maxIterations); err != nil {
		return Block{}, fmt.Errorf("seal block %d: %w", b.Index, err)
	}
	sealed := time.Since(start)

	next := append(l.blocks, b)
	if err := l.saveLocked(ctx, next); err != nil {
		return Block{}, err
	}
	l.blocks = next

	l.logger.Debug("block appended",
		zap.Int("index", b.Index),
		zap.Uint64("nonce", b.Nonce),
		zap.String("hash", b.Hash),
		zap.Duration("seal", sealed),
	)
	return b.clone(), nil
}

// Validate walks the chain and returns a *ChainInvalidError for the first
// block whose index, hash, or linkage is wrong, or nil if the chain is intact.
// It never mutates the ledger.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return ErrNotReady
	}
	return validateChain(l.blocks)
}

// FindBy returns, in chain order, every block whose data satisfies match.
// This is a linear scan.
func (l *Ledger) FindBy(match Predicate) ([]Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return nil, ErrNotReady
	}

	var out []Block
	for i := range l.blocks {
		if match(l.blocks[i].Data) {
			out = append(out, l.blocks[i].clone())
		}
	}
	return out, nil
}

// Tail returns the last n blocks in chain order. n is clamped to the chain
// length; n <= 0 yields an empty slice.
func (l *Ledger) Tail(n int) ([]Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return nil, ErrNotReady
	}

	if n <= 0 {
		return []Block{}, nil
	}
	if n > len(l.blocks) {
		n = len(l.blocks)
	}
	return cloneBlocks(l.blocks[len(l.blocks)-n:]), nil
}

// Get returns the block at index.
func (l *Ledger) Get(index int) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return Block{}, ErrNotReady
	}
	if index < 0 || index >= len(l.blocks) {
		return Block{}, fmt.Errorf("%w: index %d", ErrBlockNotFound, index)
	}
	return l.blocks[index].clone(), nil
}

// Blocks returns a copy of the whole chain.
func (l *Ledger) Blocks() ([]Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return nil, ErrNotReady
	}
	return cloneBlocks(l.blocks), nil
}

// Len returns the number of blocks including genesis, or 0 before Load.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// Tip returns the hash of the last block.
func (l *Ledger) Tip() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return "", ErrNotReady
	}
	return l.blocks[len(l.blocks)-1].Hash, nil
}

func (l *Ledger) saveLocked(ctx context.Context, blocks []Block) error {
	doc, err := encodeChain(blocks)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := l.storage.Save(ctx, doc); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func validateChain(blocks []Block) error {
	if len(blocks) == 0 {
		return &ChainInvalidError{Index: 0, Reason: "chain is empty"}
	}
	for i := range blocks {
		b := &blocks[i]
		if b.Index != i {
			return &ChainInvalidError{Index: i, Reason: fmt.Sprintf("index %d out of sequence", b.Index)}
		}
		if i == 0 {
			if b.PreviousHash != GenesisPrevHash {
				return &ChainInvalidError{Index: 0, Reason: "genesis previous hash is not the sentinel"}
			}
		} else if b.PreviousHash != blocks[i-1].Hash {
			return &ChainInvalidError{Index: i, Reason: "previous hash does not match preceding block"}
		}
		if b.Hash != b.ComputeHash() {
			return &ChainInvalidError{Index: i, Reason: "stored hash does not match block contents"}
		}
	}
	return nil
}

func encodeChain(blocks []Block) ([]byte, error) {
	records := make([]BlockRecord, len(blocks))
	for i := range blocks {
		records[i] = blocks[i].ToRecord()
	}
	return json.MarshalIndent(records, "", "    ")
}

func decodeChain(doc []byte) ([]Block, error) {
	var records []BlockRecord
	if err := json.Unmarshal(doc, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no blocks", ErrCorruptChain)
	}
	blocks := make([]Block, len(records))
	for i, r := range records {
		blocks[i] = FromRecord(r)
	}
	return blocks, nil
}

func cloneBlocks(in []Block) []Block {
	out := make([]Block, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
