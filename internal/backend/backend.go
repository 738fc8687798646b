// Package backend opens the ledger and content store selected by a Config.
// Both binaries go through Open so they agree on where state lives.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/recordchain/internal/config"
	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"github.com/jmerrifield20/recordchain/internal/ledger"
	"go.uber.org/zap"
)

// Backends holds the opened ledger and content store plus the handles that
// must be closed on shutdown.
type Backends struct {
	Ledger *ledger.Ledger
	Store  contentstore.Store

	bolt        *bolt.DB
	pool        *pgxpool.Pool
	stopEvictor context.CancelFunc
}

// Open connects the configured storage, loads the ledger, and builds the
// content store. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if cfg.NeedsBolt() {
		b.bolt, err = bolt.Open(cfg.Ledger.BoltPath, 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", cfg.Ledger.BoltPath, err)
		}
		logger.Info("bolt database opened", zap.String("path", cfg.Ledger.BoltPath))
	}

	storage, err := b.openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	policy, err := ledger.ParseCorruptPolicy(cfg.Ledger.OnCorrupt)
	if err != nil {
		return nil, err
	}
	b.Ledger, err = ledger.Open(ctx, storage,
		ledger.WithDifficulty(cfg.Ledger.Difficulty),
		ledger.WithMaxSealIterations(cfg.Ledger.MaxSealIterations),
		ledger.WithCorruptPolicy(policy),
		ledger.WithVerifyOnLoad(cfg.Ledger.VerifyOnLoad),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	switch cfg.Store.Backend {
	case "ipfs":
		b.Store = contentstore.NewIPFSStore(cfg.Store.IPFSURL,
			contentstore.WithIPFSHTTPClient(&http.Client{Timeout: cfg.Store.Timeout}),
			contentstore.WithIPFSOffline(cfg.Store.Offline),
			contentstore.WithIPFSLogger(logger),
		)
	case "bolt":
		b.Store = contentstore.NewBoltStore(b.bolt, logger)
	case "memory":
		logger.Warn("memory content store: documents are lost on exit")
		b.Store = contentstore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if ttl := cfg.Store.CacheTTL; ttl > 0 && cfg.Store.Backend != "memory" {
		cached := contentstore.NewCachedStore(b.Store, ttl)
		evictCtx, stop := context.WithCancel(context.Background())
		b.stopEvictor = stop
		go cached.RunEviction(evictCtx, ttl)
		b.Store = cached
	}
	return b, nil
}

func (b *Backends) openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Storage, error) {
	switch cfg.Ledger.Backend {
	case "file":
		return ledger.NewFileStorage(cfg.Ledger.Path), nil
	case "bolt":
		return ledger.NewBoltStorage(b.bolt), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		b.pool = pool
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		pg := ledger.NewPostgresStorage(pool, cfg.Ledger.Name, logger)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// Close releases database handles. It is safe to call more than once.
func (b *Backends) Close() error {
	var errs []error
	if b.stopEvictor != nil {
		b.stopEvictor()
		b.stopEvictor = nil
	}
	if b.bolt != nil {
		errs = append(errs, b.bolt.Close())
		b.bolt = nil
	}
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return errors.Join(errs...)
}
