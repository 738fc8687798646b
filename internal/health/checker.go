// Package health runs periodic probes against the ledger and content store
// and reports whether ledgerd is ready to accept uploads.
package health

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/recordchain/internal/contentstore"
	"go.uber.org/zap"
)

// Component states.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one component. A nil error means healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ComponentStatus is the last known state of a probed component.
type ComponentStatus struct {
	Status    string    `json:"status"`
	Failures  int       `json:"consecutive_failures"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(component string, success bool)

// Checker runs probes on an interval. A component is degraded after
// FailThreshold consecutive failures and healthy again after one success.
type Checker struct {
	probes    []Probe
	mu        sync.Mutex
	state     map[string]*ComponentStatus
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker. Components start healthy until probed.
func New(cfg Config, logger *zap.Logger, probes ...Probe) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	state := make(map[string]*ComponentStatus, len(probes))
	for _, p := range probes {
		state[p.Name] = &ComponentStatus{Status: StatusHealthy}
	}
	return &Checker{
		probes: probes,
		state:  state,
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and waits for them.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(probeCtx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(p.Name, err == nil)
			}
			h.record(p.Name, err)
		}(p)
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.state[name]
	prev := st.Failures
	st.CheckedAt = time.Now().UTC()

	if err == nil {
		st.Failures = 0
		st.LastError = ""
		if prev >= h.cfg.FailThreshold {
			h.logger.Info("health: recovered", zap.String("component", name))
		}
		st.Status = StatusHealthy
		return
	}

	st.Failures++
	st.LastError = err.Error()
	if st.Failures == h.cfg.FailThreshold {
		// Transition: healthy → degraded (exactly at threshold)
		st.Status = StatusDegraded
		h.logger.Warn("health: degraded",
			zap.String("component", name),
			zap.Int("fail_count", st.Failures),
			zap.Error(err),
		)
	}
}

// Status reports whether every component is healthy, with a snapshot of each.
func (h *Checker) Status() (bool, map[string]ComponentStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ok := true
	out := make(map[string]ComponentStatus, len(h.state))
	for name, st := range h.state {
		out[name] = *st
		if st.Status != StatusHealthy {
			ok = false
		}
	}
	return ok, out
}

// LedgerProbe re-validates the whole chain.
func LedgerProbe(validate func() error) Probe {
	return Probe{
		Name: "ledger",
		Check: func(context.Context) error {
			return validate()
		},
	}
}

var probeBlob = []byte("recordchain health probe")

// StoreProbe writes a fixed blob and reads it back. The blob is
// content-addressed, so repeated probes reuse the same identifier.
func StoreProbe(store contentstore.Store) Probe {
	return Probe{
		Name: "content_store",
		Check: func(ctx context.Context) error {
			id, err := store.Put(ctx, probeBlob)
			if err != nil {
				return err
			}
			got, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			if !bytes.Equal(got, probeBlob) {
				return fmt.Errorf("content store returned %d bytes for %s, want %d", len(got), id, len(probeBlob))
			}
			return nil
		},
	}
}
