// Package supervisor owns the set of per-chain workers: it starts one
// per configured chain, watches for dead or stopped workers on a
// fixed interval and restarts them, and drives graceful shutdown on
// cancellation. Grounded on the teacher's main.go worker-pool startup
// and on original_source/monitor_multichain_original.py's per-network
// supervision loop.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/chainwatch/contract-monitor/internal/attribution"
	"github.com/chainwatch/contract-monitor/internal/chain"
	"github.com/chainwatch/contract-monitor/internal/classifier"
	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/extractor"
	"github.com/chainwatch/contract-monitor/internal/logging"
	"github.com/chainwatch/contract-monitor/internal/storage"
	"github.com/chainwatch/contract-monitor/internal/worker"
)

const livenessInterval = 30 * time.Second

// Supervisor owns one Worker per chain and keeps them running.
type Supervisor struct {
	cfg         config.Config
	store       *storage.Store
	attribution *attribution.Client

	mu      sync.Mutex
	workers map[string]*worker.Worker
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Supervisor; the chains it runs are passed to Run.
func New(cfg config.Config, store *storage.Store, attr *attribution.Client) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		store:       store,
		attribution: attr,
		workers:     make(map[string]*worker.Worker),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Run starts a worker for every chain in chains and blocks, restarting
// dead workers, until ctx is cancelled, then waits for a graceful
// shutdown of the workers (bounded by one 5s join timeout shared by all
// of them).
func (s *Supervisor) Run(ctx context.Context, chains []string) {
	for _, c := range chains {
		s.start(ctx, c)
	}

	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.checkLiveness(ctx, chains)
		}
	}
}

func (s *Supervisor) start(ctx context.Context, chainName string) {
	endpoints := s.cfg.Chains[chainName]
	adapter := chain.NewAdapter(chainName, endpoints)
	ext := extractor.New(chainName, adapter, s.cfg.FactorySignatures)
	clf := classifier.New(chainName, adapter)
	w := worker.New(chainName, adapter, ext, clf, s.attribution, s.store, s.cfg)

	workerCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.workers[chainName] = w
	s.cancels[chainName] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer adapter.Close()
		w.Run(workerCtx)
	}()

	logging.ForChain(chainName).Info("worker started")
}

// checkLiveness restarts any worker that has reached StateStopped,
// treating the chain's cursor as the resumable source of truth.
func (s *Supervisor) checkLiveness(ctx context.Context, chains []string) {
	s.mu.Lock()
	dead := make([]string, 0)
	for _, c := range chains {
		w, ok := s.workers[c]
		if ok && w.State() == worker.StateStopped {
			dead = append(dead, c)
		}
	}
	s.mu.Unlock()

	for _, c := range dead {
		logging.ForChain(c).Warn("worker found stopped, restarting")
		s.start(ctx, c)
	}
}

// shutdown signals every worker to stop and waits up to 5s in total for
// all of them (not 5s per worker), then flushes and closes the
// persistence layer.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Logger().Warn("timed out waiting for workers to stop")
	}

	if count, err := s.store.Flush(context.Background()); err != nil {
		logging.Logger().Error("failed to flush storage before shutdown", "error", err)
	} else {
		logging.Logger().Info("flushed pending writes before shutdown", "rows", count)
	}

	if err := s.store.Close(); err != nil {
		logging.Logger().Error("failed to close storage cleanly", "error", err)
	}
}
