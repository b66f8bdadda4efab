// Package worker runs the per-chain ingestion loop: poll for new
// blocks, extract deployments, classify and attribute them with bounded
// concurrency, and persist the results, advancing the chain's cursor
// only once storage has accepted the batch. Grounded on the teacher's
// worker.TransactionWorker batching loop and on
// original_source/blockchain_monitor.py's reconnect/backoff state
// machine, generalized into named states per the chain's needs.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/contract-monitor/internal/attribution"
	"github.com/chainwatch/contract-monitor/internal/chain"
	"github.com/chainwatch/contract-monitor/internal/classifier"
	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/extractor"
	"github.com/chainwatch/contract-monitor/internal/logging"
	"github.com/chainwatch/contract-monitor/internal/models"
	"github.com/chainwatch/contract-monitor/internal/storage"
)

var errAlreadyKnown = errors.New("contract address already recorded")

func commonAddress(hexAddr string) common.Address {
	return common.HexToAddress(hexAddr)
}

// State is one phase of a Worker's lifecycle.
type State string

const (
	StateInitializing State = "initializing"
	StateScanning      State = "scanning"
	StateBackoff       State = "backoff"
	StateReiniting     State = "reinit"
	StateStopped       State = "stopped"
)

const (
	maxConsecutiveErrors = 5
	backoffBase          = 5 * time.Second
	backoffCap           = 300 * time.Second
)

// Worker ingests deployments for one chain, end to end.
type Worker struct {
	Chain string

	adapter     *chain.Adapter
	extractor   *extractor.Extractor
	classifier  *classifier.Classifier
	attribution *attribution.Client
	store       *storage.Store
	cfg         config.Config

	state             State
	consecutiveErrors int
}

// New builds a Worker for chainName wired to every stage it needs.
func New(chainName string, adapter *chain.Adapter, ext *extractor.Extractor, clf *classifier.Classifier, attr *attribution.Client, store *storage.Store, cfg config.Config) *Worker {
	return &Worker{
		Chain:       chainName,
		adapter:     adapter,
		extractor:   ext,
		classifier:  clf,
		attribution: attr,
		store:       store,
		cfg:         cfg,
		state:       StateInitializing,
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return w.state }

// Run drives the worker's state machine until ctx is cancelled. It never
// returns an error: unrecoverable conditions put the worker into
// StateStopped instead, so the supervisor's liveness monitor can decide
// whether to restart it.
func (w *Worker) Run(ctx context.Context) {
	log := logging.ForChain(w.Chain)
	cursor, err := w.store.LoadCursor(ctx, w.Chain)
	if err != nil {
		log.Error("failed to load cursor, stopping worker", "error", err)
		w.state = StateStopped
		return
	}
	if cursor == 0 {
		if height, err := w.adapter.LatestHeight(ctx); err == nil {
			cursor = height
		}
	}
	w.state = StateScanning
	log.Info("worker initialized", "starting_cursor", cursor)

	ticker := time.NewTicker(w.cfg.BlockCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.state = StateStopped
			return
		case <-ticker.C:
			cursor = w.tick(ctx, cursor)
			if w.state == StateStopped {
				return
			}
		}
	}
}

// tick advances the scan by one poll: it finds the new confirmed tip,
// processes [cursor+1, tip] capped at BatchSize blocks, and returns the
// new cursor value.
func (w *Worker) tick(ctx context.Context, cursor uint64) uint64 {
	log := logging.ForChain(w.Chain)

	if w.state == StateBackoff {
		w.state = StateScanning
	}

	height, err := w.adapter.LatestHeight(ctx)
	if err != nil {
		return w.handleError(ctx, cursor, "latest_height", err)
	}

	if height < w.cfg.ConfirmationDepth {
		return cursor
	}
	tip := height - w.cfg.ConfirmationDepth
	if tip <= cursor {
		return cursor
	}

	to := tip
	if w.cfg.BatchSize > 0 && to-cursor > uint64(w.cfg.BatchSize) {
		to = cursor + uint64(w.cfg.BatchSize)
	}

	log.Info("processing blocks", "from", cursor+1, "to", to)
	result := w.extractor.Extract(ctx, cursor+1, to)
	if len(result.FailedBlocks) > 0 {
		log.Warn("some blocks failed extraction", "count", len(result.FailedBlocks), "blocks", result.FailedBlocks)
	}
	log.Info("found deployments", "count", len(result.Deployments))

	if err := w.processDeployments(ctx, result.Deployments); err != nil {
		return w.handleError(ctx, cursor, "process_batch", err)
	}

	w.consecutiveErrors = 0
	w.store.AdvanceCursor(w.Chain, to)
	return to
}

// processDeployments classifies and attributes every deployment with
// bounded concurrency (spec: at most classify_fanout in flight) and
// enqueues the resulting rows for batched persistence.
func (w *Worker) processDeployments(ctx context.Context, deployments []models.Deployment) error {
	if len(deployments) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ClassifyFanout)

	now := time.Now().UTC()
	for _, d := range deployments {
		d := d
		g.Go(func() error {
			row, err := w.classifyAndAttribute(gctx, d, now)
			if errors.Is(err, errAlreadyKnown) {
				return nil
			}
			if err != nil {
				logging.ForChain(w.Chain).Warn("failed to classify/attribute deployment", "address", d.ContractAddress, "error", err)
				return nil
			}
			w.store.Enqueue(row)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) classifyAndAttribute(ctx context.Context, d models.Deployment, now time.Time) (models.ContractRow, error) {
	known, err := w.store.IsKnown(ctx, d.Chain, d.ContractAddress)
	if err == nil && known {
		return models.ContractRow{}, errAlreadyKnown
	}

	addr := commonAddress(d.ContractAddress)
	classified := models.ClassifiedDeployment{
		Deployment: d,
	}
	cd := w.classifier.Classify(ctx, addr)
	classified.PrimaryType = cd.PrimaryType
	classified.AllTypes = cd.AllTypes
	classified.Confidence = cd.Confidence
	classified.BytecodeSize = cd.BytecodeSize
	classified.Info = cd.Info

	attributed := models.AttributedDeployment{ClassifiedDeployment: classified}
	if entity, err := w.attribution.Lookup(ctx, d.Chain, d.DeployerAddress); err == nil && entity != nil {
		attributed.EntityName = entity.Name
		attributed.EntityID = entity.ID
	}

	return attributed.ToContractRow(now)
}

// handleError folds a tick failure into the consecutive-error counter,
// moving the worker to Backoff and, past the threshold, Reinit.
func (w *Worker) handleError(ctx context.Context, cursor uint64, op string, err error) uint64 {
	log := logging.ForChain(w.Chain)
	w.consecutiveErrors++
	log.Warn("worker tick failed", "op", op, "consecutive_errors", w.consecutiveErrors, "error", err)

	if w.consecutiveErrors >= maxConsecutiveErrors {
		w.state = StateReiniting
		log.Error("too many consecutive errors, reinitializing adapter", "op", op)
		w.adapter.Close()
		w.consecutiveErrors = 0
		w.state = StateScanning
		return cursor
	}

	w.state = StateBackoff
	delay := backoffBase * time.Duration(1<<uint(w.consecutiveErrors-1))
	if delay > backoffCap {
		delay = backoffCap
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	return cursor
}
