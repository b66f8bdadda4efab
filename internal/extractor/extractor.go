// Package extractor turns a block range into an ordered sequence of
// contract deployment events, by direct creation (tx.To == nil) and by
// factory (a receipt log matching a configured factory-event signature),
// grounded on the original monitor's BlockchainMonitor.get_deployments_in_range
// and _detect_factory_deployments, generalized to the log-signature
// registry the spec requires instead of a trace-API dependency.
package extractor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/errs"
	"github.com/chainwatch/contract-monitor/internal/logging"
	"github.com/chainwatch/contract-monitor/internal/models"
)

var errBlockNil = errors.New("rpc returned nil block")

func timeFromBlock(block *types.Block) time.Time {
	return time.Unix(int64(block.Time()), 0).UTC()
}

// ChainReader is the subset of the Chain Adapter the extractor needs.
type ChainReader interface {
	GetBlockWithTransactions(ctx context.Context, h uint64) (*types.Block, error)
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, txIndex uint) (common.Address, error)
}

// Extractor produces deployment events from block ranges.
type Extractor struct {
	chain      string
	reader     ChainReader
	signatures map[common.Hash]config.FactorySignature
}

// New builds an Extractor over reader, with the given factory-event
// signature registry (Design Notes §9: configurable, not hard-coded).
func New(chainName string, reader ChainReader, signatures []config.FactorySignature) *Extractor {
	byTopic := make(map[common.Hash]config.FactorySignature, len(signatures))
	for _, s := range signatures {
		byTopic[common.HexToHash(s.Topic0)] = s
	}
	return &Extractor{chain: chainName, reader: reader, signatures: byTopic}
}

// Result is the output of extracting a block range: the ordered
// deployments found, plus the set of blocks that failed to process
// (skipped, not aborting the range).
type Result struct {
	Deployments  []models.Deployment
	FailedBlocks []uint64
}

// Extract produces deployments for blocks [from, to] inclusive, in
// ascending (block, tx index, log index) order. A single failing block
// is recorded in FailedBlocks and skipped; the range never aborts.
func (e *Extractor) Extract(ctx context.Context, from, to uint64) Result {
	var res Result
	for h := from; h <= to; h++ {
		deployments, err := e.extractBlock(ctx, h)
		if err != nil {
			logging.ForChain(e.chain).Error("failed to extract block", "block", h, "error", err)
			res.FailedBlocks = append(res.FailedBlocks, h)
			continue
		}
		res.Deployments = append(res.Deployments, deployments...)
	}
	sort.SliceStable(res.Deployments, func(i, j int) bool {
		return models.Less(res.Deployments[i], res.Deployments[j])
	})
	return res
}

func (e *Extractor) extractBlock(ctx context.Context, h uint64) ([]models.Deployment, error) {
	block, err := e.reader.GetBlockWithTransactions(ctx, h)
	if err != nil {
		return nil, errs.NewTransportError("get_block", err)
	}
	if block == nil {
		return nil, errs.NewProtocolError("get_block", errBlockNil)
	}

	var out []models.Deployment
	for txIndex, tx := range block.Transactions() {
		receipt, err := e.reader.GetTransactionReceipt(ctx, tx.Hash())
		if err != nil {
			logging.ForChain(e.chain).Warn("failed to fetch receipt", "tx", tx.Hash().Hex(), "error", err)
			continue
		}

		if tx.To() == nil {
			if d, ok := e.directDeployment(ctx, tx, receipt, block, uint(txIndex)); ok {
				out = append(out, d)
			}
			continue
		}

		deployments, err := e.factoryDeployments(ctx, tx, receipt, block, uint(txIndex))
		if err != nil {
			logging.ForChain(e.chain).Warn("failed to recover factory deployment sender", "tx", tx.Hash().Hex(), "error", err)
			continue
		}
		out = append(out, deployments...)
	}
	return out, nil
}

func (e *Extractor) directDeployment(ctx context.Context, tx *types.Transaction, receipt *types.Receipt, block *types.Block, txIndex uint) (models.Deployment, bool) {
	if receipt.ContractAddress == (common.Address{}) {
		return models.Deployment{}, false
	}
	sender, err := e.reader.TransactionSender(ctx, tx, block.Hash(), txIndex)
	if err != nil {
		logging.ForChain(e.chain).Warn("failed to recover tx sender", "tx", tx.Hash().Hex(), "error", err)
		return models.Deployment{}, false
	}
	return models.Deployment{
		ContractAddress: receipt.ContractAddress.Hex(),
		Chain:           e.chain,
		DeployerAddress: sender.Hex(),
		BlockNumber:     block.NumberU64(),
		TxIndex:         txIndex,
		TransactionHash: tx.Hash().Hex(),
		Kind:            models.DeploymentDirect,
		CreatedAt:       timeFromBlock(block),
	}, true
}

// factoryDeployments scans receipt's logs for any matching factory-event
// signature and, only if at least one matches, recovers the
// transaction's sender once to use as every resulting deployment's
// deployer address (spec.md §4.2: deployer = tx origin, never a
// log-derived value).
func (e *Extractor) factoryDeployments(ctx context.Context, tx *types.Transaction, receipt *types.Receipt, block *types.Block, txIndex uint) ([]models.Deployment, error) {
	hasMatch := false
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			continue
		}
		if _, ok := e.signatures[lg.Topics[0]]; ok {
			hasMatch = true
			break
		}
	}
	if !hasMatch {
		return nil, nil
	}

	sender, err := e.reader.TransactionSender(ctx, tx, block.Hash(), txIndex)
	if err != nil {
		return nil, err
	}

	createdAt := timeFromBlock(block)
	var out []models.Deployment
	for logIndex, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			continue
		}
		sig, ok := e.signatures[lg.Topics[0]]
		if !ok {
			continue
		}
		child, ok := decodeFactoryLog(lg, sig)
		if !ok {
			continue
		}
		out = append(out, models.Deployment{
			ContractAddress: child.Hex(),
			Chain:           e.chain,
			DeployerAddress: sender.Hex(),
			BlockNumber:     block.NumberU64(),
			TxIndex:         txIndex,
			LogIndex:        uint(logIndex),
			TransactionHash: lg.TxHash.Hex(),
			Kind:            models.DeploymentFactory,
			FactoryAddress:  lg.Address.Hex(),
			CreatedAt:       createdAt,
		})
	}
	return out, nil
}

// decodeFactoryLog extracts the created child address from a log
// matching sig, per the data-word offset the registry entry declares.
func decodeFactoryLog(lg *types.Log, sig config.FactorySignature) (common.Address, bool) {
	wordStart := sig.DataWordIndex * 32
	if len(lg.Data) < wordStart+32 {
		return common.Address{}, false
	}
	return common.BytesToAddress(lg.Data[wordStart : wordStart+32]), true
}
