// Package chain implements the Chain Adapter: a failover RPC client over
// an ordered list of endpoints for one blockchain, built on
// github.com/ethereum/go-ethereum's ethclient, the teacher's exact RPC
// library.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainwatch/contract-monitor/internal/errs"
	"github.com/chainwatch/contract-monitor/internal/logging"
)

const (
	backoffBase = 5 * time.Second
	backoffCap  = 300 * time.Second
	maxRotations = 4 // one initial attempt plus three retries
	requestTimeout = 30 * time.Second
)

// Adapter connects to an ordered list of RPC endpoints for one chain. On
// failure it tries the next endpoint in round-robin; after a full
// rotation fails, it backs off exponentially before retrying, up to
// maxRotations total, before returning a TransportError.
type Adapter struct {
	Chain     string
	endpoints []string

	mu        sync.Mutex
	clients   []*ethclient.Client // lazily dialed, indexed like endpoints
	preferred int                 // index of the last known-good endpoint
}

// NewAdapter builds an Adapter for chain over the given ordered endpoint
// list. Endpoints are probed lazily: no dial happens until the first
// call.
func NewAdapter(chainName string, endpoints []string) *Adapter {
	return &Adapter{
		Chain:     chainName,
		endpoints: endpoints,
		clients:   make([]*ethclient.Client, len(endpoints)),
	}
}

// clientAt returns a dialed client for endpoint index i, dialing lazily
// and caching the result.
func (a *Adapter) clientAt(ctx context.Context, i int) (*ethclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clients[i] != nil {
		return a.clients[i], nil
	}
	c, err := ethclient.DialContext(ctx, a.endpoints[i])
	if err != nil {
		return nil, err
	}
	a.clients[i] = c
	return c, nil
}

func (a *Adapter) markGood(i int) {
	a.mu.Lock()
	a.preferred = i
	a.mu.Unlock()
}

func (a *Adapter) startIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preferred
}

func backoffFor(rotation int) time.Duration {
	d := backoffBase
	for i := 0; i < rotation; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// withFailover runs fn against each endpoint in round-robin order
// starting from the last known-good one, rotating on failure and
// backing off exponentially between full rotations.
func withFailover[T any](ctx context.Context, a *Adapter, op string, fn func(ctx context.Context, c *ethclient.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	n := len(a.endpoints)
	if n == 0 {
		return zero, errs.NewTransportError(op, fmt.Errorf("no RPC endpoints configured for chain %s", a.Chain))
	}

	start := a.startIndex()
	for rotation := 0; rotation < maxRotations; rotation++ {
		for step := 0; step < n; step++ {
			idx := (start + step) % n
			callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			client, err := a.clientAt(callCtx, idx)
			if err != nil {
				cancel()
				lastErr = err
				logging.ForChain(a.Chain).Warn("rpc endpoint unavailable", "op", op, "endpoint", a.endpoints[idx], "error", err)
				continue
			}
			result, err := fn(callCtx, client)
			cancel()
			if err == nil {
				a.markGood(idx)
				return result, nil
			}
			lastErr = err
			logging.ForChain(a.Chain).Warn("rpc call failed", "op", op, "endpoint", a.endpoints[idx], "error", err)
		}
		if rotation < maxRotations-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoffFor(rotation)):
			}
		}
	}
	return zero, errs.NewTransportError(op, lastErr)
}

// LatestHeight returns the current tip for the chain.
func (a *Adapter) LatestHeight(ctx context.Context) (uint64, error) {
	return withFailover(ctx, a, "latest_height", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

// GetBlockWithTransactions returns the block at height h with full
// transaction bodies.
func (a *Adapter) GetBlockWithTransactions(ctx context.Context, h uint64) (*types.Block, error) {
	return withFailover(ctx, a, "get_block", func(ctx context.Context, c *ethclient.Client) (*types.Block, error) {
		return c.BlockByNumber(ctx, new(big.Int).SetUint64(h))
	})
}

// GetTransactionReceipt returns the receipt (logs, contract_address on
// creation) for txHash.
func (a *Adapter) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return withFailover(ctx, a, "get_receipt", func(ctx context.Context, c *ethclient.Client) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, txHash)
	})
}

// TransactionSender resolves the sender of tx, used when the
// transaction's recovered signer is needed independently of the block.
func (a *Adapter) TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, txIndex uint) (common.Address, error) {
	return withFailover(ctx, a, "tx_sender", func(ctx context.Context, c *ethclient.Client) (common.Address, error) {
		return c.TransactionSender(ctx, tx, blockHash, txIndex)
	})
}

// GetCode returns the deployed bytecode at addr.
func (a *Adapter) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	return withFailover(ctx, a, "get_code", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CodeAt(ctx, addr, nil)
	})
}

// EthCall performs a read-only contract call (selector + ABI-encoded
// args already packed into data by the caller).
func (a *Adapter) EthCall(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return withFailover(ctx, a, "eth_call", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	})
}

// Close releases every dialed client. The next call dials lazily again,
// so Close also resets the adapter's connections.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, c := range a.clients {
		if c != nil {
			c.Close()
			a.clients[i] = nil
		}
	}
}
