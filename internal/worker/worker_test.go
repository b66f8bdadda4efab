package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/chainwatch/contract-monitor/internal/chain"
)

func newTestWorker() *Worker {
	return &Worker{
		Chain:   "ethereum",
		adapter: chain.NewAdapter("ethereum", nil),
		state:   StateScanning,
	}
}

func TestHandleErrorEntersBackoffBeforeThreshold(t *testing.T) {
	w := newTestWorker()
	ctx := context.Background()

	for i := 0; i < maxConsecutiveErrors-1; i++ {
		w.handleError(ctx, 10, "test_op", errors.New("boom"))
		if w.state != StateBackoff {
			t.Fatalf("after %d errors, state = %v, want Backoff", i+1, w.state)
		}
	}
	if w.consecutiveErrors != maxConsecutiveErrors-1 {
		t.Fatalf("consecutiveErrors = %d, want %d", w.consecutiveErrors, maxConsecutiveErrors-1)
	}
}

func TestHandleErrorReinitializesAtThreshold(t *testing.T) {
	w := newTestWorker()
	ctx := context.Background()

	for i := 0; i < maxConsecutiveErrors; i++ {
		w.handleError(ctx, 10, "test_op", errors.New("boom"))
	}
	if w.state != StateScanning {
		t.Fatalf("state after reinit = %v, want Scanning (resumed)", w.state)
	}
	if w.consecutiveErrors != 0 {
		t.Fatalf("consecutiveErrors after reinit = %d, want 0", w.consecutiveErrors)
	}
}

func TestCommonAddressParsesHex(t *testing.T) {
	addr := commonAddress("0x000000000000000000000000000000000000dEaD")
	if addr.Hex() != "0x000000000000000000000000000000000000dEaD" {
		t.Errorf("commonAddress round-trip = %v", addr.Hex())
	}
}
