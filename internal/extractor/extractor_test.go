package extractor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/models"
)

type fakeChainReader struct {
	blocks    map[uint64]*types.Block
	receipts  map[common.Hash]*types.Receipt
	senders   map[common.Hash]common.Address
	failBlock map[uint64]bool
}

func (f *fakeChainReader) GetBlockWithTransactions(ctx context.Context, h uint64) (*types.Block, error) {
	if f.failBlock[h] {
		return nil, errTestRPC
	}
	return f.blocks[h], nil
}

func (f *fakeChainReader) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.receipts[txHash], nil
}

func (f *fakeChainReader) TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, txIndex uint) (common.Address, error) {
	return f.senders[tx.Hash()], nil
}

var errTestRPC = &testError{"rpc unavailable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newCreationTx() *types.Transaction {
	return types.NewContractCreation(0, big.NewInt(0), 100000, big.NewInt(1), []byte{0x60, 0x80})
}

func TestExtractDirectDeployment(t *testing.T) {
	tx := newCreationTx()
	header := &types.Header{Number: big.NewInt(5), Time: 1700000000}
	block := types.NewBlockWithHeader(header).WithBody([]*types.Transaction{tx}, nil)

	deployer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	created := common.HexToAddress("0x2222222222222222222222222222222222222222")

	reader := &fakeChainReader{
		blocks: map[uint64]*types.Block{5: block},
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): {ContractAddress: created},
		},
		senders: map[common.Hash]common.Address{tx.Hash(): deployer},
	}

	ext := New("ethereum", reader, nil)
	res := ext.Extract(context.Background(), 5, 5)

	if len(res.Deployments) != 1 {
		t.Fatalf("len(Deployments) = %d, want 1", len(res.Deployments))
	}
	d := res.Deployments[0]
	if d.Kind != models.DeploymentDirect {
		t.Errorf("Kind = %v, want direct", d.Kind)
	}
	if d.DeployerAddress != deployer.Hex() {
		t.Errorf("DeployerAddress = %v, want %v", d.DeployerAddress, deployer.Hex())
	}
	if d.ContractAddress != created.Hex() {
		t.Errorf("ContractAddress = %v, want %v", d.ContractAddress, created.Hex())
	}
}

func TestExtractFactoryDeployment(t *testing.T) {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx := types.NewTransaction(0, to, big.NewInt(0), 100000, big.NewInt(1), nil)
	header := &types.Header{Number: big.NewInt(7), Time: 1700000100}
	block := types.NewBlockWithHeader(header).WithBody([]*types.Transaction{tx}, nil)

	topic0 := common.HexToHash("0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e")
	child := common.HexToAddress("0x4444444444444444444444444444444444444444")
	childWord := make([]byte, 32)
	copy(childWord[12:], child.Bytes())

	factoryAddr := common.HexToAddress("0x5555555555555555555555555555555555555555")
	lg := &types.Log{
		Address: factoryAddr,
		Topics:  []common.Hash{topic0},
		Data:    childWord,
		TxHash:  tx.Hash(),
	}

	deployer := common.HexToAddress("0x6666666666666666666666666666666666666666")
	reader := &fakeChainReader{
		blocks: map[uint64]*types.Block{7: block},
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): {Logs: []*types.Log{lg}},
		},
		senders: map[common.Hash]common.Address{tx.Hash(): deployer},
	}

	sig := config.FactorySignature{Name: "PairCreated", Topic0: topic0.Hex(), DataWordIndex: 0}
	ext := New("ethereum", reader, []config.FactorySignature{sig})
	res := ext.Extract(context.Background(), 7, 7)

	if len(res.Deployments) != 1 {
		t.Fatalf("len(Deployments) = %d, want 1", len(res.Deployments))
	}
	d := res.Deployments[0]
	if d.Kind != models.DeploymentFactory {
		t.Errorf("Kind = %v, want factory", d.Kind)
	}
	if d.ContractAddress != child.Hex() {
		t.Errorf("ContractAddress = %v, want %v", d.ContractAddress, child.Hex())
	}
	if d.FactoryAddress != factoryAddr.Hex() {
		t.Errorf("FactoryAddress = %v, want %v", d.FactoryAddress, factoryAddr.Hex())
	}
	if d.DeployerAddress != deployer.Hex() {
		t.Errorf("DeployerAddress = %v, want %v (tx sender, not factory emitter)", d.DeployerAddress, deployer.Hex())
	}
}

func TestExtractSkipsFailedBlockWithoutAbortingRange(t *testing.T) {
	header := &types.Header{Number: big.NewInt(11), Time: 1700000200}
	block := types.NewBlockWithHeader(header)

	reader := &fakeChainReader{
		blocks:    map[uint64]*types.Block{11: block},
		failBlock: map[uint64]bool{10: true},
	}

	ext := New("ethereum", reader, nil)
	res := ext.Extract(context.Background(), 10, 11)

	if len(res.FailedBlocks) != 1 || res.FailedBlocks[0] != 10 {
		t.Fatalf("FailedBlocks = %v, want [10]", res.FailedBlocks)
	}
}

func TestTimeFromBlock(t *testing.T) {
	header := &types.Header{Number: big.NewInt(1), Time: 1700000000}
	block := types.NewBlockWithHeader(header)
	got := timeFromBlock(block)
	want := time.Unix(1700000000, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("timeFromBlock = %v, want %v", got, want)
	}
}
