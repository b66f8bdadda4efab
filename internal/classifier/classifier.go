// Package classifier assigns a primary interface type to a contract
// address by scanning its bytecode for known 4-byte function selectors
// and, for the primary type, reading a handful of view functions for
// metadata. Grounded on original_source/contract_analyzer.py's
// analyze_bytecode/get_contract_info, adapted to spec.md §4.3's exact
// required-selector tables.
package classifier

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/contract-monitor/internal/errs"
	"github.com/chainwatch/contract-monitor/internal/logging"
	"github.com/chainwatch/contract-monitor/internal/models"
)

var errShortReturn = errors.New("eth_call returned fewer bytes than expected")

// Reader is the subset of the Chain Adapter the classifier needs.
type Reader interface {
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)
	EthCall(ctx context.Context, addr common.Address, data []byte) ([]byte, error)
}

// Classifier assigns interface types and metadata to contract addresses.
type Classifier struct {
	chain  string
	reader Reader
}

// New builds a Classifier over reader.
func New(chainName string, reader Reader) *Classifier {
	return &Classifier{chain: chainName, reader: reader}
}

const (
	selName        = "0x06fdde03"
	selSymbol      = "0x95d89b41"
	selDecimals    = "0x313ce567"
	selTotalSupply = "0x18160ddd"
	selToken0      = "0x0dfe1681"
	selToken1      = "0xd21220a7"
	selGetReserves = "0x0902f1ac"
)

// eip1967ImplementationSlot is the storage slot keccak256("eip1967.proxy.implementation") - 1,
// as a lowercase hex string without the 0x prefix.
const eip1967ImplementationSlot = "360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bb"

// delegatecallOpcode is the EVM DELEGATECALL opcode.
const delegatecallOpcode = 0xf4

// Classify assigns a primary type, all matched types, confidence, and
// (for the primary type) metadata for the contract at addr.
func (c *Classifier) Classify(ctx context.Context, addr common.Address) models.ClassifiedDeployment {
	var cd models.ClassifiedDeployment

	code, err := c.reader.GetCode(ctx, addr)
	if err != nil {
		logging.ForChain(c.chain).Error("failed to fetch bytecode", "address", addr.Hex(), "error", errs.NewClassifierError("get_code", err))
		cd.PrimaryType = models.TypeError
		cd.AllTypes = []models.ContractType{models.TypeError}
		return cd
	}
	if len(code) == 0 {
		cd.PrimaryType = models.TypeUnknown
		cd.AllTypes = []models.ContractType{models.TypeUnknown}
		return cd
	}

	cd.BytecodeSize = len(code)
	hexBody := strings.ToLower(hex.EncodeToString(code))

	scores := map[models.ContractType]float64{}

	for _, check := range requiredSelectorSets {
		matched := countMatches(hexBody, check.Selectors)
		if matched >= check.Required {
			scores[check.Type] = clip(float64(matched) / float64(check.confidenceDenominator()))
		}
	}

	if isProxyPattern(hexBody, code) {
		scores[models.TypeProxy] = 1.0
	}
	if strings.HasPrefix(hexBody, minimalProxyPattern) {
		scores[models.TypeMinimalProxy] = 1.0
	}
	if strings.HasPrefix(hexBody, cloneFactoryPattern) {
		scores[models.TypeCloneFactory] = 1.0
	}

	if len(scores) == 0 {
		cd.PrimaryType = models.TypeUnknown
		cd.AllTypes = []models.ContractType{models.TypeUnknown}
		return cd
	}

	primary, confidence := pickPrimary(scores)
	cd.PrimaryType = primary
	cd.Confidence = confidence
	cd.AllTypes = allTypes(scores)

	logging.ForChain(c.chain).Info("classified contract",
		"address", addr.Hex(),
		"type", string(primary),
		"confidence_pct", int(confidence*100),
		"all_types", cd.AllTypes,
	)

	switch primary {
	case models.TypeERC20:
		cd.Info.ERC20 = c.readERC20(ctx, addr)
	case models.TypeERC721:
		cd.Info.ERC721 = c.readERC721(ctx, addr)
	case models.TypePool:
		cd.Info.Pool = c.readPool(ctx, addr)
	}

	return cd
}

func countMatches(hexBody string, set selectorSet) int {
	n := 0
	for sig := range set {
		if strings.Contains(hexBody, strings.TrimPrefix(sig, "0x")) {
			n++
		}
	}
	return n
}

func clip(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// isProxyPattern reports whether the first 32 bytes of code contain a
// DELEGATECALL opcode, or the bytecode anywhere references the EIP-1967
// implementation storage slot.
func isProxyPattern(hexBody string, code []byte) bool {
	head := code
	if len(head) > 32 {
		head = head[:32]
	}
	for _, b := range head {
		if b == delegatecallOpcode {
			return true
		}
	}
	return strings.Contains(hexBody, eip1967ImplementationSlot)
}

// pickPrimary selects the highest-scoring type, breaking ties with the
// spec's tie-break order.
func pickPrimary(scores map[models.ContractType]float64) (models.ContractType, float64) {
	var best models.ContractType
	bestScore := -1.0
	for t, s := range scores {
		if s > bestScore || (s == bestScore && models.TieBreakRank(t) < models.TieBreakRank(best)) {
			best = t
			bestScore = s
		}
	}
	return best, bestScore
}

func allTypes(scores map[models.ContractType]float64) []models.ContractType {
	out := make([]models.ContractType, 0, len(scores))
	for t := range scores {
		out = append(out, t)
	}
	// Stable, tie-break order for determinism.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && models.TieBreakRank(out[j]) < models.TieBreakRank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (c *Classifier) readERC20(ctx context.Context, addr common.Address) *models.ERC20Info {
	info := &models.ERC20Info{}
	if v, err := c.callString(ctx, addr, selName); err == nil {
		info.Name = &v
	}
	if v, err := c.callString(ctx, addr, selSymbol); err == nil {
		info.Symbol = &v
	}
	if v, err := c.callUint8(ctx, addr, selDecimals); err == nil {
		info.Decimals = &v
	}
	if v, err := c.callUint256(ctx, addr, selTotalSupply); err == nil {
		info.TotalSupply = &v
	}
	return info
}

func (c *Classifier) readERC721(ctx context.Context, addr common.Address) *models.ERC721Info {
	info := &models.ERC721Info{}
	if v, err := c.callString(ctx, addr, selName); err == nil {
		info.Name = &v
	}
	if v, err := c.callString(ctx, addr, selSymbol); err == nil {
		info.Symbol = &v
	}
	if v, err := c.callUint256(ctx, addr, selTotalSupply); err == nil {
		info.TotalSupply = &v
	}
	return info
}

func (c *Classifier) readPool(ctx context.Context, addr common.Address) *models.PoolInfo {
	info := &models.PoolInfo{}
	if v, err := c.callAddress(ctx, addr, selToken0); err == nil {
		s := v.Hex()
		info.Token0 = &s
	}
	if v, err := c.callAddress(ctx, addr, selToken1); err == nil {
		s := v.Hex()
		info.Token1 = &s
	}
	if r0, r1, err := c.callReserves(ctx, addr); err == nil {
		s0, s1 := r0.String(), r1.String()
		info.Reserve0 = &s0
		info.Reserve1 = &s1
	}
	return info
}

// callReserves invokes getReserves() and decodes the (uint112 reserve0,
// uint112 reserve1, uint32 blockTimestampLast) tuple, matching
// _get_pool_info in the original analyzer.
func (c *Classifier) callReserves(ctx context.Context, addr common.Address) (*big.Int, *big.Int, error) {
	out, err := c.call(ctx, addr, selGetReserves)
	if err != nil {
		return nil, nil, err
	}
	if len(out) < 64 {
		return nil, nil, errs.NewClassifierError("decode reserves", errShortReturn)
	}
	reserve0 := new(big.Int).SetBytes(out[:32])
	reserve1 := new(big.Int).SetBytes(out[32:64])
	return reserve0, reserve1, nil
}

func (c *Classifier) call(ctx context.Context, addr common.Address, selector string) ([]byte, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(selector, "0x"))
	if err != nil {
		return nil, err
	}
	out, err := c.reader.EthCall(ctx, addr, data)
	if err != nil {
		return nil, errs.NewClassifierError("eth_call:"+selector, err)
	}
	return out, nil
}

func (c *Classifier) callString(ctx context.Context, addr common.Address, selector string) (string, error) {
	out, err := c.call(ctx, addr, selector)
	if err != nil {
		return "", err
	}
	return decodeString(out)
}

func (c *Classifier) callUint8(ctx context.Context, addr common.Address, selector string) (uint8, error) {
	out, err := c.call(ctx, addr, selector)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, errs.NewClassifierError("decode uint8", errShortReturn)
	}
	return out[31], nil
}

func (c *Classifier) callUint256(ctx context.Context, addr common.Address, selector string) (string, error) {
	out, err := c.call(ctx, addr, selector)
	if err != nil {
		return "", err
	}
	if len(out) < 32 {
		return "", errs.NewClassifierError("decode uint256", errShortReturn)
	}
	return new(big.Int).SetBytes(out[:32]).String(), nil
}

func (c *Classifier) callAddress(ctx context.Context, addr common.Address, selector string) (common.Address, error) {
	out, err := c.call(ctx, addr, selector)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 32 {
		return common.Address{}, errs.NewClassifierError("decode address", errShortReturn)
	}
	return common.BytesToAddress(out[:32]), nil
}

func decodeString(out []byte) (string, error) {
	if len(out) < 64 {
		return "", errs.NewClassifierError("decode string", errShortReturn)
	}
	length := new(big.Int).SetBytes(out[32:64]).Uint64()
	start := uint64(64)
	if uint64(len(out)) < start+length {
		return "", errs.NewClassifierError("decode string", errShortReturn)
	}
	return string(out[start : start+length]), nil
}
