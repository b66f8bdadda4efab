// Package models holds the data types that flow through the ingestion
// pipeline: raw deployments, classified and attributed deployments, and
// the rows persisted to durable storage.
package models

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

var addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// IsValidAddress reports whether s looks like a 20-byte hex address.
func IsValidAddress(s string) bool {
	return addressRegex.MatchString(s)
}

// NormalizeAddress lowercases a hex address for use as a storage/cache key.
func NormalizeAddress(s string) string {
	return strings.ToLower(s)
}

// DeploymentKind distinguishes a direct contract creation from one
// observed through a factory-emitted log.
type DeploymentKind string

const (
	DeploymentDirect  DeploymentKind = "direct"
	DeploymentFactory DeploymentKind = "factory"
)

// ContractType is the primary interface tag assigned by the classifier.
type ContractType string

const (
	TypeERC20        ContractType = "ERC20"
	TypeERC721       ContractType = "ERC721"
	TypeERC1155      ContractType = "ERC1155"
	TypeRouter       ContractType = "Router"
	TypePool         ContractType = "Pool"
	TypeProxy        ContractType = "Proxy"
	TypeStaking      ContractType = "Staking"
	TypeMultisig     ContractType = "Multisig"
	TypeTimelock     ContractType = "Timelock"
	TypeFactory      ContractType = "Factory"
	TypeMinimalProxy ContractType = "MinimalProxy"
	TypeCloneFactory ContractType = "CloneFactory"
	TypeUnknown      ContractType = "Unknown"
	TypeError        ContractType = "Error"
)

// classifierTieBreak is the primary-type tie-break order used when two
// interfaces report the same confidence. Supplemented types sort after
// the spec's original eleven.
var classifierTieBreak = []ContractType{
	TypeERC20, TypeERC721, TypeERC1155, TypeRouter, TypePool, TypeProxy,
	TypeStaking, TypeMultisig, TypeTimelock,
	TypeFactory, TypeMinimalProxy, TypeCloneFactory,
}

// TieBreakRank returns the tie-break precedence of t (lower wins); types
// absent from the table rank last.
func TieBreakRank(t ContractType) int {
	for i, c := range classifierTieBreak {
		if c == t {
			return i
		}
	}
	return len(classifierTieBreak)
}

// Deployment is an in-flight record produced by the extractor, before
// classification or attribution.
type Deployment struct {
	ContractAddress string
	Chain           string
	DeployerAddress string
	BlockNumber     uint64
	TxIndex         uint
	LogIndex        uint
	TransactionHash string
	Kind            DeploymentKind
	FactoryAddress  string // empty unless Kind == DeploymentFactory
	CreatedAt       time.Time
}

// ERC20Info is the metadata bag for a classified ERC20 token.
type ERC20Info struct {
	Name          *string `json:"name,omitempty"`
	Symbol        *string `json:"symbol,omitempty"`
	Decimals      *uint8  `json:"decimals,omitempty"`
	TotalSupply   *string `json:"total_supply,omitempty"` // raw u256 decimal string
}

// ERC721Info is the metadata bag for a classified ERC721 collection.
type ERC721Info struct {
	Name        *string `json:"name,omitempty"`
	Symbol      *string `json:"symbol,omitempty"`
	TotalSupply *string `json:"total_supply,omitempty"`
}

// PoolInfo is the metadata bag for a classified liquidity pool.
type PoolInfo struct {
	Token0   *string `json:"token0,omitempty"`
	Token1   *string `json:"token1,omitempty"`
	Reserve0 *string `json:"reserve0,omitempty"`
	Reserve1 *string `json:"reserve1,omitempty"`
}

// ContractInfo is the tagged metadata union: at most one field is
// populated, chosen by the deployment's PrimaryType (ERC20, ERC721 or
// Pool; every other type leaves all three nil). It is typed at the
// boundary (producers set one typed field) and serialized to JSON only
// for storage, per the source's free-form metadata map.
type ContractInfo struct {
	ERC20  *ERC20Info  `json:"erc20,omitempty"`
	ERC721 *ERC721Info `json:"erc721,omitempty"`
	Pool   *PoolInfo   `json:"pool,omitempty"`
}

// JSON renders the metadata bag for the contract_info storage column.
func (c ContractInfo) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ClassifiedDeployment is a Deployment enriched with interface
// classification.
type ClassifiedDeployment struct {
	Deployment
	PrimaryType   ContractType
	AllTypes      []ContractType
	Confidence    float64
	BytecodeSize  int
	Info          ContractInfo
}

// AttributedDeployment is a ClassifiedDeployment enriched with entity
// attribution for the deployer address.
type AttributedDeployment struct {
	ClassifiedDeployment
	EntityName *string
	EntityID   *string
}

// ContractRow is the durable record written to the contracts table.
// Primary key is (Chain, ContractAddress); re-insertion is a no-op.
type ContractRow struct {
	ContractAddress string
	Chain           string
	DeployerAddress string
	EntityName      *string
	EntityID        *string
	BlockNumber     uint64
	TransactionHash string
	ContractType    ContractType
	ContractInfo    string // JSON-encoded metadata bag
	FactoryAddress  *string
	DeploymentType  DeploymentKind
	Timestamp       time.Time
}

// ToContractRow projects an AttributedDeployment into its durable form.
func (a AttributedDeployment) ToContractRow(now time.Time) (ContractRow, error) {
	infoJSON, err := a.Info.JSON()
	if err != nil {
		return ContractRow{}, err
	}
	var factory *string
	if a.Kind == DeploymentFactory && a.FactoryAddress != "" {
		f := a.FactoryAddress
		factory = &f
	}
	return ContractRow{
		ContractAddress: NormalizeAddress(a.ContractAddress),
		Chain:           a.Chain,
		DeployerAddress: NormalizeAddress(a.DeployerAddress),
		EntityName:      a.EntityName,
		EntityID:        a.EntityID,
		BlockNumber:     a.BlockNumber,
		TransactionHash: a.TransactionHash,
		ContractType:    a.PrimaryType,
		ContractInfo:    infoJSON,
		FactoryAddress:  factory,
		DeploymentType:  a.Kind,
		Timestamp:       now,
	}, nil
}

// ChainCursor is the per-chain resumable progress marker. Exactly one
// row exists per configured chain; it is mutated only by that chain's
// worker.
type ChainCursor struct {
	Chain               string
	LastProcessedBlock  uint64
	UpdatedAt           time.Time
}

// Less orders deployments for extraction: ascending block, tx index, log
// index, with direct deployments preceding factory deployments emitted
// by the same transaction's receipt.
func Less(a, b Deployment) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	if a.TxIndex != b.TxIndex {
		return a.TxIndex < b.TxIndex
	}
	if a.Kind != b.Kind {
		return a.Kind == DeploymentDirect
	}
	return a.LogIndex < b.LogIndex
}
