package models

import (
	"testing"
	"time"
)

func TestIsValidAddress(t *testing.T) {
	cases := map[string]bool{
		"0x00112233":                                 false, // too short
		"0x000000000000000000000000000000000000dEaD": true,
		"not-an-address":                              false,
		"":                                             false,
	}
	for addr, want := range cases {
		if got := IsValidAddress(addr); got != want {
			t.Errorf("IsValidAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	if got := NormalizeAddress("0xABCDEF"); got != "0xabcdef" {
		t.Errorf("NormalizeAddress lowercased incorrectly: %q", got)
	}
}

func TestTieBreakRank(t *testing.T) {
	if TieBreakRank(TypeERC20) >= TieBreakRank(TypeERC721) {
		t.Errorf("ERC20 should rank before ERC721")
	}
	if TieBreakRank(TypeFactory) <= TieBreakRank(TypeTimelock) {
		t.Errorf("supplemented types should sort after the spec's original eleven")
	}
	if TieBreakRank(ContractType("bogus")) != len(classifierTieBreak) {
		t.Errorf("unranked type should rank last")
	}
}

func TestLessOrdering(t *testing.T) {
	base := Deployment{BlockNumber: 10, TxIndex: 1, Kind: DeploymentDirect}

	higherBlock := base
	higherBlock.BlockNumber = 11
	if !Less(base, higherBlock) {
		t.Errorf("lower block number should sort first")
	}

	higherTx := base
	higherTx.TxIndex = 2
	if !Less(base, higherTx) {
		t.Errorf("lower tx index should sort first")
	}

	factory := base
	factory.Kind = DeploymentFactory
	if !Less(base, factory) {
		t.Errorf("direct deployment should sort before factory at same block/tx")
	}

	a := base
	a.LogIndex = 0
	a.Kind = DeploymentFactory
	b := base
	b.LogIndex = 1
	b.Kind = DeploymentFactory
	if !Less(a, b) {
		t.Errorf("lower log index should sort first among factory deployments")
	}
}

func TestToContractRow(t *testing.T) {
	name := "Acme Bridge"
	dep := AttributedDeployment{
		ClassifiedDeployment: ClassifiedDeployment{
			Deployment: Deployment{
				ContractAddress: "0xABCDEF0000000000000000000000000000000001",
				Chain:           "ethereum",
				DeployerAddress: "0x1234560000000000000000000000000000000002",
				BlockNumber:     100,
				TransactionHash: "0xdeadbeef",
				Kind:            DeploymentDirect,
			},
			PrimaryType: TypeERC20,
		},
		EntityName: &name,
	}

	row, err := dep.ToContractRow(time.Unix(0, 0))
	if err != nil {
		t.Fatalf("ToContractRow returned error: %v", err)
	}
	if row.ContractAddress != NormalizeAddress(dep.ContractAddress) {
		t.Errorf("contract address not normalized: %q", row.ContractAddress)
	}
	if row.FactoryAddress != nil {
		t.Errorf("direct deployment should have nil FactoryAddress, got %v", *row.FactoryAddress)
	}
	if row.ContractInfo == "" {
		t.Errorf("expected non-empty JSON metadata bag")
	}
}
