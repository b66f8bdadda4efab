package classifier

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/contract-monitor/internal/models"
)

type fakeReader struct {
	code    []byte
	callRet map[string][]byte
}

func (f *fakeReader) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.code, nil
}

func (f *fakeReader) EthCall(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	return f.callRet[hex.EncodeToString(data)], nil
}

// bytecodeWithSelectors builds a synthetic bytecode blob that contains
// every given selector as a substring, the same detection shape the
// original analyzer and this classifier both use.
func bytecodeWithSelectors(selectors ...string) []byte {
	var sb strings.Builder
	sb.WriteString("6080604052") // arbitrary EVM prologue padding
	for _, s := range selectors {
		sb.WriteString(strings.TrimPrefix(s, "0x"))
	}
	raw, err := hex.DecodeString(sb.String())
	if err != nil {
		panic(err)
	}
	return raw
}

func abiString(s string) []byte {
	out := make([]byte, 32)
	out[31] = 0x20 // offset = 32
	lenWord := make([]byte, 32)
	lenWord[31] = byte(len(s))
	body := []byte(s)
	pad := (32 - len(body)%32) % 32
	body = append(body, make([]byte, pad)...)
	result := append(out, lenWord...)
	result = append(result, body...)
	return result
}

func abiUint256(v uint64) []byte {
	out := make([]byte, 32)
	out[31] = byte(v)
	return out
}

func TestClassifyEmptyBytecodeIsUnknown(t *testing.T) {
	c := New("ethereum", &fakeReader{code: nil})
	cd := c.Classify(context.Background(), common.Address{})
	if cd.PrimaryType != models.TypeUnknown {
		t.Fatalf("PrimaryType = %v, want Unknown", cd.PrimaryType)
	}
}

func TestClassifyERC20(t *testing.T) {
	selectors := []string{}
	for sel := range erc20Required {
		selectors = append(selectors, sel)
	}
	code := bytecodeWithSelectors(selectors...)

	reader := &fakeReader{
		code: code,
		callRet: map[string][]byte{
			strings.TrimPrefix(selName, "0x"):        abiString("Acme Token"),
			strings.TrimPrefix(selSymbol, "0x"):      abiString("ACME"),
			strings.TrimPrefix(selDecimals, "0x"):    abiUint256(18),
			strings.TrimPrefix(selTotalSupply, "0x"): abiUint256(1_000_000),
		},
	}
	c := New("ethereum", reader)
	cd := c.Classify(context.Background(), common.Address{})

	if cd.PrimaryType != models.TypeERC20 {
		t.Fatalf("PrimaryType = %v, want ERC20", cd.PrimaryType)
	}
	if cd.Confidence != 1.0 {
		t.Fatalf("Confidence = %v, want 1.0", cd.Confidence)
	}
	if cd.Info.ERC20 == nil || cd.Info.ERC20.Symbol == nil || *cd.Info.ERC20.Symbol != "ACME" {
		t.Fatalf("expected ERC20 metadata with symbol ACME, got %+v", cd.Info.ERC20)
	}
}

func TestClassifyBelowThresholdIsUnknown(t *testing.T) {
	// Only 3 of the 6 required ERC20 selectors: below the required 5.
	code := bytecodeWithSelectors("0x18160ddd", "0x70a08231", "0xa9059cbb")
	c := New("ethereum", &fakeReader{code: code})
	cd := c.Classify(context.Background(), common.Address{})
	if cd.PrimaryType != models.TypeUnknown {
		t.Fatalf("PrimaryType = %v, want Unknown below threshold", cd.PrimaryType)
	}
}

func TestClassifyProxyByDelegatecall(t *testing.T) {
	code := make([]byte, 40)
	code[10] = delegatecallOpcode
	c := New("ethereum", &fakeReader{code: code})
	cd := c.Classify(context.Background(), common.Address{})
	if cd.PrimaryType != models.TypeProxy {
		t.Fatalf("PrimaryType = %v, want Proxy", cd.PrimaryType)
	}
}

func TestClassifyMinimalProxyByBytecodePrefix(t *testing.T) {
	raw, err := hex.DecodeString(minimalProxyPattern + "5af43d82803e903d91602b57fd5bf3")
	if err != nil {
		t.Fatal(err)
	}
	c := New("ethereum", &fakeReader{code: raw})
	cd := c.Classify(context.Background(), common.Address{})
	// The clone's DELEGATECALL sits in its first 32 bytes, so Proxy also
	// scores 1.0 and wins the tie by rank; MinimalProxy is still matched.
	if cd.PrimaryType != models.TypeProxy {
		t.Fatalf("PrimaryType = %v, want Proxy", cd.PrimaryType)
	}
	found := false
	for _, typ := range cd.AllTypes {
		if typ == models.TypeMinimalProxy {
			found = true
		}
	}
	if !found {
		t.Fatalf("AllTypes = %v, want MinimalProxy detected by bytecode prefix", cd.AllTypes)
	}
}

func TestClassifyFactoryConfidenceDividesByFullSignatureSet(t *testing.T) {
	// Only 2 of the 6 factorySelectors present: a supplemented type, so
	// confidence is matched/len(Selectors) = 2/6, not matched/Required = 2/2.
	code := bytecodeWithSelectors("0xc9c65396", "0xa1671295")
	c := New("ethereum", &fakeReader{code: code})
	cd := c.Classify(context.Background(), common.Address{})
	if cd.PrimaryType != models.TypeFactory {
		t.Fatalf("PrimaryType = %v, want Factory", cd.PrimaryType)
	}
	want := 2.0 / float64(len(factorySelectors))
	if cd.Confidence != want {
		t.Fatalf("Confidence = %v, want %v (matched/len(signature set))", cd.Confidence, want)
	}
}

func TestPickPrimaryTieBreak(t *testing.T) {
	scores := map[models.ContractType]float64{
		models.TypeERC721: 1.0,
		models.TypeERC20:  1.0,
	}
	best, _ := pickPrimary(scores)
	if best != models.TypeERC20 {
		t.Fatalf("pickPrimary tie = %v, want ERC20 (earlier in tie-break order)", best)
	}
}
