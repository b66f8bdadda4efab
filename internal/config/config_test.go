package config

import "testing"

func TestSelectableChainsExcludesNonEVMAndEmpty(t *testing.T) {
	cfg := Config{
		Chains: map[string][]string{
			"ethereum": {"https://rpc.example/eth"},
			"bitcoin":  {"https://rpc.example/btc"},
			"empty":    {},
		},
		NonEVMChains: []string{"bitcoin"},
	}

	got := cfg.SelectableChains()
	if len(got) != 1 || got[0] != "ethereum" {
		t.Fatalf("SelectableChains() = %v, want [ethereum]", got)
	}
}

func TestResolveChainsAllExpandsToSelectable(t *testing.T) {
	cfg := Config{
		Chains: map[string][]string{
			"ethereum": {"https://rpc.example/eth"},
			"polygon":  {"https://rpc.example/poly"},
		},
	}

	got := cfg.ResolveChains([]string{"all"})
	if len(got) != 2 {
		t.Fatalf("ResolveChains([\"all\"]) = %v, want 2 chains", got)
	}
}

func TestResolveChainsExplicitSelectionSkipsUnconfigured(t *testing.T) {
	cfg := Config{
		Chains: map[string][]string{
			"ethereum": {"https://rpc.example/eth"},
		},
		NonEVMChains: []string{"bitcoin"},
	}

	got := cfg.ResolveChains([]string{"ethereum", "bitcoin", "unknown"})
	if len(got) != 1 || got[0] != "ethereum" {
		t.Fatalf("ResolveChains(explicit) = %v, want [ethereum]", got)
	}
}

func TestResolveChainsEmptySelectionDefaultsToAll(t *testing.T) {
	cfg := Config{
		Chains: map[string][]string{
			"ethereum": {"https://rpc.example/eth"},
		},
	}
	got := cfg.ResolveChains(nil)
	if len(got) != 1 {
		t.Fatalf("ResolveChains(nil) = %v, want [ethereum]", got)
	}
}

func TestValidateRequiresChainsTokenAndStorage(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to fail on empty config")
	}

	cfg.Chains = map[string][]string{"ethereum": {"https://rpc.example/eth"}}
	cfg.Attribution.Token = "secret"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to fail without mysql/redis configuration")
	}

	cfg.MySQL = MySQLConfig{Host: "db", Port: 3306, User: "root", Database: "contracts"}
	cfg.Redis = RedisConfig{Host: "cache", Port: 6379}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected Validate to pass on a complete config, got %v", err)
	}
}

func TestMySQLConfigDSN(t *testing.T) {
	m := MySQLConfig{Host: "db", Port: 3306, User: "root", Password: "pw", Database: "contracts", Charset: "utf8mb4"}
	want := "root:pw@tcp(db:3306)/contracts?charset=utf8mb4&parseTime=True&loc=Local"
	if got := m.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
