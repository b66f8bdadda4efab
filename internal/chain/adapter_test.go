package chain

import "testing"

func TestBackoffForGrowsExponentiallyAndCaps(t *testing.T) {
	cases := []struct {
		rotation int
		want     int64 // seconds
	}{
		{0, 5},
		{1, 10},
		{2, 20},
		{3, 40},
	}
	for _, c := range cases {
		if got := backoffFor(c.rotation).Seconds(); int64(got) != c.want {
			t.Errorf("backoffFor(%d) = %vs, want %ds", c.rotation, got, c.want)
		}
	}

	if got := backoffFor(10); got != backoffCap {
		t.Errorf("backoffFor(10) = %v, want cap %v", got, backoffCap)
	}
}

func TestNewAdapterLazyDialState(t *testing.T) {
	a := NewAdapter("ethereum", []string{"https://rpc1.example", "https://rpc2.example"})
	if a.Chain != "ethereum" {
		t.Errorf("Chain = %q, want ethereum", a.Chain)
	}
	if len(a.clients) != 2 {
		t.Fatalf("len(clients) = %d, want 2", len(a.clients))
	}
	for i, c := range a.clients {
		if c != nil {
			t.Errorf("client %d should be nil until first dial", i)
		}
	}
	if a.startIndex() != 0 {
		t.Errorf("startIndex() = %d, want 0 before any successful call", a.startIndex())
	}
	a.markGood(1)
	if a.startIndex() != 1 {
		t.Errorf("startIndex() after markGood(1) = %d, want 1", a.startIndex())
	}
}
