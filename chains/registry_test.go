package chains

import (
	"errors"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	r := NewRegistry(nil)
	url, err := r.Resolve(1)
	if err != nil {
		t.Fatalf("mainnet not resolved: %v", err)
	}
	if url != "https://eth.llamarpc.com" {
		t.Fatalf("unexpected mainnet endpoint %s", url)
	}
	for _, id := range []uint64{5, 11155111, 137, 80001, 43114, 43113, 250, 4002, 100, 56, 97, 42161, 421613, 10, 420} {
		if _, err := r.Resolve(id); err != nil {
			t.Fatalf("chain %d: %v", id, err)
		}
	}
	if _, err := r.Resolve(424242); !errors.Is(err, ErrChainNotSupported) {
		t.Fatalf("want ErrChainNotSupported, got %v", err)
	}
}

func TestOverrides(t *testing.T) {
	r := NewRegistry(map[uint64]string{
		1:     "http://localhost:8545",
		56:    "",
		31337: "http://anvil:8545",
	})
	if url, _ := r.Resolve(1); url != "http://localhost:8545" {
		t.Fatalf("override ignored: %s", url)
	}
	if _, err := r.Resolve(56); !errors.Is(err, ErrChainNotSupported) {
		t.Fatalf("removed chain still resolves")
	}
	if _, err := r.Resolve(31337); err != nil {
		t.Fatalf("added chain: %v", err)
	}
	if DefaultEndpoints[1] != "https://eth.llamarpc.com" {
		t.Fatalf("default table mutated")
	}
	ids := r.ChainIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("ids not sorted: %v", ids)
		}
	}
}
