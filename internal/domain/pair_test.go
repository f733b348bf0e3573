package domain

import "testing"

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	pair, ok := r.Resolve("BINANCE:ETHUSDT")
	if !ok || pair != PairETHUSDT {
		t.Fatalf("expected ETH/USDT, got %q ok=%v", pair, ok)
	}

	pair, ok = r.Resolve("KRAKEN:ETHUSDT")
	if !ok || pair != PairETHUSDT {
		t.Fatalf("expected alias to map to ETH/USDT, got %q ok=%v", pair, ok)
	}

	if _, ok := r.Resolve("BINANCE:DOGEUSDT"); ok {
		t.Error("expected unmapped symbol to not resolve")
	}
	if _, ok := r.Resolve(""); ok {
		t.Error("expected empty symbol to not resolve")
	}
}

func TestRegistryAliasesCoverAllPairs(t *testing.T) {
	r := NewRegistry()

	aliases := r.Aliases()
	if len(aliases) < len(Pairs) {
		t.Fatalf("expected at least one alias per pair, got %d", len(aliases))
	}

	seen := make(map[PairKey]bool)
	for _, a := range aliases {
		pair, ok := r.Resolve(a)
		if !ok {
			t.Fatalf("alias %q from Aliases() does not resolve", a)
		}
		seen[pair] = true
	}
	for _, p := range Pairs {
		if !seen[p] {
			t.Errorf("pair %q has no alias in Aliases()", p)
		}
	}
}

func TestRegistryPrimaryAlias(t *testing.T) {
	r := NewRegistry()

	sym, ok := r.PrimaryAlias(PairETHUSDC)
	if !ok || sym != "BINANCE:ETHUSDC" {
		t.Fatalf("expected BINANCE:ETHUSDC, got %q ok=%v", sym, ok)
	}

	if _, ok := r.PrimaryAlias(PairKey("DOGE/USDT")); ok {
		t.Error("expected no primary alias for untracked pair")
	}
}
