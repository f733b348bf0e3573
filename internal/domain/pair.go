package domain

// PairKey identifies one of the fixed set of tracked trading pairs.
type PairKey string

const (
	PairETHUSDC PairKey = "ETH/USDC"
	PairETHUSDT PairKey = "ETH/USDT"
	PairETHBTC  PairKey = "ETH/BTC"
)

// Pairs lists every tracked pair in display order.
var Pairs = []PairKey{PairETHUSDC, PairETHUSDT, PairETHBTC}

// pairAliases maps each pair to the provider symbols that report it. The
// first alias is the primary one, used for snapshot queries.
var pairAliases = map[PairKey][]string{
	PairETHUSDC: {"BINANCE:ETHUSDC", "KRAKEN:ETHUSDC"},
	PairETHUSDT: {"BINANCE:ETHUSDT", "KRAKEN:ETHUSDT"},
	PairETHBTC:  {"BINANCE:ETHBTC", "COINBASE:ETH-BTC"},
}

// Registry resolves provider symbol aliases to canonical pairs. The pair set
// is closed and known at build time; Registry is immutable after construction.
type Registry struct {
	byAlias map[string]PairKey
}

func NewRegistry() *Registry {
	byAlias := make(map[string]PairKey)
	for pair, aliases := range pairAliases {
		for _, a := range aliases {
			byAlias[a] = pair
		}
	}
	return &Registry{byAlias: byAlias}
}

// Resolve returns the pair owning the given alias, or false when the alias is
// outside the registry. Unresolved aliases are invalid input, never an error.
func (r *Registry) Resolve(alias string) (PairKey, bool) {
	pair, ok := r.byAlias[alias]
	return pair, ok
}

// PrimaryAlias returns the alias used for secondary snapshot queries.
func (r *Registry) PrimaryAlias(pair PairKey) (string, bool) {
	aliases, ok := pairAliases[pair]
	if !ok || len(aliases) == 0 {
		return "", false
	}
	return aliases[0], true
}

// Aliases returns every tracked alias across all pairs, in pair order. The
// feed subscribes to the full alias set, not one alias per pair.
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.byAlias))
	for _, pair := range Pairs {
		out = append(out, pairAliases[pair]...)
	}
	return out
}

// PairsWithPrimary returns (pair, primary alias) rows for the pairs listing.
func (r *Registry) PairsWithPrimary() []PairSymbol {
	out := make([]PairSymbol, 0, len(Pairs))
	for _, pair := range Pairs {
		out = append(out, PairSymbol{Pair: pair, Symbol: pairAliases[pair][0]})
	}
	return out
}

type PairSymbol struct {
	Pair   PairKey `json:"pair"`
	Symbol string  `json:"symbol"`
}
