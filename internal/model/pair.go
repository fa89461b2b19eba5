package model

import "github.com/shopspring/decimal"

// CurrencyPair is one row of the currpairdetails catalog. Pairs whose
// contract size is NULL in the catalog are retained but ineligible: they are
// never subscribed and never produce ticks.
type CurrencyPair struct {
	Symbol          string          `json:"symbol"`
	ContractSize    decimal.Decimal `json:"contract_size"`
	HasContractSize bool            `json:"has_contract_size"`
}

// Eligible reports whether this pair may be subscribed and normalized.
func (p *CurrencyPair) Eligible() bool {
	return p.HasContractSize && !p.ContractSize.IsZero()
}

// Catalog is the immutable currency-pair set loaded once at bootstrap.
// It is safe for concurrent readers after construction.
type Catalog struct {
	pairs []CurrencyPair
	bySym map[string]CurrencyPair
}

// NewCatalog builds a catalog preserving the load order of pairs.
func NewCatalog(pairs []CurrencyPair) *Catalog {
	c := &Catalog{
		pairs: pairs,
		bySym: make(map[string]CurrencyPair, len(pairs)),
	}
	for _, p := range pairs {
		c.bySym[p.Symbol] = p
	}
	return c
}

// Eligible returns the subscribable pairs in load order.
func (c *Catalog) Eligible() []CurrencyPair {
	out := make([]CurrencyPair, 0, len(c.pairs))
	for _, p := range c.pairs {
		if p.Eligible() {
			out = append(out, p)
		}
	}
	return out
}

// ContractSize returns the contract size for symbol and whether one is known.
func (c *Catalog) ContractSize(symbol string) (decimal.Decimal, bool) {
	p, ok := c.bySym[symbol]
	if !ok || !p.Eligible() {
		return decimal.Decimal{}, false
	}
	return p.ContractSize, true
}

// Len returns the total number of catalog rows, eligible or not.
func (c *Catalog) Len() int {
	return len(c.pairs)
}
