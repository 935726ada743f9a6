package enums

import "fmt"

// StockPolicy selects when cart quantities are validated against stock.
// Deferred carts accept over-stock quantities and surface warnings; strict
// carts reject any mutation whose resulting quantity exceeds stock.
type StockPolicy string

const (
	StockPolicyDeferred StockPolicy = "deferred"
	StockPolicyStrict   StockPolicy = "strict"
)

var validStockPolicies = []StockPolicy{
	StockPolicyDeferred,
	StockPolicyStrict,
}

// String implements fmt.Stringer.
func (p StockPolicy) String() string {
	return string(p)
}

// IsValid reports whether the value is a known StockPolicy.
func (p StockPolicy) IsValid() bool {
	for _, candidate := range validStockPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseStockPolicy converts raw input into a StockPolicy.
func ParseStockPolicy(value string) (StockPolicy, error) {
	policy := StockPolicy(value)
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid stock policy %q", value)
	}
	return policy, nil
}
