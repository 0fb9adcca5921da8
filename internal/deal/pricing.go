package deal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quote is the outcome of resolving a per-unit price for a quantity.
type Quote struct {
	PricePerUnit decimal.Decimal
	// AppliedTier is the quantity threshold of the tier that matched, or
	// nil when the base discount price applied.
	AppliedTier *int64
}

// Resolve picks the per-unit price for the given quantity from the size's
// discount tiers. Tiers are scanned from the highest threshold down; the
// highest tier whose quantity is less than or equal to the requested
// quantity wins (the boundary is inclusive). When no tier qualifies the
// base discount price applies with no tier.
//
// Resolve is pure and allocation-light; it is safe to call concurrently.
// A malformed tier list is an upstream contract violation and panics.
func Resolve(size Size, quantity int64) Quote {
	if err := ValidateTiers(size.Tiers); err != nil {
		panic(fmt.Sprintf("deal: size %q has malformed tiers: %v", size.Label, err))
	}

	for i := len(size.Tiers) - 1; i >= 0; i-- {
		tier := size.Tiers[i]
		if tier.Quantity <= quantity {
			threshold := tier.Quantity
			return Quote{PricePerUnit: tier.Price, AppliedTier: &threshold}
		}
	}

	return Quote{PricePerUnit: size.DiscountPrice}
}

// ValidateTiers checks that a tier list is strictly increasing in
// quantity and strictly deepening in discount: each tier must undercut
// the previous tier's unit price. Called at deal-authoring time; the
// reminder engine assumes it never sees a list that fails this check.
func ValidateTiers(tiers []Tier) error {
	for i, tier := range tiers {
		if tier.Quantity <= 0 {
			return fmt.Errorf("tier %d: quantity must be positive, got %d", i, tier.Quantity)
		}
		if tier.Price.Sign() <= 0 {
			return fmt.Errorf("tier %d: price must be positive, got %s", i, tier.Price)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if tier.Quantity <= prev.Quantity {
			return fmt.Errorf("tier %d: quantity %d not greater than previous %d", i, tier.Quantity, prev.Quantity)
		}
		if tier.Price.GreaterThanOrEqual(prev.Price) {
			return fmt.Errorf("tier %d: price %s does not undercut previous %s", i, tier.Price, prev.Price)
		}
	}
	return nil
}
