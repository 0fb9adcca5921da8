// Package deal holds the group-buy domain model: deals with their four
// window timestamps, per-size discount tiers, and member commitments.
package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a deal.
type Status string

const (
	// StatusInactive marks a deal that was created but not yet posted by
	// its distributor.
	StatusInactive Status = "inactive"
	// StatusActive marks a posted deal whose commitment window is open or
	// upcoming.
	StatusActive Status = "active"
)

// CommitmentStatus tracks a member commitment through distributor review.
type CommitmentStatus string

const (
	CommitmentPending   CommitmentStatus = "pending"
	CommitmentApproved  CommitmentStatus = "approved"
	CommitmentDeclined  CommitmentStatus = "declined"
	CommitmentCancelled CommitmentStatus = "cancelled"
)

// Deal is a distributor-posted offer with a commitment window and a
// sell-through window.
type Deal struct {
	ID            string
	Name          string
	DistributorID string
	Status        Status

	DealStartAt       time.Time
	DealEndsAt        time.Time
	CommitmentStartAt time.Time
	CommitmentEndsAt  time.Time

	// MinQtyForDiscount is authoring metadata: the quantity a distributor
	// advertises as the point where tier pricing becomes interesting. It
	// does not gate the resolver; see Resolve.
	MinQtyForDiscount int64

	Sizes []Size

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Size is a SKU-like variant of a deal with its own pricing and tiers.
// Sizes are persisted as a JSONB column on the deal row.
type Size struct {
	Label         string          `json:"label"`
	OriginalCost  decimal.Decimal `json:"original_cost"`
	DiscountPrice decimal.Decimal `json:"discount_price"`
	// Tiers must be sorted ascending by Quantity with each tier
	// undercutting the previous unit price. Enforced at authoring time
	// by ValidateTiers.
	Tiers []Tier `json:"tiers,omitempty"`
}

// Tier maps a quantity threshold to an absolute per-unit price.
type Tier struct {
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// SizeByLabel returns the size with the given label, if present.
func (d *Deal) SizeByLabel(label string) (Size, bool) {
	for _, s := range d.Sizes {
		if s.Label == label {
			return s, true
		}
	}
	return Size{}, false
}

// Commitment is a member's pledge to purchase quantities of a deal's sizes.
type Commitment struct {
	ID        string
	DealID    string
	UserID    string
	Status    CommitmentStatus
	Lines     []SizeCommitment
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SizeCommitment is one priced line of a commitment, persisted as JSONB
// on the commitment row.
type SizeCommitment struct {
	SizeLabel    string          `json:"size_label"`
	Quantity     int64           `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	// AppliedTier is the tier quantity that set the unit price, or nil
	// when the base discount price applied.
	AppliedTier *int64 `json:"applied_tier,omitempty"`
}

// Member is a marketplace participant eligible to receive reminders.
type Member struct {
	ID      string
	Name    string
	Email   string
	Active  bool
	Blocked bool
}
