package deal

import "time"

// Window holds the four timestamps of a monthly deal cycle.
type Window struct {
	DealStartAt       time.Time
	DealEndsAt        time.Time
	CommitmentStartAt time.Time
	CommitmentEndsAt  time.Time
}

// monthKey addresses a calendar month for window overrides.
type monthKey struct {
	Year  int
	Month time.Month
}

// windowOverrides lists months whose cycle deviates from the default
// rule. Irregular months are data here, not branching logic.
var windowOverrides = map[monthKey]Window{
	// December cycles close early for the holidays.
	{2025, time.December}: {
		DealStartAt:       time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
		DealEndsAt:        time.Date(2025, time.December, 20, 18, 0, 0, 0, time.UTC),
		CommitmentStartAt: time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
		CommitmentEndsAt:  time.Date(2025, time.December, 8, 18, 0, 0, 0, time.UTC),
	},
	{2026, time.December}: {
		DealStartAt:       time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC),
		DealEndsAt:        time.Date(2026, time.December, 20, 18, 0, 0, 0, time.UTC),
		CommitmentStartAt: time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC),
		CommitmentEndsAt:  time.Date(2026, time.December, 8, 18, 0, 0, 0, time.UTC),
	},
}

// WindowFor computes the deal and commitment windows for a calendar
// month. The default cycle opens commitments from the 1st until the 10th
// at 18:00 UTC and lets the deal run to the end of the month; months
// listed in the override table use their explicit boundaries instead.
func WindowFor(year int, month time.Month) Window {
	if w, ok := windowOverrides[monthKey{year, month}]; ok {
		return w
	}

	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Window{
		DealStartAt:       start,
		DealEndsAt:        start.AddDate(0, 1, 0).Add(-time.Second),
		CommitmentStartAt: start,
		CommitmentEndsAt:  time.Date(year, month, 10, 18, 0, 0, 0, time.UTC),
	}
}

// NewDeal authors an inactive deal for the given cycle month after
// validating every size's tier list.
func NewDeal(id, name, distributorID string, year int, month time.Month, sizes []Size, minQty int64, now time.Time) (*Deal, error) {
	for _, size := range sizes {
		if err := ValidateTiers(size.Tiers); err != nil {
			return nil, err
		}
	}

	w := WindowFor(year, month)
	return &Deal{
		ID:                id,
		Name:              name,
		DistributorID:     distributorID,
		Status:            StatusInactive,
		DealStartAt:       w.DealStartAt,
		DealEndsAt:        w.DealEndsAt,
		CommitmentStartAt: w.CommitmentStartAt,
		CommitmentEndsAt:  w.CommitmentEndsAt,
		MinQtyForDiscount: minQty,
		Sizes:             sizes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}
