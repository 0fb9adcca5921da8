package deal

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BuildCommitment prices a member's requested quantities against the
// deal's sizes and returns a pending commitment. Requested maps size
// label to quantity; zero and negative quantities are rejected, as are
// labels the deal does not carry.
func BuildCommitment(d *Deal, userID string, requested map[string]int64, now time.Time) (Commitment, error) {
	if len(requested) == 0 {
		return Commitment{}, fmt.Errorf("commitment for deal %s has no quantities", d.ID)
	}
	if now.After(d.CommitmentEndsAt) {
		return Commitment{}, fmt.Errorf("commitment window for deal %s closed at %s", d.ID, d.CommitmentEndsAt.UTC().Format(time.RFC3339))
	}

	labels := make([]string, 0, len(requested))
	for label := range requested {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	commitment := Commitment{
		DealID:    d.ID,
		UserID:    userID,
		Status:    CommitmentPending,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, label := range labels {
		quantity := requested[label]
		if quantity <= 0 {
			return Commitment{}, fmt.Errorf("quantity for size %q must be positive, got %d", label, quantity)
		}

		size, ok := d.SizeByLabel(label)
		if !ok {
			return Commitment{}, fmt.Errorf("deal %s has no size %q", d.ID, label)
		}

		quote := Resolve(size, quantity)
		lineTotal := quote.PricePerUnit.Mul(decimal.NewFromInt(quantity))

		commitment.Lines = append(commitment.Lines, SizeCommitment{
			SizeLabel:    label,
			Quantity:     quantity,
			PricePerUnit: quote.PricePerUnit,
			TotalPrice:   lineTotal,
			AppliedTier:  quote.AppliedTier,
		})
		commitment.Total = commitment.Total.Add(lineTotal)
	}

	return commitment, nil
}
