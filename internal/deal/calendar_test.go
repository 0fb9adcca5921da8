package deal

import (
	"testing"
	"time"
)

func TestWindowForDefaultRule(t *testing.T) {
	w := WindowFor(2026, time.March)

	if !w.DealStartAt.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("deal start = %s", w.DealStartAt)
	}
	if !w.CommitmentEndsAt.Equal(time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("commitment end = %s", w.CommitmentEndsAt)
	}
	if w.DealEndsAt.Month() != time.March || w.DealEndsAt.Day() != 31 {
		t.Fatalf("deal end = %s, want end of March", w.DealEndsAt)
	}
	if !w.CommitmentStartAt.Before(w.CommitmentEndsAt) {
		t.Fatal("commitment window inverted")
	}
}

func TestWindowForOverrideWins(t *testing.T) {
	w := WindowFor(2026, time.December)

	if !w.CommitmentEndsAt.Equal(time.Date(2026, time.December, 8, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("override commitment end = %s, want Dec 8", w.CommitmentEndsAt)
	}
	if w.DealEndsAt.Day() != 20 {
		t.Fatalf("override deal end = %s, want Dec 20", w.DealEndsAt)
	}
}

func TestNewDealStartsInactive(t *testing.T) {
	now := time.Now().UTC()
	d, err := NewDeal("deal-1", "March Coffee", "distributor-1", 2026, time.March, []Size{testSize()}, 10, now)
	if err != nil {
		t.Fatalf("NewDeal: %v", err)
	}
	if d.Status != StatusInactive {
		t.Fatalf("status = %s, want inactive", d.Status)
	}
	if !d.CommitmentStartAt.Before(d.CommitmentEndsAt) || !d.DealStartAt.Before(d.DealEndsAt) {
		t.Fatal("window timestamps inverted")
	}
}

func TestNewDealRejectsMalformedTiers(t *testing.T) {
	size := testSize()
	size.Tiers[1].Price = size.Tiers[0].Price

	if _, err := NewDeal("deal-1", "Bad", "distributor-1", 2026, time.March, []Size{size}, 10, time.Now().UTC()); err == nil {
		t.Fatal("expected tier validation error at authoring time")
	}
}
