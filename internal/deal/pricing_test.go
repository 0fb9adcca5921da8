package deal

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testSize() Size {
	return Size{
		Label:         "1kg",
		OriginalCost:  decimal.NewFromInt(120),
		DiscountPrice: decimal.NewFromInt(100),
		Tiers: []Tier{
			{Quantity: 10, Price: decimal.NewFromInt(90)},
			{Quantity: 25, Price: decimal.NewFromInt(80)},
		},
	}
}

func TestResolveTierSelection(t *testing.T) {
	size := testSize()

	cases := []struct {
		quantity int64
		price    int64
		tier     *int64
	}{
		{5, 100, nil},
		{10, 90, ptr(int64(10))},
		{24, 90, ptr(int64(10))},
		{25, 80, ptr(int64(25))},
		{100, 80, ptr(int64(25))},
	}

	for _, tc := range cases {
		quote := Resolve(size, tc.quantity)
		if !quote.PricePerUnit.Equal(decimal.NewFromInt(tc.price)) {
			t.Fatalf("quantity %d: price = %s, want %d", tc.quantity, quote.PricePerUnit, tc.price)
		}
		if tc.tier == nil {
			if quote.AppliedTier != nil {
				t.Fatalf("quantity %d: unexpected tier %d", tc.quantity, *quote.AppliedTier)
			}
			continue
		}
		if quote.AppliedTier == nil {
			t.Fatalf("quantity %d: expected tier %d, got none", tc.quantity, *tc.tier)
		}
		if *quote.AppliedTier != *tc.tier {
			t.Fatalf("quantity %d: tier = %d, want %d", tc.quantity, *quote.AppliedTier, *tc.tier)
		}
	}
}

func TestResolveNoTiers(t *testing.T) {
	size := testSize()
	size.Tiers = nil

	quote := Resolve(size, 1000)
	if !quote.PricePerUnit.Equal(size.DiscountPrice) {
		t.Fatalf("price = %s, want base discount %s", quote.PricePerUnit, size.DiscountPrice)
	}
	if quote.AppliedTier != nil {
		t.Fatal("no tier should apply without a tier list")
	}
}

func TestResolvePanicsOnMalformedTiers(t *testing.T) {
	size := testSize()
	size.Tiers = []Tier{
		{Quantity: 25, Price: decimal.NewFromInt(80)},
		{Quantity: 10, Price: decimal.NewFromInt(90)},
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unsorted tiers")
		}
	}()
	Resolve(size, 30)
}

func TestValidateTiers(t *testing.T) {
	cases := []struct {
		name    string
		tiers   []Tier
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []Tier{{Quantity: 10, Price: decimal.NewFromInt(90)}}, false},
		{"ascending quantity deepening discount", []Tier{
			{Quantity: 10, Price: decimal.NewFromInt(90)},
			{Quantity: 25, Price: decimal.NewFromInt(80)},
		}, false},
		{"duplicate quantity", []Tier{
			{Quantity: 10, Price: decimal.NewFromInt(90)},
			{Quantity: 10, Price: decimal.NewFromInt(80)},
		}, true},
		{"price not undercutting", []Tier{
			{Quantity: 10, Price: decimal.NewFromInt(90)},
			{Quantity: 25, Price: decimal.NewFromInt(90)},
		}, true},
		{"zero quantity", []Tier{{Quantity: 0, Price: decimal.NewFromInt(90)}}, true},
		{"zero price", []Tier{{Quantity: 10, Price: decimal.Zero}}, true},
	}

	for _, tc := range cases {
		err := ValidateTiers(tc.tiers)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
