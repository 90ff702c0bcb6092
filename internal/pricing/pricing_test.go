package pricing

import (
	"errors"
	"testing"
	"time"

	"smartretail/backend/internal/domain"
)

func testProducts() map[string]domain.Product {
	return map[string]domain.Product{
		"SKU-A": {SKU: "SKU-A", Name: "Wireless Mouse", PriceCents: 10_000, Stock: 5},
		"SKU-B": {SKU: "SKU-B", Name: "Premium Tea", PriceCents: 5_000, Stock: 1},
	}
}

func flat10(used int) *domain.Coupon {
	return &domain.Coupon{
		Code:         "FLAT10",
		Type:         domain.CouponTypeFlat,
		ValueCents:   1_000,
		MinBillCents: 5_000,
		ValidUntil:   time.Now().Add(48 * time.Hour),
		UsageLimit:   1,
		UsedCount:    used,
	}
}

func TestPriceFlatCouponCart(t *testing.T) {
	quote, err := Price(Input{
		Items: []domain.CartItem{
			{SKU: "SKU-A", Qty: 2},
			{SKU: "SKU-B", Qty: 1},
		},
		Products: testProducts(),
		Coupon:   flat10(0),
	})
	if err != nil {
		t.Fatalf("price cart: %v", err)
	}
	if quote.SubtotalCents != 25_000 {
		t.Fatalf("expected subtotal 25000, got %d", quote.SubtotalCents)
	}
	if quote.CouponDiscountCents != 1_000 {
		t.Fatalf("expected flat discount 1000, got %d", quote.CouponDiscountCents)
	}
	if quote.TotalCents != 24_000 {
		t.Fatalf("expected total 24000, got %d", quote.TotalCents)
	}
	if quote.TaxCents != 0 {
		t.Fatalf("expected no tax, got %d", quote.TaxCents)
	}
}

func TestPricePercentCoupon(t *testing.T) {
	coupon := &domain.Coupon{
		Code:         "PCT20",
		Type:         domain.CouponTypePercent,
		ValuePercent: 20,
		ValidUntil:   time.Now().Add(time.Hour),
		UsageLimit:   10,
	}
	quote, err := Price(Input{
		Items:    []domain.CartItem{{SKU: "SKU-A", Qty: 1}},
		Products: testProducts(),
		Coupon:   coupon,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.CouponDiscountCents != 2_000 {
		t.Fatalf("expected 20%% of 10000, got %d", quote.CouponDiscountCents)
	}
}

func TestCouponRejectionReasons(t *testing.T) {
	base := flat10(0)

	expired := *base
	expired.ValidUntil = time.Now().Add(-time.Hour)
	if err := ValidateCoupon(&expired, 10_000, "", time.Now()); !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}

	exhausted := *base
	exhausted.UsedCount = exhausted.UsageLimit
	if err := ValidateCoupon(&exhausted, 10_000, "", time.Now()); !errors.Is(err, ErrCouponLimitReached) {
		t.Fatalf("expected ErrCouponLimitReached, got %v", err)
	}

	bound := *base
	bound.BoundMobile = "9876500001"
	if err := ValidateCoupon(&bound, 10_000, "9876500002", time.Now()); !errors.Is(err, ErrCouponNotBound) {
		t.Fatalf("expected ErrCouponNotBound, got %v", err)
	}
	if err := ValidateCoupon(&bound, 10_000, "9876500001", time.Now()); err != nil {
		t.Fatalf("bound coupon with matching mobile should pass, got %v", err)
	}

	if err := ValidateCoupon(base, 1_000, "", time.Now()); !errors.Is(err, ErrCouponMinBill) {
		t.Fatalf("expected ErrCouponMinBill, got %v", err)
	}

	if err := ValidateCoupon(nil, 10_000, "", time.Now()); !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
}

func TestExpiryDiscountLadder(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		daysLeft int
		qty      int
		want     int64
	}{
		{"near expiry is free", 5, 2, 20_000},
		{"bogo window pairs", 20, 3, 10_000},
		{"bogo single unit keeps price", 20, 1, 0},
		{"half off window", 45, 2, 10_000},
		{"forty percent window", 75, 1, 4_000},
		{"far expiry untouched", 180, 2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expiry := now.Add(time.Duration(tc.daysLeft)*24*time.Hour + time.Hour)
			products := map[string]domain.Product{
				"SKU-E": {SKU: "SKU-E", Name: "Yogurt", PriceCents: 10_000, ExpiryDate: &expiry},
			}
			quote, err := Price(Input{
				Items:    []domain.CartItem{{SKU: "SKU-E", Qty: tc.qty}},
				Products: products,
				Now:      now,
			})
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if quote.ExpiryDiscountCents != tc.want {
				t.Fatalf("days=%d qty=%d: expected discount %d, got %d", tc.daysLeft, tc.qty, tc.want, quote.ExpiryDiscountCents)
			}
		})
	}
}

func TestExpiredProductGetsNoDiscount(t *testing.T) {
	now := time.Now()
	expiry := now.Add(-72 * time.Hour)
	products := map[string]domain.Product{
		"SKU-X": {SKU: "SKU-X", Name: "Old Milk", PriceCents: 6_000, ExpiryDate: &expiry},
	}
	quote, err := Price(Input{
		Items:    []domain.CartItem{{SKU: "SKU-X", Qty: 1}},
		Products: products,
		Now:      now,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.ExpiryDiscountCents != 0 {
		t.Fatalf("expired stock must not be discounted, got %d", quote.ExpiryDiscountCents)
	}
	if quote.TotalCents != 6_000 {
		t.Fatalf("expected full price 6000, got %d", quote.TotalCents)
	}
}

func TestTotalFloorsAtZero(t *testing.T) {
	now := time.Now()
	expiry := now.Add(5*24*time.Hour + time.Hour)
	products := map[string]domain.Product{
		"SKU-F": {SKU: "SKU-F", Name: "Bread", PriceCents: 10_000, ExpiryDate: &expiry},
	}
	coupon := flat10(0)
	coupon.MinBillCents = 0
	quote, err := Price(Input{
		Items:    []domain.CartItem{{SKU: "SKU-F", Qty: 2}},
		Products: products,
		Coupon:   coupon,
		Now:      now,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.ExpiryDiscountCents != 20_000 {
		t.Fatalf("expected full free discount 20000, got %d", quote.ExpiryDiscountCents)
	}
	if quote.TotalCents != 0 {
		t.Fatalf("stacked discounts must floor at zero, got %d", quote.TotalCents)
	}
}

func TestFestivalDiscount(t *testing.T) {
	quote, err := Price(Input{
		Items:          []domain.CartItem{{SKU: "SKU-A", Qty: 1}},
		Products:       testProducts(),
		FestivalActive: true,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.FestivalCents != 500 {
		t.Fatalf("expected 5%% festival discount 500, got %d", quote.FestivalCents)
	}
	if quote.TotalCents != 9_500 {
		t.Fatalf("expected total 9500, got %d", quote.TotalCents)
	}
}

func TestPointsRedemptionCap(t *testing.T) {
	customer := &domain.Customer{Mobile: "9876500001", LoyaltyPoints: 500}

	if got := RedemptionCap(customer.LoyaltyPoints, 10_000); got != 100 {
		t.Fatalf("cap should be limited by subtotal, got %d", got)
	}
	if got := RedemptionCap(30, 10_000); got != 30 {
		t.Fatalf("cap should be limited by balance, got %d", got)
	}

	_, err := Price(Input{
		Items:          []domain.CartItem{{SKU: "SKU-A", Qty: 1}},
		Products:       testProducts(),
		Customer:       customer,
		PointsToRedeem: 101,
	})
	if !errors.Is(err, ErrPointsExceedCap) {
		t.Fatalf("expected ErrPointsExceedCap, got %v", err)
	}

	quote, err := Price(Input{
		Items:          []domain.CartItem{{SKU: "SKU-A", Qty: 1}},
		Products:       testProducts(),
		Customer:       customer,
		PointsToRedeem: 100,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.TotalCents != 0 {
		t.Fatalf("100 points on a 10000 cart should zero it, got %d", quote.TotalCents)
	}
}

func TestTaxAppliesAfterDiscounts(t *testing.T) {
	quote, err := Price(Input{
		Items:          []domain.CartItem{{SKU: "SKU-A", Qty: 1}},
		Products:       testProducts(),
		Coupon:         flat10(0),
		TaxEnabled:     true,
		TaxRatePercent: 18,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// 10000 - 1000 = 9000, 18% of 9000 = 1620
	if quote.TaxCents != 1_620 {
		t.Fatalf("expected tax on discounted amount 1620, got %d", quote.TaxCents)
	}
	if quote.TotalCents != 10_620 {
		t.Fatalf("expected total 10620, got %d", quote.TotalCents)
	}
}

func TestEarnedPointsRequireCustomer(t *testing.T) {
	quote, err := Price(Input{
		Items:    []domain.CartItem{{SKU: "SKU-A", Qty: 3}},
		Products: testProducts(),
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.PointsEarned != 0 {
		t.Fatalf("anonymous sale must not earn points, got %d", quote.PointsEarned)
	}

	quote, err = Price(Input{
		Items:    []domain.CartItem{{SKU: "SKU-A", Qty: 3}},
		Products: testProducts(),
		Customer: &domain.Customer{Mobile: "9876500001"},
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.PointsEarned != 3 {
		t.Fatalf("expected 3 points on 30000 cents, got %d", quote.PointsEarned)
	}
}

func TestNormalizeItemsAggregatesDuplicates(t *testing.T) {
	items := NormalizeItems([]domain.CartItem{
		{SKU: "SKU-A", Qty: 1},
		{SKU: "SKU-B", Qty: 2},
		{SKU: "SKU-A", Qty: 1},
		{SKU: "", Qty: 5},
		{SKU: "SKU-C", Qty: 0},
	})
	if len(items) != 2 {
		t.Fatalf("expected 2 normalized lines, got %d", len(items))
	}
	if items[0].SKU != "SKU-A" || items[0].Qty != 2 {
		t.Fatalf("expected SKU-A qty 2 first, got %+v", items[0])
	}
}

func TestEmptyCartRejected(t *testing.T) {
	_, err := Price(Input{Products: testProducts()})
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}
