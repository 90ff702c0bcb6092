package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"smartretail/backend/internal/domain"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrUnknownProduct     = errors.New("unknown product in cart")
	ErrCouponInvalid      = errors.New("invalid coupon code")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponLimitReached = errors.New("coupon usage limit reached")
	ErrCouponNotBound     = errors.New("coupon is bound to another customer")
	ErrCouponMinBill      = errors.New("bill below coupon minimum")
	ErrPointsExceedCap    = errors.New("points redemption exceeds cap")
)

const (
	// 1 loyalty point redeems for 100 cents (one currency unit).
	pointValueCents = 100
	// 1 point earned per 100 currency units of final total.
	earnDivisorCents = 10_000

	festivalDiscountPercent = 5
)

type Input struct {
	Items          []domain.CartItem
	Products       map[string]domain.Product
	Coupon         *domain.Coupon
	Customer       *domain.Customer
	CustomerMobile string
	FestivalActive bool
	TaxEnabled     bool
	TaxRatePercent float64
	PointsToRedeem int
	Now            time.Time
}

// Price computes a quote for a cart snapshot. It mutates nothing; coupon and
// customer state are validated against the snapshot passed in.
func Price(in Input) (domain.Quote, error) {
	items := normalizeItems(in.Items)
	if len(items) == 0 {
		return domain.Quote{}, ErrEmptyCart
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	var quote domain.Quote
	for _, item := range items {
		product, ok := in.Products[item.SKU]
		if !ok {
			return domain.Quote{}, fmt.Errorf("%w: %s", ErrUnknownProduct, item.SKU)
		}
		quote.SubtotalCents += int64(item.Qty) * product.PriceCents

		stepCents, notice := expiryDiscount(product, item.Qty, now)
		quote.ExpiryDiscountCents += stepCents
		if notice != "" {
			quote.Notices = append(quote.Notices, notice)
		}
	}

	if in.Coupon != nil {
		if err := ValidateCoupon(in.Coupon, quote.SubtotalCents, in.CustomerMobile, now); err != nil {
			return domain.Quote{}, err
		}
		switch in.Coupon.Type {
		case domain.CouponTypePercent:
			quote.CouponDiscountCents = int64(float64(quote.SubtotalCents) * in.Coupon.ValuePercent / 100)
		default:
			quote.CouponDiscountCents = in.Coupon.ValueCents
		}
	}

	if in.FestivalActive {
		quote.FestivalCents = quote.SubtotalCents * festivalDiscountPercent / 100
		quote.Notices = append(quote.Notices, "festival offer applied")
	}

	if in.PointsToRedeem > 0 {
		limit := 0
		if in.Customer != nil {
			limit = redemptionCap(in.Customer.LoyaltyPoints, quote.SubtotalCents)
		}
		if in.PointsToRedeem > limit {
			return domain.Quote{}, fmt.Errorf("%w: requested %d, cap %d", ErrPointsExceedCap, in.PointsToRedeem, limit)
		}
		quote.PointsRedeemed = in.PointsToRedeem
	}

	discounted := quote.SubtotalCents -
		quote.ExpiryDiscountCents -
		quote.CouponDiscountCents -
		quote.FestivalCents -
		int64(quote.PointsRedeemed)*pointValueCents
	if discounted < 0 {
		discounted = 0
	}

	if in.TaxEnabled && in.TaxRatePercent > 0 {
		quote.TaxCents = int64(float64(discounted) * in.TaxRatePercent / 100)
	}
	quote.TotalCents = discounted + quote.TaxCents

	if in.Customer != nil {
		quote.PointsEarned = int(quote.TotalCents / earnDivisorCents)
	}
	return quote, nil
}

// ValidateCoupon checks a coupon against the snapshot values. Each rejection
// reason maps to its own sentinel so callers can tell the user why.
func ValidateCoupon(coupon *domain.Coupon, subtotalCents int64, customerMobile string, now time.Time) error {
	if coupon == nil {
		return ErrCouponInvalid
	}
	if now.After(coupon.ValidUntil) {
		return ErrCouponExpired
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return ErrCouponLimitReached
	}
	if coupon.BoundMobile != "" && coupon.BoundMobile != customerMobile {
		return ErrCouponNotBound
	}
	if subtotalCents < coupon.MinBillCents {
		return fmt.Errorf("%w: need %d cents", ErrCouponMinBill, coupon.MinBillCents)
	}
	return nil
}

// RedemptionCap is the maximum point spend for a balance and subtotal:
// min(balance, one point per whole currency unit of subtotal).
func RedemptionCap(balance int, subtotalCents int64) int {
	return redemptionCap(balance, subtotalCents)
}

func redemptionCap(balance int, subtotalCents int64) int {
	limit := int(subtotalCents / pointValueCents)
	if balance < limit {
		limit = balance
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

// expiryDiscount applies the loss-prevention step ladder for one SKU line.
// Expired stock gets no discount here; blocking its sale is the caller's job.
func expiryDiscount(product domain.Product, qty int, now time.Time) (int64, string) {
	if product.ExpiryDate == nil || qty < 1 {
		return 0, ""
	}
	days := daysUntil(now, *product.ExpiryDate)
	unit := product.PriceCents

	switch {
	case days < 0:
		return 0, fmt.Sprintf("%s is expired, remove from cart", product.Name)
	case days <= 10:
		return int64(qty) * unit, fmt.Sprintf("%s free, expires in %dd", product.Name, days)
	case days <= 30:
		free := qty / 2
		if free == 0 {
			return 0, ""
		}
		return int64(free) * unit, fmt.Sprintf("%s buy-one-get-one, %dd left", product.Name, days)
	case days <= 60:
		return int64(qty) * unit * 50 / 100, fmt.Sprintf("%s 50%% clearance, %dd left", product.Name, days)
	case days <= 90:
		return int64(qty) * unit * 40 / 100, fmt.Sprintf("%s 40%% off, %dd left", product.Name, days)
	}
	return 0, ""
}

func daysUntil(now time.Time, expiry time.Time) int {
	return int(math.Floor(expiry.Sub(now).Hours() / 24))
}

// EarnedPoints is the loyalty accrual for a committed total.
func EarnedPoints(totalCents int64) int {
	return int(totalCents / earnDivisorCents)
}

func normalizeItems(items []domain.CartItem) []domain.CartItem {
	aggregated := make(map[string]int, len(items))
	for _, item := range items {
		if item.SKU == "" || item.Qty < 1 {
			continue
		}
		aggregated[item.SKU] += item.Qty
	}

	result := make([]domain.CartItem, 0, len(aggregated))
	for sku, qty := range aggregated {
		result = append(result, domain.CartItem{SKU: sku, Qty: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result
}

// NormalizeItems aggregates duplicate SKUs and drops empty lines, preserving
// a stable SKU order.
func NormalizeItems(items []domain.CartItem) []domain.CartItem {
	return normalizeItems(items)
}
