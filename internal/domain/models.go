package domain

import "time"

type Product struct {
	SKU         string     `json:"sku"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	PriceCents  int64      `json:"price_cents"`
	CostCents   int64      `json:"cost_cents"`
	Stock       int        `json:"stock"`
	SalesCount  int        `json:"sales_count"`
	LastRestock *time.Time `json:"last_restock,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	DeadStock   bool       `json:"dead_stock"`
}

type ProductCreateRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
	ExpiryDate   string `json:"expiry_date,omitempty"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	CostCents  *int64  `json:"cost_cents,omitempty"`
	ExpiryDate *string `json:"expiry_date,omitempty"`
}

type RestockRequest struct {
	Qty int `json:"qty"`
}

type DeadStockRequest struct {
	DeadStock bool `json:"dead_stock"`
}

type CartItem struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type SaleLine struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Sale struct {
	ID                 string     `json:"id"`
	TerminalID         string     `json:"terminal_id"`
	Operator           string     `json:"operator"`
	CustomerMobile     string     `json:"customer_mobile,omitempty"`
	PaymentMethod      string     `json:"payment_method"`
	SubtotalCents      int64      `json:"subtotal_cents"`
	DiscountCents      int64      `json:"discount_cents"`
	TaxCents           int64      `json:"tax_cents"`
	TotalCents         int64      `json:"total_cents"`
	CouponCode         string     `json:"coupon_code,omitempty"`
	PointsRedeemed     int        `json:"points_redeemed"`
	PointsEarned       int        `json:"points_earned"`
	IntegrityHash      string     `json:"integrity_hash"`
	Status             string     `json:"status"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	TimeTakenSeconds   float64    `json:"time_taken_seconds"`
	CreatedAt          time.Time  `json:"created_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	Lines              []SaleLine `json:"lines"`
}

type QuoteRequest struct {
	CartItems      []CartItem `json:"cart_items"`
	CouponCode     string     `json:"coupon_code,omitempty"`
	CustomerMobile string     `json:"customer_mobile,omitempty"`
	PointsToRedeem int        `json:"points_to_redeem"`
}

type Quote struct {
	SubtotalCents       int64    `json:"subtotal_cents"`
	ExpiryDiscountCents int64    `json:"expiry_discount_cents"`
	CouponDiscountCents int64    `json:"coupon_discount_cents"`
	FestivalCents       int64    `json:"festival_discount_cents"`
	PointsRedeemed      int      `json:"points_redeemed"`
	TaxCents            int64    `json:"tax_cents"`
	TotalCents          int64    `json:"total_cents"`
	PointsEarned        int      `json:"points_earned"`
	Notices             []string `json:"notices,omitempty"`
}

type CommitSaleRequest struct {
	TerminalID       string     `json:"terminal_id"`
	CartItems        []CartItem `json:"cart_items"`
	PaymentMethod    string     `json:"payment_method"`
	CouponCode       string     `json:"coupon_code,omitempty"`
	CustomerMobile   string     `json:"customer_mobile,omitempty"`
	PointsToRedeem   int        `json:"points_to_redeem"`
	TimeTakenSeconds float64    `json:"time_taken_seconds"`
}

type CommitSaleResponse struct {
	Sale       Sale     `json:"sale"`
	Quote      Quote    `json:"quote"`
	FraudFlags []string `json:"fraud_flags,omitempty"`
	AutoCoupon string   `json:"auto_coupon,omitempty"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason"`
}

type SaleVerifyResponse struct {
	SaleID       string `json:"sale_id"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	Match        bool   `json:"match"`
}

type SaleFilter struct {
	SaleID   string
	Operator string
	Date     string
	Limit    int
}

type Customer struct {
	Mobile          string    `json:"mobile"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Visits          int       `json:"visits"`
	TotalSpendCents int64     `json:"total_spend_cents"`
	LoyaltyPoints   int       `json:"loyalty_points"`
	Segment         string    `json:"segment"`
	CreatedAt       time.Time `json:"created_at"`
}

type CustomerUpsertRequest struct {
	Mobile string `json:"mobile"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type Coupon struct {
	Code         string    `json:"code"`
	Type         string    `json:"type"`
	ValueCents   int64     `json:"value_cents,omitempty"`
	ValuePercent float64   `json:"value_percent,omitempty"`
	MinBillCents int64     `json:"min_bill_cents"`
	ValidUntil   time.Time `json:"valid_until"`
	UsageLimit   int       `json:"usage_limit"`
	UsedCount    int       `json:"used_count"`
	BoundMobile  string    `json:"bound_mobile,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type CouponCreateRequest struct {
	Code         string  `json:"code"`
	Type         string  `json:"type"`
	ValueCents   int64   `json:"value_cents"`
	ValuePercent float64 `json:"value_percent"`
	MinBillCents int64   `json:"min_bill_cents"`
	DaysValid    int     `json:"days_valid"`
	UsageLimit   int     `json:"usage_limit"`
	BoundMobile  string  `json:"bound_mobile,omitempty"`
}

type CouponValidateResponse struct {
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
	Coupon *Coupon `json:"coupon,omitempty"`
}

type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CampaignCreateRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

type Terminal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type TerminalCreateRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type TerminalUpdateRequest struct {
	Status string `json:"status"`
}

// TerminalSession is one lock row. Shared marks multi-tenant back-office
// sessions, which coexist with a physical-terminal lock for the same user.
type TerminalSession struct {
	TerminalID string    `json:"terminal_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	Shared     bool      `json:"shared"`
	LoginAt    time.Time `json:"login_at"`
}

type TerminalStatus struct {
	Terminal Terminal `json:"terminal"`
	Occupant string   `json:"occupant,omitempty"`
	Occupied bool     `json:"occupied"`
}

type StockRequest struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	ProductName string    `json:"product_name"`
	Qty         int       `json:"qty"`
	Notes       string    `json:"notes"`
	Status      string    `json:"status"`
	RequestedBy string    `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type StockRequestCreateRequest struct {
	SKU   string `json:"sku"`
	Qty   int    `json:"qty"`
	Notes string `json:"notes"`
}

type StockRequestUpdateRequest struct {
	Status string `json:"status"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TerminalID string `json:"terminal_id"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	TerminalID  string `json:"terminal_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	FullName  string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
}

type UserUpdateRequest struct {
	Active   *bool   `json:"active,omitempty"`
	Password *string `json:"password,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleOperator  = "operator"
	RoleInventory = "inventory"
)

// ValidRole reports whether role belongs to the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleOperator, RoleInventory:
		return true
	}
	return false
}

// CanCancelSale encodes the reversal permission matrix: managers and admins
// may cancel any sale, operators only their own.
func CanCancelSale(actor Actor, saleOperator string) bool {
	switch actor.Role {
	case RoleAdmin, RoleManager:
		return true
	case RoleOperator:
		return actor.Username == saleOperator
	}
	return false
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	CouponTypeFlat    = "flat"
	CouponTypePercent = "percent"
)

const (
	SegmentNew        = "new"
	SegmentOccasional = "occasional"
	SegmentRegular    = "regular"
	SegmentHighValue  = "high_value"
)

const (
	TerminalStatusActive      = "active"
	TerminalStatusMaintenance = "maintenance"
	TerminalStatusDisabled    = "disabled"
)

const (
	StockRequestPending  = "pending"
	StockRequestApproved = "approved"
	StockRequestRejected = "rejected"
)

const CampaignTypeFestival = "festival_offer"

// SegmentForSpend derives the lifetime-spend segment. Thresholds are in
// cents: above 50,000 currency units high value, above 10,000 regular.
func SegmentForSpend(totalSpendCents int64) string {
	switch {
	case totalSpendCents > 5_000_000:
		return SegmentHighValue
	case totalSpendCents > 1_000_000:
		return SegmentRegular
	default:
		return SegmentOccasional
	}
}
