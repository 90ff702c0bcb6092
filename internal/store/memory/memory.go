package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/store"
	"smartretail/backend/internal/xid"
)

type Store struct {
	mu                sync.Mutex
	products          map[string]domain.Product
	salesByID         map[string]*domain.Sale
	saleOrder         []string
	customersByMobile map[string]domain.Customer
	couponsByCode     map[string]domain.Coupon
	campaignsByID     map[string]domain.Campaign
	terminalsByID     map[string]domain.Terminal
	sessionsByKey     map[string]domain.TerminalSession
	stockRequestsByID map[string]domain.StockRequest
	settings          map[string]string
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD / SEED_STAFF_PASSWORD; hardcoded
// dev defaults are used with a warning when unset. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL
// is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		fullName string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Store Admin"},
		{"manager", staffPwd, domain.RoleManager, "Floor Manager"},
		{"operator1", staffPwd, domain.RoleOperator, "Counter Staff 1"},
		{"operator2", staffPwd, domain.RoleOperator, "Counter Staff 2"},
		{"logistics", staffPwd, domain.RoleInventory, "Logistics Head"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			FullName:  u.fullName,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	nearExpiry := now.Add(8 * 24 * time.Hour)
	bogoExpiry := now.Add(20 * 24 * time.Hour)
	farExpiry := now.Add(300 * 24 * time.Hour)

	products := []domain.Product{
		{SKU: "SKU-LAPTOP-01", Name: "Gaming Laptop", Category: "electronics", PriceCents: 8_500_000, CostCents: 7_000_000, Stock: 5},
		{SKU: "SKU-MOUSE-01", Name: "Wireless Mouse", Category: "electronics", PriceCents: 65_000, CostCents: 30_000, Stock: 45},
		{SKU: "SKU-KEYB-01", Name: "Mech Keyboard", Category: "electronics", PriceCents: 350_000, CostCents: 200_000, Stock: 20},
		{SKU: "SKU-TEA-01", Name: "Premium Tea", Category: "beverage", PriceCents: 45_000, CostCents: 20_000, Stock: 100, ExpiryDate: &farExpiry},
		{SKU: "SKU-NOTE-01", Name: "Notebook Set", Category: "stationery", PriceCents: 12_000, CostCents: 5_000, Stock: 200},
		{SKU: "SKU-MILK-01", Name: "Milk 1L", Category: "dairy", PriceCents: 6_000, CostCents: 5_000, Stock: 40, ExpiryDate: &nearExpiry},
		{SKU: "SKU-YOG-01", Name: "Yogurt", Category: "dairy", PriceCents: 3_000, CostCents: 2_000, Stock: 60, ExpiryDate: &bogoExpiry},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		restock := now
		p.LastRestock = &restock
		productMap[p.SKU] = p
	}

	terminals := map[string]domain.Terminal{
		"POS-1":       {ID: "POS-1", Name: "Main Counter", Location: "Entrance", Status: domain.TerminalStatusActive, CreatedAt: now},
		"POS-2":       {ID: "POS-2", Name: "Drive Thru", Location: "Side Window", Status: domain.TerminalStatusActive, CreatedAt: now},
		"back-office": {ID: "back-office", Name: "Back Office", Location: "HQ", Status: domain.TerminalStatusActive, CreatedAt: now},
	}

	customers := map[string]domain.Customer{
		"9876500001": {Mobile: "9876500001", Name: "Amit Sharma", Email: "amit.s@example.com", Visits: 4, TotalSpendCents: 1_200_000, LoyaltyPoints: 120, Segment: domain.SegmentRegular, CreatedAt: now},
		"9876500002": {Mobile: "9876500002", Name: "Priya Singh", Email: "priya.s@example.com", Visits: 12, TotalSpendCents: 6_400_000, LoyaltyPoints: 640, Segment: domain.SegmentHighValue, CreatedAt: now},
		"9876500003": {Mobile: "9876500003", Name: "Rahul Verma", Email: "rahul.v@example.com", Visits: 1, TotalSpendCents: 80_000, LoyaltyPoints: 8, Segment: domain.SegmentOccasional, CreatedAt: now},
	}

	settings := map[string]string{
		"store_name":       "SmartRetail",
		"currency_symbol":  "Rs",
		"tax_rate_percent": "18",
		"gst_enabled":      "false",
	}

	return &Store{
		products:          productMap,
		salesByID:         make(map[string]*domain.Sale),
		customersByMobile: customers,
		couponsByCode:     make(map[string]domain.Coupon),
		campaignsByID:     make(map[string]domain.Campaign),
		terminalsByID:     terminals,
		sessionsByKey:     make(map[string]domain.TerminalSession),
		stockRequestsByID: make(map[string]domain.StockRequest),
		settings:          settings,
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrInvalidSale
	}
	if product.LastRestock == nil {
		restock := time.Now().UTC()
		product.LastRestock = &restock
	}
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	existing, exists := s.products[product.SKU]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Stock = existing.Stock
	product.SalesCount = existing.SalesCount
	product.LastRestock = existing.LastRestock
	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[sku]; !exists {
		return store.ErrNotFound
	}
	for _, sale := range s.salesByID {
		for _, line := range sale.Lines {
			if line.SKU == sku {
				return fmt.Errorf("%w: product referenced by sale %s", store.ErrInvalidSale, sale.ID)
			}
		}
	}
	delete(s.products, sku)
	return nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			result[sku] = p
		}
	}
	return result, nil
}

func (s *Store) RestockProduct(_ context.Context, sku string, qty int, at time.Time) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	product.Stock += qty
	product.LastRestock = &at
	s.products[sku] = product
	updated := product
	return &updated, nil
}

func (s *Store) SetDeadStock(_ context.Context, sku string, dead bool) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.DeadStock = dead
	s.products[sku] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 || sale.Operator == "" || sale.TerminalID == "" {
		return nil, store.ErrInvalidSale
	}

	// Validate everything before touching state so a failure leaves no
	// partial decrement behind.
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidSale
		}
		product, exists := s.products[line.SKU]
		if !exists {
			return nil, fmt.Errorf("sku %s unavailable: %w", line.SKU, store.ErrNotFound)
		}
		if product.Stock < line.Qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, line.SKU)
		}
	}

	var coupon *domain.Coupon
	if sale.CouponCode != "" {
		c, exists := s.couponsByCode[sale.CouponCode]
		if !exists {
			return nil, fmt.Errorf("coupon %s: %w", sale.CouponCode, store.ErrNotFound)
		}
		if c.UsedCount >= c.UsageLimit {
			return nil, store.ErrCouponExhausted
		}
		coupon = &c
	}

	var customer *domain.Customer
	if sale.CustomerMobile != "" {
		c, exists := s.customersByMobile[sale.CustomerMobile]
		if !exists {
			return nil, fmt.Errorf("customer %s: %w", sale.CustomerMobile, store.ErrNotFound)
		}
		if c.LoyaltyPoints+sale.PointsEarned-sale.PointsRedeemed < 0 {
			return nil, fmt.Errorf("%w: loyalty balance would go negative", store.ErrInvalidSale)
		}
		customer = &c
	}

	for _, line := range sale.Lines {
		product := s.products[line.SKU]
		product.Stock -= line.Qty
		product.SalesCount += line.Qty
		s.products[line.SKU] = product
	}
	if coupon != nil {
		coupon.UsedCount++
		s.couponsByCode[coupon.Code] = *coupon
	}
	if customer != nil {
		customer.Visits++
		customer.TotalSpendCents += sale.TotalCents
		customer.LoyaltyPoints += sale.PointsEarned - sale.PointsRedeemed
		customer.Segment = domain.SegmentForSpend(customer.TotalSpendCents)
		s.customersByMobile[customer.Mobile] = *customer
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCompleted
	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	s.saleOrder = append(s.saleOrder, sale.ID)
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Sale, 0, len(s.saleOrder))
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if filter.SaleID != "" && sale.ID != filter.SaleID {
			continue
		}
		if filter.Operator != "" && !strings.Contains(sale.Operator, filter.Operator) {
			continue
		}
		if filter.Date != "" && sale.CreatedAt.UTC().Format("2006-01-02") != filter.Date {
			continue
		}
		result = append(result, *cloneSale(sale))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CancelSale(_ context.Context, id string, cancelledBy string, reason string, at time.Time, reversal store.SaleReversal) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrAlreadyCancelled
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, line := range sale.Lines {
		product := s.products[line.SKU]
		product.Stock += line.Qty
		product.SalesCount -= line.Qty
		s.products[line.SKU] = product
	}
	if reversal.RestoreCouponUse && sale.CouponCode != "" {
		if coupon, ok := s.couponsByCode[sale.CouponCode]; ok && coupon.UsedCount > 0 {
			coupon.UsedCount--
			s.couponsByCode[sale.CouponCode] = coupon
		}
	}
	if reversal.RestoreCustomerStat && sale.CustomerMobile != "" {
		if customer, ok := s.customersByMobile[sale.CustomerMobile]; ok {
			customer.Visits--
			customer.TotalSpendCents -= sale.TotalCents
			customer.LoyaltyPoints += sale.PointsRedeemed - sale.PointsEarned
			if customer.LoyaltyPoints < 0 {
				customer.LoyaltyPoints = 0
			}
			customer.Segment = domain.SegmentForSpend(customer.TotalSpendCents)
			s.customersByMobile[sale.CustomerMobile] = customer
		}
	}

	sale.Status = domain.SaleStatusCancelled
	sale.CancellationReason = reason
	sale.CancelledBy = cancelledBy
	sale.CancelledAt = &at
	return cloneSale(sale), nil
}

func (s *Store) RedoSale(_ context.Context, id string, at time.Time, reversal store.SaleReversal) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCancelled {
		return nil, store.ErrNotCancelled
	}

	for _, line := range sale.Lines {
		product := s.products[line.SKU]
		if product.Stock < line.Qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, line.SKU)
		}
	}
	if reversal.RestoreCouponUse && sale.CouponCode != "" {
		if coupon, ok := s.couponsByCode[sale.CouponCode]; ok && coupon.UsedCount >= coupon.UsageLimit {
			return nil, fmt.Errorf("%w: %s", store.ErrCouponExhausted, sale.CouponCode)
		}
	}

	for _, line := range sale.Lines {
		product := s.products[line.SKU]
		product.Stock -= line.Qty
		product.SalesCount += line.Qty
		s.products[line.SKU] = product
	}
	if reversal.RestoreCouponUse && sale.CouponCode != "" {
		if coupon, ok := s.couponsByCode[sale.CouponCode]; ok {
			coupon.UsedCount++
			s.couponsByCode[sale.CouponCode] = coupon
		}
	}
	if reversal.RestoreCustomerStat && sale.CustomerMobile != "" {
		if customer, ok := s.customersByMobile[sale.CustomerMobile]; ok {
			customer.Visits++
			customer.TotalSpendCents += sale.TotalCents
			customer.LoyaltyPoints += sale.PointsEarned - sale.PointsRedeemed
			if customer.LoyaltyPoints < 0 {
				customer.LoyaltyPoints = 0
			}
			customer.Segment = domain.SegmentForSpend(customer.TotalSpendCents)
			s.customersByMobile[sale.CustomerMobile] = customer
		}
	}

	sale.Status = domain.SaleStatusCompleted
	sale.CancellationReason = ""
	sale.CancelledBy = ""
	sale.CancelledAt = nil
	return cloneSale(sale), nil
}

func (s *Store) GetCustomer(_ context.Context, mobile string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByMobile[strings.TrimSpace(mobile)]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpsertCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Mobile = strings.TrimSpace(customer.Mobile)
	if customer.Mobile == "" {
		return nil, store.ErrInvalidSale
	}
	existing, exists := s.customersByMobile[customer.Mobile]
	if exists {
		existing.Name = customer.Name
		existing.Email = customer.Email
		s.customersByMobile[customer.Mobile] = existing
		copyCustomer := existing
		return &copyCustomer, nil
	}
	if customer.Segment == "" {
		customer.Segment = domain.SegmentNew
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByMobile[customer.Mobile] = customer
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customers := make([]domain.Customer, 0, len(s.customersByMobile))
	for _, customer := range s.customersByMobile {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Mobile, b.Mobile)
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) CreateCoupon(_ context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" || coupon.UsageLimit < 1 {
		return nil, store.ErrInvalidSale
	}
	if coupon.Type != domain.CouponTypeFlat && coupon.Type != domain.CouponTypePercent {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.couponsByCode[coupon.Code]; exists {
		return nil, store.ErrInvalidSale
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}
	s.couponsByCode[coupon.Code] = coupon
	created := coupon
	return &created, nil
}

func (s *Store) GetCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, exists := s.couponsByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCoupon := coupon
	return &copyCoupon, nil
}

func (s *Store) ListCoupons(_ context.Context, limit int) ([]domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupons := make([]domain.Coupon, 0, len(s.couponsByCode))
	for _, coupon := range s.couponsByCode {
		coupons = append(coupons, coupon)
	}
	slices.SortFunc(coupons, func(a, b domain.Coupon) int {
		return cmpString(a.Code, b.Code)
	})
	if limit > 0 && len(coupons) > limit {
		coupons = coupons[:limit]
	}
	return coupons, nil
}

func (s *Store) CreateCampaign(_ context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if campaign.Name == "" || campaign.Type == "" || campaign.EndAt.Before(campaign.StartAt) {
		return nil, store.ErrInvalidSale
	}
	if campaign.ID == "" {
		campaign.ID = xid.New("camp")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}
	campaign.Active = true
	s.campaignsByID[campaign.ID] = campaign
	created := campaign
	return &created, nil
}

func (s *Store) ListCampaigns(_ context.Context, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	campaigns := make([]domain.Campaign, 0, len(s.campaignsByID))
	for _, campaign := range s.campaignsByID {
		campaigns = append(campaigns, campaign)
	}
	slices.SortFunc(campaigns, func(a, b domain.Campaign) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(campaigns) > limit {
		campaigns = campaigns[:limit]
	}
	return campaigns, nil
}

func (s *Store) ListActiveCampaigns(_ context.Context, at time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at.IsZero() {
		at = time.Now().UTC()
	}
	campaigns := make([]domain.Campaign, 0, 4)
	for _, campaign := range s.campaignsByID {
		if !campaign.Active || at.Before(campaign.StartAt) || at.After(campaign.EndAt) {
			continue
		}
		campaigns = append(campaigns, campaign)
	}
	slices.SortFunc(campaigns, func(a, b domain.Campaign) int {
		return cmpString(a.ID, b.ID)
	})
	return campaigns, nil
}

func (s *Store) CreateTerminal(_ context.Context, terminal domain.Terminal) (*domain.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal.ID = strings.TrimSpace(terminal.ID)
	if terminal.ID == "" || terminal.Name == "" {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.terminalsByID[terminal.ID]; exists {
		return nil, store.ErrInvalidSale
	}
	if terminal.Status == "" {
		terminal.Status = domain.TerminalStatusActive
	}
	if terminal.CreatedAt.IsZero() {
		terminal.CreatedAt = time.Now().UTC()
	}
	s.terminalsByID[terminal.ID] = terminal
	created := terminal
	return &created, nil
}

func (s *Store) GetTerminal(_ context.Context, id string) (*domain.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal, exists := s.terminalsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyTerminal := terminal
	return &copyTerminal, nil
}

func (s *Store) ListTerminals(_ context.Context) ([]domain.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminals := make([]domain.Terminal, 0, len(s.terminalsByID))
	for _, terminal := range s.terminalsByID {
		terminals = append(terminals, terminal)
	}
	slices.SortFunc(terminals, func(a, b domain.Terminal) int {
		return cmpString(a.ID, b.ID)
	})
	return terminals, nil
}

func (s *Store) UpdateTerminalStatus(_ context.Context, id string, status string) (*domain.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal, exists := s.terminalsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	terminal.Status = status
	s.terminalsByID[id] = terminal
	updated := terminal
	return &updated, nil
}

func (s *Store) AcquireSession(_ context.Context, session domain.TerminalSession) (*domain.TerminalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.TerminalID == "" || session.Username == "" {
		return nil, store.ErrInvalidSale
	}
	if existing, held := s.sessionsByKey[session.TerminalID]; held && existing.Username != session.Username {
		return nil, fmt.Errorf("%w: held by %s", store.ErrTerminalOccupied, existing.Username)
	}
	// One physical-terminal row per user: drop any previous physical lock.
	// Shared back-office rows survive a login elsewhere.
	if !session.Shared {
		for key, existing := range s.sessionsByKey {
			if existing.Username == session.Username && !existing.Shared {
				delete(s.sessionsByKey, key)
			}
		}
	}
	if session.LoginAt.IsZero() {
		session.LoginAt = time.Now().UTC()
	}
	s.sessionsByKey[session.TerminalID] = session
	acquired := session
	return &acquired, nil
}

func (s *Store) ReleaseSessionsByUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, session := range s.sessionsByKey {
		if session.Username == username {
			delete(s.sessionsByKey, key)
		}
	}
	return nil
}

func (s *Store) DeleteSession(_ context.Context, terminalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessionsByKey, terminalID)
	return nil
}

func (s *Store) DeleteAllSessions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionsByKey = make(map[string]domain.TerminalSession)
	return nil
}

func (s *Store) GetSessionByTerminal(_ context.Context, terminalID string) (*domain.TerminalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByKey[terminalID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) ListSessions(_ context.Context) ([]domain.TerminalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]domain.TerminalSession, 0, len(s.sessionsByKey))
	for _, session := range s.sessionsByKey {
		sessions = append(sessions, session)
	}
	slices.SortFunc(sessions, func(a, b domain.TerminalSession) int {
		return cmpString(a.TerminalID, b.TerminalID)
	})
	return sessions, nil
}

func (s *Store) CreateStockRequest(_ context.Context, request domain.StockRequest) (*domain.StockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if request.SKU == "" || request.Qty < 1 || request.RequestedBy == "" {
		return nil, store.ErrInvalidSale
	}
	if product, exists := s.products[request.SKU]; exists {
		request.ProductName = product.Name
	} else {
		return nil, store.ErrNotFound
	}
	if request.ID == "" {
		request.ID = xid.New("req")
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.Status = domain.StockRequestPending
	s.stockRequestsByID[request.ID] = request
	created := request
	return &created, nil
}

func (s *Store) ListStockRequests(_ context.Context, limit int) ([]domain.StockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := make([]domain.StockRequest, 0, len(s.stockRequestsByID))
	for _, request := range s.stockRequestsByID {
		requests = append(requests, request)
	}
	slices.SortFunc(requests, func(a, b domain.StockRequest) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}

func (s *Store) UpdateStockRequestStatus(_ context.Context, id string, status string) (*domain.StockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, exists := s.stockRequestsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	request.Status = status
	s.stockRequestsByID[id] = request
	updated := request
	return &updated, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, exists := s.settings[key]
	if !exists {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetSetting(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(key) == "" {
		return store.ErrInvalidSale
	}
	s.settings[key] = value
	return nil
}

func (s *Store) ListSettings(_ context.Context) ([]domain.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := make([]domain.Setting, 0, len(s.settings))
	for key, value := range s.settings {
		settings = append(settings, domain.Setting{Key: key, Value: value})
	}
	slices.SortFunc(settings, func(a, b domain.Setting) int {
		return cmpString(a.Key, b.Key)
	})
	return settings, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return store.ErrNotFound
	}
	user.Active = active
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) UpdateUserFullName(_ context.Context, username string, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return store.ErrNotFound
	}
	user.FullName = fullName
	s.usersByUsername[user.Username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return &dup
}
