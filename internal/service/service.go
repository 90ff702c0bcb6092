package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"smartretail/backend/internal/cache"
	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/pricing"
	"smartretail/backend/internal/session"
	"smartretail/backend/internal/store"
	"smartretail/backend/internal/xid"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	catalogCacheKey = "catalog:products"
	catalogCacheTTL = 30 * time.Second

	autoCouponPercent      = 10.0
	autoCouponMinBillCents = 50_000
	autoCouponValidDays    = 30

	fraudLineQtyLimit    = 10
	fraudRushSeconds     = 5.0
	fraudRushLineCount   = 3
	fraudLargeTotalCents = 10_000_000
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	registry *session.Registry
	catalog  cache.CatalogCache
	reversal store.SaleReversal

	undoMu    sync.Mutex
	undoDepth int
	lastSales map[string][]string
}

func New(repo store.Repository, registry *session.Registry, catalog cache.CatalogCache, reversal store.SaleReversal, undoDepth int) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if undoDepth < 1 {
		undoDepth = 10
	}
	return &Service{
		repo:      repo,
		registry:  registry,
		catalog:   catalog,
		reversal:  reversal,
		undoDepth: undoDepth,
		lastSales: make(map[string][]string),
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, store.ErrPermissionDenied
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s", store.ErrPermissionDenied, actor.Role)
}

// Login verifies credentials and takes the terminal lock in one step. A
// failed lock acquisition leaves no session behind.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.UserAccount, domain.TerminalSession, error) {
	if req.Username == "" || req.Password == "" || req.TerminalID == "" {
		return domain.UserAccount{}, domain.TerminalSession{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetUser(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserAccount{}, domain.TerminalSession{}, ErrInvalidCredentials
		}
		return domain.UserAccount{}, domain.TerminalSession{}, err
	}
	if !user.Active {
		return domain.UserAccount{}, domain.TerminalSession{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return domain.UserAccount{}, domain.TerminalSession{}, ErrInvalidCredentials
	}

	if !s.registry.IsBackOffice(req.TerminalID) {
		terminal, err := s.repo.GetTerminal(ctx, req.TerminalID)
		if err != nil {
			return domain.UserAccount{}, domain.TerminalSession{}, err
		}
		if terminal.Status != domain.TerminalStatusActive {
			return domain.UserAccount{}, domain.TerminalSession{}, fmt.Errorf("%w: terminal %s is %s", store.ErrInvalidSale, terminal.ID, terminal.Status)
		}
	}

	sess, err := s.registry.Acquire(ctx, req.TerminalID, user.Username, user.Role)
	if err != nil {
		return domain.UserAccount{}, domain.TerminalSession{}, err
	}

	loginCtx := WithActor(ctx, domain.Actor{Username: user.Username, Role: user.Role})
	s.logAudit(loginCtx, "login", "terminal", req.TerminalID, fmt.Sprintf("role=%s", user.Role))

	return *user, *sess, nil
}

func (s *Service) Logout(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return store.ErrPermissionDenied
	}
	if err := s.registry.Release(ctx, actor.Username); err != nil {
		return err
	}
	s.logAudit(ctx, "logout", "user", actor.Username, "")
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if cached, hit, err := s.catalog.Get(ctx, catalogCacheKey); err == nil && hit {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, catalogCacheKey, products, catalogCacheTTL); err != nil {
		log.Printf("[service] WARN: catalog cache set failed: %v", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, sku string) (*domain.Product, error) {
	return s.repo.GetProductBySKU(ctx, sku)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleInventory); err != nil {
		return nil, err
	}
	if req.SKU == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: sku and name are required", store.ErrInvalidSale)
	}
	if req.PriceCents < 1 || req.InitialStock < 0 {
		return nil, fmt.Errorf("%w: price and stock must be positive", store.ErrInvalidSale)
	}

	product := domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Stock:      req.InitialStock,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return nil, fmt.Errorf("%w: bad expiry_date %q", store.ErrInvalidSale, req.ExpiryDate)
		}
		product.ExpiryDate = &expiry
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_create", "product", created.SKU, fmt.Sprintf("price=%d,stock=%d", created.PriceCents, created.Stock))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleInventory); err != nil {
		return nil, err
	}

	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Category != nil {
		product.Category = *req.Category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return nil, fmt.Errorf("%w: price must be positive", store.ErrInvalidSale)
		}
		product.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		product.CostCents = *req.CostCents
	}
	if req.ExpiryDate != nil {
		if *req.ExpiryDate == "" {
			product.ExpiryDate = nil
		} else {
			expiry, err := time.Parse("2006-01-02", *req.ExpiryDate)
			if err != nil {
				return nil, fmt.Errorf("%w: bad expiry_date %q", store.ErrInvalidSale, *req.ExpiryDate)
			}
			product.ExpiryDate = &expiry
		}
	}

	updated, err := s.repo.UpdateProduct(ctx, *product)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_update", "product", sku, "")
	return updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, sku string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, sku); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_delete", "product", sku, "")
	return nil
}

func (s *Service) RestockProduct(ctx context.Context, sku string, req domain.RestockRequest) (*domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleInventory); err != nil {
		return nil, err
	}
	if req.Qty < 1 {
		return nil, fmt.Errorf("%w: restock qty must be positive", store.ErrInvalidSale)
	}

	updated, err := s.repo.RestockProduct(ctx, sku, req.Qty, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_restock", "product", sku, fmt.Sprintf("qty=%d", req.Qty))
	return updated, nil
}

func (s *Service) SetDeadStock(ctx context.Context, sku string, req domain.DeadStockRequest) (*domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleInventory); err != nil {
		return nil, err
	}
	updated, err := s.repo.SetDeadStock(ctx, sku, req.DeadStock)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_dead_stock", "product", sku, fmt.Sprintf("dead=%t", req.DeadStock))
	return updated, nil
}

// ListDeadStock reports products flagged dead plus products with no sales
// since their last restock.
func (s *Service) ListDeadStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	dead := make([]domain.Product, 0)
	for _, product := range products {
		if product.DeadStock || (product.SalesCount == 0 && product.Stock > 0) {
			dead = append(dead, product)
		}
	}
	return dead, nil
}

func (s *Service) QuoteSale(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	quote, _, _, _, err := s.priceCart(ctx, req.CartItems, req.CouponCode, req.CustomerMobile, req.PointsToRedeem, time.Now().UTC())
	return quote, err
}

func (s *Service) CommitSale(ctx context.Context, req domain.CommitSaleRequest) (domain.CommitSaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CommitSaleResponse{}, store.ErrPermissionDenied
	}
	if req.TerminalID == "" {
		return domain.CommitSaleResponse{}, fmt.Errorf("%w: terminal_id is required", store.ErrInvalidSale)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}

	if !s.registry.IsBackOffice(req.TerminalID) {
		holder, occupied, err := s.registry.Occupant(ctx, req.TerminalID)
		if err != nil {
			return domain.CommitSaleResponse{}, err
		}
		if !occupied || holder != actor.Username {
			return domain.CommitSaleResponse{}, fmt.Errorf("%w: terminal %s is not locked by %s", store.ErrPermissionDenied, req.TerminalID, actor.Username)
		}
	}

	now := time.Now().UTC()
	quote, products, coupon, customer, err := s.priceCart(ctx, req.CartItems, req.CouponCode, req.CustomerMobile, req.PointsToRedeem, now)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}

	// Lines reuse the snapshot the quote was priced from so the receipt can
	// never disagree with what the customer was shown.
	normalized := pricing.NormalizeItems(req.CartItems)
	lines := make([]domain.SaleLine, 0, len(normalized))
	for _, item := range normalized {
		lines = append(lines, domain.SaleLine{SKU: item.SKU, Qty: item.Qty, UnitPriceCents: products[item.SKU].PriceCents})
	}

	sale := domain.Sale{
		ID:               xid.New("sale"),
		TerminalID:       req.TerminalID,
		Operator:         actor.Username,
		PaymentMethod:    req.PaymentMethod,
		SubtotalCents:    quote.SubtotalCents,
		DiscountCents:    quote.ExpiryDiscountCents + quote.CouponDiscountCents + quote.FestivalCents,
		TaxCents:         quote.TaxCents,
		TotalCents:       quote.TotalCents,
		PointsRedeemed:   quote.PointsRedeemed,
		PointsEarned:     quote.PointsEarned,
		Status:           domain.SaleStatusCompleted,
		TimeTakenSeconds: req.TimeTakenSeconds,
		CreatedAt:        now,
		Lines:            lines,
	}
	if coupon != nil {
		sale.CouponCode = coupon.Code
	}
	if customer != nil {
		sale.CustomerMobile = customer.Mobile
	}
	sale.IntegrityHash = integrityHash(sale.CreatedAt, sale.TotalCents, sale.Lines, sale.Operator)

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}
	s.invalidateCatalog(ctx)
	s.rememberSale(actor.Username, created.ID)

	flags := fraudFlags(*created)
	autoCoupon := ""
	if customer != nil {
		autoCoupon = s.issueAutoCoupon(ctx, customer.Mobile, now)
	}

	s.logAudit(ctx, "sale_commit", "sale", created.ID, fmt.Sprintf("total=%d,terminal=%s,coupon=%s,flags=%d", created.TotalCents, created.TerminalID, created.CouponCode, len(flags)))

	return domain.CommitSaleResponse{Sale: *created, Quote: quote, FraudFlags: flags, AutoCoupon: autoCoupon}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.GetSaleByID(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.CancelSaleRequest) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, store.ErrPermissionDenied
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", store.ErrInvalidSale)
	}

	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !domain.CanCancelSale(actor, sale.Operator) {
		return nil, fmt.Errorf("%w: %s cannot cancel sale by %s", store.ErrPermissionDenied, actor.Username, sale.Operator)
	}

	cancelled, err := s.repo.CancelSale(ctx, saleID, actor.Username, req.Reason, time.Now().UTC(), s.reversal)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale_cancel", "sale", saleID, req.Reason)
	return cancelled, nil
}

func (s *Service) RedoSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, store.ErrPermissionDenied
	}

	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !domain.CanCancelSale(actor, sale.Operator) {
		return nil, fmt.Errorf("%w: %s cannot redo sale by %s", store.ErrPermissionDenied, actor.Username, sale.Operator)
	}

	redone, err := s.repo.RedoSale(ctx, saleID, time.Now().UTC(), s.reversal)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale_redo", "sale", saleID, "")
	return redone, nil
}

// UndoLastSale cancels the calling operator's most recent completed sale.
// Sales already cancelled through other paths are skipped.
func (s *Service) UndoLastSale(ctx context.Context) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, store.ErrPermissionDenied
	}

	for {
		saleID, ok := s.popLastSale(actor.Username)
		if !ok {
			return nil, fmt.Errorf("%w: no recent sale to undo", store.ErrNotFound)
		}
		cancelled, err := s.CancelSale(ctx, saleID, domain.CancelSaleRequest{Reason: "undo last sale"})
		if errors.Is(err, store.ErrAlreadyCancelled) {
			continue
		}
		if err != nil {
			// Transient failures must not lose the sale from the stack.
			s.rememberSale(actor.Username, saleID)
			return nil, err
		}
		return cancelled, nil
	}
}

// VerifySale recomputes the receipt hash from stored fields and compares it
// with the hash written at commit time.
func (s *Service) VerifySale(ctx context.Context, saleID string) (domain.SaleVerifyResponse, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleVerifyResponse{}, err
	}
	computed := integrityHash(sale.CreatedAt, sale.TotalCents, sale.Lines, sale.Operator)
	return domain.SaleVerifyResponse{
		SaleID:       sale.ID,
		StoredHash:   sale.IntegrityHash,
		ComputedHash: computed,
		Match:        computed == sale.IntegrityHash,
	}, nil
}

func (s *Service) GetCustomer(ctx context.Context, mobile string) (*domain.Customer, error) {
	return s.repo.GetCustomer(ctx, mobile)
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) UpsertCustomer(ctx context.Context, req domain.CustomerUpsertRequest) (*domain.Customer, error) {
	if strings.TrimSpace(req.Mobile) == "" {
		return nil, fmt.Errorf("%w: mobile is required", store.ErrInvalidSale)
	}
	customer := domain.Customer{Mobile: req.Mobile, Name: req.Name, Email: req.Email}
	saved, err := s.repo.UpsertCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "customer_upsert", "customer", saved.Mobile, "")
	return saved, nil
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (*domain.Coupon, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", store.ErrInvalidSale)
	}
	switch req.Type {
	case domain.CouponTypeFlat:
		if req.ValueCents < 1 {
			return nil, fmt.Errorf("%w: flat coupon needs a positive value", store.ErrInvalidSale)
		}
	case domain.CouponTypePercent:
		if req.ValuePercent <= 0 || req.ValuePercent > 100 {
			return nil, fmt.Errorf("%w: percent coupon needs a value in (0,100]", store.ErrInvalidSale)
		}
	default:
		return nil, fmt.Errorf("%w: unknown coupon type %q", store.ErrInvalidSale, req.Type)
	}
	if req.DaysValid < 1 {
		req.DaysValid = 30
	}
	if req.UsageLimit < 1 {
		req.UsageLimit = 1
	}

	now := time.Now().UTC()
	coupon := domain.Coupon{
		Code:         strings.ToUpper(req.Code),
		Type:         req.Type,
		ValueCents:   req.ValueCents,
		ValuePercent: req.ValuePercent,
		MinBillCents: req.MinBillCents,
		ValidUntil:   now.AddDate(0, 0, req.DaysValid),
		UsageLimit:   req.UsageLimit,
		BoundMobile:  req.BoundMobile,
		CreatedAt:    now,
	}
	created, err := s.repo.CreateCoupon(ctx, coupon)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "coupon_create", "coupon", created.Code, fmt.Sprintf("type=%s,limit=%d", created.Type, created.UsageLimit))
	return created, nil
}

func (s *Service) ListCoupons(ctx context.Context, limit int) ([]domain.Coupon, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCoupons(ctx, limit)
}

// ValidateCoupon prices nothing; it answers whether the coupon would apply
// to the given cart right now and why not otherwise.
func (s *Service) ValidateCoupon(ctx context.Context, code string, req domain.QuoteRequest) (domain.CouponValidateResponse, error) {
	normalized := pricing.NormalizeItems(req.CartItems)
	subtotal := int64(0)
	if len(normalized) > 0 {
		products, err := s.repo.GetProductsBySKUs(ctx, skusOf(normalized))
		if err != nil {
			return domain.CouponValidateResponse{}, err
		}
		for _, item := range normalized {
			product, exists := products[item.SKU]
			if !exists {
				return domain.CouponValidateResponse{}, fmt.Errorf("%w: %s", pricing.ErrUnknownProduct, item.SKU)
			}
			subtotal += int64(item.Qty) * product.PriceCents
		}
	}

	coupon, err := s.repo.GetCoupon(ctx, strings.ToUpper(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CouponValidateResponse{Valid: false, Reason: pricing.ErrCouponInvalid.Error()}, nil
		}
		return domain.CouponValidateResponse{}, err
	}

	if err := pricing.ValidateCoupon(coupon, subtotal, req.CustomerMobile, time.Now().UTC()); err != nil {
		return domain.CouponValidateResponse{Valid: false, Reason: err.Error(), Coupon: coupon}, nil
	}
	return domain.CouponValidateResponse{Valid: true, Coupon: coupon}, nil
}

func (s *Service) CreateCampaign(ctx context.Context, req domain.CampaignCreateRequest) (*domain.Campaign, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: campaign name is required", store.ErrInvalidSale)
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start_at %q", store.ErrInvalidSale, req.StartAt)
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad end_at %q", store.ErrInvalidSale, req.EndAt)
	}
	if !endAt.After(startAt) {
		return nil, fmt.Errorf("%w: campaign must end after it starts", store.ErrInvalidSale)
	}
	campaignType := req.Type
	if campaignType == "" {
		campaignType = domain.CampaignTypeFestival
	}

	campaign := domain.Campaign{
		ID:        xid.New("camp"),
		Name:      req.Name,
		Type:      campaignType,
		StartAt:   startAt,
		EndAt:     endAt,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.repo.CreateCampaign(ctx, campaign)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "campaign_create", "campaign", created.ID, created.Name)
	return created, nil
}

func (s *Service) ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCampaigns(ctx, limit)
}

func (s *Service) CreateTerminal(ctx context.Context, req domain.TerminalCreateRequest) (*domain.Terminal, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if req.ID == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: terminal id and name are required", store.ErrInvalidSale)
	}
	terminal := domain.Terminal{
		ID:        req.ID,
		Name:      req.Name,
		Location:  req.Location,
		Status:    domain.TerminalStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.repo.CreateTerminal(ctx, terminal)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "terminal_create", "terminal", created.ID, created.Name)
	return created, nil
}

// ListTerminalStatus joins the terminal catalog with live lock occupancy.
// Back-office terminals always report unoccupied.
func (s *Service) ListTerminalStatus(ctx context.Context) ([]domain.TerminalStatus, error) {
	terminals, err := s.repo.ListTerminals(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]domain.TerminalStatus, 0, len(terminals))
	for _, terminal := range terminals {
		occupant, occupied, err := s.registry.Occupant(ctx, terminal.ID)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, domain.TerminalStatus{Terminal: terminal, Occupant: occupant, Occupied: occupied})
	}
	return statuses, nil
}

func (s *Service) UpdateTerminalStatus(ctx context.Context, id string, req domain.TerminalUpdateRequest) (*domain.Terminal, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	switch req.Status {
	case domain.TerminalStatusActive, domain.TerminalStatusMaintenance, domain.TerminalStatusDisabled:
	default:
		return nil, fmt.Errorf("%w: unknown terminal status %q", store.ErrInvalidSale, req.Status)
	}
	updated, err := s.repo.UpdateTerminalStatus(ctx, id, req.Status)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "terminal_status", "terminal", id, req.Status)
	return updated, nil
}

func (s *Service) ForceUnlockTerminal(ctx context.Context, terminalID string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.registry.ForceRelease(ctx, terminalID); err != nil {
		return err
	}
	s.logAudit(ctx, "terminal_force_unlock", "terminal", terminalID, "")
	return nil
}

func (s *Service) ListSessions(ctx context.Context) ([]domain.TerminalSession, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	return s.registry.Sessions(ctx)
}

func (s *Service) CreateStockRequest(ctx context.Context, req domain.StockRequestCreateRequest) (*domain.StockRequest, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, store.ErrPermissionDenied
	}
	if req.Qty < 1 {
		return nil, fmt.Errorf("%w: requested qty must be positive", store.ErrInvalidSale)
	}
	product, err := s.repo.GetProductBySKU(ctx, req.SKU)
	if err != nil {
		return nil, err
	}

	request := domain.StockRequest{
		ID:          xid.New("streq"),
		SKU:         product.SKU,
		ProductName: product.Name,
		Qty:         req.Qty,
		Notes:       req.Notes,
		Status:      domain.StockRequestPending,
		RequestedBy: actor.Username,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.repo.CreateStockRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "stock_request_create", "stock_request", created.ID, fmt.Sprintf("sku=%s,qty=%d", created.SKU, created.Qty))
	return created, nil
}

func (s *Service) ListStockRequests(ctx context.Context, limit int) ([]domain.StockRequest, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockRequests(ctx, limit)
}

// UpdateStockRequestStatus approves or rejects a pending request. Approval
// restocks the product in the same call.
func (s *Service) UpdateStockRequestStatus(ctx context.Context, id string, req domain.StockRequestUpdateRequest) (*domain.StockRequest, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	switch req.Status {
	case domain.StockRequestApproved, domain.StockRequestRejected:
	default:
		return nil, fmt.Errorf("%w: unknown stock request status %q", store.ErrInvalidSale, req.Status)
	}

	updated, err := s.repo.UpdateStockRequestStatus(ctx, id, req.Status)
	if err != nil {
		return nil, err
	}
	if req.Status == domain.StockRequestApproved {
		if _, err := s.repo.RestockProduct(ctx, updated.SKU, updated.Qty, time.Now().UTC()); err != nil {
			log.Printf("[service] WARN: restock for approved request %s failed: %v", id, err)
		} else {
			s.invalidateCatalog(ctx)
		}
	}
	s.logAudit(ctx, "stock_request_status", "stock_request", id, req.Status)
	return updated, nil
}

func (s *Service) GetSetting(ctx context.Context, key string) (domain.Setting, error) {
	value, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return domain.Setting{}, err
	}
	return domain.Setting{Key: key, Value: value}, nil
}

func (s *Service) SetSetting(ctx context.Context, key string, value string) (domain.Setting, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Setting{}, err
	}
	if key == "" {
		return domain.Setting{}, fmt.Errorf("%w: setting key is required", store.ErrInvalidSale)
	}
	if err := s.repo.SetSetting(ctx, key, value); err != nil {
		return domain.Setting{}, err
	}
	s.logAudit(ctx, "setting_set", "setting", key, value)
	return domain.Setting{Key: key, Value: value}, nil
}

func (s *Service) ListSettings(ctx context.Context) ([]domain.Setting, error) {
	return s.repo.ListSettings(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 1000 {
		limit = 200
	}

	from := time.Time{}
	to := time.Now().UTC().Add(time.Minute)
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", store.ErrInvalidSale, date)
		}
		from = day
		to = day.AddDate(0, 0, 1)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (*domain.UserView, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if req.Username == "" || len(req.Password) < 8 {
		return nil, fmt.Errorf("%w: username and a password of 8+ chars are required", store.ErrInvalidSale)
	}
	if !domain.ValidRole(req.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", store.ErrInvalidSale, req.Role)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hashed),
		Role:      req.Role,
		FullName:  req.FullName,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logAudit(ctx, "user_create", "user", user.Username, fmt.Sprintf("role=%s", user.Role))
	view := userView(user)
	return &view, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]domain.UserView, 0, len(users))
	for _, user := range users {
		views = append(views, userView(user))
	}
	return views, nil
}

func (s *Service) UpdateUser(ctx context.Context, username string, req domain.UserUpdateRequest) error {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	if req.Active != nil {
		if !*req.Active && username == actor.Username {
			return fmt.Errorf("%w: cannot deactivate yourself", store.ErrInvalidSale)
		}
		if err := s.repo.UpdateUserActive(ctx, username, *req.Active); err != nil {
			return err
		}
		if !*req.Active {
			if err := s.registry.Release(ctx, username); err != nil {
				log.Printf("[service] WARN: releasing sessions for deactivated user %s failed: %v", username, err)
			}
		}
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			return fmt.Errorf("%w: password must be 8+ chars", store.ErrInvalidSale)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateUserPassword(ctx, username, string(hashed)); err != nil {
			return err
		}
	}
	if req.FullName != nil {
		if err := s.repo.UpdateUserFullName(ctx, username, *req.FullName); err != nil {
			return err
		}
	}
	s.logAudit(ctx, "user_update", "user", username, "")
	return nil
}

func (s *Service) priceCart(ctx context.Context, items []domain.CartItem, couponCode string, mobile string, pointsToRedeem int, now time.Time) (domain.Quote, map[string]domain.Product, *domain.Coupon, *domain.Customer, error) {
	normalized := pricing.NormalizeItems(items)
	if len(normalized) == 0 {
		return domain.Quote{}, nil, nil, nil, pricing.ErrEmptyCart
	}

	products, err := s.repo.GetProductsBySKUs(ctx, skusOf(normalized))
	if err != nil {
		return domain.Quote{}, nil, nil, nil, err
	}

	var coupon *domain.Coupon
	if couponCode != "" {
		coupon, err = s.repo.GetCoupon(ctx, strings.ToUpper(couponCode))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Quote{}, nil, nil, nil, fmt.Errorf("%w: %s", pricing.ErrCouponInvalid, couponCode)
			}
			return domain.Quote{}, nil, nil, nil, err
		}
	}

	var customer *domain.Customer
	if mobile != "" {
		customer, err = s.repo.GetCustomer(ctx, mobile)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Quote{}, nil, nil, nil, err
		}
	}

	festival := false
	campaigns, err := s.repo.ListActiveCampaigns(ctx, now)
	if err != nil {
		return domain.Quote{}, nil, nil, nil, err
	}
	for _, campaign := range campaigns {
		if campaign.Type == domain.CampaignTypeFestival {
			festival = true
			break
		}
	}

	taxEnabled, taxRate := s.taxPolicy(ctx)

	quote, err := pricing.Price(pricing.Input{
		Items:          normalized,
		Products:       products,
		Coupon:         coupon,
		Customer:       customer,
		CustomerMobile: mobile,
		FestivalActive: festival,
		TaxEnabled:     taxEnabled,
		TaxRatePercent: taxRate,
		PointsToRedeem: pointsToRedeem,
		Now:            now,
	})
	if err != nil {
		return domain.Quote{}, nil, nil, nil, err
	}
	return quote, products, coupon, customer, nil
}

func (s *Service) taxPolicy(ctx context.Context) (bool, float64) {
	enabled := false
	if raw, err := s.repo.GetSetting(ctx, "gst_enabled"); err == nil {
		enabled, _ = strconv.ParseBool(raw)
	}
	rate := 18.0
	if raw, err := s.repo.GetSetting(ctx, "tax_rate_percent"); err == nil {
		if parsed, perr := strconv.ParseFloat(raw, 64); perr == nil {
			rate = parsed
		}
	}
	return enabled, rate
}

// issueAutoCoupon grants a one-use 10% coupon after any sale with a customer
// attached. Failures only log; the sale already committed.
func (s *Service) issueAutoCoupon(ctx context.Context, mobile string, now time.Time) string {
	coupon := domain.Coupon{
		Code:         "SAVE10-" + xid.Digits(4),
		Type:         domain.CouponTypePercent,
		ValuePercent: autoCouponPercent,
		MinBillCents: autoCouponMinBillCents,
		ValidUntil:   now.AddDate(0, 0, autoCouponValidDays),
		UsageLimit:   1,
		BoundMobile:  mobile,
		CreatedAt:    now,
	}
	if _, err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		log.Printf("[service] WARN: auto coupon for %s not created: %v", mobile, err)
		return ""
	}
	return coupon.Code
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidation failed: %v", err)
	}
}

func (s *Service) rememberSale(operator string, saleID string) {
	s.undoMu.Lock()
	defer s.undoMu.Unlock()
	stack := append(s.lastSales[operator], saleID)
	if len(stack) > s.undoDepth {
		stack = stack[len(stack)-s.undoDepth:]
	}
	s.lastSales[operator] = stack
}

func (s *Service) popLastSale(operator string) (string, bool) {
	s.undoMu.Lock()
	defer s.undoMu.Unlock()
	stack := s.lastSales[operator]
	if len(stack) == 0 {
		return "", false
	}
	saleID := stack[len(stack)-1]
	s.lastSales[operator] = stack[:len(stack)-1]
	return saleID, true
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Actor:      actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// fraudFlags marks the heuristics used by back-office review: oversized
// lines, suspiciously fast large carts, and very large totals.
func fraudFlags(sale domain.Sale) []string {
	flags := make([]string, 0, 2)
	for _, line := range sale.Lines {
		if line.Qty > fraudLineQtyLimit {
			flags = append(flags, fmt.Sprintf("high_quantity:%s", line.SKU))
		}
	}
	if sale.TimeTakenSeconds > 0 && sale.TimeTakenSeconds < fraudRushSeconds && len(sale.Lines) > fraudRushLineCount {
		flags = append(flags, "rushed_entry")
	}
	if sale.TotalCents > fraudLargeTotalCents {
		flags = append(flags, "large_total")
	}
	return flags
}

func integrityHash(createdAt time.Time, totalCents int64, lines []domain.SaleLine, operator string) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", line.SKU, line.Qty, line.UnitPriceCents))
	}
	payload := fmt.Sprintf("%s|%d|%s|%s", createdAt.UTC().Format(time.RFC3339), totalCents, strings.Join(parts, ","), operator)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func skusOf(items []domain.CartItem) []string {
	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	return skus
}

func userView(user domain.UserAccount) domain.UserView {
	return domain.UserView{
		Username:  user.Username,
		Role:      user.Role,
		FullName:  user.FullName,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}
