package store

import (
	"context"
	"errors"
	"time"

	"smartretail/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrTerminalOccupied  = errors.New("terminal occupied")
	ErrAlreadyCancelled  = errors.New("sale already cancelled")
	ErrNotCancelled      = errors.New("sale is not cancelled")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
)

// SaleReversal carries the reversal policy. Stock is always restored on
// cancel and re-applied on redo; coupon usage and customer stats follow the
// configured flags, symmetrically in both directions.
type SaleReversal struct {
	RestoreCouponUse    bool
	RestoreCustomerStat bool
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, sku string) error
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	RestockProduct(ctx context.Context, sku string, qty int, at time.Time) (*domain.Product, error)
	SetDeadStock(ctx context.Context, sku string, dead bool) (*domain.Product, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	CancelSale(ctx context.Context, id string, cancelledBy string, reason string, at time.Time, reversal SaleReversal) (*domain.Sale, error)
	RedoSale(ctx context.Context, id string, at time.Time, reversal SaleReversal) (*domain.Sale, error)

	GetCustomer(ctx context.Context, mobile string) (*domain.Customer, error)
	UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	ListCoupons(ctx context.Context, limit int) ([]domain.Coupon, error)

	CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error)
	ListActiveCampaigns(ctx context.Context, at time.Time) ([]domain.Campaign, error)

	CreateTerminal(ctx context.Context, terminal domain.Terminal) (*domain.Terminal, error)
	GetTerminal(ctx context.Context, id string) (*domain.Terminal, error)
	ListTerminals(ctx context.Context) ([]domain.Terminal, error)
	UpdateTerminalStatus(ctx context.Context, id string, status string) (*domain.Terminal, error)

	// AcquireSession atomically checks occupancy and inserts the session row.
	// A same-user re-acquire replaces the user's existing row; a different
	// holder yields ErrTerminalOccupied.
	AcquireSession(ctx context.Context, session domain.TerminalSession) (*domain.TerminalSession, error)
	ReleaseSessionsByUser(ctx context.Context, username string) error
	DeleteSession(ctx context.Context, terminalID string) error
	DeleteAllSessions(ctx context.Context) error
	GetSessionByTerminal(ctx context.Context, terminalID string) (*domain.TerminalSession, error)
	ListSessions(ctx context.Context) ([]domain.TerminalSession, error)

	CreateStockRequest(ctx context.Context, request domain.StockRequest) (*domain.StockRequest, error)
	ListStockRequests(ctx context.Context, limit int) ([]domain.StockRequest, error)
	UpdateStockRequestStatus(ctx context.Context, id string, status string) (*domain.StockRequest, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
	ListSettings(ctx context.Context) ([]domain.Setting, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUserActive(ctx context.Context, username string, active bool) error
	UpdateUserFullName(ctx context.Context, username string, fullName string) error
}
