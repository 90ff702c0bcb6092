package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/store"
	"smartretail/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `sku, name, category, price_cents, cost_cents, stock, sales_count, last_restock, expiry_date, dead_stock`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var lastRestock, expiryDate sql.NullTime
	err := row.Scan(&p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.CostCents, &p.Stock, &p.SalesCount, &lastRestock, &expiryDate, &p.DeadStock)
	if err != nil {
		return domain.Product{}, err
	}
	if lastRestock.Valid {
		t := lastRestock.Time.UTC()
		p.LastRestock = &t
	}
	if expiryDate.Valid {
		t := expiryDate.Time.UTC()
		p.ExpiryDate = &t
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, price_cents, cost_cents, stock, sales_count, last_restock, expiry_date, dead_stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,now(),$7,false,now(),now())
	`, product.SKU, product.Name, product.Category, product.PriceCents, product.CostCents, product.Stock, nullTime(product.ExpiryDate))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}
	return s.GetProductBySKU(ctx, product.SKU)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, cost_cents = $5, expiry_date = $6, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.PriceCents, product.CostCents, nullTime(product.ExpiryDate))
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProductBySKU(ctx, product.SKU)
}

func (s *Store) DeleteProduct(ctx context.Context, sku string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	if len(skus) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(skus))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RestockProduct(ctx context.Context, sku string, qty int, at time.Time) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrInvalidSale
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, last_restock = $3, updated_at = now()
		WHERE sku = $1
	`, sku, qty, at.UTC())
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProductBySKU(ctx, sku)
}

func (s *Store) SetDeadStock(ctx context.Context, sku string, dead bool) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET dead_stock = $2, updated_at = now()
		WHERE sku = $1
	`, sku, dead)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProductBySKU(ctx, sku)
}

const saleColumns = `id, terminal_id, operator, customer_mobile, payment_method, subtotal_cents, discount_cents, tax_cents, total_cents, coupon_code, points_redeemed, points_earned, integrity_hash, status, cancellation_reason, cancelled_by, time_taken_seconds, created_at, cancelled_at, lines`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	var customerMobile, couponCode, cancellationReason, cancelledBy sql.NullString
	var cancelledAt sql.NullTime
	var linesRaw []byte
	err := row.Scan(&sale.ID, &sale.TerminalID, &sale.Operator, &customerMobile, &sale.PaymentMethod,
		&sale.SubtotalCents, &sale.DiscountCents, &sale.TaxCents, &sale.TotalCents,
		&couponCode, &sale.PointsRedeemed, &sale.PointsEarned, &sale.IntegrityHash,
		&sale.Status, &cancellationReason, &cancelledBy, &sale.TimeTakenSeconds,
		&sale.CreatedAt, &cancelledAt, &linesRaw)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CustomerMobile = customerMobile.String
	sale.CouponCode = couponCode.String
	sale.CancellationReason = cancellationReason.String
	sale.CancelledBy = cancelledBy.String
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		sale.CancelledAt = &t
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if len(linesRaw) > 0 {
		if err := json.Unmarshal(linesRaw, &sale.Lines); err != nil {
			return domain.Sale{}, err
		}
	}
	return sale, nil
}

// CreateSale runs the whole commit as one serializable transaction: stock
// decrement, coupon consumption, customer stat update and the sale insert
// succeed or fail together.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 || sale.Operator == "" || sale.TerminalID == "" {
		return nil, store.ErrInvalidSale
	}
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidSale
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	skus := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		skus = append(skus, line.SKU)
	}
	stockRows, err := tx.QueryContext(ctx, `
		SELECT sku, stock
		FROM products
		WHERE sku = ANY($1)
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, err
	}
	stockMap := make(map[string]int, len(skus))
	for stockRows.Next() {
		var sku string
		var stock int
		if err := stockRows.Scan(&sku, &stock); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[sku] = stock
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, line := range sale.Lines {
		stock, exists := stockMap[line.SKU]
		if !exists {
			return nil, fmt.Errorf("sku %s unavailable: %w", line.SKU, store.ErrNotFound)
		}
		if stock < line.Qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, line.SKU)
		}
	}

	if sale.CouponCode != "" {
		var usedCount, usageLimit int
		err := tx.QueryRowContext(ctx, `
			SELECT used_count, usage_limit
			FROM coupons
			WHERE code = $1
			FOR UPDATE
		`, sale.CouponCode).Scan(&usedCount, &usageLimit)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("coupon %s: %w", sale.CouponCode, store.ErrNotFound)
			}
			return nil, err
		}
		if usedCount >= usageLimit {
			return nil, store.ErrCouponExhausted
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE coupons SET used_count = used_count + 1 WHERE code = $1
		`, sale.CouponCode); err != nil {
			return nil, err
		}
	}

	if sale.CustomerMobile != "" {
		var spend int64
		var points int
		err := tx.QueryRowContext(ctx, `
			SELECT total_spend_cents, loyalty_points
			FROM customers
			WHERE mobile = $1
			FOR UPDATE
		`, sale.CustomerMobile).Scan(&spend, &points)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("customer %s: %w", sale.CustomerMobile, store.ErrNotFound)
			}
			return nil, err
		}
		if points+sale.PointsEarned-sale.PointsRedeemed < 0 {
			return nil, fmt.Errorf("%w: loyalty balance would go negative", store.ErrInvalidSale)
		}
		segment := domain.SegmentForSpend(spend + sale.TotalCents)
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET visits = visits + 1,
			    total_spend_cents = total_spend_cents + $2,
			    loyalty_points = loyalty_points + $3,
			    segment = $4
			WHERE mobile = $1
		`, sale.CustomerMobile, sale.TotalCents, sale.PointsEarned-sale.PointsRedeemed, segment); err != nil {
			return nil, err
		}
	}

	for _, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, sales_count = sales_count + $2, updated_at = now()
			WHERE sku = $1
		`, line.SKU, line.Qty); err != nil {
			return nil, err
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCompleted

	linesJSON, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, terminal_id, operator, customer_mobile, payment_method, subtotal_cents, discount_cents, tax_cents, total_cents, coupon_code, points_redeemed, points_earned, integrity_hash, status, time_taken_seconds, created_at, lines)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.TerminalID, sale.Operator, nullIfEmpty(sale.CustomerMobile), sale.PaymentMethod,
		sale.SubtotalCents, sale.DiscountCents, sale.TaxCents, sale.TotalCents,
		nullIfEmpty(sale.CouponCode), sale.PointsRedeemed, sale.PointsEarned, sale.IntegrityHash,
		sale.Status, sale.TimeTakenSeconds, sale.CreatedAt, linesJSON); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.SaleID != "" {
		args = append(args, filter.SaleID)
		clauses = append(clauses, fmt.Sprintf("id = $%d", len(args)))
	}
	if filter.Operator != "" {
		args = append(args, "%"+filter.Operator+"%")
		clauses = append(clauses, fmt.Sprintf("operator LIKE $%d", len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		clauses = append(clauses, fmt.Sprintf("created_at::date = $%d::date", len(args)))
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CancelSale(ctx context.Context, id string, cancelledBy string, reason string, at time.Time, reversal store.SaleReversal) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrAlreadyCancelled
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $2, sales_count = sales_count - $2, updated_at = now()
			WHERE sku = $1
		`, line.SKU, line.Qty); err != nil {
			return nil, err
		}
	}
	if reversal.RestoreCouponUse && sale.CouponCode != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE coupons SET used_count = used_count - 1
			WHERE code = $1 AND used_count > 0
		`, sale.CouponCode); err != nil {
			return nil, err
		}
	}
	if reversal.RestoreCustomerStat && sale.CustomerMobile != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET visits = visits - 1,
			    total_spend_cents = total_spend_cents - $2,
			    loyalty_points = GREATEST(loyalty_points + $3, 0)
			WHERE mobile = $1
		`, sale.CustomerMobile, sale.TotalCents, sale.PointsRedeemed-sale.PointsEarned); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET segment = CASE
				WHEN total_spend_cents > 5000000 THEN 'high_value'
				WHEN total_spend_cents > 1000000 THEN 'regular'
				ELSE 'occasional'
			END
			WHERE mobile = $1
		`, sale.CustomerMobile); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancellation_reason = $3, cancelled_by = $4, cancelled_at = $5
		WHERE id = $1
	`, id, domain.SaleStatusCancelled, reason, cancelledBy, at.UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Status = domain.SaleStatusCancelled
	sale.CancellationReason = reason
	sale.CancelledBy = cancelledBy
	cancelledAt := at.UTC()
	sale.CancelledAt = &cancelledAt
	return &sale, nil
}

func (s *Store) RedoSale(ctx context.Context, id string, at time.Time, reversal store.SaleReversal) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sale.Status != domain.SaleStatusCancelled {
		return nil, store.ErrNotCancelled
	}

	skus := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		skus = append(skus, line.SKU)
	}
	stockRows, err := tx.QueryContext(ctx, `
		SELECT sku, stock
		FROM products
		WHERE sku = ANY($1)
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, err
	}
	stockMap := make(map[string]int, len(skus))
	for stockRows.Next() {
		var sku string
		var stock int
		if err := stockRows.Scan(&sku, &stock); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[sku] = stock
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, line := range sale.Lines {
		stock, exists := stockMap[line.SKU]
		if !exists || stock < line.Qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, line.SKU)
		}
	}
	for _, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, sales_count = sales_count + $2, updated_at = now()
			WHERE sku = $1
		`, line.SKU, line.Qty); err != nil {
			return nil, err
		}
	}
	if reversal.RestoreCouponUse && sale.CouponCode != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE coupons SET used_count = used_count + 1
			WHERE code = $1 AND used_count < usage_limit
		`, sale.CouponCode)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrCouponExhausted, sale.CouponCode)
		}
	}
	if reversal.RestoreCustomerStat && sale.CustomerMobile != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET visits = visits + 1,
			    total_spend_cents = total_spend_cents + $2,
			    loyalty_points = GREATEST(loyalty_points + $3, 0)
			WHERE mobile = $1
		`, sale.CustomerMobile, sale.TotalCents, sale.PointsEarned-sale.PointsRedeemed); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET segment = CASE
				WHEN total_spend_cents > 5000000 THEN 'high_value'
				WHEN total_spend_cents > 1000000 THEN 'regular'
				ELSE 'occasional'
			END
			WHERE mobile = $1
		`, sale.CustomerMobile); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancellation_reason = NULL, cancelled_by = NULL, cancelled_at = NULL
		WHERE id = $1
	`, id, domain.SaleStatusCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Status = domain.SaleStatusCompleted
	sale.CancellationReason = ""
	sale.CancelledBy = ""
	sale.CancelledAt = nil
	return &sale, nil
}

func (s *Store) GetCustomer(ctx context.Context, mobile string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT mobile, name, email, visits, total_spend_cents, loyalty_points, segment, created_at
		FROM customers
		WHERE mobile = $1
	`, mobile).Scan(&c.Mobile, &c.Name, &c.Email, &c.Visits, &c.TotalSpendCents, &c.LoyaltyPoints, &c.Segment, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Mobile = strings.TrimSpace(customer.Mobile)
	if customer.Mobile == "" {
		return nil, store.ErrInvalidSale
	}
	if customer.Segment == "" {
		customer.Segment = domain.SegmentNew
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (mobile, name, email, visits, total_spend_cents, loyalty_points, segment, created_at)
		VALUES ($1,$2,$3,0,0,0,$4,now())
		ON CONFLICT (mobile) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`, customer.Mobile, customer.Name, customer.Email, customer.Segment)
	if err != nil {
		return nil, err
	}
	return s.GetCustomer(ctx, customer.Mobile)
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT mobile, name, email, visits, total_spend_cents, loyalty_points, segment, created_at
		FROM customers
		ORDER BY total_spend_cents DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.Mobile, &c.Name, &c.Email, &c.Visits, &c.TotalSpendCents, &c.LoyaltyPoints, &c.Segment, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	if coupon.Code == "" || coupon.UsageLimit < 1 {
		return nil, store.ErrInvalidSale
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (code, type, value_cents, value_percent, min_bill_cents, valid_until, usage_limit, used_count, bound_mobile, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9)
	`, coupon.Code, coupon.Type, coupon.ValueCents, coupon.ValuePercent, coupon.MinBillCents,
		coupon.ValidUntil.UTC(), coupon.UsageLimit, nullIfEmpty(coupon.BoundMobile), coupon.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}
	created := coupon
	return &created, nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	var boundMobile sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT code, type, value_cents, value_percent, min_bill_cents, valid_until, usage_limit, used_count, bound_mobile, created_at
		FROM coupons
		WHERE code = $1
	`, code).Scan(&c.Code, &c.Type, &c.ValueCents, &c.ValuePercent, &c.MinBillCents, &c.ValidUntil, &c.UsageLimit, &c.UsedCount, &boundMobile, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.BoundMobile = boundMobile.String
	c.ValidUntil = c.ValidUntil.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCoupons(ctx context.Context, limit int) ([]domain.Coupon, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, type, value_cents, value_percent, min_bill_cents, valid_until, usage_limit, used_count, bound_mobile, created_at
		FROM coupons
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0, limit)
	for rows.Next() {
		var c domain.Coupon
		var boundMobile sql.NullString
		if err := rows.Scan(&c.Code, &c.Type, &c.ValueCents, &c.ValuePercent, &c.MinBillCents, &c.ValidUntil, &c.UsageLimit, &c.UsedCount, &boundMobile, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.BoundMobile = boundMobile.String
		c.ValidUntil = c.ValidUntil.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return coupons, nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	if campaign.ID == "" {
		campaign.ID = xid.New("camp")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, type, start_at, end_at, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, campaign.ID, campaign.Name, campaign.Type, campaign.StartAt.UTC(), campaign.EndAt.UTC(), campaign.Active, campaign.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}
	created := campaign
	return &created, nil
}

func (s *Store) ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit < 1 {
		limit = 100
	}
	return s.queryCampaigns(ctx, `
		SELECT id, name, type, start_at, end_at, active, created_at
		FROM campaigns
		ORDER BY start_at DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListActiveCampaigns(ctx context.Context, at time.Time) ([]domain.Campaign, error) {
	return s.queryCampaigns(ctx, `
		SELECT id, name, type, start_at, end_at, active, created_at
		FROM campaigns
		WHERE active = true AND start_at <= $1 AND end_at > $1
		ORDER BY start_at DESC
	`, at.UTC())
}

func (s *Store) queryCampaigns(ctx context.Context, query string, args ...any) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, 16)
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.StartAt, &c.EndAt, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.StartAt = c.StartAt.UTC()
		c.EndAt = c.EndAt.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (s *Store) CreateTerminal(ctx context.Context, terminal domain.Terminal) (*domain.Terminal, error) {
	if terminal.ID == "" || terminal.Name == "" {
		return nil, store.ErrInvalidSale
	}
	if terminal.Status == "" {
		terminal.Status = domain.TerminalStatusActive
	}
	if terminal.CreatedAt.IsZero() {
		terminal.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, name, location, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, terminal.ID, terminal.Name, terminal.Location, terminal.Status, terminal.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}
	created := terminal
	return &created, nil
}

func (s *Store) GetTerminal(ctx context.Context, id string) (*domain.Terminal, error) {
	var t domain.Terminal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, status, created_at
		FROM terminals
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Location, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (s *Store) ListTerminals(ctx context.Context) ([]domain.Terminal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, status, created_at
		FROM terminals
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terminals := make([]domain.Terminal, 0, 16)
	for rows.Next() {
		var t domain.Terminal
		if err := rows.Scan(&t.ID, &t.Name, &t.Location, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		terminals = append(terminals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return terminals, nil
}

func (s *Store) UpdateTerminalStatus(ctx context.Context, id string, status string) (*domain.Terminal, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE terminals SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetTerminal(ctx, id)
}

// AcquireSession checks occupancy and inserts the lock row inside one
// serializable transaction so two operators cannot win the same terminal.
func (s *Store) AcquireSession(ctx context.Context, session domain.TerminalSession) (*domain.TerminalSession, error) {
	if session.TerminalID == "" || session.Username == "" {
		return nil, store.ErrInvalidSale
	}
	if session.LoginAt.IsZero() {
		session.LoginAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var holder string
	err = tx.QueryRowContext(ctx, `
		SELECT username
		FROM terminal_sessions
		WHERE terminal_id = $1
		FOR UPDATE
	`, session.TerminalID).Scan(&holder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil && holder != session.Username {
		return nil, fmt.Errorf("%w: held by %s", store.ErrTerminalOccupied, holder)
	}

	// One physical-terminal row per user: drop any previous physical lock.
	// Shared back-office rows survive a login elsewhere.
	if !session.Shared {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM terminal_sessions WHERE username = $1 AND NOT shared
		`, session.Username); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO terminal_sessions (terminal_id, username, role, shared, login_at)
		VALUES ($1,$2,$3,$4,$5)
	`, session.TerminalID, session.Username, session.Role, session.Shared, session.LoginAt.UTC()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	acquired := session
	return &acquired, nil
}

func (s *Store) ReleaseSessionsByUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM terminal_sessions WHERE username = $1`, username)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, terminalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM terminal_sessions WHERE terminal_id = $1`, terminalID)
	return err
}

func (s *Store) DeleteAllSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM terminal_sessions`)
	return err
}

func (s *Store) GetSessionByTerminal(ctx context.Context, terminalID string) (*domain.TerminalSession, error) {
	var sess domain.TerminalSession
	err := s.db.QueryRowContext(ctx, `
		SELECT terminal_id, username, role, shared, login_at
		FROM terminal_sessions
		WHERE terminal_id = $1
	`, terminalID).Scan(&sess.TerminalID, &sess.Username, &sess.Role, &sess.Shared, &sess.LoginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sess.LoginAt = sess.LoginAt.UTC()
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]domain.TerminalSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT terminal_id, username, role, shared, login_at
		FROM terminal_sessions
		ORDER BY terminal_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.TerminalSession, 0, 16)
	for rows.Next() {
		var sess domain.TerminalSession
		if err := rows.Scan(&sess.TerminalID, &sess.Username, &sess.Role, &sess.Shared, &sess.LoginAt); err != nil {
			return nil, err
		}
		sess.LoginAt = sess.LoginAt.UTC()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) CreateStockRequest(ctx context.Context, request domain.StockRequest) (*domain.StockRequest, error) {
	if request.SKU == "" || request.Qty < 1 {
		return nil, store.ErrInvalidSale
	}
	if request.ID == "" {
		request.ID = xid.New("streq")
	}
	if request.Status == "" {
		request.Status = domain.StockRequestPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_requests (id, sku, product_name, qty, notes, status, requested_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, request.ID, request.SKU, request.ProductName, request.Qty, request.Notes, request.Status, request.RequestedBy, request.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := request
	return &created, nil
}

func (s *Store) ListStockRequests(ctx context.Context, limit int) ([]domain.StockRequest, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, product_name, qty, notes, status, requested_by, created_at
		FROM stock_requests
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.StockRequest, 0, limit)
	for rows.Next() {
		var r domain.StockRequest
		if err := rows.Scan(&r.ID, &r.SKU, &r.ProductName, &r.Qty, &r.Notes, &r.Status, &r.RequestedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) UpdateStockRequestStatus(ctx context.Context, id string, status string) (*domain.StockRequest, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_requests SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}

	var r domain.StockRequest
	err = s.db.QueryRowContext(ctx, `
		SELECT id, sku, product_name, qty, notes, status, requested_by, created_at
		FROM stock_requests
		WHERE id = $1
	`, id).Scan(&r.ID, &r.SKU, &r.ProductName, &r.Qty, &r.Notes, &r.Status, &r.RequestedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

func (s *Store) ListSettings(ctx context.Context) ([]domain.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make([]domain.Setting, 0, 16)
	for rows.Next() {
		var setting domain.Setting
		if err := rows.Scan(&setting.Key, &setting.Value); err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.Actor, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidSale
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, full_name, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, user.FullName, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidSale
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, full_name, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.FullName, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, full_name, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.FullName, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) UpdateUserActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = $2 WHERE username = $1`, username, active)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) UpdateUserFullName(ctx context.Context, username string, fullName string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET full_name = $2 WHERE username = $1`, username, fullName)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
