package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/store"
)

func TestCancelAndRedoSaleAdjustsStock(t *testing.T) {
	databaseURL := os.Getenv("SMARTRETAIL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SMARTRETAIL_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-CANCEL-IT-%d", stamp)
	saleID := fmt.Sprintf("sale-cancel-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, price_cents, cost_cents, stock, sales_count, last_restock, expiry_date, dead_stock, created_at, updated_at)
		VALUES ($1, 'Cancel IT Widget', 'stationery', 12000, 5000, 10, 0, now(), null, false, now(), now())
	`, sku); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	lines, err := json.Marshal([]domain.SaleLine{{SKU: sku, Qty: 2, UnitPriceCents: 12_000}})
	if err != nil {
		t.Fatalf("marshal lines: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, terminal_id, operator, payment_method, subtotal_cents, discount_cents, tax_cents, total_cents, points_redeemed, points_earned, integrity_hash, status, time_taken_seconds, created_at, lines)
		VALUES ($1, 'POS-1', 'operator1', 'cash', 24000, 0, 0, 24000, 0, 0, 'it-hash', 'completed', 0, now(), $2)
	`, saleID, lines); err != nil {
		t.Fatalf("insert sale: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock = stock - 2, sales_count = sales_count + 2 WHERE sku = $1
	`, sku); err != nil {
		t.Fatalf("apply sale stock effect: %v", err)
	}

	cancelled, err := s.CancelSale(ctx, saleID, "manager", "integration test cancel", time.Now().UTC(), store.SaleReversal{})
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	product, err := s.GetProductBySKU(ctx, sku)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("expected stock 10 after cancel, got %d", product.Stock)
	}

	redone, err := s.RedoSale(ctx, saleID, time.Now().UTC(), store.SaleReversal{})
	if err != nil {
		t.Fatalf("redo sale: %v", err)
	}
	if redone.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed status after redo, got %s", redone.Status)
	}
	if redone.CancellationReason != "" {
		t.Fatalf("expected cancellation reason cleared, got %q", redone.CancellationReason)
	}

	product, err = s.GetProductBySKU(ctx, sku)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 8 {
		t.Fatalf("expected stock 8 after redo, got %d", product.Stock)
	}
}
