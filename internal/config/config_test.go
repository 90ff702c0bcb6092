package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadReversalPolicyDefaultsOff(t *testing.T) {
	t.Setenv("CANCEL_RESTORES_COUPON", "")
	t.Setenv("CANCEL_RESTORES_CUSTOMER", "")

	cfg := Load()
	if cfg.CancelRestoresCoupon || cfg.CancelRestoresCustomer {
		t.Fatalf("expected reversal restore policy off by default, got %+v", cfg)
	}

	t.Setenv("CANCEL_RESTORES_COUPON", "true")
	cfg = Load()
	if !cfg.CancelRestoresCoupon {
		t.Fatalf("expected CANCEL_RESTORES_COUPON=true to be honored")
	}
}

func TestLoadClampsUndoDepth(t *testing.T) {
	t.Setenv("UNDO_DEPTH", "-3")

	cfg := Load()
	if cfg.UndoDepth != 10 {
		t.Fatalf("expected undo depth fallback 10, got %d", cfg.UndoDepth)
	}
}
