package session

import (
	"context"
	"errors"
	"testing"

	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/store"
	"smartretail/backend/internal/store/memory"
)

func newTestRegistry() *Registry {
	return NewRegistry(memory.NewSeeded(), "back-office")
}

func TestPhysicalTerminalExclusive(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Acquire(ctx, "POS-1", "operator1", domain.RoleOperator); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, err := reg.Acquire(ctx, "POS-1", "operator2", domain.RoleOperator)
	if !errors.Is(err, store.ErrTerminalOccupied) {
		t.Fatalf("expected ErrTerminalOccupied, got %v", err)
	}

	holder, occupied, err := reg.Occupant(ctx, "POS-1")
	if err != nil {
		t.Fatalf("occupant: %v", err)
	}
	if !occupied || holder != "operator1" {
		t.Fatalf("expected operator1 to hold POS-1, got %q occupied=%v", holder, occupied)
	}
}

func TestSameUserReacquireIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Acquire(ctx, "POS-1", "operator1", domain.RoleOperator); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := reg.Acquire(ctx, "POS-1", "operator1", domain.RoleOperator); err != nil {
		t.Fatalf("re-acquire by same user should succeed, got %v", err)
	}
}

func TestMovingTerminalsLeavesOneLock(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Acquire(ctx, "POS-1", "operator1", domain.RoleOperator); err != nil {
		t.Fatalf("acquire POS-1: %v", err)
	}
	if _, err := reg.Acquire(ctx, "POS-2", "operator1", domain.RoleOperator); err != nil {
		t.Fatalf("acquire POS-2: %v", err)
	}

	if _, occupied, _ := reg.Occupant(ctx, "POS-1"); occupied {
		t.Fatal("POS-1 should be free after the user moved to POS-2")
	}
	if holder, occupied, _ := reg.Occupant(ctx, "POS-2"); !occupied || holder != "operator1" {
		t.Fatalf("POS-2 should be held by operator1, got %q occupied=%v", holder, occupied)
	}
}

func TestBackOfficeIsMultiTenant(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	for _, user := range []string{"admin", "manager", "logistics"} {
		if _, err := reg.Acquire(ctx, "back-office", user, domain.RoleManager); err != nil {
			t.Fatalf("back office acquire for %s: %v", user, err)
		}
	}

	if _, occupied, _ := reg.Occupant(ctx, "back-office"); occupied {
		t.Fatal("back office must never report occupied")
	}

	sessions, err := reg.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 concurrent back office sessions, got %d", len(sessions))
	}
}

func TestBackOfficeSessionSurvivesPhysicalLogin(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Acquire(ctx, "back-office", "manager", domain.RoleManager); err != nil {
		t.Fatalf("back office acquire: %v", err)
	}
	if _, err := reg.Acquire(ctx, "POS-1", "manager", domain.RoleManager); err != nil {
		t.Fatalf("acquire POS-1: %v", err)
	}

	sessions, err := reg.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected back office and POS-1 sessions to coexist, got %d", len(sessions))
	}
	var sharedKept bool
	for _, sess := range sessions {
		if sess.Shared && sess.Username == "manager" {
			sharedKept = true
		}
	}
	if !sharedKept {
		t.Fatal("expected the shared back office session to survive the physical login")
	}
}

func TestReleaseAndForceRelease(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Acquire(ctx, "POS-1", "operator1", domain.RoleOperator); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := reg.Release(ctx, "operator1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, occupied, _ := reg.Occupant(ctx, "POS-1"); occupied {
		t.Fatal("POS-1 should be free after release")
	}

	if _, err := reg.Acquire(ctx, "POS-1", "operator2", domain.RoleOperator); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := reg.ForceRelease(ctx, "POS-1"); err != nil {
		t.Fatalf("force release: %v", err)
	}
	if _, occupied, _ := reg.Occupant(ctx, "POS-1"); occupied {
		t.Fatal("POS-1 should be free after force release")
	}
}

func TestWipeClearsEverything(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	_, _ = reg.Acquire(ctx, "POS-1", "operator1", domain.RoleOperator)
	_, _ = reg.Acquire(ctx, "back-office", "admin", domain.RoleAdmin)

	if err := reg.Wipe(ctx); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	sessions, err := reg.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after wipe, got %d", len(sessions))
	}
}
