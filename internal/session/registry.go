package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/store"
	"smartretail/backend/internal/xid"
)

// Locker is the slice of the repository the registry needs. The storage
// implementation makes the occupancy check and the row insert atomic.
type Locker interface {
	AcquireSession(ctx context.Context, session domain.TerminalSession) (*domain.TerminalSession, error)
	ReleaseSessionsByUser(ctx context.Context, username string) error
	DeleteSession(ctx context.Context, terminalID string) error
	DeleteAllSessions(ctx context.Context) error
	GetSessionByTerminal(ctx context.Context, terminalID string) (*domain.TerminalSession, error)
	ListSessions(ctx context.Context) ([]domain.TerminalSession, error)
}

// Registry hands out exclusive terminal locks. Physical terminals admit one
// holder; the back-office terminal is multi-tenant and every login gets a
// synthetic key so sessions never collide.
type Registry struct {
	locker     Locker
	backOffice string
}

func NewRegistry(locker Locker, backOfficeID string) *Registry {
	if backOfficeID == "" {
		backOfficeID = "back-office"
	}
	return &Registry{locker: locker, backOffice: backOfficeID}
}

// Wipe clears every lock. Called once at process start so locks from a
// crashed run cannot strand a terminal.
func (r *Registry) Wipe(ctx context.Context) error {
	return r.locker.DeleteAllSessions(ctx)
}

func (r *Registry) Acquire(ctx context.Context, terminalID string, username string, role string) (*domain.TerminalSession, error) {
	terminalID = strings.TrimSpace(terminalID)
	username = strings.TrimSpace(username)
	if terminalID == "" || username == "" {
		return nil, fmt.Errorf("%w: terminal and username required", store.ErrInvalidSale)
	}

	key := terminalID
	shared := r.IsBackOffice(terminalID)
	if shared {
		key = fmt.Sprintf("%s-%s-%s", r.backOffice, username, xid.Digits(4))
	}
	return r.locker.AcquireSession(ctx, domain.TerminalSession{
		TerminalID: key,
		Username:   username,
		Role:       role,
		Shared:     shared,
		LoginAt:    time.Now().UTC(),
	})
}

// Release drops every lock held by username, whichever terminal it is on.
func (r *Registry) Release(ctx context.Context, username string) error {
	return r.locker.ReleaseSessionsByUser(ctx, username)
}

// ForceRelease unlocks one terminal regardless of holder. Administrative.
func (r *Registry) ForceRelease(ctx context.Context, terminalID string) error {
	return r.locker.DeleteSession(ctx, terminalID)
}

// Occupant reports who holds a physical terminal. The back-office terminal
// never reports occupied.
func (r *Registry) Occupant(ctx context.Context, terminalID string) (string, bool, error) {
	if r.IsBackOffice(terminalID) {
		return "", false, nil
	}
	session, err := r.locker.GetSessionByTerminal(ctx, terminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return session.Username, true, nil
}

func (r *Registry) Sessions(ctx context.Context) ([]domain.TerminalSession, error) {
	return r.locker.ListSessions(ctx)
}

func (r *Registry) IsBackOffice(terminalID string) bool {
	return terminalID == r.backOffice
}
