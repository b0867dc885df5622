package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// RecipientDirectory is an in-memory notification.RecipientResolver.
// Unknown accounts resolve to a context carrying only the account id.
type RecipientDirectory struct {
	mu    sync.RWMutex
	items map[shared.AccountID]notification.RecipientContext
}

var _ notification.RecipientResolver = (*RecipientDirectory)(nil)

// NewRecipientDirectory creates a directory seeded with recipients.
func NewRecipientDirectory(recipients ...notification.RecipientContext) *RecipientDirectory {
	d := &RecipientDirectory{items: make(map[shared.AccountID]notification.RecipientContext, len(recipients))}
	for _, rc := range recipients {
		d.items[rc.AccountID] = rc
	}
	return d
}

// Resolve implements notification.RecipientResolver.
func (d *RecipientDirectory) Resolve(ctx context.Context, accountID shared.AccountID) (notification.RecipientContext, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rc, ok := d.items[accountID]; ok {
		return rc, nil
	}
	return notification.RecipientContext{AccountID: accountID}, nil
}

// Upsert stores the account's addresses.
func (d *RecipientDirectory) Upsert(ctx context.Context, rc notification.RecipientContext) error {
	if !rc.AccountID.IsValid() {
		return notification.ErrInvalidAccountID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[rc.AccountID] = rc
	return nil
}
