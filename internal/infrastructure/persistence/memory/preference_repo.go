package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// PreferenceRepository stores preference snapshots in memory.
type PreferenceRepository struct {
	mu    sync.RWMutex
	items map[shared.AccountID]notification.PreferenceSnapshot
	clock timeutil.Clock
}

var _ notification.PreferenceRepository = (*PreferenceRepository)(nil)

// NewPreferenceRepository creates an empty repository. A nil clock means the system clock.
func NewPreferenceRepository(clock timeutil.Clock) *PreferenceRepository {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PreferenceRepository{
		items: make(map[shared.AccountID]notification.PreferenceSnapshot),
		clock: clock,
	}
}

// GetOrCreateDefault returns stored preferences or persists the defaults.
func (r *PreferenceRepository) GetOrCreateDefault(ctx context.Context, accountID shared.AccountID) (*notification.Preference, error) {
	if !accountID.IsValid() {
		return nil, notification.ErrInvalidAccountID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.items[accountID]; ok {
		return notification.ReconstitutePreference(s)
	}
	p := notification.DefaultPreference(accountID, r.clock.Now())
	r.items[accountID] = p.Snapshot()
	p.MarkPersisted()
	return p, nil
}

// Save stores p with a version check.
func (r *PreferenceRepository) Save(ctx context.Context, p *notification.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.items[p.AccountID()]
	if exists && current.Version != p.PersistedVersion() {
		return shared.ErrStaleAggregate
	}
	if !exists && !p.IsNew() {
		return shared.ErrPreferenceNotFound
	}
	r.items[p.AccountID()] = p.Snapshot()
	p.MarkPersisted()
	return nil
}
