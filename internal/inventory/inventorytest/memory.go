// Package inventorytest provides an in-memory inventory store for service tests.
package inventorytest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockworks/internal/inventory"
)

// Store is an in-memory implementation of inventory.RepositoryPort. A single
// mutex stands in for row locks, and a failed transaction restores the state
// captured when it began.
type Store struct {
	mu        sync.Mutex
	items     map[uuid.UUID]inventory.StockItem
	movements []inventory.Movement
	used      map[uuid.UUID]bool

	// BeforeSave, when set, runs before every SaveItem and may fail it.
	BeforeSave func(item inventory.StockItem) error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{items: make(map[uuid.UUID]inventory.StockItem), used: make(map[uuid.UUID]bool)}
}

// Put inserts or replaces an item.
func (s *Store) Put(item inventory.StockItem) inventory.StockItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	s.items[item.ID] = item
	return item
}

// Item returns the stored item.
func (s *Store) Item(id uuid.UUID) (inventory.StockItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

// Movements returns the movements of an item in insertion order.
func (s *Store) Movements(itemID uuid.UUID) []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for _, m := range s.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out
}

// MarkUsed records usage history for an item.
func (s *Store) MarkUsed(itemID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[itemID] = true
}

// Atomic runs fn while holding the store lock, rolling back on error.
func (s *Store) Atomic(fn func(inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make(map[uuid.UUID]inventory.StockItem, len(s.items))
	for id, item := range s.items {
		items[id] = item
	}
	movements := append([]inventory.Movement(nil), s.movements...)
	if err := fn(&tx{store: s}); err != nil {
		s.items = items
		s.movements = movements
		return err
	}
	return nil
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.Atomic(func(tx inventory.TxRepository) error {
		return fn(ctx, tx)
	})
}

// GetItem implements inventory.RepositoryPort.
func (s *Store) GetItem(_ context.Context, tenantID, itemID uuid.UUID) (inventory.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || item.TenantID != tenantID {
		return inventory.StockItem{}, inventory.ErrItemNotFound
	}
	return item, nil
}

// ListItems implements inventory.RepositoryPort.
func (s *Store) ListItems(_ context.Context, tenantID uuid.UUID, filter inventory.ItemFilter) ([]inventory.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.StockItem
	for _, item := range s.items {
		if item.TenantID != tenantID {
			continue
		}
		if filter.Kind != "" && item.Kind != filter.Kind {
			continue
		}
		if filter.ActiveOnly && !item.Active {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListMovements implements inventory.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, tenantID, itemID uuid.UUID, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for _, m := range s.movements {
		if m.TenantID != tenantID || m.ItemID != itemID {
			continue
		}
		if !filter.From.IsZero() && m.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.PostedAt.After(filter.To) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// tx operates on the store with the lock already held.
type tx struct {
	store *Store
}

func (t *tx) GetItemForUpdate(_ context.Context, tenantID, itemID uuid.UUID) (inventory.StockItem, error) {
	item, ok := t.store.items[itemID]
	if !ok || item.TenantID != tenantID {
		return inventory.StockItem{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (t *tx) FindItemByNameForUpdate(_ context.Context, tenantID uuid.UUID, name string) (inventory.StockItem, error) {
	for _, item := range t.store.items {
		if item.TenantID == tenantID && item.Name == name {
			return item, nil
		}
	}
	return inventory.StockItem{}, inventory.ErrItemNotFound
}

func (t *tx) LockItems(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]inventory.StockItem, error) {
	out := make(map[uuid.UUID]inventory.StockItem, len(ids))
	for _, id := range ids {
		if item, ok := t.store.items[id]; ok && item.TenantID == tenantID {
			out[id] = item
		}
	}
	return out, nil
}

func (t *tx) InsertItem(_ context.Context, item inventory.StockItem) (bool, error) {
	for _, existing := range t.store.items {
		if existing.TenantID == item.TenantID && existing.Name == item.Name {
			return false, nil
		}
	}
	t.store.items[item.ID] = item
	return true, nil
}

func (t *tx) SaveItem(_ context.Context, item inventory.StockItem) error {
	if t.store.BeforeSave != nil {
		if err := t.store.BeforeSave(item); err != nil {
			return err
		}
	}
	existing, ok := t.store.items[item.ID]
	if !ok || existing.TenantID != item.TenantID {
		return inventory.ErrItemNotFound
	}
	t.store.items[item.ID] = item
	return nil
}

func (t *tx) InsertMovement(_ context.Context, m inventory.Movement) error {
	t.store.movements = append(t.store.movements, m)
	return nil
}

func (t *tx) HasUsageHistory(_ context.Context, _ uuid.UUID, itemID uuid.UUID) (bool, error) {
	return t.store.used[itemID], nil
}

func (t *tx) DeleteItem(_ context.Context, tenantID, itemID uuid.UUID) error {
	item, ok := t.store.items[itemID]
	if !ok || item.TenantID != tenantID {
		return inventory.ErrItemNotFound
	}
	delete(t.store.items, itemID)
	kept := t.store.movements[:0:0]
	for _, m := range t.store.movements {
		if m.ItemID != itemID {
			kept = append(kept, m)
		}
	}
	t.store.movements = kept
	return nil
}

func (t *tx) DeactivateItem(_ context.Context, tenantID, itemID uuid.UUID) error {
	item, ok := t.store.items[itemID]
	if !ok || item.TenantID != tenantID {
		return inventory.ErrItemNotFound
	}
	item.Active = false
	t.store.items[itemID] = item
	return nil
}
