package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
)

// record orders messages by id.
type record struct {
	m PaymentMessage
}

func (a record) Less(b btree.Item) bool {
	return a.m.ID < b.(record).m.ID
}

// addressKey indexes ids by payment address.
type addressKey struct {
	address, id string
}

func (a addressKey) Less(b btree.Item) bool {
	return a.address < b.(addressKey).address
}

// MemoryStore keeps records in B-trees guarded by a RWMutex. It backs
// single-instance deployments and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      *btree.BTree
	byAddress *btree.BTree
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      btree.New(2),
		byAddress: btree.New(2),
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, m *PaymentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID.Has(record{PaymentMessage{ID: m.ID}}) || s.byAddress.Has(addressKey{address: m.Address}) {
		return ErrDuplicate
	}

	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	s.byID.ReplaceOrInsert(record{*m})
	s.byAddress.ReplaceOrInsert(addressKey{address: m.Address, id: m.ID})
	return nil
}

func (s *MemoryStore) ByID(_ context.Context, id string) (*PaymentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *MemoryStore) ByAddress(_ context.Context, address string) (*PaymentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.byAddress.Get(addressKey{address: address})
	if it == nil {
		return nil, ErrNotFound
	}
	return s.get(it.(addressKey).id)
}

func (s *MemoryStore) get(id string) (*PaymentMessage, error) {
	it := s.byID.Get(record{PaymentMessage{ID: id}})
	if it == nil {
		return nil, ErrNotFound
	}
	m := it.(record).m
	return &m, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(m *PaymentMessage) error) (*PaymentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(id)
	if err != nil {
		return nil, err
	}

	// fn works on a copy so a failed update leaves the stored record intact
	next := *cur
	if err := fn(&next); err != nil {
		return nil, err
	}
	// id and address are the record's identity
	next.ID = cur.ID
	next.Address = cur.Address
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()

	s.byID.ReplaceOrInsert(record{next})
	out := next
	return &out, nil
}

func (s *MemoryStore) ListStuck(_ context.Context, limit int) ([]PaymentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []PaymentMessage
	s.byID.Ascend(func(it btree.Item) bool {
		m := it.(record).m
		if m.IsStuck() {
			list = append(list, m)
		}
		return true
	})

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.Before(list[j].UpdatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
