package errorqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and mock mode. It
// honors the same optimistic status-guard contract as the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Item
	logs  map[string][]*RetryLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Item),
		logs:  make(map[string][]*RetryLog),
	}
}

func copyItem(item *Item) *Item {
	dup := *item
	if item.NextRetryAt != nil {
		t := *item.NextRetryAt
		dup.NextRetryAt = &t
	}
	if item.ResolvedAt != nil {
		t := *item.ResolvedAt
		dup.ResolvedAt = &t
	}
	dup.ErrorData = append([]byte(nil), item.ErrorData...)
	dup.Context = append([]byte(nil), item.Context...)
	return &dup
}

func (s *MemoryStore) Insert(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	return copyItem(item), nil
}

func (s *MemoryStore) Update(_ context.Context, item *Item, expectedStatus Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("item %s: %w", item.ID, ErrItemNotFound)
	}
	if stored.Status != expectedStatus {
		return fmt.Errorf("item %s: expected %s, found %s: %w",
			item.ID, expectedStatus, stored.Status, ErrStatusConflict)
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Item
	for _, item := range s.items {
		if filter.OrganizationID != "" && item.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.ErrorType != "" && item.ErrorType != filter.ErrorType {
			continue
		}
		if filter.Severity != "" && item.Severity != filter.Severity {
			continue
		}
		matched = append(matched, copyItem(item))
	}

	// Newest first, mirroring the Postgres ordering.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) ReadyForRetry(_ context.Context, now time.Time, limit int) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Item
	for _, item := range s.items {
		if item.Status != StatusPending {
			continue
		}
		if item.NextRetryAt == nil || item.NextRetryAt.After(now) {
			continue
		}
		if item.RetryCount >= item.MaxRetries {
			continue
		}
		due = append(due, copyItem(item))
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Severity.Rank() != due[j].Severity.Rank() {
			return due[i].Severity.Rank() > due[j].Severity.Rank()
		}
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})

	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) AppendRetryLog(_ context.Context, log *RetryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *log
	dup.ResponseData = append([]byte(nil), log.ResponseData...)
	s.logs[log.ErrorQueueID] = append(s.logs[log.ErrorQueueID], &dup)
	return nil
}

func (s *MemoryStore) RetryLogs(_ context.Context, itemID string) ([]*RetryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.logs[itemID]
	out := make([]*RetryLog, len(logs))
	for i, log := range logs {
		dup := *log
		out[i] = &dup
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, organizationID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{
		ByStatus:   make(map[Status]int),
		ByType:     make(map[ErrorType]int),
		BySeverity: make(map[Severity]int),
	}
	for _, item := range s.items {
		if organizationID != "" && item.OrganizationID != organizationID {
			continue
		}
		stats.Total++
		stats.ByStatus[item.Status]++
		stats.ByType[item.ErrorType]++
		stats.BySeverity[item.Severity]++
	}
	return stats, nil
}
