package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]core.User // by id
	byUsername map[string]string    // username -> id
	expenses   map[string]core.Expense
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]core.User),
		byUsername: make(map[string]string),
		expenses:   make(map[string]core.Expense),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[u.Username]; exists {
		return fmt.Errorf("username %q: %w", u.Username, core.ErrConflict)
	}
	s.users[u.ID] = u
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) UserByUsername(_ context.Context, username string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	s.users[id] = u
	return nil
}

func (s *MemoryStore) CreateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.expenses[e.ID]; exists {
		return fmt.Errorf("expense %s: %w", e.ID, core.ErrConflict)
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *MemoryStore) ListExpenses(_ context.Context, userID string) ([]core.Expense, error) {
	s.mu.Lock()
	out := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateExpense(_ context.Context, userID, id string, p core.ExpensePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.ErrNotFound
	}
	p.Apply(&e)
	s.expenses[id] = e
	return nil
}

func (s *MemoryStore) DeleteExpense(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
