package storage

import (
	"context"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

// UserStore persists accounts. Lookups that match nothing return
// core.ErrNotFound; a duplicate username on create returns core.ErrConflict.
type UserStore interface {
	CreateUser(ctx context.Context, u core.User) error
	UserByUsername(ctx context.Context, username string) (core.User, error)
	UserByID(ctx context.Context, id string) (core.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

// ExpenseStore persists expenses. Every read and write is filtered by owner;
// a record that exists but belongs to someone else is reported exactly like
// a missing one (core.ErrNotFound).
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) error
	// ListExpenses returns the owner's expenses, date descending, ties broken
	// by creation time descending.
	ListExpenses(ctx context.Context, userID string) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, userID, id string, p core.ExpensePatch) error
	DeleteExpense(ctx context.Context, userID, id string) error
}

// Store is what a backend provides.
type Store interface {
	UserStore
	ExpenseStore
	Ping(ctx context.Context) error
	Close() error
}
