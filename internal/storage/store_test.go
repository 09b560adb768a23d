package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

// StoreSuite runs the same behaviour checks against every Store.
type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreSuite) createUser(name string) core.User {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	u := core.User{ID: core.NewID(), Username: name, PasswordHash: "hash-" + name, CreatedAt: now, UpdatedAt: now}
	s.Require().NoError(s.store.CreateUser(s.ctx, u))
	return u
}

func (s *StoreSuite) createExpense(owner string, amount float64, category string, date, created time.Time) core.Expense {
	e := core.Expense{
		ID:        core.NewID(),
		UserID:    owner,
		Amount:    amount,
		Category:  category,
		Date:      date,
		CreatedAt: created,
	}
	s.Require().NoError(s.store.CreateExpense(s.ctx, e))
	return e
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func (s *StoreSuite) TestUserLookups() {
	u := s.createUser("alice")

	byName, err := s.store.UserByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(u, byName)

	byID, err := s.store.UserByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(u, byID)

	_, err = s.store.UserByUsername(s.ctx, "ALICE")
	s.True(errors.Is(err, core.ErrNotFound), "usernames are case-sensitive")

	_, err = s.store.UserByID(s.ctx, core.NewID())
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *StoreSuite) TestDuplicateUsernameIsConflict() {
	s.createUser("alice")

	dup := core.User{ID: core.NewID(), Username: "alice", PasswordHash: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	err := s.store.CreateUser(s.ctx, dup)
	s.Require().Error(err)
	s.True(errors.Is(err, core.ErrConflict))
}

func (s *StoreSuite) TestUpdatePassword() {
	u := s.createUser("alice")
	later := u.UpdatedAt.Add(time.Hour)

	s.Require().NoError(s.store.UpdatePassword(s.ctx, u.ID, "new-hash", later))

	got, err := s.store.UserByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal("new-hash", got.PasswordHash)
	s.Equal(later, got.UpdatedAt)
	s.Equal(u.CreatedAt, got.CreatedAt)

	err = s.store.UpdatePassword(s.ctx, core.NewID(), "x", later)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *StoreSuite) TestListIsOwnerScopedAndOrdered() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")

	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	c := time.Date(2025, 3, 6, 10, 0, 0, 0, time.UTC)

	older := s.createExpense(alice.ID, 10, "Food", d1, c)
	sameDayFirst := s.createExpense(alice.ID, 20, "Gas", d2, c)
	sameDayLater := s.createExpense(alice.ID, 30, "Food", d2, c.Add(time.Minute))
	s.createExpense(bob.ID, 99, "Food", d2, c)

	list, err := s.store.ListExpenses(s.ctx, alice.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal([]string{sameDayLater.ID, sameDayFirst.ID, older.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	s.Equal(older, list[2])

	empty, err := s.store.ListExpenses(s.ctx, core.NewID())
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)
}

func (s *StoreSuite) TestUpdateExpense() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	e := s.createExpense(alice.ID, 10, "Food", date, date)
	e.Notes = "lunch"
	s.Require().NoError(s.store.UpdateExpense(s.ctx, alice.ID, e.ID, core.ExpensePatch{Notes: &e.Notes}))

	amount := 12.5
	newDate := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.UpdateExpense(s.ctx, alice.ID, e.ID, core.ExpensePatch{Amount: &amount, Date: &newDate}))

	list, err := s.store.ListExpenses(s.ctx, alice.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(12.5, list[0].Amount)
	s.Equal(newDate, list[0].Date)
	s.Equal("Food", list[0].Category)
	s.Equal("lunch", list[0].Notes)

	empty := ""
	s.Require().NoError(s.store.UpdateExpense(s.ctx, alice.ID, e.ID, core.ExpensePatch{Notes: &empty}))
	list, _ = s.store.ListExpenses(s.ctx, alice.ID)
	s.Equal("", list[0].Notes)

	// A foreign owner and a missing id look the same.
	err = s.store.UpdateExpense(s.ctx, bob.ID, e.ID, core.ExpensePatch{Amount: &amount})
	s.True(errors.Is(err, core.ErrNotFound))
	err = s.store.UpdateExpense(s.ctx, alice.ID, core.NewID(), core.ExpensePatch{Amount: &amount})
	s.True(errors.Is(err, core.ErrNotFound))

	// An empty patch still checks existence and ownership.
	s.NoError(s.store.UpdateExpense(s.ctx, alice.ID, e.ID, core.ExpensePatch{}))
	err = s.store.UpdateExpense(s.ctx, bob.ID, e.ID, core.ExpensePatch{})
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *StoreSuite) TestExpenseOwnerNeedNotHaveUserRow() {
	owner := core.NewID()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	e := s.createExpense(owner, 10, "Food", date, date)

	list, err := s.store.ListExpenses(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(e.ID, list[0].ID)
}

func (s *StoreSuite) TestDeleteExpense() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a := s.createExpense(alice.ID, 10, "Food", date, date)
	b := s.createExpense(alice.ID, 20, "Gas", date, date.Add(time.Second))

	err := s.store.DeleteExpense(s.ctx, bob.ID, a.ID)
	s.True(errors.Is(err, core.ErrNotFound))

	s.Require().NoError(s.store.DeleteExpense(s.ctx, alice.ID, a.ID))
	err = s.store.DeleteExpense(s.ctx, alice.ID, a.ID)
	s.True(errors.Is(err, core.ErrNotFound))

	list, err := s.store.ListExpenses(s.ctx, alice.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(b.ID, list[0].ID)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store { return NewMemoryStore() }})
}

func TestSQLiteRepository(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "expenses.db"))
		if err != nil {
			t.Fatalf("open sqlite repository: %v", err)
		}
		return repo
	}})
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.db")

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	repo.Close()

	repo, err = NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer repo.Close()
	if repo.Dialect() != DialectSQLite {
		t.Fatalf("dialect = %s", repo.Dialect())
	}
}
