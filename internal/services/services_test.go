package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clarekpd/ss-expense-tracker/internal/amqp"
	"github.com/Clarekpd/ss-expense-tracker/internal/cache"
	"github.com/Clarekpd/ss-expense-tracker/internal/core"
	"github.com/Clarekpd/ss-expense-tracker/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.ExpenseEvent
	err    error
}

func (p *recordingPublisher) PublishExpenseEvent(_ context.Context, ev *amqp.ExpenseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// countingStore counts list calls to observe cache hits.
type countingStore struct {
	storage.ExpenseStore
	lists int
}

func (c *countingStore) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	c.lists++
	return c.ExpenseStore.ListExpenses(ctx, userID)
}

type fixture struct {
	store    *countingStore
	events   *recordingPublisher
	expenses *ExpenseService
	reports  *ReportService
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	store := &countingStore{ExpenseStore: storage.NewMemoryStore()}
	events := &recordingPublisher{}
	reports := NewReportService(store, cache.NewLRUCache[any](100, time.Hour), nil)
	reports.now = func() time.Time { return now }
	expenses := NewExpenseService(store, events, reports, nil)
	expenses.now = func() time.Time { return now }
	return &fixture{store: store, events: events, expenses: expenses, reports: reports}
}

func amountPtr(v float64) *core.Amount { a := core.Amount(v); return &a }
func strPtr(s string) *string          { return &s }

var fixedNow = time.Date(2025, 3, 15, 12, 30, 45, 123456789, time.UTC)

func TestExpenseService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and publishes", func(t *testing.T) {
		f := newFixture(t, fixedNow)

		id, err := f.expenses.Create(ctx, "u1", core.NewExpense{Amount: 12.5, Category: "Food", Date: "2025-03-01"})
		require.NoError(t, err)
		assert.True(t, core.ValidID(id))

		list, err := f.expenses.List(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, id, list[0].ID)
		assert.Equal(t, "u1", list[0].UserID)
		assert.Equal(t, "", list[0].Notes)
		assert.Equal(t, fixedNow.Truncate(time.Millisecond), list[0].CreatedAt)
		assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), list[0].Date)

		assert.Equal(t, []amqp.EventType{amqp.ExpenseCreated}, f.events.types())
		assert.Equal(t, id, f.events.events[0].ExpenseID)
	})

	t.Run("validation failures store nothing", func(t *testing.T) {
		f := newFixture(t, fixedNow)
		tests := []struct {
			name string
			in   core.NewExpense
			msg  string
		}{
			{"missing amount", core.NewExpense{Category: "Food", Date: "2025-03-01"}, "Amount, category, and date required"},
			{"missing category", core.NewExpense{Amount: 1, Date: "2025-03-01"}, "Amount, category, and date required"},
			{"missing date", core.NewExpense{Amount: 1, Category: "Food"}, "Amount, category, and date required"},
			{"negative amount", core.NewExpense{Amount: -3, Category: "Food", Date: "2025-03-01"}, "Amount must be greater than 0"},
			{"bad date", core.NewExpense{Amount: 1, Category: "Food", Date: "yesterday"}, "Invalid date"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.expenses.Create(ctx, "u1", tt.in)
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrValidation)
				var ve *core.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tt.msg, ve.Msg)
			})
		}

		list, err := f.expenses.List(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.Empty(t, f.events.types())
	})

	t.Run("publish failure does not fail the call", func(t *testing.T) {
		f := newFixture(t, fixedNow)
		f.events.err = errors.New("broker down")

		_, err := f.expenses.Create(ctx, "u1", core.NewExpense{Amount: 1, Category: "Food", Date: "2025-03-01"})
		require.NoError(t, err)
	})

	t.Run("nil publisher and invalidator", func(t *testing.T) {
		svc := NewExpenseService(storage.NewMemoryStore(), nil, nil, nil)
		_, err := svc.Create(ctx, "u1", core.NewExpense{Amount: 1, Category: "Food", Date: "2025-03-01"})
		require.NoError(t, err)
	})
}

func TestExpenseService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedNow)

	id, err := f.expenses.Create(ctx, "alice", core.NewExpense{Amount: 10, Category: "Food", Date: "2025-03-01", Notes: "lunch"})
	require.NoError(t, err)

	t.Run("partial update keeps absent fields", func(t *testing.T) {
		err := f.expenses.Update(ctx, "alice", id, core.ExpenseUpdate{Amount: amountPtr(20), Category: strPtr("")})
		require.NoError(t, err)

		list, _ := f.expenses.List(ctx, "alice")
		require.Len(t, list, 1)
		assert.Equal(t, 20.0, list[0].Amount)
		assert.Equal(t, "Food", list[0].Category)
		assert.Equal(t, "lunch", list[0].Notes)
	})

	t.Run("empty notes are applied", func(t *testing.T) {
		require.NoError(t, f.expenses.Update(ctx, "alice", id, core.ExpenseUpdate{Notes: strPtr("")}))
		list, _ := f.expenses.List(ctx, "alice")
		assert.Equal(t, "", list[0].Notes)
	})

	t.Run("invalid amount", func(t *testing.T) {
		err := f.expenses.Update(ctx, "alice", id, core.ExpenseUpdate{Amount: amountPtr(0)})
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("foreign owner is not found", func(t *testing.T) {
		err := f.expenses.Update(ctx, "bob", id, core.ExpenseUpdate{Amount: amountPtr(1)})
		assert.ErrorIs(t, err, core.ErrNotFound)
		var ce *core.Error
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "Expense not found", ce.Msg)

		assert.ErrorIs(t, f.expenses.Delete(ctx, "bob", id), core.ErrNotFound)
	})

	t.Run("empty update checks ownership", func(t *testing.T) {
		assert.NoError(t, f.expenses.Update(ctx, "alice", id, core.ExpenseUpdate{}))
		assert.ErrorIs(t, f.expenses.Update(ctx, "bob", id, core.ExpenseUpdate{}), core.ErrNotFound)
		assert.ErrorIs(t, f.expenses.Update(ctx, "alice", core.NewID(), core.ExpenseUpdate{}), core.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, f.expenses.Delete(ctx, "alice", id))
		assert.ErrorIs(t, f.expenses.Delete(ctx, "alice", id), core.ErrNotFound)

		list, err := f.expenses.List(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	assert.Equal(t, []amqp.EventType{
		amqp.ExpenseCreated,
		amqp.ExpenseUpdated,
		amqp.ExpenseUpdated,
		amqp.ExpenseDeleted,
	}, f.events.types())
}

func TestExpenseService_ListSurvivor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedNow)

	a, err := f.expenses.Create(ctx, "u1", core.NewExpense{Amount: 1, Category: "A", Date: "2025-03-01"})
	require.NoError(t, err)
	b, err := f.expenses.Create(ctx, "u1", core.NewExpense{Amount: 2, Category: "B", Date: "2025-03-02"})
	require.NoError(t, err)
	require.NoError(t, f.expenses.Delete(ctx, "u1", a))

	list, err := f.expenses.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b, list[0].ID)
}

func TestReportService_Reports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedNow)

	for _, in := range []core.NewExpense{
		{Amount: 10, Category: "Food", Date: "2025-03-14"},
		{Amount: 5, Category: "Gas", Date: "2025-03-15"},
		{Amount: 7, Category: "Food", Date: "2025-01-02"},
		{Amount: 100, Category: "Rent", Date: "2024-12-31"},
	} {
		_, err := f.expenses.Create(ctx, "u1", in)
		require.NoError(t, err)
	}
	_, err := f.expenses.Create(ctx, "u2", core.NewExpense{Amount: 999, Category: "Food", Date: "2025-03-15"})
	require.NoError(t, err)

	summary, err := f.reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Food": 17, "Gas": 5, "Rent": 100}, summary.Summary)
	assert.Equal(t, 122.0, summary.TotalAmount)
	assert.Equal(t, 4, summary.ExpenseCount)

	monthly, err := f.reports.Monthly(ctx, "u1", 2025)
	require.NoError(t, err)
	assert.Equal(t, 7.0, monthly.Month(time.January))
	assert.Equal(t, 15.0, monthly.Month(time.March))
	assert.Equal(t, 0.0, monthly.Month(time.December))

	daily, err := f.reports.Daily(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.DailySummary{"2025-03-14": 10, "2025-03-15": 5}, daily)

	weekly, err := f.reports.Weekly(ctx, "u1", "")
	require.NoError(t, err)
	require.NotEmpty(t, weekly)
	assert.Equal(t, "2025-W01", weekly[0].Key, "2024-12-31 falls in ISO week 1 of 2025")
	assert.Equal(t, 107.0, weekly[0].Total)

	byMonth, err := f.reports.Weekly(ctx, "u1", PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-12", "2025-01", "2025-03"}, []string{byMonth[0].Key, byMonth[1].Key, byMonth[2].Key})

	_, err = f.reports.Weekly(ctx, "u1", "year")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestReportService_CacheAndInvalidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedNow)

	_, err := f.expenses.Create(ctx, "u1", core.NewExpense{Amount: 10, Category: "Food", Date: "2025-03-14"})
	require.NoError(t, err)

	_, err = f.reports.Summary(ctx, "u1")
	require.NoError(t, err)
	_, err = f.reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.lists, "second summary should be served from cache")

	// Another owner's mutation leaves u1's cache alone.
	_, err = f.expenses.Create(ctx, "u2", core.NewExpense{Amount: 1, Category: "Gas", Date: "2025-03-14"})
	require.NoError(t, err)
	_, err = f.reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.lists)

	_, err = f.expenses.Create(ctx, "u1", core.NewExpense{Amount: 5, Category: "Gas", Date: "2025-03-14"})
	require.NoError(t, err)
	summary, err := f.reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.lists)
	assert.Equal(t, 15.0, summary.TotalAmount)
}

func TestReportService_NoCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{ExpenseStore: storage.NewMemoryStore()}
	reports := NewReportService(store, nil, nil)

	_, err := reports.Summary(ctx, "u1")
	require.NoError(t, err)
	_, err = reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.lists)
	reports.Invalidate("u1")
}

// gatedStore pauses the first list call after it has read the data.
type gatedStore struct {
	storage.ExpenseStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	exps, err := g.ExpenseStore.ListExpenses(ctx, userID)
	g.once.Do(func() {
		close(g.read)
		<-g.release
	})
	return exps, err
}

func TestReportService_MutationDuringComputeIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		ExpenseStore: storage.NewMemoryStore(),
		read:         make(chan struct{}),
		release:      make(chan struct{}),
	}
	reports := NewReportService(store, cache.NewLRUCache[any](100, time.Hour), nil)
	expenses := NewExpenseService(store, nil, reports, nil)

	_, err := expenses.Create(ctx, "u1", core.NewExpense{Amount: 10, Category: "Food", Date: "2025-03-14"})
	require.NoError(t, err)

	type result struct {
		summary core.CategorySummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := reports.Summary(ctx, "u1")
		done <- result{s, err}
	}()

	<-store.read
	_, err = expenses.Create(ctx, "u1", core.NewExpense{Amount: 5, Category: "Gas", Date: "2025-03-14"})
	require.NoError(t, err)
	close(store.release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, 1, first.summary.ExpenseCount, "the in-flight report saw the old list")

	summary, err := reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ExpenseCount)
	assert.Equal(t, 15.0, summary.TotalAmount)
}

func TestReportService_InvalidateBeforeComputeStillCaches(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{ExpenseStore: storage.NewMemoryStore()}
	reports := NewReportService(store, cache.NewLRUCache[any](100, time.Hour), nil)

	reports.Invalidate("u1")
	_, err := reports.Summary(ctx, "u1")
	require.NoError(t, err)
	_, err = reports.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.lists)
}
