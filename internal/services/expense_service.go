// Package services holds the expense use cases that sit between the HTTP
// handlers and the stores.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/amqp"
	"github.com/Clarekpd/ss-expense-tracker/internal/core"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/metrics"
	"github.com/Clarekpd/ss-expense-tracker/internal/storage"
)

var errExpenseNotFound = core.NewError(core.ErrNotFound, "Expense not found")

// EventPublisher receives an event after every successful mutation.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, ev *amqp.ExpenseEvent) error
}

// Invalidator drops cached results for an owner.
type Invalidator interface {
	Invalidate(ownerID string)
}

// ExpenseService validates and persists an owner's expenses. Events and
// cache invalidation are best effort: a failure there never fails the call.
type ExpenseService struct {
	store   storage.ExpenseStore
	events  EventPublisher
	reports Invalidator
	logger  *log.StructuredLogger
	now     func() time.Time
}

// NewExpenseService wires the service. events and reports may be nil.
func NewExpenseService(store storage.ExpenseStore, events EventPublisher, reports Invalidator, logger *log.Logger) *ExpenseService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExpenseService{
		store:   store,
		events:  events,
		reports: reports,
		logger:  log.NewStructuredLogger(logger.WithComponent(log.ComponentExpense)),
		now:     time.Now,
	}
}

// Create stores a new expense for ownerID and returns its id.
func (s *ExpenseService) Create(ctx context.Context, ownerID string, in core.NewExpense) (string, error) {
	createdAt := s.now().UTC().Truncate(time.Millisecond)
	e, err := in.ToExpense(core.NewID(), ownerID, createdAt)
	if err != nil {
		metrics.ExpenseOp(log.OpCreate, metrics.OutcomeFailure)
		return "", err
	}

	if err := s.store.CreateExpense(ctx, e); err != nil {
		metrics.ExpenseOp(log.OpCreate, metrics.OutcomeError)
		return "", fmt.Errorf("save expense: %w", err)
	}

	metrics.ExpenseOp(log.OpCreate, metrics.OutcomeSuccess)
	s.logger.LogExpenseChange(ctx, log.OpCreate, ownerID, e.ID, e.Amount, e.Category)
	s.afterChange(ctx, amqp.NewExpenseEvent(amqp.ExpenseCreated, e))
	return e.ID, nil
}

// Update applies the supplied fields to the owner's expense.
func (s *ExpenseService) Update(ctx context.Context, ownerID, expenseID string, in core.ExpenseUpdate) error {
	patch, err := in.Resolve()
	if err != nil {
		metrics.ExpenseOp(log.OpUpdate, metrics.OutcomeFailure)
		return err
	}

	if err := s.store.UpdateExpense(ctx, ownerID, expenseID, patch); err != nil {
		return s.storeFailure(log.OpUpdate, err)
	}

	metrics.ExpenseOp(log.OpUpdate, metrics.OutcomeSuccess)
	if patch.IsEmpty() {
		return nil
	}

	// The event carries only the changed fields.
	updated := core.Expense{ID: expenseID, UserID: ownerID}
	patch.Apply(&updated)
	ev := amqp.NewExpenseEvent(amqp.ExpenseUpdated, updated)
	if patch.Date == nil {
		ev.Date = nil
	}
	s.logger.LogExpenseChange(ctx, log.OpUpdate, ownerID, expenseID, updated.Amount, updated.Category)
	s.afterChange(ctx, ev)
	return nil
}

// Delete removes the owner's expense.
func (s *ExpenseService) Delete(ctx context.Context, ownerID, expenseID string) error {
	if err := s.store.DeleteExpense(ctx, ownerID, expenseID); err != nil {
		return s.storeFailure(log.OpDelete, err)
	}

	metrics.ExpenseOp(log.OpDelete, metrics.OutcomeSuccess)
	s.logger.LogExpenseChange(ctx, log.OpDelete, ownerID, expenseID, 0, "")
	s.afterChange(ctx, amqp.NewExpenseDeletedEvent(ownerID, expenseID))
	return nil
}

// List returns the owner's expenses, newest date first.
func (s *ExpenseService) List(ctx context.Context, ownerID string) ([]core.Expense, error) {
	exps, err := s.store.ListExpenses(ctx, ownerID)
	if err != nil {
		metrics.ExpenseOp(log.OpList, metrics.OutcomeError)
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	metrics.ExpenseOp(log.OpList, metrics.OutcomeSuccess)
	return exps, nil
}

func (s *ExpenseService) storeFailure(op string, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		metrics.ExpenseOp(op, metrics.OutcomeFailure)
		return errExpenseNotFound
	}
	metrics.ExpenseOp(op, metrics.OutcomeError)
	return fmt.Errorf("%s expense: %w", op, err)
}

func (s *ExpenseService) afterChange(ctx context.Context, ev *amqp.ExpenseEvent) {
	if s.reports != nil {
		s.reports.Invalidate(ev.UserID)
	}
	if s.events == nil {
		return
	}

	if err := s.events.PublishExpenseEvent(ctx, ev); err != nil {
		metrics.EventPublished(string(ev.Type), metrics.OutcomeError)
		s.logger.LogError(ctx, "Failed to publish expense event", err, log.ComponentAMQP, log.OpPublish,
			log.NewFields().WithUser(ev.UserID).WithExpense(ev.ExpenseID, 0, ""))
		return
	}
	metrics.EventPublished(string(ev.Type), metrics.OutcomeSuccess)
}
