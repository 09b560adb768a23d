// Package worker handles expense events delivered by the broker.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/amqp"
	"github.com/Clarekpd/ss-expense-tracker/internal/cache"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/metrics"
)

const outcomeDuplicate = "duplicate"

// Stats counts the events a worker has handled since it started.
type Stats struct {
	ByType     map[amqp.EventType]int
	Users      int
	Duplicates int
}

// Total is the number of distinct events handled.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.ByType {
		n += c
	}
	return n
}

// EventWorker writes an audit line for every expense event. Redelivered
// events are recognised by id and counted once.
type EventWorker struct {
	logger *log.Logger
	seen   cache.Cache[struct{}]

	mu     sync.Mutex
	byType map[amqp.EventType]int
	users  map[string]struct{}
	dups   int
}

// NewEventWorker returns a worker that records handled event ids in seen.
func NewEventWorker(seen cache.Cache[struct{}], logger *log.Logger) *EventWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &EventWorker{
		logger: logger.WithComponent(log.ComponentAMQP),
		seen:   seen,
		byType: make(map[amqp.EventType]int),
		users:  make(map[string]struct{}),
	}
}

// HandleEvent is an amqp consumer handler.
func (w *EventWorker) HandleEvent(ctx context.Context, ev *amqp.ExpenseEvent) error {
	if ev == nil {
		return errors.New("nil event")
	}

	if ev.ID != "" {
		if _, ok := w.seen.Get(ev.ID); ok {
			w.mu.Lock()
			w.dups++
			w.mu.Unlock()
			metrics.EventConsumed(string(ev.Type), outcomeDuplicate)
			w.logger.DebugContext(ctx, "Skipping duplicate expense event",
				log.FieldEvent, ev.Type, "event_id", ev.ID)
			return nil
		}
		w.seen.Set(ev.ID, struct{}{})
	}

	args := []any{
		log.FieldOperation, log.OpConsume,
		log.FieldEvent, ev.Type,
		log.FieldUserID, ev.UserID,
		log.FieldExpenseID, ev.ExpenseID,
		"event_id", ev.ID,
		"lag_ms", time.Since(ev.Timestamp).Milliseconds(),
	}
	if ev.Type != amqp.ExpenseDeleted {
		if ev.Amount != 0 {
			args = append(args, log.FieldAmount, ev.Amount)
		}
		if ev.Category != "" {
			args = append(args, log.FieldCategory, ev.Category)
		}
		if ev.Date != nil {
			args = append(args, "date", ev.Date.Format(time.DateOnly))
		}
	}
	w.logger.InfoContext(ctx, "Expense event", args...)

	w.mu.Lock()
	w.byType[ev.Type]++
	w.users[ev.UserID] = struct{}{}
	w.mu.Unlock()

	metrics.EventConsumed(string(ev.Type), metrics.OutcomeSuccess)
	return nil
}

// Stats returns a copy of the counters.
func (w *EventWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	byType := make(map[amqp.EventType]int, len(w.byType))
	for k, v := range w.byType {
		byType[k] = v
	}
	return Stats{ByType: byType, Users: len(w.users), Duplicates: w.dups}
}

// ReportStats logs the counters every interval until ctx is done.
func (w *EventWorker) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logStats(ctx)
			return
		case <-ticker.C:
			w.logStats(ctx)
		}
	}
}

func (w *EventWorker) logStats(ctx context.Context) {
	s := w.Stats()
	w.logger.InfoContext(ctx, "Expense event totals",
		"created", s.ByType[amqp.ExpenseCreated],
		"updated", s.ByType[amqp.ExpenseUpdated],
		"deleted", s.ByType[amqp.ExpenseDeleted],
		"users", s.Users,
		"duplicates", s.Duplicates)
}
