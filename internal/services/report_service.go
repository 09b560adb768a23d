package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/cache"
	"github.com/Clarekpd/ss-expense-tracker/internal/core"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/metrics"
	"github.com/Clarekpd/ss-expense-tracker/internal/storage"
)

// Trend periods accepted by Weekly.
const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

var errInvalidPeriod = core.NewValidationError("period", "Invalid period")

// ReportService aggregates an owner's expenses. Results are cached per
// owner until the owner's next mutation or the cache TTL.
type ReportService struct {
	store  storage.ExpenseStore
	cache  cache.Cache[any]
	logger *log.Logger
	now    func() time.Time

	// generations counts invalidations per owner. A result computed from
	// a list read before an invalidation is not cached.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewReportService wires the service. A nil cache disables caching.
func NewReportService(store storage.ExpenseStore, c cache.Cache[any], logger *log.Logger) *ReportService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ReportService{
		store:       store,
		cache:       c,
		logger:      logger.WithComponent(log.ComponentReport),
		now:         time.Now,
		generations: make(map[string]uint64),
	}
}

// Invalidate drops every cached report of ownerID.
func (s *ReportService) Invalidate(ownerID string) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	s.generations[ownerID]++
	s.genMu.Unlock()

	if n := s.cache.DeletePrefix(ownerPrefix(ownerID)); n > 0 {
		s.logger.Debug("Report cache invalidated", log.FieldUserID, ownerID, "entries", n)
	}
}

// Summary totals the owner's expenses per category.
func (s *ReportService) Summary(ctx context.Context, ownerID string) (core.CategorySummary, error) {
	return cached(ctx, s, ownerID, "summary", "summary", func(exps []core.Expense) core.CategorySummary {
		return core.SummarizeByCategory(exps)
	})
}

// Monthly totals the owner's expenses for each month of year.
func (s *ReportService) Monthly(ctx context.Context, ownerID string, year int) (core.MonthlySummary, error) {
	return cached(ctx, s, ownerID, "monthly", fmt.Sprintf("monthly:%d", year), func(exps []core.Expense) core.MonthlySummary {
		return core.SummarizeByMonth(exps, year)
	})
}

// Daily totals the owner's expenses per day over the trailing window.
func (s *ReportService) Daily(ctx context.Context, ownerID string) (core.DailySummary, error) {
	at := s.now().UTC()
	key := "daily:" + at.Format(time.DateOnly)
	return cached(ctx, s, ownerID, "daily", key, func(exps []core.Expense) core.DailySummary {
		return core.SummarizeByDay(exps, at)
	})
}

// Weekly returns the owner's trend series bucketed by ISO week or by month.
func (s *ReportService) Weekly(ctx context.Context, ownerID, period string) ([]core.PeriodTotal, error) {
	var agg func([]core.Expense) []core.PeriodTotal
	switch period {
	case "", PeriodWeek:
		period, agg = PeriodWeek, core.SummarizeByWeek
	case PeriodMonth:
		agg = core.SummarizeByMonthKey
	default:
		return nil, errInvalidPeriod
	}
	key := fmt.Sprintf("trend:%s:%s", period, s.now().UTC().Format(time.DateOnly))
	return cached(ctx, s, ownerID, "trend", key, agg)
}

func cached[T any](ctx context.Context, s *ReportService, ownerID, report, key string, agg func([]core.Expense) T) (T, error) {
	var zero T
	fullKey := ownerPrefix(ownerID) + key

	if s.cache != nil {
		if v, ok := s.cache.Get(fullKey); ok {
			if res, ok := v.(T); ok {
				metrics.ReportCacheLookup(report, true)
				return res, nil
			}
		}
		metrics.ReportCacheLookup(report, false)
	}

	gen := s.generation(ownerID)
	exps, err := s.store.ListExpenses(ctx, ownerID)
	if err != nil {
		return zero, fmt.Errorf("load expenses for %s report: %w", report, err)
	}

	res := agg(exps)
	if s.cache != nil {
		s.storeIfCurrent(ownerID, gen, fullKey, res)
	}
	s.logger.DebugContext(ctx, "Report computed",
		log.FieldOperation, log.OpSummarize,
		log.FieldUserID, ownerID,
		"report", report,
		"expenses", len(exps))
	return res, nil
}

func (s *ReportService) generation(ownerID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[ownerID]
}

// storeIfCurrent caches res unless the owner was invalidated after gen was
// read. The check and the Set share the lock so an Invalidate either sees
// the entry and deletes it or bumps the generation first.
func (s *ReportService) storeIfCurrent(ownerID string, gen uint64, key string, res any) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[ownerID] != gen {
		s.logger.Debug("Skipping stale report", log.FieldUserID, ownerID, "key", key)
		return
	}
	s.cache.Set(key, res)
}

func ownerPrefix(ownerID string) string {
	return ownerID + ":"
}
