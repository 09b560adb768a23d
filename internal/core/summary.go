package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jinzhu/now"
)

// DailyWindowDays is how far back the daily summary reaches.
const DailyWindowDays = 30

var monthKeys = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// CategorySummary totals an owner's expenses per category.
type CategorySummary struct {
	Summary      map[string]float64 `json:"summary"`
	TotalAmount  float64            `json:"totalAmount"`
	ExpenseCount int                `json:"expenseCount"`
}

// MonthlySummary holds one total per calendar month of Year.
type MonthlySummary struct {
	Year   int
	Totals [12]float64
}

// MarshalJSON writes the twelve months as an object keyed Jan..Dec in
// calendar order.
func (m MonthlySummary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range monthKeys {
		if i > 0 {
			buf.WriteByte(',')
		}
		v, err := json.Marshal(m.Totals[i])
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "%q:", key)
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Month returns the total for month (1-12).
func (m MonthlySummary) Month(month time.Month) float64 {
	return m.Totals[month-1]
}

// DailySummary maps YYYY-MM-DD to the total spent that day. Days without
// expenses are absent.
type DailySummary map[string]float64

// PeriodTotal is one bucket of a trend series.
type PeriodTotal struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Total float64 `json:"total"`
}

// SummarizeByCategory totals expenses per category.
func SummarizeByCategory(exps []Expense) CategorySummary {
	out := CategorySummary{Summary: make(map[string]float64)}
	for _, e := range exps {
		out.Summary[e.Category] += e.Amount
		out.TotalAmount += e.Amount
		out.ExpenseCount++
	}
	return out
}

// SummarizeByMonth totals the expenses dated within year, in UTC.
func SummarizeByMonth(exps []Expense, year int) MonthlySummary {
	ref := now.With(time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC))
	start, end := ref.BeginningOfYear(), ref.EndOfYear()

	out := MonthlySummary{Year: year}
	for _, e := range exps {
		d := e.Date.UTC()
		if d.Before(start) || d.After(end) {
			continue
		}
		out.Totals[d.Month()-1] += e.Amount
	}
	return out
}

// SummarizeByDay totals expenses per calendar day over the trailing window
// ending today (inclusive), in UTC.
func SummarizeByDay(exps []Expense, at time.Time) DailySummary {
	today := at.UTC()
	start := now.With(today.AddDate(0, 0, -DailyWindowDays)).BeginningOfDay()
	end := now.With(today).EndOfDay()

	out := make(DailySummary)
	for _, e := range exps {
		d := e.Date.UTC()
		if d.Before(start) || d.After(end) {
			continue
		}
		out[d.Format(time.DateOnly)] += e.Amount
	}
	return out
}

// SummarizeByWeek groups expenses by ISO-8601 week, oldest first.
func SummarizeByWeek(exps []Expense) []PeriodTotal {
	return groupBy(exps, func(d time.Time) (string, string) {
		year, week := d.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week), fmt.Sprintf("Week %d %d", week, year)
	})
}

// SummarizeByMonthKey groups expenses by YYYY-MM, oldest first.
func SummarizeByMonthKey(exps []Expense) []PeriodTotal {
	return groupBy(exps, func(d time.Time) (string, string) {
		return d.Format("2006-01"), d.Format("Jan 2006")
	})
}

func groupBy(exps []Expense, bucket func(time.Time) (key, label string)) []PeriodTotal {
	index := make(map[string]int)
	out := make([]PeriodTotal, 0)
	for _, e := range exps {
		key, label := bucket(e.Date.UTC())
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, PeriodTotal{Key: key, Label: label})
		}
		out[i].Total += e.Amount
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
