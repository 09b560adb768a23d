// Package core holds the expense tracker domain: users, expenses, input
// validation and the pure report aggregations.
package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinPasswordLength is the shortest password accepted at signup and on change.
const MinPasswordLength = 6

type (
	User struct {
		ID           string
		Username     string
		PasswordHash string
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// Expense is a single spending record owned by exactly one user.
	Expense struct {
		ID        string    `json:"_id"`
		UserID    string    `json:"userId"`
		Amount    float64   `json:"amount"`
		Category  string    `json:"category"`
		Date      time.Time `json:"date"`
		Notes     string    `json:"notes"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// NewExpense is the client input for creating an expense.
	NewExpense struct {
		Amount   Amount `json:"amount"`
		Category string `json:"category"`
		Date     string `json:"date"`
		Notes    string `json:"notes"`
	}

	// ExpenseUpdate is a partial update. A nil field is left untouched.
	ExpenseUpdate struct {
		Amount   *Amount `json:"amount"`
		Category *string `json:"category"`
		Date     *string `json:"date"`
		Notes    *string `json:"notes"`
	}

	// ExpensePatch is a validated ExpenseUpdate ready for a store.
	ExpensePatch struct {
		Amount   *float64
		Category *string
		Date     *time.Time
		Notes    *string
	}
)

// Amount decodes from a JSON number or a numeric string.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*a = 0
			return nil
		}
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// ParseAmount parses a decimal amount. Non-finite values are rejected.
func ParseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, NewValidationError("amount", "Amount must be a number")
	}
	return v, nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339 and returns the instant in UTC.
// Date-only values become UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, NewValidationError("date", "Invalid date")
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is syntactically a record identifier.
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ToExpense validates the input and returns the record to persist.
func (n NewExpense) ToExpense(id, userID string, createdAt time.Time) (Expense, error) {
	if n.Amount == 0 || n.Category == "" || strings.TrimSpace(n.Date) == "" {
		return Expense{}, NewValidationError("", "Amount, category, and date required")
	}
	if n.Amount < 0 {
		return Expense{}, NewValidationError("amount", "Amount must be greater than 0")
	}
	date, err := ParseDate(n.Date)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:        id,
		UserID:    userID,
		Amount:    float64(n.Amount),
		Category:  n.Category,
		Date:      date,
		Notes:     n.Notes,
		CreatedAt: createdAt,
	}, nil
}

// Resolve validates the supplied fields. An empty category or date counts
// as not supplied; empty notes are applied.
func (u ExpenseUpdate) Resolve() (ExpensePatch, error) {
	var p ExpensePatch
	if u.Amount != nil {
		v := float64(*u.Amount)
		if v <= 0 {
			return ExpensePatch{}, NewValidationError("amount", "Amount must be greater than 0")
		}
		p.Amount = &v
	}
	if u.Category != nil && *u.Category != "" {
		c := *u.Category
		p.Category = &c
	}
	if u.Date != nil && strings.TrimSpace(*u.Date) != "" {
		d, err := ParseDate(*u.Date)
		if err != nil {
			return ExpensePatch{}, err
		}
		p.Date = &d
	}
	if u.Notes != nil {
		n := *u.Notes
		p.Notes = &n
	}
	return p, nil
}

// IsEmpty reports whether the patch changes nothing.
func (p ExpensePatch) IsEmpty() bool {
	return p.Amount == nil && p.Category == nil && p.Date == nil && p.Notes == nil
}

// Apply writes the supplied fields onto e.
func (p ExpensePatch) Apply(e *Expense) {
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
}
