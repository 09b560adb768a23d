package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

// EventType identifies what happened to an expense.
type EventType string

const (
	ExpenseCreated EventType = "expense.created"
	ExpenseUpdated EventType = "expense.updated"
	ExpenseDeleted EventType = "expense.deleted"
)

func (t EventType) valid() bool {
	switch t {
	case ExpenseCreated, ExpenseUpdated, ExpenseDeleted:
		return true
	}
	return false
}

// ExpenseEvent is published after every successful expense mutation. Delete
// events carry only the ids.
type ExpenseEvent struct {
	ID        string     `json:"id"`
	Type      EventType  `json:"type"`
	ExpenseID string     `json:"expenseId"`
	UserID    string     `json:"userId"`
	Amount    float64    `json:"amount,omitempty"`
	Category  string     `json:"category,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewExpenseEvent describes e after a create or update.
func NewExpenseEvent(t EventType, e core.Expense) *ExpenseEvent {
	date := e.Date
	return &ExpenseEvent{
		ID:        uuid.NewString(),
		Type:      t,
		ExpenseID: e.ID,
		UserID:    e.UserID,
		Amount:    e.Amount,
		Category:  e.Category,
		Date:      &date,
		Timestamp: time.Now().UTC(),
	}
}

// NewExpenseDeletedEvent describes a deletion.
func NewExpenseDeletedEvent(userID, expenseID string) *ExpenseEvent {
	return &ExpenseEvent{
		ID:        uuid.NewString(),
		Type:      ExpenseDeleted,
		ExpenseID: expenseID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON decodes and checks a message body.
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Type.valid() {
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.ExpenseID == "" || msg.UserID == "" {
		return nil, fmt.Errorf("event %s is missing ids", msg.ID)
	}
	return &msg, nil
}
