package http

import (
	"net/http"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	exps, err := s.expenses.List(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exps)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req core.NewExpense
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.expenses.Create(r.Context(), currentUser(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":   "Expense added",
		"expenseId": id,
	})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req core.ExpenseUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.expenses.Update(r.Context(), currentUser(r), id, req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Expense updated"})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.expenses.Delete(r.Context(), currentUser(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Expense deleted"})
}
