package http

import (
	"net/http"
	"time"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reports.Summary(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	monthly, err := s.reports.Monthly(r.Context(), currentUser(r), parseYear(r, time.Now()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monthly)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	daily, err := s.reports.Daily(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	trend, err := s.reports.Weekly(r.Context(), currentUser(r), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}
