package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/m3rciful/privybot/core/logger"
	"github.com/m3rciful/privybot/core/session"
	"github.com/m3rciful/privybot/core/transcript"
)

type historyResponse struct {
	UserID string             `json:"userId"`
	Data   []transcript.Entry `json:"data"`
}

// history returns the transcript of one user. The user may be given as a
// raw phone number or as a session key; ?transport= picks the key rules.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.opts.Service == nil || s.opts.Store == nil {
		writeError(w, errNotConfigured)
		return
	}
	raw := chi.URLParam(r, "user")
	userID, err := s.opts.Service.SessionKey(r.URL.Query().Get("transport"), raw)
	if err != nil {
		userID = raw
	}
	if _, err := s.opts.Store.Get(r.Context(), userID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, err)
		return
	}

	entries, err := s.opts.Service.History(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	JSON(w, http.StatusOK, historyResponse{UserID: userID, Data: entries})
}

type reportResponse struct {
	Success bool `json:"success"`
	transcript.Report
}

// report aggregates topic coverage and engagement over ?days= (default 30),
// listing ?limit= (default 5) popular topics.
func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reports == nil {
		writeError(w, errNotConfigured)
		return
	}
	rep, err := s.opts.Reports.Build(r.Context(), queryInt(r, "days"), queryInt(r, "limit"))
	if err != nil {
		logger.LogEvent(r.Context(), logger.HTTP, slog.LevelError, "report.build",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "report failed"})
		return
	}
	JSON(w, http.StatusOK, reportResponse{Success: true, Report: rep})
}

// queryInt reads a positive integer parameter; anything else is 0.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
