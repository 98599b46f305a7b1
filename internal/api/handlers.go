package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ami4go/ICAPP/internal/models"
)

// allowMethod writes 405 and returns false when r does not use method.
func allowMethod(w http.ResponseWriter, r *http.Request, method, op string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server."+op+": method not allowed", "method", r.Method)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "healthHandler") {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"live_sessions": s.coord.LiveSessions()}))
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "startHandler") {
		return
	}
	var req models.StartRequest
	if err := decodeJSONBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.startHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, "startHandler", err)
		return
	}

	view := s.coord.Start(r.Context(), req.DoctorUsername)
	slog.Info("Server.startHandler: session started", "sessionID", view.SessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "messageHandler") {
		return
	}
	var req models.MessageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, "messageHandler", err)
		return
	}

	res, err := s.coord.Message(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeErrorResponse(w, "messageHandler", err)
		return
	}
	slog.Debug("Server.messageHandler: turn complete", "sessionID", req.SessionID, "status", res.StateSummary.Status, "done", res.Done)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "stateHandler") {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		writeErrorResponse(w, "stateHandler", models.ErrEmptySessionID)
		return
	}
	view, err := s.coord.State(id)
	if err != nil {
		writeErrorResponse(w, "stateHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) endHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "endHandler") {
		return
	}
	var req models.EndRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.endHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, "endHandler", err)
		return
	}

	rec, err := s.coord.End(r.Context(), req.SessionID, req.FinalDiagnosis, req.Prescriptions)
	if err != nil {
		writeErrorResponse(w, "endHandler", err)
		return
	}
	slog.Info("Server.endHandler: session archived", "sessionID", rec.SessionID, "status", rec.Status)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session archived", rec))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "historyHandler") {
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeErrorResponse(w, "historyHandler", models.ErrEmptyUsername)
		return
	}
	recs, err := s.history.ListHistory(r.Context(), username)
	if err != nil {
		writeErrorResponse(w, "historyHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

func (s *Server) historyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "historyDeleteHandler") {
		return
	}
	var req models.HistoryDeleteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.historyDeleteHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, "historyDeleteHandler", err)
		return
	}
	username := strings.TrimSpace(req.Username)

	if req.SessionID != "" {
		if err := s.history.DeleteHistoryRecord(r.Context(), username, req.SessionID); err != nil {
			writeErrorResponse(w, "historyDeleteHandler", err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("History record deleted", map[string]int{"deleted": 1}))
		return
	}

	n, err := s.history.ClearHistory(r.Context(), username)
	if err != nil {
		writeErrorResponse(w, "historyDeleteHandler", err)
		return
	}
	slog.Info("Server.historyDeleteHandler: history cleared", "username", username, "deleted", n)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("History cleared", map[string]int{"deleted": n}))
}
