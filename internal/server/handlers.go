package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/apexsec/voice-dispatch/internal/dispatch"
	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/storage"
)

// API wires the orchestrator and the persistence layer to HTTP routes. The
// telephony webhook endpoints are the hot path; the /api endpoints are the
// operator's monitoring surface.
type API struct {
	orc    *dispatch.Orchestrator
	store  storage.CallStore
	logger *slog.Logger
}

func NewAPI(orc *dispatch.Orchestrator, store storage.CallStore, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{orc: orc, store: store, logger: logger}
}

// RegisterRoutes mounts all endpoints on the given router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/telephony", func(r chi.Router) {
		r.Post("/call-started", a.handleCallStarted)
		r.Post("/utterance", a.handleUtterance)
		r.Post("/call-ended", a.handleCallEnded)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/calls", a.handleListCalls)
		r.Get("/calls/{callID}", a.handleGetCall)
		r.Get("/calls/{callID}/transcript", a.handleGetTranscript)
		r.Post("/calls/{callID}/takeover", a.handleTakeover)
		r.Get("/stats", a.handleStats)
	})
}

type callStartedRequest struct {
	SessionID     string `json:"session_id"`
	CallerAddress string `json:"caller_address"`
}

type callStartedResponse struct {
	CallID string `json:"call_id"`
	Prompt string `json:"prompt"`
	Cont   bool   `json:"continue"`
}

func (a *API) handleCallStarted(w http.ResponseWriter, r *http.Request) {
	var req callStartedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	callID, greeting, err := a.orc.StartCall(r.Context(), req.SessionID, req.CallerAddress)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	AddLogField(r.Context(), "call_id", callID)
	writeJSON(w, http.StatusOK, callStartedResponse{
		CallID: callID,
		Prompt: greeting.Text,
		Cont:   greeting.Continue,
	})
}

type utteranceRequest struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type promptResponse struct {
	Prompt string `json:"prompt"`
	Cont   bool   `json:"continue"`
}

func (a *API) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	prompt, err := a.orc.DeliverUtterance(r.Context(), req.SessionID, req.Text, req.Confidence)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, promptResponse{Prompt: prompt.Text, Cont: prompt.Continue})
}

type callEndedRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (a *API) handleCallEnded(w http.ResponseWriter, r *http.Request) {
	var req callEndedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	summary, err := a.orc.EndSession(r.Context(), req.SessionID, req.Reason)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	AddLogField(r.Context(), "call_id", summary.CallID)
	writeJSON(w, http.StatusOK, summary)
}

type takeoverRequest struct {
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

func (a *API) handleTakeover(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	var req takeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OperatorID == "" {
		writeError(w, http.StatusBadRequest, "operator_id is required")
		return
	}

	result, err := a.orc.RequestTakeover(r.Context(), callID, req.OperatorID, req.Reason)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"calls": a.orc.ListActiveCalls(),
	})
}

// handleGetCall serves live calls from the registry and falls back to the
// store for calls that already ended.
func (a *API) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	snap, err := a.orc.GetCallContext(callID)
	if err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if !errors.Is(err, domain.ErrUnknownCall) {
		a.writeDomainError(w, r, err)
		return
	}

	rec, err := a.store.GetCall(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown call")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	turns, err := a.orc.GetTranscript(callID)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownCall) {
			a.writeDomainError(w, r, err)
			return
		}
		turns, err = a.store.GetTurns(r.Context(), callID)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown call")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"turns":   turns,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.orc.Stats())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	switch {
	case errors.Is(err, domain.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnknownSession), errors.Is(err, domain.ErrUnknownCall):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStaleOperation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg},
	})
}
