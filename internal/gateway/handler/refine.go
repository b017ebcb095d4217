package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/gateway/service/refinement"
	"refinery/internal/types"
)

// maxRefineBodyBytes caps a refine request body and a single websocket
// message.
const maxRefineBodyBytes = 1 << 20

// RefineHandler serves the JSON API over the refinement service.
type RefineHandler struct {
	svc *refinement.Service
	log *slog.Logger
}

func NewRefineHandler(svc *refinement.Service, logger *slog.Logger) *RefineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefineHandler{svc: svc, log: logger}
}

type refineRequest struct {
	InputText string `json:"inputText"`
	UserID    string `json:"userId,omitempty"`
}

type recordsResponse struct {
	Records []types.Record `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleRefine answers with the result as soon as the oracle returns.
// Persistence continues in the background and never changes the response.
func (h *RefineHandler) HandleRefine(w http.ResponseWriter, r *http.Request) {
	var in refineRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRefineBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.log.Debug("refine request rejected", "err", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	res, _, err := h.svc.Submit(r.Context(), in.UserID, in.InputText)
	if err != nil {
		writeJSON(w, refineStatus(err), errorResponse{Error: refinement.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RefineHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be an integer"})
			return
		}
		limit = v
	}
	recs, err := h.svc.History(r.Context(), q.Get("user_id"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: refinement.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Records: recs})
}

func (h *RefineHandler) HandleRevisions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.Revisions(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, refinementrepo.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "input not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: refinement.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Records: recs})
}

func (h *RefineHandler) HandleRevise(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Revise(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, refinementrepo.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "input not found"})
			return
		}
		writeJSON(w, refineStatus(err), errorResponse{Error: refinement.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func refineStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrPersistence):
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
