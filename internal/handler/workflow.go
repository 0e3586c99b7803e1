package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kurlovandrej9-del/teamledger/internal/repository"
	"github.com/kurlovandrej9-del/teamledger/internal/workflow"
)

type startFlowResponse struct {
	SessionID string           `json:"session_id"`
	Prompt    *workflow.Prompt `json:"prompt"`
}

// StartProfitFlow открывает сессию ввода профита.
func (h *Handler) StartProfitFlow(w http.ResponseWriter, r *http.Request) {
	sessionID, prompt, err := h.workflows.StartProfit(r.Context())
	if err != nil {
		h.logger.Error("start profit flow error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, startFlowResponse{SessionID: sessionID, Prompt: prompt})
}

// AdvanceProfitFlow применяет ввод к текущему шагу сессии ввода профита.
func (h *Handler) AdvanceProfitFlow(w http.ResponseWriter, r *http.Request) {
	h.advanceFlow(w, r, h.workflows.AdvanceProfit)
}

// ConfirmProfitFlow фиксирует собранный черновик профита.
func (h *Handler) ConfirmProfitFlow(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	p, err := h.workflows.ConfirmProfit(r.Context(), sessionID)
	if err != nil {
		h.writeFlowError(w, err, sessionID)
		return
	}

	writeJSON(w, h.logger, p)
}

// CancelProfitFlow отбрасывает черновик и завершает сессию.
func (h *Handler) CancelProfitFlow(w http.ResponseWriter, r *http.Request) {
	h.workflows.Cancel(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusOK)
}

// StartPayoutFlow открывает сессию выплаты.
func (h *Handler) StartPayoutFlow(w http.ResponseWriter, r *http.Request) {
	sessionID, prompt, err := h.workflows.StartPayout(r.Context())
	if err != nil {
		h.logger.Error("start payout flow error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, startFlowResponse{SessionID: sessionID, Prompt: prompt})
}

// AdvancePayoutFlow применяет ввод к текущему шагу сессии выплаты.
func (h *Handler) AdvancePayoutFlow(w http.ResponseWriter, r *http.Request) {
	h.advanceFlow(w, r, h.workflows.AdvancePayout)
}

// ConfirmPayoutFlow фиксирует выплату по собранному черновику.
func (h *Handler) ConfirmPayoutFlow(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	p, err := h.workflows.ConfirmPayout(r.Context(), sessionID)
	if err != nil {
		h.writeFlowError(w, err, sessionID)
		return
	}

	writeJSON(w, h.logger, p)
}

// CancelPayoutFlow отбрасывает черновик выплаты и завершает сессию.
func (h *Handler) CancelPayoutFlow(w http.ResponseWriter, r *http.Request) {
	h.workflows.Cancel(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusOK)
}

type advanceFunc func(ctx context.Context, sessionID string, in workflow.Input) (*workflow.Prompt, error)

func (h *Handler) advanceFlow(w http.ResponseWriter, r *http.Request, advance advanceFunc) {
	sessionID := chi.URLParam(r, "sessionID")

	var in workflow.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	prompt, err := advance(r.Context(), sessionID, in)
	if err != nil {
		h.writeFlowError(w, err, sessionID)
		return
	}

	writeJSON(w, h.logger, prompt)
}

func (h *Handler) writeFlowError(w http.ResponseWriter, err error, sessionID string) {
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, workflow.ErrNotConfirmable),
		errors.Is(err, repository.ErrBalanceChanged),
		errors.Is(err, repository.ErrNothingToPayOut):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error("flow error", zap.Error(err), zap.String("session", sessionID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
