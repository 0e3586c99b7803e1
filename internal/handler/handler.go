// Package handler содержит HTTP-обработчики API командного леджера.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kurlovandrej9-del/teamledger/internal/middleware"
	"github.com/kurlovandrej9-del/teamledger/internal/model"
	"github.com/kurlovandrej9-del/teamledger/internal/repository"
	"github.com/kurlovandrej9-del/teamledger/internal/service"
	"github.com/kurlovandrej9-del/teamledger/internal/workflow"
)

const (
	clientsPageSize    = 6
	historyLimit       = 5
	profitsLimit       = 10
	payoutsLimit       = 10
	defaultTopLimit    = 20
	receiveCodeTimeout = 10 * time.Second
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Authenticate(ctx context.Context, id int64, username, fullName, password string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	Stats(ctx context.Context, userID int64, period model.Period) (*service.UserStats, error)
	Clients(ctx context.Context, workerID int64, limit, offset int) ([]model.Client, int, error)
	ClientHistory(ctx context.Context, clientID int64, limit int) (*model.Client, []model.Profit, error)
	Profits(ctx context.Context, workerID int64, limit int) ([]model.Profit, error)
	Payouts(ctx context.Context, userID int64, limit int) ([]model.Payout, error)
	ReceivePayout(ctx context.Context, payoutID, userID int64) (string, error)
	TopWorkers(ctx context.Context, period model.Period, limit int) ([]repository.RankedUser, error)
	TeamTotals(ctx context.Context) (*model.TeamTotals, error)
}

// Workflows определяет контракт пошаговых сценариев ввода.
type Workflows interface {
	StartProfit(ctx context.Context) (string, *workflow.Prompt, error)
	AdvanceProfit(ctx context.Context, sessionID string, in workflow.Input) (*workflow.Prompt, error)
	ConfirmProfit(ctx context.Context, sessionID string) (*model.Profit, error)
	StartPayout(ctx context.Context) (string, *workflow.Prompt, error)
	AdvancePayout(ctx context.Context, sessionID string, in workflow.Input) (*workflow.Prompt, error)
	ConfirmPayout(ctx context.Context, sessionID string) (*model.Payout, error)
	Cancel(sessionID string)
}

// Handler реализует HTTP-обработчики API командного леджера.
type Handler struct {
	service        Service
	workflows      Workflows
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, wf Workflows, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		workflows:      wf,
		logger:         logger,
		authMiddleware: auth,
	}
}

type authRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// Auth проверяет пароль доступа и создаёт учётную запись при первом входе.
func (h *Handler) Auth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID == 0 || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.Authenticate(r.Context(), req.UserID, req.Username, req.FullName, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrAccessDenied) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("authenticate error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	writeJSON(w, h.logger, authResponse{UserID: u.ID, FullName: u.FullName, IsAdmin: u.IsAdmin})
}

// GetStats возвращает сводку личного кабинета текущего пользователя.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	period := model.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = model.PeriodMonth
	}
	if !period.Valid() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	stats, err := h.service.Stats(r.Context(), userID, period)
	if err != nil {
		h.logger.Error("get stats error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, stats)
}

type clientsResponse struct {
	Clients []model.Client `json:"clients"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
}

// GetClients возвращает страницу клиентов текущего пользователя.
func (h *Handler) GetClients(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		page = p
	}

	clients, total, err := h.service.Clients(r.Context(), userID, clientsPageSize, page*clientsPageSize)
	if err != nil {
		h.logger.Error("get clients error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, clientsResponse{Clients: clients, Total: total, Page: page})
}

type clientHistoryResponse struct {
	Client  model.Client   `json:"client"`
	History []model.Profit `json:"history"`
}

// GetClientHistory возвращает клиента и его последние транзакции.
// Чужой клиент неотличим от несуществующего.
func (h *Handler) GetClientHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	clientID, err := strconv.ParseInt(chi.URLParam(r, "clientID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	client, history, err := h.service.ClientHistory(r.Context(), clientID, historyLimit)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("client history error", zap.Error(err), zap.Int64("clientID", clientID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if client.WorkerID != userID {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, h.logger, clientHistoryResponse{Client: *client, History: history})
}

// GetProfits возвращает последние записи о доходе текущего пользователя.
func (h *Handler) GetProfits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	profits, err := h.service.Profits(r.Context(), userID, profitsLimit)
	if err != nil {
		h.logger.Error("get profits error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(profits) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, profits)
}

// GetPayouts возвращает последние выплаты текущего пользователя.
func (h *Handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payouts, err := h.service.Payouts(r.Context(), userID, payoutsLimit)
	if err != nil {
		h.logger.Error("get payouts error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payouts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, payouts)
}

type receiveResponse struct {
	CheckCode string `json:"check_code"`
}

// ReceivePayout помечает выплату полученной и выдаёт код чека ровно один раз.
func (h *Handler) ReceivePayout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payoutID, err := strconv.ParseInt(chi.URLParam(r, "payoutID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), receiveCodeTimeout)
	defer cancel()

	code, err := h.service.ReceivePayout(ctx, payoutID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutUnavailable) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("receive payout error", zap.Error(err), zap.Int64("payoutID", payoutID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, receiveResponse{CheckCode: code})
}

// GetDashboard возвращает сводку команды для администратора.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.TeamTotals(r.Context())
	if err != nil {
		h.logger.Error("dashboard error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, totals)
}

// GetTop возвращает рейтинг пользователей за период.
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	period := model.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = model.PeriodAll
	}
	if !period.Valid() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	top, err := h.service.TopWorkers(r.Context(), period, defaultTopLimit)
	if err != nil {
		h.logger.Error("top error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, top)
}

type userSummary struct {
	UserID   int64   `json:"user_id"`
	FullName string  `json:"full_name"`
	Balance  float64 `json:"balance"`
	Earned   float64 `json:"earned"`
}

// GetUsers возвращает список команды с балансами для администратора.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]userSummary, 0, len(users))
	for _, u := range users {
		resp = append(resp, userSummary{
			UserID:   u.ID,
			FullName: u.FullName,
			Balance:  u.CombinedBalance(),
			Earned:   u.WorkerTotalEarned + u.AnalystTotalEarned + u.ManagerTotalEarned,
		})
	}

	writeJSON(w, h.logger, resp)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
