package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kurlovandrej9-del/teamledger/internal/middleware"
	"github.com/kurlovandrej9-del/teamledger/internal/model"
	"github.com/kurlovandrej9-del/teamledger/internal/repository"
	"github.com/kurlovandrej9-del/teamledger/internal/service"
	"github.com/kurlovandrej9-del/teamledger/internal/workflow"
)

type stubService struct {
	authUser *model.User
	authErr  error

	getUser    *model.User
	getUserErr error

	stats    *service.UserStats
	statsErr error

	client     *model.Client
	history    []model.Profit
	historyErr error

	receiveCode string
	receiveErr  error
}

func (s *stubService) Authenticate(ctx context.Context, id int64, username, fullName, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return nil, nil
}

func (s *stubService) Stats(ctx context.Context, userID int64, period model.Period) (*service.UserStats, error) {
	return s.stats, s.statsErr
}

func (s *stubService) Clients(ctx context.Context, workerID int64, limit, offset int) ([]model.Client, int, error) {
	return nil, 0, nil
}

func (s *stubService) ClientHistory(ctx context.Context, clientID int64, limit int) (*model.Client, []model.Profit, error) {
	return s.client, s.history, s.historyErr
}

func (s *stubService) Profits(ctx context.Context, workerID int64, limit int) ([]model.Profit, error) {
	return nil, nil
}

func (s *stubService) Payouts(ctx context.Context, userID int64, limit int) ([]model.Payout, error) {
	return nil, nil
}

func (s *stubService) ReceivePayout(ctx context.Context, payoutID, userID int64) (string, error) {
	return s.receiveCode, s.receiveErr
}

func (s *stubService) TopWorkers(ctx context.Context, period model.Period, limit int) ([]repository.RankedUser, error) {
	return nil, nil
}

func (s *stubService) TeamTotals(ctx context.Context) (*model.TeamTotals, error) {
	return &model.TeamTotals{Turnover: 1000, Debt: 200}, nil
}

type stubWorkflows struct {
	sessionID string
	prompt    *workflow.Prompt
	startErr  error

	advancePrompt *workflow.Prompt
	advanceErr    error

	profit     *model.Profit
	confirmErr error

	payout           *model.Payout
	confirmPayoutErr error

	cancelled string
}

func (s *stubWorkflows) StartProfit(ctx context.Context) (string, *workflow.Prompt, error) {
	return s.sessionID, s.prompt, s.startErr
}

func (s *stubWorkflows) AdvanceProfit(ctx context.Context, sessionID string, in workflow.Input) (*workflow.Prompt, error) {
	return s.advancePrompt, s.advanceErr
}

func (s *stubWorkflows) ConfirmProfit(ctx context.Context, sessionID string) (*model.Profit, error) {
	return s.profit, s.confirmErr
}

func (s *stubWorkflows) StartPayout(ctx context.Context) (string, *workflow.Prompt, error) {
	return s.sessionID, s.prompt, s.startErr
}

func (s *stubWorkflows) AdvancePayout(ctx context.Context, sessionID string, in workflow.Input) (*workflow.Prompt, error) {
	return s.advancePrompt, s.advanceErr
}

func (s *stubWorkflows) ConfirmPayout(ctx context.Context, sessionID string) (*model.Payout, error) {
	return s.payout, s.confirmPayoutErr
}

func (s *stubWorkflows) Cancel(sessionID string) {
	s.cancelled = sessionID
}

func newTestHandler(svc Service, wf Workflows) (*Handler, *middleware.AuthMiddleware) {
	auth := middleware.NewAuthMiddleware("test-secret")
	return NewHandler(svc, wf, zap.NewNop(), auth), auth
}

// authedRequest снабжает запрос валидной аутентификационной кукой.
func authedRequest(t *testing.T, auth *middleware.AuthMiddleware, method, target string, body []byte) *http.Request {
	t.Helper()

	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}

	rec := httptest.NewRecorder()
	auth.SetAuthCookie(rec, 42)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("SetAuthCookie set no cookies")
	}
	r.AddCookie(cookies[0])
	return r
}

func TestAuth_WrongPassword(t *testing.T) {
	svc := &stubService{authErr: service.ErrAccessDenied}
	h, _ := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	body := []byte(`{"user_id": 42, "username": "u", "full_name": "U", "password": "bad"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth", bytes.NewReader(body)))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuth_SetsCookieAndReturnsUser(t *testing.T) {
	svc := &stubService{authUser: &model.User{ID: 42, FullName: "Worker", IsAdmin: true}}
	h, _ := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	body := []byte(`{"user_id": 42, "username": "u", "full_name": "Worker", "password": "secret"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth", bytes.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatalf("auth cookie was not set")
	}

	var resp authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UserID != 42 || !resp.IsAdmin {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAuth_MissingFields(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth", bytes.NewReader([]byte(`{"user_id": 0}`))))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetStats_RequiresAuth(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me/stats", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestGetStats_OK(t *testing.T) {
	svc := &stubService{stats: &service.UserStats{
		Balance:      model.Balance{Worker: 100, Combined: 100},
		PeriodEarned: 40,
		ClientCount:  3,
		TotalPaid:    60,
	}}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/me/stats?period=week", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp service.UserStats
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PeriodEarned != 40 || resp.ClientCount != 3 || resp.Balance.Combined != 100 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
}

func TestGetStats_InvalidPeriod(t *testing.T) {
	h, auth := newTestHandler(&stubService{}, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/me/stats?period=year", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetClientHistory_ForeignClientLooksMissing(t *testing.T) {
	// Клиент принадлежит другому воркеру: ответ неотличим от несуществующего.
	svc := &stubService{client: &model.Client{ID: 5, WorkerID: 777, Name: "Acme"}}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/clients/5/history", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetClientHistory_NotFound(t *testing.T) {
	svc := &stubService{historyErr: repository.ErrClientNotFound}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/clients/5/history", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetProfits_EmptyGivesNoContent(t *testing.T) {
	h, auth := newTestHandler(&stubService{}, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/me/profits", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestReceivePayout_AlreadyReceived(t *testing.T) {
	svc := &stubService{receiveErr: repository.ErrPayoutUnavailable}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/api/payouts/3/receive", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestReceivePayout_ReturnsCheckCode(t *testing.T) {
	svc := &stubService{receiveCode: "CHK-42"}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/api/payouts/3/receive", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp receiveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CheckCode != "CHK-42" {
		t.Fatalf("check code = %q, want CHK-42", resp.CheckCode)
	}
}

func TestAdminRoutes_ForbiddenForRegularUser(t *testing.T) {
	svc := &stubService{getUser: &model.User{ID: 42, IsAdmin: false}}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/admin/dashboard", nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestAdminRoutes_DashboardForAdmin(t *testing.T) {
	svc := &stubService{getUser: &model.User{ID: 42, IsAdmin: true}}
	h, auth := newTestHandler(svc, &stubWorkflows{})
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodGet, "/api/admin/dashboard", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp model.TeamTotals
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Turnover != 1000 || resp.Debt != 200 {
		t.Fatalf("unexpected totals: %+v", resp)
	}
}

func TestProfitFlow_StartAndAdvance(t *testing.T) {
	wf := &stubWorkflows{
		sessionID: "s-1",
		prompt:    &workflow.Prompt{State: workflow.StateSelectWorker, Text: "Выберите воркера"},
		advancePrompt: &workflow.Prompt{
			State: workflow.StateEnterClientName,
			Text:  "Введите имя мамонта",
		},
	}
	svc := &stubService{getUser: &model.User{ID: 42, IsAdmin: true}}
	h, auth := newTestHandler(svc, wf)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/api/admin/profit", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", w.Code, http.StatusOK)
	}

	var start startFlowResponse
	if err := json.Unmarshal(w.Body.Bytes(), &start); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if start.SessionID != "s-1" || start.Prompt == nil || start.Prompt.State != workflow.StateSelectWorker {
		t.Fatalf("unexpected start response: %+v", start)
	}

	w = httptest.NewRecorder()
	body := []byte(`{"text": "2"}`)
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/api/admin/profit/s-1", body))
	if w.Code != http.StatusOK {
		t.Fatalf("advance status = %d, want %d", w.Code, http.StatusOK)
	}

	var prompt workflow.Prompt
	if err := json.Unmarshal(w.Body.Bytes(), &prompt); err != nil {
		t.Fatalf("decode advance response: %v", err)
	}
	if prompt.State != workflow.StateEnterClientName {
		t.Fatalf("state = %s, want %s", prompt.State, workflow.StateEnterClientName)
	}
}

func TestProfitFlow_UnknownSession(t *testing.T) {
	wf := &stubWorkflows{advanceErr: workflow.ErrSessionNotFound}
	svc := &stubService{getUser: &model.User{ID: 42, IsAdmin: true}}
	h, auth := newTestHandler(svc, wf)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	body := []byte(`{"text": "2"}`)
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/api/admin/profit/gone", body))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestConfirmPayoutFlow_BalanceChanged(t *testing.T) {
	wf := &stubWorkflows{confirmPayoutErr: repository.ErrBalanceChanged}
	svc := &stubService{getUser: &model.User{ID: 42, IsAdmin: true}}
	h, auth := newTestHandler(svc, wf)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodPost, "/api/admin/payout/s-1/confirm", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestCancelProfitFlow(t *testing.T) {
	wf := &stubWorkflows{}
	svc := &stubService{getUser: &model.User{ID: 42, IsAdmin: true}}
	h, auth := newTestHandler(svc, wf)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(t, auth, http.MethodDelete, "/api/admin/profit/s-9", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if wf.cancelled != "s-9" {
		t.Fatalf("cancelled session = %q, want s-9", wf.cancelled)
	}
}
