// Package workflow реализует пошаговые сценарии ввода ("внести профит",
// "выплатить ЗП") с черновиком, накапливаемым по сессиям.
//
// Черновик живёт только в памяти и привязан к сессии: он не виден другим
// операциям до фиксации, отбрасывается при отмене и никогда не сохраняется.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kurlovandrej9-del/teamledger/internal/model"
	"github.com/kurlovandrej9-del/teamledger/internal/service"
	"github.com/kurlovandrej9-del/teamledger/internal/validation"
)

// ErrSessionNotFound возвращается для неизвестной или уже завершённой сессии.
var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotConfirmable возвращается, если фиксация запрошена не на шаге подтверждения.
	ErrNotConfirmable = errors.New("draft is not at the confirmation step")
)

// State обозначает текущий шаг сценария ввода.
type State string

const (
	StateSelectWorker       State = "select_worker"
	StateEnterClientName    State = "enter_client_name"
	StateEnterAmount        State = "enter_amount"
	StateSelectDirection    State = "select_direction"
	StateSelectStage        State = "select_stage"
	StateEnterWorkerPercent State = "enter_worker_percent"
	StateSelectAnalyst      State = "select_analyst"
	StateEnterAnalystPct    State = "enter_analyst_percent"
	StateSelectManager      State = "select_manager"
	StateEnterManagerPct    State = "enter_manager_percent"
	StateConfirm            State = "confirm"

	StateSelectPayee    State = "select_payee"
	StateEnterCheckCode State = "enter_check_code"
	StatePayoutConfirm  State = "payout_confirm"

	// StateDone сигнализирует презентационному слою, что сценарий завершён.
	StateDone State = "done"
)

// Предлагаемые наборы значений. Хранится произвольный текст: набор — это
// подсказка интерфейса, а не ограничение уровня данных.
var (
	DirectionOptions = []string{"BTC", "USDT", "Card"}
	StageOptions     = []string{"Депозит", "Комиссия", "Налог"}
)

// Input описывает одно действие пользователя на текущем шаге.
type Input struct {
	Text string `json:"text"`
	Skip bool   `json:"skip,omitempty"`
}

// UserOption описывает пользователя в списке выбора.
type UserOption struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Balance float64 `json:"balance,omitempty"`
}

// Summary содержит полностью собранный черновик для экрана подтверждения.
type Summary struct {
	WorkerID   int64   `json:"worker_id"`
	ClientName string  `json:"client_name"`
	Amount     float64 `json:"amount"`
	Direction  string  `json:"direction"`
	Stage      string  `json:"stage"`

	WorkerPercent float64 `json:"worker_percent"`
	WorkerShare   float64 `json:"worker_share"`

	AnalystID      *int64  `json:"analyst_id,omitempty"`
	AnalystPercent float64 `json:"analyst_percent,omitempty"`
	AnalystShare   float64 `json:"analyst_share,omitempty"`

	ManagerID      *int64  `json:"manager_id,omitempty"`
	ManagerPercent float64 `json:"manager_percent,omitempty"`
	ManagerShare   float64 `json:"manager_share,omitempty"`
}

// PayoutSummary содержит черновик выплаты с балансом, пересчитанным на
// момент подтверждения.
type PayoutSummary struct {
	UserID    int64   `json:"user_id"`
	FullName  string  `json:"full_name"`
	Amount    float64 `json:"amount"`
	CheckCode string  `json:"check_code"`
}

// Prompt описывает следующий шаг для отрисовки презентационным слоем.
// Error заполняется при ошибке валидации: шаг повторяется, черновик не тронут.
type Prompt struct {
	State   State          `json:"state"`
	Text    string         `json:"text"`
	Options []string       `json:"options,omitempty"`
	Users   []UserOption   `json:"users,omitempty"`
	Summary *Summary       `json:"summary,omitempty"`
	Payout  *PayoutSummary `json:"payout,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Ledger описывает операции сервиса, используемые сценариями ввода.
type Ledger interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error)
	ListUsersWithBalance(ctx context.Context) ([]model.User, error)
	CurrentBalance(ctx context.Context, userID int64) (*model.Balance, error)
	RecordProfit(ctx context.Context, in service.ProfitInput) (*model.Profit, error)
	IssuePayout(ctx context.Context, userID int64, amount float64, checkCode string) (*model.Payout, error)
}

// mu сериализует все операции над одной сессией: конкурентные шаги и
// повторные подтверждения выполняются строго по одному.
type profitFlow struct {
	mu         sync.Mutex
	state      State
	draft      service.ProfitInput
	candidates map[int64]string // допустимые пользователи текущего шага выбора
}

type payoutFlow struct {
	mu         sync.Mutex
	state      State
	userID     int64
	fullName   string
	amount     float64 // баланс, показанный на подтверждении
	checkCode  string
	candidates map[int64]string
}

// Manager хранит активные сценарии по идентификаторам сессий.
type Manager struct {
	mu      sync.RWMutex
	profits map[string]*profitFlow
	payouts map[string]*payoutFlow

	ledger Ledger
	logger *zap.Logger
}

// NewManager создаёт менеджер сценариев поверх указанного сервиса.
func NewManager(ledger Ledger, logger *zap.Logger) *Manager {
	return &Manager{
		profits: make(map[string]*profitFlow),
		payouts: make(map[string]*payoutFlow),
		ledger:  ledger,
		logger:  logger,
	}
}

// Cancel детерминированно отбрасывает черновик сессии и завершает её.
// Отмена допустима на любом шаге; для неизвестной сессии это no-op.
func (m *Manager) Cancel(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profits, sessionID)
	delete(m.payouts, sessionID)
}

// --- Сценарий "внести профит" ---

// StartProfit открывает новую сессию ввода профита и возвращает первый шаг.
// Пустой список пользователей не блокирует вход в состояние.
func (m *Manager) StartProfit(ctx context.Context) (string, *Prompt, error) {
	users, err := m.ledger.ListUsers(ctx)
	if err != nil {
		return "", nil, err
	}

	flow := &profitFlow{
		state:      StateSelectWorker,
		candidates: candidateSet(users),
	}

	sessionID := uuid.NewString()
	m.mu.Lock()
	m.profits[sessionID] = flow
	m.mu.Unlock()

	m.logger.Info("profit entry started", zap.String("session", sessionID))

	return sessionID, &Prompt{
		State: StateSelectWorker,
		Text:  "Выберите воркера",
		Users: userOptions(users),
	}, nil
}

// AdvanceProfit применяет ввод пользователя к текущему шагу сессии.
// Ошибка валидации возвращает тот же шаг с заполненным Error.
func (m *Manager) AdvanceProfit(ctx context.Context, sessionID string, in Input) (*Prompt, error) {
	m.mu.RLock()
	flow, ok := m.profits[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	switch flow.state {
	case StateSelectWorker:
		return m.profitSelectWorker(flow, in)
	case StateEnterClientName:
		return m.profitEnterClientName(flow, in)
	case StateEnterAmount:
		return m.profitEnterAmount(flow, in)
	case StateSelectDirection:
		return m.profitSelectDirection(flow, in)
	case StateSelectStage:
		return m.profitSelectStage(flow, in)
	case StateEnterWorkerPercent:
		return m.profitEnterWorkerPercent(ctx, flow, in)
	case StateSelectAnalyst:
		return m.profitSelectAnalyst(ctx, flow, in)
	case StateEnterAnalystPct:
		return m.profitEnterAnalystPercent(ctx, flow, in)
	case StateSelectManager:
		return m.profitSelectManager(flow, in)
	case StateEnterManagerPct:
		return m.profitEnterManagerPercent(flow, in)
	case StateConfirm:
		// На шаге подтверждения принимается только явная фиксация;
		// любой другой ввод отбрасывает черновик.
		flow.state = StateDone
		m.Cancel(sessionID)
		return &Prompt{State: StateDone, Text: "Операция отменена"}, nil
	default:
		return nil, fmt.Errorf("unexpected state %q", flow.state)
	}
}

func (m *Manager) profitSelectWorker(flow *profitFlow, in Input) (*Prompt, error) {
	id, ok := parseCandidate(flow.candidates, in.Text)
	if !ok {
		return &Prompt{
			State: StateSelectWorker,
			Text:  "Выберите воркера",
			Error: "выберите пользователя из списка",
		}, nil
	}

	flow.draft.WorkerID = id
	flow.state = StateEnterClientName
	return &Prompt{State: StateEnterClientName, Text: "Введите имя мамонта"}, nil
}

func (m *Manager) profitEnterClientName(flow *profitFlow, in Input) (*Prompt, error) {
	name, err := validation.NormalizeName(in.Text)
	if err != nil {
		// Пустое сообщение не продвигает шаг.
		return &Prompt{
			State: StateEnterClientName,
			Text:  "Введите имя мамонта",
			Error: "имя не может быть пустым",
		}, nil
	}

	flow.draft.ClientName = name
	flow.state = StateEnterAmount
	return &Prompt{State: StateEnterAmount, Text: "Сумма залёта (например 1500.50)"}, nil
}

func (m *Manager) profitEnterAmount(flow *profitFlow, in Input) (*Prompt, error) {
	amount, err := validation.ParseAmount(in.Text)
	if err != nil {
		return &Prompt{
			State: StateEnterAmount,
			Text:  "Сумма залёта (например 1500.50)",
			Error: "введите корректное положительное число",
		}, nil
	}

	flow.draft.Amount = amount
	flow.state = StateSelectDirection
	return &Prompt{
		State:   StateSelectDirection,
		Text:    "Выберите направление",
		Options: DirectionOptions,
	}, nil
}

func (m *Manager) profitSelectDirection(flow *profitFlow, in Input) (*Prompt, error) {
	direction, err := validation.NormalizeName(in.Text)
	if err != nil {
		return &Prompt{
			State:   StateSelectDirection,
			Text:    "Выберите направление",
			Options: DirectionOptions,
			Error:   "направление не может быть пустым",
		}, nil
	}

	flow.draft.Direction = direction
	flow.state = StateSelectStage
	return &Prompt{
		State:   StateSelectStage,
		Text:    "Стадия обработки",
		Options: StageOptions,
	}, nil
}

func (m *Manager) profitSelectStage(flow *profitFlow, in Input) (*Prompt, error) {
	stage, err := validation.NormalizeName(in.Text)
	if err != nil {
		return &Prompt{
			State:   StateSelectStage,
			Text:    "Стадия обработки",
			Options: StageOptions,
			Error:   "стадия не может быть пустой",
		}, nil
	}

	flow.draft.Stage = stage
	flow.state = StateEnterWorkerPercent
	return &Prompt{State: StateEnterWorkerPercent, Text: "Процент воркера (например 50)"}, nil
}

func (m *Manager) profitEnterWorkerPercent(ctx context.Context, flow *profitFlow, in Input) (*Prompt, error) {
	percent, err := validation.ParsePercent(in.Text)
	if err != nil {
		return &Prompt{
			State: StateEnterWorkerPercent,
			Text:  "Процент воркера (например 50)",
			Error: "введите число",
		}, nil
	}

	flow.draft.WorkerPercent = percent
	return m.enterAnalystSelection(ctx, flow)
}

func (m *Manager) enterAnalystSelection(ctx context.Context, flow *profitFlow) (*Prompt, error) {
	analysts, err := m.ledger.ListUsersByRole(ctx, model.RoleAnalyst)
	if err != nil {
		return nil, err
	}

	flow.candidates = candidateSet(analysts)
	flow.state = StateSelectAnalyst
	return &Prompt{
		State: StateSelectAnalyst,
		Text:  "Выберите аналитика или пропустите",
		Users: userOptions(analysts),
	}, nil
}

func (m *Manager) profitSelectAnalyst(ctx context.Context, flow *profitFlow, in Input) (*Prompt, error) {
	if in.Skip {
		// Пропуск обнуляет поля аналитика: id остаётся nil, что отличимо
		// от явно выбранного аналитика с нулевым процентом.
		flow.draft.AnalystID = nil
		flow.draft.AnalystPercent = 0
		return m.enterManagerSelection(ctx, flow)
	}

	id, ok := parseCandidate(flow.candidates, in.Text)
	if !ok {
		return &Prompt{
			State: StateSelectAnalyst,
			Text:  "Выберите аналитика или пропустите",
			Error: "выберите аналитика из списка или пропустите шаг",
		}, nil
	}

	flow.draft.AnalystID = &id
	flow.state = StateEnterAnalystPct
	return &Prompt{State: StateEnterAnalystPct, Text: "Процент аналитика"}, nil
}

func (m *Manager) profitEnterAnalystPercent(ctx context.Context, flow *profitFlow, in Input) (*Prompt, error) {
	percent, err := validation.ParsePercent(in.Text)
	if err != nil {
		return &Prompt{
			State: StateEnterAnalystPct,
			Text:  "Процент аналитика",
			Error: "введите число",
		}, nil
	}

	flow.draft.AnalystPercent = percent
	return m.enterManagerSelection(ctx, flow)
}

func (m *Manager) enterManagerSelection(ctx context.Context, flow *profitFlow) (*Prompt, error) {
	managers, err := m.ledger.ListUsersByRole(ctx, model.RoleManager)
	if err != nil {
		return nil, err
	}

	flow.candidates = candidateSet(managers)
	flow.state = StateSelectManager
	return &Prompt{
		State: StateSelectManager,
		Text:  "Выберите менеджера или пропустите",
		Users: userOptions(managers),
	}, nil
}

func (m *Manager) profitSelectManager(flow *profitFlow, in Input) (*Prompt, error) {
	if in.Skip {
		flow.draft.ManagerID = nil
		flow.draft.ManagerPercent = 0
		return m.enterConfirm(flow), nil
	}

	id, ok := parseCandidate(flow.candidates, in.Text)
	if !ok {
		return &Prompt{
			State: StateSelectManager,
			Text:  "Выберите менеджера или пропустите",
			Error: "выберите менеджера из списка или пропустите шаг",
		}, nil
	}

	flow.draft.ManagerID = &id
	flow.state = StateEnterManagerPct
	return &Prompt{State: StateEnterManagerPct, Text: "Процент менеджера"}, nil
}

func (m *Manager) profitEnterManagerPercent(flow *profitFlow, in Input) (*Prompt, error) {
	percent, err := validation.ParsePercent(in.Text)
	if err != nil {
		return &Prompt{
			State: StateEnterManagerPct,
			Text:  "Процент менеджера",
			Error: "введите число",
		}, nil
	}

	flow.draft.ManagerPercent = percent
	return m.enterConfirm(flow), nil
}

func (m *Manager) enterConfirm(flow *profitFlow) *Prompt {
	flow.state = StateConfirm
	return &Prompt{
		State:   StateConfirm,
		Text:    "Проверьте данные и подтвердите",
		Summary: buildSummary(flow.draft),
	}
}

func buildSummary(d service.ProfitInput) *Summary {
	s := &Summary{
		WorkerID:      d.WorkerID,
		ClientName:    d.ClientName,
		Amount:        d.Amount,
		Direction:     d.Direction,
		Stage:         d.Stage,
		WorkerPercent: d.WorkerPercent,
		WorkerShare:   service.Share(d.Amount, d.WorkerPercent),
	}
	if d.AnalystID != nil {
		s.AnalystID = d.AnalystID
		s.AnalystPercent = d.AnalystPercent
		s.AnalystShare = service.Share(d.Amount, d.AnalystPercent)
	}
	if d.ManagerID != nil {
		s.ManagerID = d.ManagerID
		s.ManagerPercent = d.ManagerPercent
		s.ManagerShare = service.Share(d.Amount, d.ManagerPercent)
	}
	return s
}

// ConfirmProfit фиксирует черновик сессии. При ошибке хранилища черновик
// сохраняется, и фиксацию можно повторить; при успехе сессия завершается,
// а зафиксированная запись возвращается для уведомлений.
// Фиксация выполняется под блокировкой сессии: из двух конкурентных
// подтверждений одного черновика записать его может только одно.
func (m *Manager) ConfirmProfit(ctx context.Context, sessionID string) (*model.Profit, error) {
	m.mu.RLock()
	flow, ok := m.profits[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.state != StateConfirm {
		return nil, ErrNotConfirmable
	}

	p, err := m.ledger.RecordProfit(ctx, flow.draft)
	if err != nil {
		return nil, err
	}

	flow.state = StateDone
	m.Cancel(sessionID)
	m.logger.Info("profit entry committed",
		zap.String("session", sessionID),
		zap.Int64("profit_id", p.ID),
	)
	return p, nil
}

// --- Сценарий "выплатить ЗП" ---

// StartPayout открывает новую сессию выплаты и возвращает первый шаг со
// списком пользователей с положительным суммарным балансом.
func (m *Manager) StartPayout(ctx context.Context) (string, *Prompt, error) {
	users, err := m.ledger.ListUsersWithBalance(ctx)
	if err != nil {
		return "", nil, err
	}

	flow := &payoutFlow{
		state:      StateSelectPayee,
		candidates: candidateSet(users),
	}

	sessionID := uuid.NewString()
	m.mu.Lock()
	m.payouts[sessionID] = flow
	m.mu.Unlock()

	m.logger.Info("payout entry started", zap.String("session", sessionID))

	return sessionID, &Prompt{
		State: StateSelectPayee,
		Text:  "Кому выплачиваем?",
		Users: userOptions(users),
	}, nil
}

// AdvancePayout применяет ввод пользователя к текущему шагу сессии выплаты.
func (m *Manager) AdvancePayout(ctx context.Context, sessionID string, in Input) (*Prompt, error) {
	m.mu.RLock()
	flow, ok := m.payouts[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	switch flow.state {
	case StateSelectPayee:
		return m.payoutSelectPayee(flow, in)
	case StateEnterCheckCode:
		return m.payoutEnterCheckCode(ctx, flow, in)
	case StatePayoutConfirm:
		flow.state = StateDone
		m.Cancel(sessionID)
		return &Prompt{State: StateDone, Text: "Операция отменена"}, nil
	default:
		return nil, fmt.Errorf("unexpected state %q", flow.state)
	}
}

// Получатель принимается только из списка, предложенного на старте сессии:
// пользователь с нулевым балансом не выбирается даже по известному id.
func (m *Manager) payoutSelectPayee(flow *payoutFlow, in Input) (*Prompt, error) {
	id, ok := parseCandidate(flow.candidates, in.Text)
	if !ok {
		return &Prompt{
			State: StateSelectPayee,
			Text:  "Кому выплачиваем?",
			Error: "выберите пользователя из списка",
		}, nil
	}

	flow.userID = id
	flow.fullName = flow.candidates[id]
	flow.state = StateEnterCheckCode
	return &Prompt{State: StateEnterCheckCode, Text: "Вставьте чек или код транзакции"}, nil
}

func (m *Manager) payoutEnterCheckCode(ctx context.Context, flow *payoutFlow, in Input) (*Prompt, error) {
	code, err := validation.NormalizeName(in.Text)
	if err != nil {
		return &Prompt{
			State: StateEnterCheckCode,
			Text:  "Вставьте чек или код транзакции",
			Error: "код чека не может быть пустым",
		}, nil
	}

	// Баланс пересчитывается непосредственно перед подтверждением:
	// конкурентные записи профита могли изменить его после выбора.
	balance, err := m.ledger.CurrentBalance(ctx, flow.userID)
	if err != nil {
		return nil, err
	}

	flow.checkCode = code
	flow.amount = balance.Combined
	flow.state = StatePayoutConfirm
	return &Prompt{
		State: StatePayoutConfirm,
		Text:  "Обнуляем баланс и отправляем?",
		Payout: &PayoutSummary{
			UserID:    flow.userID,
			FullName:  flow.fullName,
			Amount:    flow.amount,
			CheckCode: flow.checkCode,
		},
	}, nil
}

// ConfirmPayout фиксирует выплату по черновику сессии. Выплачивается сумма,
// показанная на подтверждении; если баланс успел измениться, хранилище
// отклонит операцию и черновик сохранится для повторного подтверждения.
// Как и ConfirmProfit, фиксация выполняется под блокировкой сессии.
func (m *Manager) ConfirmPayout(ctx context.Context, sessionID string) (*model.Payout, error) {
	m.mu.RLock()
	flow, ok := m.payouts[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.state != StatePayoutConfirm {
		return nil, ErrNotConfirmable
	}

	p, err := m.ledger.IssuePayout(ctx, flow.userID, flow.amount, flow.checkCode)
	if err != nil {
		return nil, err
	}

	flow.state = StateDone
	m.Cancel(sessionID)
	m.logger.Info("payout committed",
		zap.String("session", sessionID),
		zap.Int64("payout_id", p.ID),
	)
	return p, nil
}

func candidateSet(users []model.User) map[int64]string {
	set := make(map[int64]string, len(users))
	for _, u := range users {
		set[u.ID] = u.FullName
	}
	return set
}

func parseCandidate(candidates map[int64]string, text string) (int64, bool) {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	if _, ok := candidates[id]; !ok {
		return 0, false
	}
	return id, true
}

func userOptions(users []model.User) []UserOption {
	opts := make([]UserOption, 0, len(users))
	for _, u := range users {
		opts = append(opts, UserOption{
			ID:      u.ID,
			Name:    u.FullName,
			Balance: u.CombinedBalance(),
		})
	}
	return opts
}
