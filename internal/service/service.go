// Package service реализует бизнес-логику командного леджера.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kurlovandrej9-del/teamledger/internal/model"
	"github.com/kurlovandrej9-del/teamledger/internal/notify"
	"github.com/kurlovandrej9-del/teamledger/internal/repository"
)

// ErrAccessDenied возвращается при неверном пароле доступа.
var ErrAccessDenied = errors.New("access denied")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	EnsureUser(ctx context.Context, id int64, username, fullName string, isAdmin bool) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error)
	ListUsersWithBalance(ctx context.Context) ([]model.User, error)
	RecordProfit(ctx context.Context, e repository.ProfitEntry) (*model.Profit, error)
	IssuePayout(ctx context.Context, userID int64, amount float64, checkCode string) (*model.Payout, error)
	ReceivePayout(ctx context.Context, payoutID, userID int64) (string, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	SumWorkerShares(ctx context.Context, userID int64, since time.Time) (float64, error)
	SumRoleShares(ctx context.Context, userID int64, role model.Role, since time.Time) (float64, error)
	TopUsers(ctx context.Context, limit int) ([]repository.RankedUser, error)
	TopWorkersSince(ctx context.Context, since time.Time, limit int) ([]repository.RankedUser, error)
	GetClient(ctx context.Context, clientID int64) (*model.Client, error)
	ListClients(ctx context.Context, workerID int64, limit, offset int) ([]model.Client, error)
	CountClients(ctx context.Context, workerID int64) (int, error)
	ClientHistory(ctx context.Context, clientID int64, limit int) ([]model.Profit, error)
	ListProfits(ctx context.Context, workerID int64, limit int) ([]model.Profit, error)
	ListPayouts(ctx context.Context, userID int64, limit int) ([]model.Payout, error)
	TotalPaid(ctx context.Context, userID int64) (float64, error)
	TeamTotals(ctx context.Context) (*model.TeamTotals, error)
}

// Service содержит бизнес-логику командного леджера.
type Service struct {
	repo           Repository
	notifier       notify.Sender
	logger         *zap.Logger
	accessPassword string
	adminIDs       map[int64]struct{}
}

// NewService создаёт новый сервис с указанным репозиторием и отправителем уведомлений.
// notifier может быть nil: тогда уведомления отключены.
func NewService(repo Repository, notifier notify.Sender, logger *zap.Logger, accessPassword string, adminIDs []int64) *Service {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Service{
		repo:           repo,
		notifier:       notifier,
		logger:         logger,
		accessPassword: accessPassword,
		adminIDs:       admins,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Share вычисляет долю бенефициара: amount * percent / 100.
// Чистая функция; ноль процентов легален и даёт нулевую долю.
func Share(amount, percent float64) float64 {
	return amount * percent / 100
}

// PeriodStart возвращает начало временного окна относительно now.
// Неделя начинается с понедельника, месяц с первого числа; границы
// усечены до полуночи локального времени. Для PeriodAll возвращается
// нулевое время.
func PeriodStart(p model.Period, now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch p {
	case model.PeriodDay:
		return midnight
	case model.PeriodWeek:
		weekday := int(midnight.Weekday())
		if weekday == 0 {
			weekday = 7 // воскресенье считаем седьмым днём
		}
		return midnight.AddDate(0, 0, -(weekday - 1))
	case model.PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Time{}
	}
}

// Authenticate проверяет пароль доступа и создаёт пользователя при первом
// успешном входе. Пользователи из списка администраторов повышаются автоматически.
func (s *Service) Authenticate(ctx context.Context, id int64, username, fullName, password string) (*model.User, error) {
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.accessPassword)) != 1 {
		return nil, ErrAccessDenied
	}

	_, isAdmin := s.adminIDs[id]
	if err := s.repo.EnsureUser(ctx, id, username, fullName, isAdmin); err != nil {
		return nil, err
	}

	return s.repo.GetUser(ctx, id)
}

// ProfitInput описывает подтверждённый черновик записи о доходе.
// Аналитик и менеджер опциональны; nil означает «не выбран», а указатель
// с нулевым процентом — выбранного бенефициара с нулевой долей.
type ProfitInput struct {
	WorkerID   int64
	ClientName string
	Amount     float64
	Direction  string
	Stage      string

	WorkerPercent float64

	AnalystID      *int64
	AnalystPercent float64

	ManagerID      *int64
	ManagerPercent float64
}

// RecordProfit вычисляет доли, атомарно фиксирует запись о доходе и
// асинхронно уведомляет бенефициаров. Доли вычисляются один раз в момент
// фиксации и больше никогда не пересчитываются.
func (s *Service) RecordProfit(ctx context.Context, in ProfitInput) (*model.Profit, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("profit amount must be positive")
	}

	entry := repository.ProfitEntry{
		WorkerID:      in.WorkerID,
		ClientName:    in.ClientName,
		Amount:        in.Amount,
		Direction:     in.Direction,
		Stage:         in.Stage,
		WorkerPercent: in.WorkerPercent,
		WorkerShare:   Share(in.Amount, in.WorkerPercent),
	}

	if in.AnalystID != nil {
		entry.AnalystID = in.AnalystID
		entry.AnalystPercent = in.AnalystPercent
		entry.AnalystShare = Share(in.Amount, in.AnalystPercent)
	}
	if in.ManagerID != nil {
		entry.ManagerID = in.ManagerID
		entry.ManagerPercent = in.ManagerPercent
		entry.ManagerShare = Share(in.Amount, in.ManagerPercent)
	}

	p, err := s.repo.RecordProfit(ctx, entry)
	if err != nil {
		return nil, err
	}

	s.notifyAsync(notify.Event{
		Kind:        notify.EventProfitCredited,
		RecipientID: p.WorkerID,
		Amount:      p.Amount,
		Share:       p.WorkerShare,
		ClientName:  in.ClientName,
		Direction:   p.Direction,
		Stage:       p.Stage,
	})
	if p.AnalystID != nil {
		s.notifyAsync(notify.Event{
			Kind:        notify.EventProfitCredited,
			RecipientID: *p.AnalystID,
			Amount:      p.Amount,
			Share:       p.AnalystShare,
			ClientName:  in.ClientName,
			Direction:   p.Direction,
			Stage:       p.Stage,
		})
	}
	if p.ManagerID != nil {
		s.notifyAsync(notify.Event{
			Kind:        notify.EventProfitCredited,
			RecipientID: *p.ManagerID,
			Amount:      p.Amount,
			Share:       p.ManagerShare,
			ClientName:  in.ClientName,
			Direction:   p.Direction,
			Stage:       p.Stage,
		})
	}

	return p, nil
}

// IssuePayout создаёт выплату и обнуляет балансы пользователя, затем
// уведомляет его о выплате. amount — сумма, подтверждённая администратором
// на экране подтверждения; расхождение с актуальным балансом отклоняется
// хранилищем.
func (s *Service) IssuePayout(ctx context.Context, userID int64, amount float64, checkCode string) (*model.Payout, error) {
	p, err := s.repo.IssuePayout(ctx, userID, amount, checkCode)
	if err != nil {
		return nil, err
	}

	s.notifyAsync(notify.Event{
		Kind:        notify.EventPayoutIssued,
		RecipientID: p.WorkerID,
		Amount:      p.Amount,
	})

	return p, nil
}

// ReceivePayout помечает выплату полученной и возвращает код чека.
// Код доставляется ровно один раз: повторное получение отклоняется хранилищем.
func (s *Service) ReceivePayout(ctx context.Context, payoutID, userID int64) (string, error) {
	code, err := s.repo.ReceivePayout(ctx, payoutID, userID)
	if err != nil {
		return "", err
	}

	s.notifyAsync(notify.Event{
		Kind:        notify.EventPayoutCode,
		RecipientID: userID,
		CheckCode:   code,
	})

	return code, nil
}

// notifyAsync отправляет событие в фоне. Сбой доставки логируется и никогда
// не влияет на уже зафиксированную мутацию.
func (s *Service) notifyAsync(ev notify.Event) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.notifier.Send(ctx, ev); err != nil {
			s.logger.Warn("notification delivery failed",
				zap.String("kind", string(ev.Kind)),
				zap.Int64("recipient", ev.RecipientID),
				zap.Error(err),
			)
		}
	}()
}

// UserStats содержит сводку личного кабинета пользователя.
// Заработок за период раскладывается по ролям: воркерские доли отдельно
// от долей аналитика и менеджера.
type UserStats struct {
	Balance             model.Balance `json:"balance"`
	PeriodEarned        float64       `json:"period_earned"`
	PeriodAnalystEarned float64       `json:"period_analyst_earned"`
	PeriodManagerEarned float64       `json:"period_manager_earned"`
	ClientCount         int           `json:"client_count"`
	TotalPaid           float64       `json:"total_paid"`
}

// Stats возвращает сводку по пользователю за указанный период.
func (s *Service) Stats(ctx context.Context, userID int64, period model.Period) (*UserStats, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	since := PeriodStart(period, time.Now())
	earned, err := s.repo.SumWorkerShares(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	analystEarned, err := s.repo.SumRoleShares(ctx, userID, model.RoleAnalyst, since)
	if err != nil {
		return nil, err
	}

	managerEarned, err := s.repo.SumRoleShares(ctx, userID, model.RoleManager, since)
	if err != nil {
		return nil, err
	}

	clients, err := s.repo.CountClients(ctx, userID)
	if err != nil {
		return nil, err
	}

	paid, err := s.repo.TotalPaid(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserStats{
		Balance:             *balance,
		PeriodEarned:        earned,
		PeriodAnalystEarned: analystEarned,
		PeriodManagerEarned: managerEarned,
		ClientCount:         clients,
		TotalPaid:           paid,
	}, nil
}

// CurrentBalance возвращает снимок балансов пользователя.
func (s *Service) CurrentBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// ListUsersByRole возвращает пользователей с указанной ролью.
func (s *Service) ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	return s.repo.ListUsersByRole(ctx, role)
}

// ListUsersWithBalance возвращает пользователей, которым есть что выплачивать.
func (s *Service) ListUsersWithBalance(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsersWithBalance(ctx)
}

// TopWorkers возвращает рейтинг: за всё время по накопленному заработку,
// за окно — по сумме долей воркера внутри окна.
func (s *Service) TopWorkers(ctx context.Context, period model.Period, limit int) ([]repository.RankedUser, error) {
	if period == model.PeriodAll || period == "" {
		return s.repo.TopUsers(ctx, limit)
	}
	since := PeriodStart(period, time.Now())
	return s.repo.TopWorkersSince(ctx, since, limit)
}

// Clients возвращает страницу клиентов воркера и общее их количество.
func (s *Service) Clients(ctx context.Context, workerID int64, limit, offset int) ([]model.Client, int, error) {
	clients, err := s.repo.ListClients(ctx, workerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountClients(ctx, workerID)
	if err != nil {
		return nil, 0, err
	}
	return clients, total, nil
}

// ClientHistory возвращает клиента и его последние транзакции, новые первыми.
func (s *Service) ClientHistory(ctx context.Context, clientID int64, limit int) (*model.Client, []model.Profit, error) {
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.ClientHistory(ctx, clientID, limit)
	if err != nil {
		return nil, nil, err
	}
	return client, history, nil
}

// Profits возвращает последние записи о доходе воркера.
func (s *Service) Profits(ctx context.Context, workerID int64, limit int) ([]model.Profit, error) {
	return s.repo.ListProfits(ctx, workerID, limit)
}

// Payouts возвращает последние выплаты пользователя.
func (s *Service) Payouts(ctx context.Context, userID int64, limit int) ([]model.Payout, error) {
	return s.repo.ListPayouts(ctx, userID, limit)
}

// TeamTotals возвращает сводку для админской панели.
func (s *Service) TeamTotals(ctx context.Context) (*model.TeamTotals, error) {
	return s.repo.TeamTotals(ctx)
}
