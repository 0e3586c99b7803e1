// Package model содержит доменные сущности командного леджера.
package model

import "time"

// User представляет участника команды с ролевыми флагами и балансами по ролям.
type User struct {
	ID       int64
	Username string
	FullName string

	IsAdmin   bool
	IsAnalyst bool
	IsManager bool

	WorkerBalance      float64
	WorkerTotalEarned  float64
	AnalystBalance     float64
	AnalystTotalEarned float64
	ManagerBalance     float64
	ManagerTotalEarned float64

	DateJoined time.Time
}

// CombinedBalance возвращает сумму балансов пользователя по всем трём ролям.
func (u *User) CombinedBalance() float64 {
	return u.WorkerBalance + u.AnalystBalance + u.ManagerBalance
}

// Client представляет источник дохода ("мамонта"), принадлежащий одному воркеру.
type Client struct {
	ID            int64
	WorkerID      int64
	Name          string
	TotalSqueezed float64
}

// Profit описывает одну неизменяемую запись леджера о доходе и его распределении.
// Analyst и Manager заполняются как единое целое: либо id, процент и доля
// присутствуют вместе, либо id равен nil, а процент и доля нулевые.
type Profit struct {
	ID       int64
	WorkerID int64
	ClientID int64

	Amount    float64
	Direction string
	Stage     string

	WorkerPercent float64
	WorkerShare   float64

	AnalystID      *int64
	AnalystPercent float64
	AnalystShare   float64

	ManagerID      *int64
	ManagerPercent float64
	ManagerShare   float64

	Timestamp time.Time
}

// Payout описывает выплату: создание обнуляет балансы, получение выдаёт чек.
type Payout struct {
	ID         int64
	WorkerID   int64
	CheckCode  string
	Amount     float64
	IsReceived bool
	Timestamp  time.Time
}

// Role задаёт вспомогательную роль бенефициара записи о доходе.
type Role string

const (
	RoleAnalyst Role = "analyst"
	RoleManager Role = "manager"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	return r == RoleAnalyst || r == RoleManager
}

// Period задаёт временное окно для выборок статистики.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Valid сообщает, известен ли период.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodAll:
		return true
	}
	return false
}

// Balance содержит снимок балансов пользователя по ролям.
type Balance struct {
	Worker        float64 `json:"worker"`
	Analyst       float64 `json:"analyst"`
	Manager       float64 `json:"manager"`
	Combined      float64 `json:"combined"`
	WorkerEarned  float64 `json:"worker_earned"`
	AnalystEarned float64 `json:"analyst_earned"`
	ManagerEarned float64 `json:"manager_earned"`
}

// TeamTotals содержит сводку по всей команде для админской панели.
type TeamTotals struct {
	Turnover float64 `json:"turnover"`
	Debt     float64 `json:"debt"`
}
