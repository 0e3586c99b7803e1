// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kurlovandrej9-del/teamledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrClientNotFound возвращается, если клиент не найден.
	ErrClientNotFound = errors.New("client not found")
	// ErrPayoutUnavailable возвращается для несуществующей, чужой или уже
	// полученной выплаты. Случаи намеренно неразличимы для вызывающего.
	ErrPayoutUnavailable = errors.New("payout not available")
	// ErrNothingToPayOut возвращается при попытке выплаты пользователю с нулевым балансом.
	ErrNothingToPayOut = errors.New("nothing to pay out")
	// ErrBalanceChanged возвращается, если баланс изменился между подтверждением и фиксацией выплаты.
	ErrBalanceChanged = errors.New("balance changed since confirmation")
)

// roleColumns сопоставляет вспомогательную роль именам колонок балансов.
// Явная таблица вместо сборки имён колонок из пользовательского ввода.
var roleColumns = map[model.Role]struct {
	balance string
	earned  string
}{
	model.RoleAnalyst: {balance: "analyst_balance", earned: "analyst_total_earned"},
	model.RoleManager: {balance: "manager_balance", earned: "manager_total_earned"},
}

// roleShareColumns сопоставляет роль колонкам записи о доходе.
var roleShareColumns = map[model.Role]struct {
	id    string
	share string
}{
	model.RoleAnalyst: {id: "analyst_id", share: "analyst_share"},
	model.RoleManager: {id: "manager_id", share: "manager_share"},
}

// roleFlagColumns сопоставляет роль флагу пользователя.
var roleFlagColumns = map[model.Role]string{
	model.RoleAnalyst: "is_analyst",
	model.RoleManager: "is_manager",
}

// ProfitEntry описывает полностью собранный черновик записи о доходе,
// передаваемый на атомарную фиксацию. Доли уже вычислены на момент ввода.
type ProfitEntry struct {
	WorkerID   int64
	ClientName string
	Amount     float64
	Direction  string
	Stage      string

	WorkerPercent float64
	WorkerShare   float64

	AnalystID      *int64
	AnalystPercent float64
	AnalystShare   float64

	ManagerID      *int64
	ManagerPercent float64
	ManagerShare   float64
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи только для сериализационных конфликтов и дедлоков.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `user_id, username, full_name, is_admin, is_analyst, is_manager,
	 worker_balance, worker_total_earned, analyst_balance, analyst_total_earned,
	 manager_balance, manager_total_earned, date_joined`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Username, &u.FullName, &u.IsAdmin, &u.IsAnalyst, &u.IsManager,
		&u.WorkerBalance, &u.WorkerTotalEarned, &u.AnalystBalance, &u.AnalystTotalEarned,
		&u.ManagerBalance, &u.ManagerTotalEarned, &u.DateJoined,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser создаёт пользователя при первой успешной аутентификации либо
// обновляет его имя. Флаг администратора только повышается, никогда не снимается.
func (r *PostgresRepository) EnsureUser(ctx context.Context, id int64, username, fullName string, isAdmin bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, full_name, is_admin)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET username = EXCLUDED.username,
		     full_name = EXCLUDED.full_name,
		     is_admin = users.is_admin OR EXCLUDED.is_admin`,
		id, username, fullName, isAdmin,
	)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// ListUsers возвращает всех пользователей в порядке имён.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	return r.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY full_name, user_id`)
}

// ListUsersByRole возвращает пользователей с установленным флагом роли.
func (r *PostgresRepository) ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	flag, ok := roleFlagColumns[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return r.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+flag+` ORDER BY full_name, user_id`)
}

// ListUsersWithBalance возвращает пользователей с положительным суммарным
// балансом по всем ролям, по убыванию баланса.
func (r *PostgresRepository) ListUsersWithBalance(ctx context.Context) ([]model.User, error) {
	return r.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE worker_balance + analyst_balance + manager_balance > 0
		 ORDER BY worker_balance + analyst_balance + manager_balance DESC, user_id`)
}

// RecordProfit атомарно фиксирует запись о доходе: upsert клиента, вставка
// строки дохода и начисление долей. Либо применяется всё, либо ничего.
func (r *PostgresRepository) RecordProfit(ctx context.Context, e ProfitEntry) (*model.Profit, error) {
	var p *model.Profit
	err := r.withRetry(ctx, func() error {
		var txErr error
		p, txErr = r.recordProfitTx(ctx, e)
		return txErr
	})
	return p, err
}

func (r *PostgresRepository) recordProfitTx(ctx context.Context, e ProfitEntry) (*model.Profit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокировка строки воркера сериализует записи для одного воркера:
	// это защищает и upsert клиента по (worker_id, name), и инкременты балансов.
	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE user_id = $1 FOR UPDATE`, e.WorkerID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock worker for update: %w", err)
	}

	clientID, err := upsertClient(ctx, tx, e.WorkerID, e.ClientName, e.Amount)
	if err != nil {
		return nil, err
	}

	var p model.Profit
	err = tx.QueryRow(ctx,
		`INSERT INTO profits (worker_id, client_id, amount, direction, stage,
		                      worker_percent, worker_share,
		                      analyst_id, analyst_percent, analyst_share,
		                      manager_id, manager_percent, manager_share)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at`,
		e.WorkerID, clientID, e.Amount, e.Direction, e.Stage,
		e.WorkerPercent, e.WorkerShare,
		e.AnalystID, e.AnalystPercent, e.AnalystShare,
		e.ManagerID, e.ManagerPercent, e.ManagerShare,
	).Scan(&p.ID, &p.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert profit: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET worker_balance = worker_balance + $2,
		     worker_total_earned = worker_total_earned + $2
		 WHERE user_id = $1`,
		e.WorkerID, e.WorkerShare,
	)
	if err != nil {
		return nil, fmt.Errorf("credit worker: %w", err)
	}

	if e.AnalystID != nil && e.AnalystShare > 0 {
		if err := creditRole(ctx, tx, model.RoleAnalyst, *e.AnalystID, e.AnalystShare); err != nil {
			return nil, err
		}
	}
	if e.ManagerID != nil && e.ManagerShare > 0 {
		if err := creditRole(ctx, tx, model.RoleManager, *e.ManagerID, e.ManagerShare); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	p.WorkerID = e.WorkerID
	p.ClientID = clientID
	p.Amount = e.Amount
	p.Direction = e.Direction
	p.Stage = e.Stage
	p.WorkerPercent = e.WorkerPercent
	p.WorkerShare = e.WorkerShare
	p.AnalystID = e.AnalystID
	p.AnalystPercent = e.AnalystPercent
	p.AnalystShare = e.AnalystShare
	p.ManagerID = e.ManagerID
	p.ManagerPercent = e.ManagerPercent
	p.ManagerShare = e.ManagerShare

	return &p, nil
}

// upsertClient находит клиента по точному совпадению (worker_id, name) и
// накапливает сумму, либо создаёт нового. Уникальность пары обеспечивается
// на уровне приложения: поиск выполняется под блокировкой строки воркера.
func upsertClient(ctx context.Context, tx pgx.Tx, workerID int64, name string, amount float64) (int64, error) {
	var clientID int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM clients WHERE worker_id = $1 AND name = $2`,
		workerID, name,
	).Scan(&clientID)

	switch {
	case err == nil:
		_, err = tx.Exec(ctx,
			`UPDATE clients SET total_squeezed = total_squeezed + $2 WHERE id = $1`,
			clientID, amount,
		)
		if err != nil {
			return 0, fmt.Errorf("update client: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`INSERT INTO clients (worker_id, name, total_squeezed) VALUES ($1, $2, $3) RETURNING id`,
			workerID, name, amount,
		).Scan(&clientID)
		if err != nil {
			return 0, fmt.Errorf("insert client: %w", err)
		}
	default:
		return 0, fmt.Errorf("select client: %w", err)
	}

	return clientID, nil
}

func creditRole(ctx context.Context, tx pgx.Tx, role model.Role, userID int64, share float64) error {
	cols, ok := roleColumns[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE users SET %s = %s + $2, %s = %s + $2 WHERE user_id = $1`,
			cols.balance, cols.balance, cols.earned, cols.earned),
		userID, share,
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", role, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IssuePayout атомарно создаёт выплату и обнуляет балансы пользователя.
// Баланс пересчитывается под блокировкой строки: расхождение с суммой,
// подтверждённой вызывающим, отклоняется, чтобы устаревший экран
// подтверждения не привёл к неверной выплате.
func (r *PostgresRepository) IssuePayout(ctx context.Context, userID int64, amount float64, checkCode string) (*model.Payout, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var worker, analyst, manager float64
	err = tx.QueryRow(ctx,
		`SELECT worker_balance, analyst_balance, manager_balance
		 FROM users WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&worker, &analyst, &manager)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user for update: %w", err)
	}

	current := worker + analyst + manager
	if current <= 0 {
		return nil, ErrNothingToPayOut
	}
	if math.Abs(current-amount) > 1e-9 {
		return nil, ErrBalanceChanged
	}

	var p model.Payout
	err = tx.QueryRow(ctx,
		`INSERT INTO payouts (worker_id, check_code, amount, is_received)
		 VALUES ($1, $2, $3, FALSE)
		 RETURNING id, created_at`,
		userID, checkCode, current,
	).Scan(&p.ID, &p.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert payout: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET worker_balance = 0, analyst_balance = 0, manager_balance = 0
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("zero balances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	p.WorkerID = userID
	p.CheckCode = checkCode
	p.Amount = current
	p.IsReceived = false

	return &p, nil
}

// ReceivePayout помечает выплату полученной и возвращает код чека.
// Проверка и переход выполняются одним условным UPDATE, поэтому два
// конкурентных получения одной выплаты не могут пройти оба.
func (r *PostgresRepository) ReceivePayout(ctx context.Context, payoutID, userID int64) (string, error) {
	var checkCode string
	err := r.pool.QueryRow(ctx,
		`UPDATE payouts
		 SET is_received = TRUE
		 WHERE id = $1 AND worker_id = $2 AND is_received = FALSE
		 RETURNING check_code`,
		payoutID, userID,
	).Scan(&checkCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPayoutUnavailable
		}
		return "", fmt.Errorf("receive payout: %w", err)
	}
	return checkCode, nil
}

// GetBalance возвращает снимок балансов пользователя по ролям.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Worker:        u.WorkerBalance,
		Analyst:       u.AnalystBalance,
		Manager:       u.ManagerBalance,
		Combined:      u.CombinedBalance(),
		WorkerEarned:  u.WorkerTotalEarned,
		AnalystEarned: u.AnalystTotalEarned,
		ManagerEarned: u.ManagerTotalEarned,
	}, nil
}

// SumWorkerShares возвращает сумму долей воркера начиная с указанного момента.
// Нулевое значение since означает всё время.
func (r *PostgresRepository) SumWorkerShares(ctx context.Context, userID int64, since time.Time) (float64, error) {
	return r.sumShares(ctx, `SELECT COALESCE(SUM(worker_share), 0) FROM profits
		 WHERE worker_id = $1 AND created_at >= $2`, userID, since)
}

// SumRoleShares возвращает сумму долей вспомогательной роли начиная с указанного момента.
func (r *PostgresRepository) SumRoleShares(ctx context.Context, userID int64, role model.Role, since time.Time) (float64, error) {
	cols, ok := roleShareColumns[role]
	if !ok {
		return 0, fmt.Errorf("unknown role %q", role)
	}
	query := fmt.Sprintf(`SELECT COALESCE(SUM(%s), 0) FROM profits
		 WHERE %s = $1 AND created_at >= $2`, cols.share, cols.id)
	return r.sumShares(ctx, query, userID, since)
}

func (r *PostgresRepository) sumShares(ctx context.Context, query string, userID int64, since time.Time) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, query, userID, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum shares: %w", err)
	}
	return sum, nil
}

// RankedUser описывает позицию пользователя в рейтинге.
type RankedUser struct {
	UserID   int64   `json:"user_id"`
	FullName string  `json:"full_name"`
	Total    float64 `json:"total"`
}

// TopUsers возвращает пользователей по убыванию суммарного заработка за всё
// время. Равные суммы упорядочены по идентификатору.
func (r *PostgresRepository) TopUsers(ctx context.Context, limit int) ([]RankedUser, error) {
	return r.queryRanked(ctx,
		`SELECT user_id, full_name,
		        worker_total_earned + analyst_total_earned + manager_total_earned AS total
		 FROM users
		 ORDER BY total DESC, user_id
		 LIMIT $1`, limit)
}

// TopWorkersSince возвращает воркеров по убыванию суммы долей за окно.
func (r *PostgresRepository) TopWorkersSince(ctx context.Context, since time.Time, limit int) ([]RankedUser, error) {
	return r.queryRanked(ctx,
		`SELECT u.user_id, u.full_name, COALESCE(SUM(p.worker_share), 0) AS total
		 FROM users u
		 JOIN profits p ON p.worker_id = u.user_id AND p.created_at >= $1
		 GROUP BY u.user_id, u.full_name
		 ORDER BY total DESC, u.user_id
		 LIMIT $2`, since, limit)
}

func (r *PostgresRepository) queryRanked(ctx context.Context, query string, args ...any) ([]RankedUser, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select ranking: %w", err)
	}
	defer rows.Close()

	var res []RankedUser
	for rows.Next() {
		var ru RankedUser
		if err := rows.Scan(&ru.UserID, &ru.FullName, &ru.Total); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		res = append(res, ru)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetClient возвращает клиента по идентификатору.
func (r *PostgresRepository) GetClient(ctx context.Context, clientID int64) (*model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx,
		`SELECT id, worker_id, name, total_squeezed FROM clients WHERE id = $1`,
		clientID,
	).Scan(&c.ID, &c.WorkerID, &c.Name, &c.TotalSqueezed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

// ListClients возвращает страницу клиентов воркера по убыванию накопленной суммы.
func (r *PostgresRepository) ListClients(ctx context.Context, workerID int64, limit, offset int) ([]model.Client, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, worker_id, name, total_squeezed
		 FROM clients
		 WHERE worker_id = $1
		 ORDER BY total_squeezed DESC, id
		 LIMIT $2 OFFSET $3`,
		workerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select clients: %w", err)
	}
	defer rows.Close()

	var res []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.WorkerID, &c.Name, &c.TotalSqueezed); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountClients возвращает количество клиентов воркера.
func (r *PostgresRepository) CountClients(ctx context.Context, workerID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM clients WHERE worker_id = $1`, workerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count clients: %w", err)
	}
	return n, nil
}

const profitColumns = `id, worker_id, client_id, amount, direction, stage,
	 worker_percent, worker_share, analyst_id, analyst_percent, analyst_share,
	 manager_id, manager_percent, manager_share, created_at`

func (r *PostgresRepository) queryProfits(ctx context.Context, query string, args ...any) ([]model.Profit, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select profits: %w", err)
	}
	defer rows.Close()

	var res []model.Profit
	for rows.Next() {
		var p model.Profit
		err := rows.Scan(
			&p.ID, &p.WorkerID, &p.ClientID, &p.Amount, &p.Direction, &p.Stage,
			&p.WorkerPercent, &p.WorkerShare, &p.AnalystID, &p.AnalystPercent, &p.AnalystShare,
			&p.ManagerID, &p.ManagerPercent, &p.ManagerShare, &p.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan profit: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClientHistory возвращает последние записи о доходе по клиенту, новые первыми.
func (r *PostgresRepository) ClientHistory(ctx context.Context, clientID int64, limit int) ([]model.Profit, error) {
	return r.queryProfits(ctx,
		`SELECT `+profitColumns+` FROM profits
		 WHERE client_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, clientID, limit)
}

// ListProfits возвращает последние записи о доходе воркера, новые первыми.
func (r *PostgresRepository) ListProfits(ctx context.Context, workerID int64, limit int) ([]model.Profit, error) {
	return r.queryProfits(ctx,
		`SELECT `+profitColumns+` FROM profits
		 WHERE worker_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, workerID, limit)
}

// ListPayouts возвращает последние выплаты пользователя, новые первыми.
func (r *PostgresRepository) ListPayouts(ctx context.Context, userID int64, limit int) ([]model.Payout, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, worker_id, check_code, amount, is_received, created_at
		 FROM payouts
		 WHERE worker_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select payouts: %w", err)
	}
	defer rows.Close()

	var res []model.Payout
	for rows.Next() {
		var p model.Payout
		if err := rows.Scan(&p.ID, &p.WorkerID, &p.CheckCode, &p.Amount, &p.IsReceived, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// TotalPaid возвращает сумму всех выплат пользователю.
func (r *PostgresRepository) TotalPaid(ctx context.Context, userID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE worker_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum payouts: %w", err)
	}
	return total, nil
}

// TeamTotals возвращает оборот команды и текущий долг по выплатам.
func (r *PostgresRepository) TeamTotals(ctx context.Context) (*model.TeamTotals, error) {
	var t model.TeamTotals
	err := r.pool.QueryRow(ctx,
		`SELECT
		   COALESCE(SUM(worker_total_earned + analyst_total_earned + manager_total_earned), 0),
		   COALESCE(SUM(worker_balance + analyst_balance + manager_balance), 0)
		 FROM users`,
	).Scan(&t.Turnover, &t.Debt)
	if err != nil {
		return nil, fmt.Errorf("team totals: %w", err)
	}
	return &t, nil
}
