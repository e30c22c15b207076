// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/staking-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrPoolNotFound возвращается, если пул стейкинга не найден.
var (
	ErrPoolNotFound = errors.New("pool not found")
	// ErrPositionNotFound возвращается, если позиция не найдена.
	ErrPositionNotFound = errors.New("position not found")
	// ErrPositionNotActive возвращается, если условный переход в COMPLETED не сработал:
	// позиция отсутствует или уже не в статусе ACTIVE.
	ErrPositionNotActive = errors.New("position is not active")
	// ErrPositionNotCompleted возвращается, если условный переход в REWARDED не сработал.
	ErrPositionNotCompleted = errors.New("position is not completed")
)

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

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
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
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreatePool создаёт новый пул стейкинга.
func (r *PostgresRepository) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO staking_pools (id, name, is_active, min_stake, max_stake, apy, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		p.ID, p.Name, p.IsActive, p.MinStakeCents, p.MaxStakeCents, p.APY, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// GetPool возвращает пул стейкинга по идентификатору.
func (r *PostgresRepository) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, is_active, min_stake, max_stake, apy,
		        total_staked, total_rewards, current_participants, created_at, updated_at
		 FROM staking_pools
		 WHERE id = $1`,
		id,
	)

	var p model.Pool
	err := row.Scan(&p.ID, &p.Name, &p.IsActive, &p.MinStakeCents, &p.MaxStakeCents, &p.APY,
		&p.TotalStakedCents, &p.TotalRewardsCents, &p.CurrentParticipants, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}

	return &p, nil
}

// GetActivePools возвращает все активные пулы стейкинга.
func (r *PostgresRepository) GetActivePools(ctx context.Context) ([]model.Pool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, is_active, min_stake, max_stake, apy,
		        total_staked, total_rewards, current_participants, created_at, updated_at
		 FROM staking_pools
		 WHERE is_active = TRUE
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select pools: %w", err)
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.MinStakeCents, &p.MaxStakeCents, &p.APY,
			&p.TotalStakedCents, &p.TotalRewardsCents, &p.CurrentParticipants, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return pools, nil
}

// CreatePosition сохраняет новую позицию и атомарно увеличивает счётчики пула
// в одной транзакции: total_staked на сумму позиции, current_participants на единицу.
func (r *PostgresRepository) CreatePosition(ctx context.Context, p *model.Position) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO staking_positions (id, user_id, pool_id, amount, start_date, rewards, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)`,
		p.ID, p.UserID, p.PoolID, p.AmountCents, p.StartDate, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE staking_pools
		 SET total_staked = total_staked + $2,
		     current_participants = current_participants + 1,
		     updated_at = $3
		 WHERE id = $1`,
		p.PoolID, p.AmountCents, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("increment pool counters: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPoolNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetPosition возвращает позицию по идентификатору.
func (r *PostgresRepository) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, pool_id, amount, start_date, end_date, rewards, status, created_at, updated_at
		 FROM staking_positions
		 WHERE id = $1`,
		id,
	)

	var p model.Position
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.PoolID, &p.AmountCents, &p.StartDate, &p.EndDate,
		&p.RewardsCents, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	p.Status = model.PositionStatus(status)

	return &p, nil
}

// GetPositionsByUser возвращает все позиции пользователя по всем пулам и статусам.
func (r *PostgresRepository) GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, pool_id, amount, start_date, end_date, rewards, status, created_at, updated_at
		 FROM staking_positions
		 WHERE user_id = $1
		 ORDER BY start_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var status string
		if err := rows.Scan(&p.ID, &p.UserID, &p.PoolID, &p.AmountCents, &p.StartDate, &p.EndDate,
			&p.RewardsCents, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Status = model.PositionStatus(status)
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return positions, nil
}

// CompletePosition переводит позицию из ACTIVE в COMPLETED условным обновлением
// по статусу, фиксирует награду и дату окончания, затем атомарно корректирует
// счётчики пула. Условие на статус исключает двойной unstake: при гонке ровно
// один вызов обновит строку, остальные получат ErrPositionNotActive.
func (r *PostgresRepository) CompletePosition(ctx context.Context, positionID, poolID string, amountCents, rewardsCents int64, endDate time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE staking_positions
		 SET status = $2, end_date = $3, rewards = $4, updated_at = $3
		 WHERE id = $1 AND status = $5`,
		positionID, string(model.PositionStatusCompleted), endDate, rewardsCents, string(model.PositionStatusActive),
	)
	if err != nil {
		return fmt.Errorf("complete position: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPositionNotActive
	}

	_, err = tx.Exec(ctx,
		`UPDATE staking_pools
		 SET total_staked = total_staked - $2,
		     current_participants = current_participants - 1,
		     total_rewards = total_rewards + $3,
		     updated_at = $4
		 WHERE id = $1`,
		poolID, amountCents, rewardsCents, endDate,
	)
	if err != nil {
		return fmt.Errorf("decrement pool counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// RewardPosition переводит позицию из COMPLETED в REWARDED условным обновлением.
// Значение награды не меняется, счётчики пула не затрагиваются.
func (r *PostgresRepository) RewardPosition(ctx context.Context, positionID string, at time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE staking_positions
		 SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		positionID, string(model.PositionStatusRewarded), at, string(model.PositionStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("reward position: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPositionNotCompleted
	}

	return nil
}

// ReconcilePoolAggregates пересчитывает агрегаты пулов из позиций и возвращает
// число скорректированных пулов. Агрегаты обновляются инкрементально в
// транзакциях операций, поэтому расхождение возможно только после сбоя между
// записями; пересчёт гарантирует сходимость.
func (r *PostgresRepository) ReconcilePoolAggregates(ctx context.Context) (int64, error) {
	var affected int64

	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE staking_pools p
			 SET total_staked = agg.staked,
			     current_participants = agg.participants,
			     total_rewards = agg.rewards,
			     updated_at = now()
			 FROM (
			     SELECT pl.id,
			            COALESCE(SUM(ps.amount) FILTER (WHERE ps.status = 'ACTIVE'), 0) AS staked,
			            COUNT(ps.id) FILTER (WHERE ps.status = 'ACTIVE') AS participants,
			            COALESCE(SUM(ps.rewards) FILTER (WHERE ps.status IN ('COMPLETED', 'REWARDED')), 0) AS rewards
			     FROM staking_pools pl
			     LEFT JOIN staking_positions ps ON ps.pool_id = pl.id
			     GROUP BY pl.id
			 ) agg
			 WHERE p.id = agg.id
			   AND (p.total_staked <> agg.staked
			     OR p.current_participants <> agg.participants
			     OR p.total_rewards <> agg.rewards)`,
		)
		if err != nil {
			return fmt.Errorf("reconcile pools: %w", err)
		}
		affected = cmdTag.RowsAffected()
		return nil
	})

	return affected, err
}
