// Package service реализует бизнес-логику леджера стейкинга.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/staking-system/internal/model"
	"github.com/mmeshcher/staking-system/internal/repository"
	"github.com/mmeshcher/staking-system/internal/settlement"
)

// ErrPoolUnavailable возвращается, если пул не существует или не принимает новые стейки.
var (
	ErrPoolUnavailable = errors.New("pool not found or inactive")
	// ErrBelowMinimum возвращается при сумме меньше минимальной ставки пула.
	ErrBelowMinimum = errors.New("amount below pool minimum")
	// ErrAboveMaximum возвращается при сумме больше максимальной ставки пула.
	ErrAboveMaximum = errors.New("amount above pool maximum")
	// ErrPositionNotFound возвращается, если позиция не найдена или принадлежит
	// другому пользователю. Случаи намеренно неразличимы, чтобы не раскрывать
	// существование чужих позиций.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInvalidState возвращается при попытке unstake позиции не в статусе ACTIVE.
	ErrInvalidState = errors.New("position is not active")
	// ErrNoRewards возвращается при попытке клейма, когда востребовать нечего:
	// позиция ещё активна, награда нулевая или уже выплачена.
	ErrNoRewards = errors.New("no rewards available")
	// ErrInvalidPool возвращается при некорректных параметрах создаваемого пула.
	ErrInvalidPool = errors.New("invalid pool parameters")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreatePool(ctx context.Context, p *model.Pool) error
	GetPool(ctx context.Context, id string) (*model.Pool, error)
	GetActivePools(ctx context.Context) ([]model.Pool, error)
	CreatePosition(ctx context.Context, p *model.Position) error
	GetPosition(ctx context.Context, id string) (*model.Position, error)
	GetPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)
	CompletePosition(ctx context.Context, positionID, poolID string, amountCents, rewardsCents int64, endDate time.Time) error
	RewardPosition(ctx context.Context, positionID string, at time.Time) error
	ReconcilePoolAggregates(ctx context.Context) (int64, error)
}

// Service содержит бизнес-логику леджера стейкинга.
type Service struct {
	repo             Repository
	settlementClient *settlement.Client
	logger           *zap.Logger
	now              func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом системы выплат.
func NewService(repo Repository, settlementClient *settlement.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:             repo,
		settlementClient: settlementClient,
		logger:           logger,
		now:              time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CalculateRewards вычисляет награду по линейной формуле
// amount * apy * daysStaked / 365, где apy берётся в процентных единицах
// пула без нормировки. Результат округляется до ближайшего цента,
// половина — от нуля.
func CalculateRewards(amountCents int64, apy float64, daysStaked int64) int64 {
	return int64(math.Round(float64(amountCents) * apy * float64(daysStaked) / 365))
}

// StakeResult содержит результат успешного создания стейка.
type StakeResult struct {
	PositionID  string
	AmountCents int64
	PoolName    string
}

// Stake создаёт новую позицию стейкинга в указанном пуле.
// Валидация выполняется по порядку с остановкой на первой ошибке:
// доступность пула, минимальная ставка, максимальная ставка.
func (s *Service) Stake(ctx context.Context, userID, poolID string, amountCents int64) (*StakeResult, error) {
	pool, err := s.repo.GetPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, repository.ErrPoolNotFound) {
			return nil, ErrPoolUnavailable
		}
		return nil, err
	}
	if !pool.IsActive {
		return nil, ErrPoolUnavailable
	}

	if amountCents < pool.MinStakeCents {
		return nil, fmt.Errorf("%w: minimum stake is %.2f", ErrBelowMinimum, centsToValue(pool.MinStakeCents))
	}
	if pool.MaxStakeCents != nil && amountCents > *pool.MaxStakeCents {
		return nil, fmt.Errorf("%w: maximum stake is %.2f", ErrAboveMaximum, centsToValue(*pool.MaxStakeCents))
	}

	now := s.now()
	position := &model.Position{
		ID:          uuid.NewString(),
		UserID:      userID,
		PoolID:      poolID,
		AmountCents: amountCents,
		StartDate:   now,
		Status:      model.PositionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreatePosition(ctx, position); err != nil {
		if errors.Is(err, repository.ErrPoolNotFound) {
			return nil, ErrPoolUnavailable
		}
		return nil, err
	}

	return &StakeResult{
		PositionID:  position.ID,
		AmountCents: amountCents,
		PoolName:    pool.Name,
	}, nil
}

// UnstakeResult содержит результат успешного закрытия позиции.
type UnstakeResult struct {
	AmountCents  int64
	RewardsCents int64
	DaysStaked   int64
}

// Unstake закрывает позицию: вычисляет и замораживает награду за полные
// прошедшие дни, переводит позицию в COMPLETED и корректирует счётчики пула.
// Unstake в день создания даёт нулевую награду и не является ошибкой.
func (s *Service) Unstake(ctx context.Context, userID, positionID string) (*UnstakeResult, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		if errors.Is(err, repository.ErrPositionNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	if position.UserID != userID {
		return nil, ErrPositionNotFound
	}
	if position.Status != model.PositionStatusActive {
		return nil, ErrInvalidState
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return nil, fmt.Errorf("get pool for unstake: %w", err)
	}

	now := s.now()
	daysStaked := int64(now.Sub(position.StartDate) / (24 * time.Hour))
	if daysStaked < 0 {
		daysStaked = 0
	}

	rewardsCents := CalculateRewards(position.AmountCents, pool.APY, daysStaked)

	err = s.repo.CompletePosition(ctx, position.ID, position.PoolID, position.AmountCents, rewardsCents, now)
	if err != nil {
		// Конкурентный unstake: строку уже перевёл другой запрос.
		if errors.Is(err, repository.ErrPositionNotActive) {
			return nil, ErrInvalidState
		}
		return nil, err
	}

	return &UnstakeResult{
		AmountCents:  position.AmountCents,
		RewardsCents: rewardsCents,
		DaysStaked:   daysStaked,
	}, nil
}

// ClaimRewards помечает награду позиции как выплаченную. Значение награды
// не меняется; сама выплата — обязанность внешней системы, которой
// отправляется уведомление при настроенном клиенте.
func (s *Service) ClaimRewards(ctx context.Context, userID, positionID string) (int64, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		if errors.Is(err, repository.ErrPositionNotFound) {
			return 0, ErrPositionNotFound
		}
		return 0, err
	}
	if position.UserID != userID {
		return 0, ErrPositionNotFound
	}
	if position.Status != model.PositionStatusCompleted || position.RewardsCents <= 0 {
		return 0, ErrNoRewards
	}

	err = s.repo.RewardPosition(ctx, position.ID, s.now())
	if err != nil {
		// Конкурентный claim: награду уже востребовал другой запрос.
		if errors.Is(err, repository.ErrPositionNotCompleted) {
			return 0, ErrNoRewards
		}
		return 0, err
	}

	s.notifySettlement(ctx, position)

	return position.RewardsCents, nil
}

func (s *Service) notifySettlement(ctx context.Context, position *model.Position) {
	if s.settlementClient == nil {
		return
	}

	err := s.settlementClient.NotifyClaim(ctx, settlement.ClaimNotification{
		PositionID: position.ID,
		UserID:     position.UserID,
		Rewards:    centsToValue(position.RewardsCents),
	})
	if err != nil {
		s.logger.Warn("settlement notification failed",
			zap.Error(err),
			zap.String("position", position.ID),
		)
	}
}

// GetStakingInfo возвращает все позиции пользователя по всем пулам и статусам.
func (s *Service) GetStakingInfo(ctx context.Context, userID string) ([]model.Position, error) {
	return s.repo.GetPositionsByUser(ctx, userID)
}

// GetPools возвращает все активные пулы стейкинга.
func (s *Service) GetPools(ctx context.Context) ([]model.Pool, error) {
	return s.repo.GetActivePools(ctx)
}

// PoolParams описывает параметры создаваемого пула стейкинга.
type PoolParams struct {
	Name          string
	MinStakeCents int64
	MaxStakeCents *int64
	APY           float64
	IsActive      bool
}

// CreatePool создаёт новый пул стейкинга с нулевыми агрегатами.
func (s *Service) CreatePool(ctx context.Context, params PoolParams) (*model.Pool, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPool)
	}
	if params.APY < 0 {
		return nil, fmt.Errorf("%w: apy must be non-negative", ErrInvalidPool)
	}
	if params.MinStakeCents < 0 {
		return nil, fmt.Errorf("%w: minimum stake must be non-negative", ErrInvalidPool)
	}
	if params.MaxStakeCents != nil && *params.MaxStakeCents < params.MinStakeCents {
		return nil, fmt.Errorf("%w: maximum stake is below minimum", ErrInvalidPool)
	}

	now := s.now()
	pool := &model.Pool{
		ID:            uuid.NewString(),
		Name:          params.Name,
		IsActive:      params.IsActive,
		MinStakeCents: params.MinStakeCents,
		MaxStakeCents: params.MaxStakeCents,
		APY:           params.APY,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreatePool(ctx, pool); err != nil {
		return nil, err
	}

	return pool, nil
}

// StartReconciliation запускает фоновый процесс пересчёта агрегатов пулов.
// Инкрементальные счётчики корректны при атомарных обновлениях, но сбой между
// записями оставляет пул недосчитанным; периодический пересчёт сводит его
// к фактическим позициям.
func (s *Service) StartReconciliation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				corrected, err := s.repo.ReconcilePoolAggregates(ctx)
				if err != nil {
					s.logger.Warn("pool reconciliation failed", zap.Error(err))
					continue
				}
				if corrected > 0 {
					s.logger.Info("pool aggregates reconciled", zap.Int64("pools", corrected))
				}
			}
		}
	}()
}

func centsToValue(cents int64) float64 {
	return float64(cents) / 100
}
