// Package model содержит доменные сущности сервиса стейкинга.
package model

import "time"

// PositionStatus описывает статус жизненного цикла позиции стейкинга.
type PositionStatus string

const (
	PositionStatusActive    PositionStatus = "ACTIVE"
	PositionStatusCompleted PositionStatus = "COMPLETED"
	PositionStatusRewarded  PositionStatus = "REWARDED"
)

// Pool описывает пул стейкинга: условия программы и агрегатное состояние.
// Денежные поля хранятся в центах, APY — в процентах (12.5 означает 12.5%).
type Pool struct {
	ID                  string
	Name                string
	IsActive            bool
	MinStakeCents       int64
	MaxStakeCents       *int64
	APY                 float64
	TotalStakedCents    int64
	TotalRewardsCents   int64
	CurrentParticipants int32
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Position описывает позицию стейкинга одного пользователя.
// Amount фиксируется при создании; Rewards вычисляется один раз при unstake
// и после этого не пересчитывается. Позиции никогда не удаляются.
type Position struct {
	ID           string
	UserID       string
	PoolID       string
	AmountCents  int64
	StartDate    time.Time
	EndDate      *time.Time
	RewardsCents int64
	Status       PositionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
