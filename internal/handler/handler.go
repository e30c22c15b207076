// Package handler содержит HTTP-обработчики API сервиса стейкинга.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/staking-system/internal/metrics"
	"github.com/mmeshcher/staking-system/internal/middleware"
	"github.com/mmeshcher/staking-system/internal/model"
	"github.com/mmeshcher/staking-system/internal/service"
	"github.com/mmeshcher/staking-system/internal/validation"
)

const adminGroup = "admin"

// Ledger определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Ledger interface {
	Stake(ctx context.Context, userID, poolID string, amountCents int64) (*service.StakeResult, error)
	Unstake(ctx context.Context, userID, positionID string) (*service.UnstakeResult, error)
	ClaimRewards(ctx context.Context, userID, positionID string) (int64, error)
	GetStakingInfo(ctx context.Context, userID string) ([]model.Position, error)
	GetPools(ctx context.Context) ([]model.Pool, error)
	CreatePool(ctx context.Context, params service.PoolParams) (*model.Pool, error)
}

// Handler реализует HTTP-обработчики API сервиса стейкинга.
type Handler struct {
	service        Ledger
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metricsEnabled bool
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Ledger, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// EnableMetrics включает эндпоинт /metrics.
func (h *Handler) EnableMetrics() {
	h.metricsEnabled = true
}

type actionRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type stakeRequest struct {
	PoolID string  `json:"poolId"`
	Amount float64 `json:"amount"`
}

type positionRequest struct {
	PositionID string `json:"positionId"`
}

type createPoolRequest struct {
	Name     string   `json:"name"`
	MinStake float64  `json:"minStake"`
	MaxStake *float64 `json:"maxStake,omitempty"`
	APY      float64  `json:"apy"`
	IsActive bool     `json:"isActive"`
}

// StakingAction разбирает конверт {action, data} и диспетчеризует операцию леджера.
func (h *Handler) StakingAction(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "invalid or missing authentication token")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "stake":
		h.handleStake(w, r, identity, req.Data)
	case "unstake":
		h.handleUnstake(w, r, identity, req.Data)
	case "claimRewards":
		h.handleClaimRewards(w, r, identity, req.Data)
	case "getStakingInfo":
		h.handleGetStakingInfo(w, r, identity)
	case "getPools":
		h.handleGetPools(w, r)
	case "createPool":
		h.handleCreatePool(w, r, identity, req.Data)
	default:
		h.writeMessage(w, http.StatusBadRequest, "invalid action")
		metrics.OperationsTotal.WithLabelValues("unknown", "error").Inc()
	}
}

type stakeResponse struct {
	Message    string  `json:"message"`
	PositionID string  `json:"positionId"`
	Amount     float64 `json:"amount"`
	PoolName   string  `json:"poolName"`
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request, identity *middleware.Identity, data json.RawMessage) {
	var req stakeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.PoolID == "" {
		h.writeMessage(w, http.StatusBadRequest, "invalid stake request")
		metrics.OperationsTotal.WithLabelValues("stake", "error").Inc()
		return
	}

	if !validation.IsValidAmount(req.Amount) {
		h.writeMessage(w, http.StatusBadRequest, "invalid stake amount")
		metrics.OperationsTotal.WithLabelValues("stake", "error").Inc()
		return
	}

	result, err := h.service.Stake(r.Context(), identity.UserID, req.PoolID, toCents(req.Amount))
	if err != nil {
		h.writeServiceError(w, "stake", err, zap.String("pool", req.PoolID))
		return
	}

	h.writeJSON(w, http.StatusOK, stakeResponse{
		Message:    "stake created successfully",
		PositionID: result.PositionID,
		Amount:     toValue(result.AmountCents),
		PoolName:   result.PoolName,
	})
	metrics.OperationsTotal.WithLabelValues("stake", "success").Inc()
}

type unstakeResponse struct {
	Message    string  `json:"message"`
	Amount     float64 `json:"amount"`
	Rewards    float64 `json:"rewards"`
	DaysStaked int64   `json:"daysStaked"`
}

func (h *Handler) handleUnstake(w http.ResponseWriter, r *http.Request, identity *middleware.Identity, data json.RawMessage) {
	var req positionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.PositionID == "" {
		h.writeMessage(w, http.StatusBadRequest, "invalid unstake request")
		metrics.OperationsTotal.WithLabelValues("unstake", "error").Inc()
		return
	}

	result, err := h.service.Unstake(r.Context(), identity.UserID, req.PositionID)
	if err != nil {
		h.writeServiceError(w, "unstake", err, zap.String("position", req.PositionID))
		return
	}

	h.writeJSON(w, http.StatusOK, unstakeResponse{
		Message:    "unstake completed successfully",
		Amount:     toValue(result.AmountCents),
		Rewards:    toValue(result.RewardsCents),
		DaysStaked: result.DaysStaked,
	})
	metrics.OperationsTotal.WithLabelValues("unstake", "success").Inc()
}

type claimResponse struct {
	Message string  `json:"message"`
	Rewards float64 `json:"rewards"`
}

func (h *Handler) handleClaimRewards(w http.ResponseWriter, r *http.Request, identity *middleware.Identity, data json.RawMessage) {
	var req positionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.PositionID == "" {
		h.writeMessage(w, http.StatusBadRequest, "invalid claim request")
		metrics.OperationsTotal.WithLabelValues("claimRewards", "error").Inc()
		return
	}

	rewardsCents, err := h.service.ClaimRewards(r.Context(), identity.UserID, req.PositionID)
	if err != nil {
		h.writeServiceError(w, "claimRewards", err, zap.String("position", req.PositionID))
		return
	}

	h.writeJSON(w, http.StatusOK, claimResponse{
		Message: "rewards claimed successfully",
		Rewards: toValue(rewardsCents),
	})
	metrics.OperationsTotal.WithLabelValues("claimRewards", "success").Inc()
}

type positionResponse struct {
	ID        string  `json:"id"`
	PoolID    string  `json:"poolId"`
	Amount    float64 `json:"amount"`
	StartDate string  `json:"startDate"`
	EndDate   *string `json:"endDate,omitempty"`
	Rewards   float64 `json:"rewards"`
	Status    string  `json:"status"`
}

type stakingInfoResponse struct {
	Message   string             `json:"message"`
	Positions []positionResponse `json:"positions"`
	Count     int                `json:"count"`
}

func (h *Handler) handleGetStakingInfo(w http.ResponseWriter, r *http.Request, identity *middleware.Identity) {
	positions, err := h.service.GetStakingInfo(r.Context(), identity.UserID)
	if err != nil {
		h.writeServiceError(w, "getStakingInfo", err, zap.String("userID", identity.UserID))
		return
	}

	resp := stakingInfoResponse{
		Message:   "staking info retrieved",
		Positions: make([]positionResponse, 0, len(positions)),
		Count:     len(positions),
	}
	for _, p := range positions {
		var endDate *string
		if p.EndDate != nil {
			v := p.EndDate.Format(time.RFC3339)
			endDate = &v
		}
		resp.Positions = append(resp.Positions, positionResponse{
			ID:        p.ID,
			PoolID:    p.PoolID,
			Amount:    toValue(p.AmountCents),
			StartDate: p.StartDate.Format(time.RFC3339),
			EndDate:   endDate,
			Rewards:   toValue(p.RewardsCents),
			Status:    string(p.Status),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
	metrics.OperationsTotal.WithLabelValues("getStakingInfo", "success").Inc()
}

type poolResponse struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	IsActive            bool     `json:"isActive"`
	MinStake            float64  `json:"minStake"`
	MaxStake            *float64 `json:"maxStake,omitempty"`
	APY                 float64  `json:"apy"`
	TotalStaked         float64  `json:"totalStaked"`
	TotalRewards        float64  `json:"totalRewards"`
	CurrentParticipants int32    `json:"currentParticipants"`
}

type poolsResponse struct {
	Message string         `json:"message"`
	Pools   []poolResponse `json:"pools"`
}

func (h *Handler) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.service.GetPools(r.Context())
	if err != nil {
		h.writeServiceError(w, "getPools", err)
		return
	}

	resp := poolsResponse{
		Message: "pools retrieved",
		Pools:   make([]poolResponse, 0, len(pools)),
	}
	for _, p := range pools {
		resp.Pools = append(resp.Pools, toPoolResponse(p))
	}

	h.writeJSON(w, http.StatusOK, resp)
	metrics.OperationsTotal.WithLabelValues("getPools", "success").Inc()
}

type createPoolResponse struct {
	Message string       `json:"message"`
	Pool    poolResponse `json:"pool"`
}

func (h *Handler) handleCreatePool(w http.ResponseWriter, r *http.Request, identity *middleware.Identity, data json.RawMessage) {
	if !identity.HasGroup(adminGroup) {
		h.writeMessage(w, http.StatusForbidden, "access denied")
		metrics.OperationsTotal.WithLabelValues("createPool", "error").Inc()
		return
	}

	var req createPoolRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "invalid pool request")
		metrics.OperationsTotal.WithLabelValues("createPool", "error").Inc()
		return
	}

	params := service.PoolParams{
		Name:          req.Name,
		MinStakeCents: toCents(req.MinStake),
		APY:           req.APY,
		IsActive:      req.IsActive,
	}
	if req.MaxStake != nil {
		maxCents := toCents(*req.MaxStake)
		params.MaxStakeCents = &maxCents
	}

	pool, err := h.service.CreatePool(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, "createPool", err, zap.String("name", req.Name))
		return
	}

	h.writeJSON(w, http.StatusOK, createPoolResponse{
		Message: "pool created successfully",
		Pool:    toPoolResponse(*pool),
	})
	metrics.OperationsTotal.WithLabelValues("createPool", "success").Inc()
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, action string, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, service.ErrPositionNotFound):
		h.writeMessage(w, http.StatusNotFound, "position not found")
	case errors.Is(err, service.ErrPoolUnavailable),
		errors.Is(err, service.ErrBelowMinimum),
		errors.Is(err, service.ErrAboveMaximum),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrNoRewards),
		errors.Is(err, service.ErrInvalidPool):
		h.writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		fields = append(fields, zap.String("action", action), zap.Error(err))
		h.logger.Error("staking operation error", fields...)
		h.writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
	metrics.OperationsTotal.WithLabelValues(action, "error").Inc()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"message": message})
}

func toPoolResponse(p model.Pool) poolResponse {
	var maxStake *float64
	if p.MaxStakeCents != nil {
		v := toValue(*p.MaxStakeCents)
		maxStake = &v
	}
	return poolResponse{
		ID:                  p.ID,
		Name:                p.Name,
		IsActive:            p.IsActive,
		MinStake:            toValue(p.MinStakeCents),
		MaxStake:            maxStake,
		APY:                 p.APY,
		TotalStaked:         toValue(p.TotalStakedCents),
		TotalRewards:        toValue(p.TotalRewardsCents),
		CurrentParticipants: p.CurrentParticipants,
	}
}

func toCents(value float64) int64 {
	return int64(math.Round(value * 100))
}

func toValue(cents int64) float64 {
	return float64(cents) / 100
}
