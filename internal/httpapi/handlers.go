package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/killunetwork/gacha/internal/gacha"
	"github.com/killunetwork/gacha/internal/storage/postgres"
)

// RollService is the player-facing surface the handlers need.
type RollService interface {
	Roll(ctx context.Context, playerID string) (gacha.RollResult, error)
	History(ctx context.Context, playerID string, limit int) ([]gacha.RollRecord, error)
	Pool() *gacha.Pool
}

// BridgeQueue is the command queue surface exposed to the bridge.
type BridgeQueue interface {
	Pending(ctx context.Context, limit int) ([]gacha.DispatchEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type handlers struct {
	service RollService
	queue   BridgeQueue
	logger  *zap.Logger
}

type rollResponse struct {
	RewardID string `json:"rewardId"`
	Name     string `json:"name"`
	Rarity   string `json:"rarity"`
	RolledAt string `json:"rolledAt"`
	// Deferred is set when the reward is recorded but its commands are
	// still awaiting dispatch.
	Deferred bool `json:"deferred,omitempty"`
}

func (h *handlers) roll(c *gin.Context) {
	result, err := h.service.Roll(c.Request.Context(), sessionPlayerID(c))
	if err != nil {
		var cooldown *gacha.CooldownActiveError
		switch {
		case errors.As(err, &cooldown):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "cooldown_active",
				"retryAt": cooldown.RetryAt.UTC().Format(time.RFC3339),
			})
		case errors.Is(err, gacha.ErrIdentityNotLinked):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "account_not_linked"})
		case errors.Is(err, gacha.ErrUnresolvedIdentity):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "reward_not_dispatchable"})
		default:
			h.logger.Error("roll failed", zap.String("player_id", sessionPlayerID(c)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		}
		return
	}

	c.JSON(http.StatusOK, rollResponse{
		RewardID: result.Reward.ID,
		Name:     result.Reward.Name,
		Rarity:   string(result.Reward.Rarity),
		RolledAt: result.Record.RolledAt.UTC().Format(time.RFC3339),
		Deferred: result.DispatchDeferred,
	})
}

type historyEntry struct {
	RollID   string `json:"rollId"`
	RewardID string `json:"rewardId"`
	RolledAt string `json:"rolledAt"`
}

func (h *handlers) history(c *gin.Context) {
	limit := intQuery(c, "limit", 0)
	records, err := h.service.History(c.Request.Context(), sessionPlayerID(c), limit)
	if err != nil {
		h.logger.Error("history lookup failed", zap.String("player_id", sessionPlayerID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	entries := make([]historyEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, historyEntry{
			RollID:   r.ID.String(),
			RewardID: r.RewardID,
			RolledAt: r.RolledAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rolls": entries})
}

type rewardEntry struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rarity string  `json:"rarity"`
	Weight float64 `json:"weight"`
}

// rewards lists the active pool for client display. Weights are public;
// the pool advertises its odds.
func (h *handlers) rewards(c *gin.Context) {
	defs := h.service.Pool().Rewards()
	entries := make([]rewardEntry, 0, len(defs))
	for _, d := range defs {
		entries = append(entries, rewardEntry{
			ID:     d.ID,
			Name:   d.Name,
			Rarity: string(d.Rarity),
			Weight: d.Weight,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rewards": entries})
}

type bridgeCommand struct {
	ID        string `json:"id"`
	RollID    string `json:"rollId"`
	Seq       int    `json:"seq"`
	Command   string `json:"command"`
	CreatedAt string `json:"createdAt"`
}

const defaultBridgeBatch = 50

func (h *handlers) bridgeCommands(c *gin.Context) {
	limit := intQuery(c, "limit", defaultBridgeBatch)
	entries, err := h.queue.Pending(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("pending command lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	commands := make([]bridgeCommand, 0, len(entries))
	for _, e := range entries {
		commands = append(commands, bridgeCommand{
			ID:        e.ID.String(),
			RollID:    e.RollRecordID.String(),
			Seq:       e.Seq,
			Command:   e.Command,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands})
}

func (h *handlers) bridgeDelivered(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	h.resolveEntry(c, id, func(ctx context.Context) error {
		return h.queue.MarkDelivered(ctx, id)
	})
}

type failedRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *handlers) bridgeFailed(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	var req failedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	h.resolveEntry(c, id, func(ctx context.Context) error {
		return h.queue.MarkFailed(ctx, id, req.Reason)
	})
}

func (h *handlers) resolveEntry(c *gin.Context, id uuid.UUID, transition func(context.Context) error) {
	err := transition(c.Request.Context())
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, postgres.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown command"})
	case errors.Is(err, postgres.ErrEntryResolved):
		// The bridge retried an ack it already sent. Fine.
		c.Status(http.StatusNoContent)
	default:
		h.logger.Error("command resolution failed", zap.String("entry_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func entryID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed command id"})
		return uuid.UUID{}, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
