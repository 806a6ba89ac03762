package httpapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/killunetwork/gacha/internal/config"
	"github.com/killunetwork/gacha/internal/gacha"
	"github.com/killunetwork/gacha/internal/httpapi"
	"github.com/killunetwork/gacha/internal/storage/postgres"
)

const (
	sessionSecret = "test-session-secret"
	bridgeToken   = "test-bridge-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubService struct {
	pool       *gacha.Pool
	rollResult gacha.RollResult
	rollErr    error
	rollPlayer string

	history       []gacha.RollRecord
	historyErr    error
	historyPlayer string
	historyLimit  int
}

func (s *stubService) Roll(_ context.Context, playerID string) (gacha.RollResult, error) {
	s.rollPlayer = playerID
	return s.rollResult, s.rollErr
}

func (s *stubService) History(_ context.Context, playerID string, limit int) ([]gacha.RollRecord, error) {
	s.historyPlayer = playerID
	s.historyLimit = limit
	return s.history, s.historyErr
}

func (s *stubService) Pool() *gacha.Pool { return s.pool }

type stubQueue struct {
	pending      []gacha.DispatchEntry
	pendingErr   error
	pendingLimit int

	deliveredErr error
	failedErr    error
	lastID       uuid.UUID
	lastReason   string
}

func (q *stubQueue) Pending(_ context.Context, limit int) ([]gacha.DispatchEntry, error) {
	q.pendingLimit = limit
	return q.pending, q.pendingErr
}

func (q *stubQueue) MarkDelivered(_ context.Context, id uuid.UUID) error {
	q.lastID = id
	return q.deliveredErr
}

func (q *stubQueue) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	q.lastID = id
	q.lastReason = reason
	return q.failedErr
}

func testPool(t *testing.T) *gacha.Pool {
	t.Helper()
	pool, err := gacha.NewPool([]gacha.RewardDefinition{
		{ID: "coins_small", Name: "Coin Pouch", Rarity: gacha.RarityCommon, EffectType: gacha.EffectCurrency, EffectValue: "50", Weight: 95},
		{ID: "rank_vip", Name: "VIP Rank", Rarity: gacha.RarityLegendary, EffectType: gacha.EffectRank, EffectValue: "vip", Weight: 5},
	})
	require.NoError(t, err)
	return pool
}

func newTestRouter(t *testing.T, service *stubService, queue *stubQueue, health func(context.Context) error) *gin.Engine {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(bridgeToken), bcrypt.MinCost)
	require.NoError(t, err)
	return httpapi.NewRouter(httpapi.RouterParams{
		Service: service,
		Queue:   queue,
		Auth: config.AuthConfig{
			SessionSecret:   sessionSecret,
			BridgeTokenHash: string(hash),
		},
		Logger: zaptest.NewLogger(t),
		Health: health,
	})
}

func sessionToken(t *testing.T, playerID, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   playerID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRoll_Success(t *testing.T) {
	rolledAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	service := &stubService{
		pool: testPool(t),
		rollResult: gacha.RollResult{
			Record: gacha.RollRecord{ID: uuid.New(), PlayerID: "player-1", RewardID: "rank_vip", RolledAt: rolledAt},
			Reward: gacha.RewardDefinition{ID: "rank_vip", Name: "VIP Rank", Rarity: gacha.RarityLegendary},
		},
	}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "player-1", sessionSecret), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "player-1", service.rollPlayer)
	assert.JSONEq(t, `{
		"rewardId": "rank_vip",
		"name": "VIP Rank",
		"rarity": "legendary",
		"rolledAt": "2024-06-01T12:00:00Z"
	}`, rec.Body.String())
}

func TestRoll_IdentityFromTokenOnly(t *testing.T) {
	service := &stubService{pool: testPool(t)}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	body := `{"playerId": "someone-else"}`
	doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "player-7", sessionSecret), body)

	assert.Equal(t, "player-7", service.rollPlayer)
}

func TestRoll_CooldownActive(t *testing.T) {
	retryAt := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	service := &stubService{
		pool:    testPool(t),
		rollErr: &gacha.CooldownActiveError{PlayerID: "player-1", RetryAt: retryAt},
	}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "player-1", sessionSecret), "")

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error": "cooldown_active", "retryAt": "2024-06-02T12:00:00Z"}`, rec.Body.String())
}

func TestRoll_AccountNotLinked(t *testing.T) {
	service := &stubService{pool: testPool(t), rollErr: gacha.ErrIdentityNotLinked}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "player-1", sessionSecret), "")

	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.JSONEq(t, `{"error": "account_not_linked"}`, rec.Body.String())
}

func TestRoll_InternalError(t *testing.T) {
	service := &stubService{pool: testPool(t), rollErr: errors.New("connection refused")}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "player-1", sessionSecret), "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRoll_Unauthorized(t *testing.T) {
	router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, nil)

	t.Run("no token", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/api/gacha/roll", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "player-1", "wrong-secret"), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "player-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		signed, err := token.SignedString([]byte(sessionSecret))
		require.NoError(t, err)
		rec := doRequest(router, http.MethodPost, "/api/gacha/roll", signed, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no subject", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/api/gacha/roll", sessionToken(t, "", sessionSecret), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHistory(t *testing.T) {
	rollID := uuid.New()
	rolledAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	service := &stubService{
		pool: testPool(t),
		history: []gacha.RollRecord{
			{ID: rollID, PlayerID: "player-1", RewardID: "coins_small", RolledAt: rolledAt},
		},
	}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodGet, "/api/gacha/history?limit=5", sessionToken(t, "player-1", sessionSecret), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "player-1", service.historyPlayer)
	assert.Equal(t, 5, service.historyLimit)
	assert.JSONEq(t, `{"rolls": [{
		"rollId": "`+rollID.String()+`",
		"rewardId": "coins_small",
		"rolledAt": "2024-06-01T12:00:00Z"
	}]}`, rec.Body.String())
}

func TestHistory_Empty(t *testing.T) {
	service := &stubService{pool: testPool(t)}
	router := newTestRouter(t, service, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodGet, "/api/gacha/history", sessionToken(t, "player-1", sessionSecret), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rolls": []}`, rec.Body.String())
}

func TestRewards_NoAuthRequired(t *testing.T) {
	router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodGet, "/api/gacha/rewards", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rewards": [
		{"id": "coins_small", "name": "Coin Pouch", "rarity": "common", "weight": 95},
		{"id": "rank_vip", "name": "VIP Rank", "rarity": "legendary", "weight": 5}
	]}`, rec.Body.String())
}

func TestBridgeCommands(t *testing.T) {
	entryID := uuid.New()
	rollID := uuid.New()
	createdAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	queue := &stubQueue{
		pending: []gacha.DispatchEntry{
			{ID: entryID, RollRecordID: rollID, Seq: 0, Command: "grant-currency Steve 50", Status: gacha.DispatchPending, CreatedAt: createdAt},
		},
	}
	router := newTestRouter(t, &stubService{pool: testPool(t)}, queue, nil)

	rec := doRequest(router, http.MethodGet, "/api/bridge/commands?limit=10", bridgeToken, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, queue.pendingLimit)
	assert.JSONEq(t, `{"commands": [{
		"id": "`+entryID.String()+`",
		"rollId": "`+rollID.String()+`",
		"seq": 0,
		"command": "grant-currency Steve 50",
		"createdAt": "2024-06-01T12:00:00Z"
	}]}`, rec.Body.String())
}

func TestBridgeCommands_DefaultLimit(t *testing.T) {
	queue := &stubQueue{}
	router := newTestRouter(t, &stubService{pool: testPool(t)}, queue, nil)

	rec := doRequest(router, http.MethodGet, "/api/bridge/commands", bridgeToken, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, queue.pendingLimit)
}

func TestBridge_Unauthorized(t *testing.T) {
	router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, nil)

	t.Run("no token", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/bridge/commands", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/bridge/commands", "wrong-token", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("session token is not a bridge token", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/bridge/commands", sessionToken(t, "player-1", sessionSecret), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBridgeDelivered(t *testing.T) {
	queue := &stubQueue{}
	router := newTestRouter(t, &stubService{pool: testPool(t)}, queue, nil)
	id := uuid.New()

	rec := doRequest(router, http.MethodPost, "/api/bridge/commands/"+id.String()+"/delivered", bridgeToken, "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, queue.lastID)
}

func TestBridgeDelivered_Idempotent(t *testing.T) {
	queue := &stubQueue{deliveredErr: postgres.ErrEntryResolved}
	router := newTestRouter(t, &stubService{pool: testPool(t)}, queue, nil)

	rec := doRequest(router, http.MethodPost, "/api/bridge/commands/"+uuid.NewString()+"/delivered", bridgeToken, "")

	// A retried ack is not an error.
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBridgeDelivered_NotFound(t *testing.T) {
	queue := &stubQueue{deliveredErr: postgres.ErrEntryNotFound}
	router := newTestRouter(t, &stubService{pool: testPool(t)}, queue, nil)

	rec := doRequest(router, http.MethodPost, "/api/bridge/commands/"+uuid.NewString()+"/delivered", bridgeToken, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBridgeDelivered_MalformedID(t *testing.T) {
	router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/bridge/commands/not-a-uuid/delivered", bridgeToken, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBridgeFailed(t *testing.T) {
	queue := &stubQueue{}
	router := newTestRouter(t, &stubService{pool: testPool(t)}, queue, nil)
	id := uuid.New()

	rec := doRequest(router, http.MethodPost, "/api/bridge/commands/"+id.String()+"/failed", bridgeToken, `{"reason": "player offline"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, queue.lastID)
	assert.Equal(t, "player offline", queue.lastReason)
}

func TestBridgeFailed_MissingReason(t *testing.T) {
	router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, nil)

	rec := doRequest(router, http.MethodPost, "/api/bridge/commands/"+uuid.NewString()+"/failed", bridgeToken, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, func(context.Context) error { return nil })
		rec := doRequest(router, http.MethodGet, "/healthz", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("degraded", func(t *testing.T) {
		router := newTestRouter(t, &stubService{pool: testPool(t)}, &stubQueue{}, func(context.Context) error { return errors.New("down") })
		rec := doRequest(router, http.MethodGet, "/healthz", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
