package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/authority"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/middleware"
	"github.com/playmatatu/escrow/internal/storage/kvstore"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	t      *testing.T
	router *gin.Engine
	led    *escrow.Ledger
	store  *kvstore.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	store, err := kvstore.OpenMemory(accounts.Rules{ExistentialDeposit: 1})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := gometrics.NewRegistry()
	led, err := escrow.New(store, authority.RootOnly{}, escrow.WithRegistry(reg))
	require.NoError(t, err)
	require.NoError(t, led.Bootstrap(context.Background(), 1, []escrow.Endowment{
		{Account: "alice", Balance: 1000},
		{Account: "bob", Balance: 1000},
	}))

	cfg := &config.Config{
		Environment:        "test",
		JWTSecret:          secret,
		TokenTTLMinutes:    5,
		ExistentialDeposit: 1,
	}
	router := gin.New()
	SetupRoutes(router, Deps{Ledger: led, Admin: store, Registry: reg, Config: cfg})
	return &server{t: t, router: router, led: led, store: store}
}

func (s *server) token(account string, roles ...string) string {
	tok, _, err := middleware.IssueToken(secret, account, roles, time.Minute)
	require.NoError(s.t, err)
	return tok
}

func (s *server) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (s *server) balance(id accounts.AccountID) accounts.Balance {
	bal, err := s.led.Balance(context.Background(), id)
	require.NoError(s.t, err)
	return bal
}

func TestHealthAndParams(t *testing.T) {
	s := newServer(t)

	code, body := s.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = s.do(http.MethodGet, "/api/v1/params", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["safeguard_deposit"])
	assert.Equal(t, float64(0), body["game_index"])
	assert.Equal(t, string(escrow.DefaultCustody), body["custody_account"])
}

func TestGameLifecycleByAgreement(t *testing.T) {
	s := newServer(t)
	alice, bob := s.token("alice", admin.RolePlayer), s.token("bob", admin.RolePlayer)

	code, body := s.do(http.MethodPost, "/api/v1/games", alice, gin.H{"bet": 100})
	require.Equal(t, http.StatusCreated, code, body)
	id := int(body["game_id"].(float64))

	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/join", id), bob, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/end", id), alice, gin.H{"winner": "bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", body["outcome"])

	code, body = s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/end", id), bob, gin.H{"winner": "bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "agreed", body["outcome"])
	assert.Equal(t, "bob", body["winner"])

	assert.Equal(t, accounts.Balance(900), s.balance("alice"))
	assert.Equal(t, accounts.Balance(1100), s.balance("bob"))

	code, body = s.do(http.MethodGet, fmt.Sprintf("/api/v1/games/%d", id), "", nil)
	require.Equal(t, http.StatusOK, code)
	game := body["game"].(map[string]interface{})
	assert.Equal(t, true, game["ended"])

	code, body = s.do(http.MethodGet, "/api/v1/events?after=0&limit=50", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["events"])
}

func TestErrorStatusMapping(t *testing.T) {
	s := newServer(t)
	alice := s.token("alice", admin.RolePlayer)

	code, body := s.do(http.MethodGet, "/api/v1/games/42", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", body["kind"])

	code, _ = s.do(http.MethodGet, "/api/v1/games/nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodPost, "/api/v1/games", alice, gin.H{"bet": 5000})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "InsufficientFunds", body["kind"])

	code, body = s.do(http.MethodPost, "/api/v1/games", alice, gin.H{"bet": 10})
	require.Equal(t, http.StatusCreated, code)
	id := int(body["game_id"].(float64))

	code, body = s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/join", id), alice, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, body["code"])

	code, _ = s.do(http.MethodPost, "/api/v1/games", "", gin.H{"bet": 10})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminOperationsRequireRoot(t *testing.T) {
	s := newServer(t)
	alice, bob := s.token("alice", admin.RolePlayer), s.token("bob", admin.RolePlayer)
	root := s.token("ops", admin.RoleRoot)

	code, body := s.do(http.MethodPut, "/api/v1/admin/safeguard-deposit", alice, gin.H{"deposit": 50})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Unauthorized", body["kind"])

	code, _ = s.do(http.MethodPut, "/api/v1/admin/safeguard-deposit", root, gin.H{"deposit": 50})
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(http.MethodPost, "/api/v1/games", alice, gin.H{"bet": 100})
	require.Equal(t, http.StatusCreated, code)
	id := int(body["game_id"].(float64))
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/join", id), bob, nil)
	require.Equal(t, http.StatusOK, code)

	s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/end", id), alice, gin.H{"winner": "alice"})
	code, body = s.do(http.MethodPost, fmt.Sprintf("/api/v1/games/%d/end", id), bob, gin.H{"winner": "bob"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disputed", body["outcome"])

	path := fmt.Sprintf("/api/v1/admin/games/%d/force-end", id)
	code, _ = s.do(http.MethodPost, path, bob, gin.H{"winner": "bob", "deposit_beneficiary": "bob"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, path, root, gin.H{"winner": "alice", "deposit_beneficiary": "alice"})
	require.Equal(t, http.StatusOK, code)

	// alice gets the jackpot and her deposit back; bob's deposit stays in custody
	assert.Equal(t, accounts.Balance(1100), s.balance("alice"))
	assert.Equal(t, accounts.Balance(850), s.balance("bob"))

	code, _ = s.do(http.MethodPost, "/api/v1/admin/withdraw", root, gin.H{"amount": 50, "beneficiary": "treasury"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, accounts.Balance(50), s.balance("treasury"))

	code, body = s.do(http.MethodGet, "/api/v1/admin/audit", root, nil)
	require.Equal(t, http.StatusOK, code)
	logs := body["logs"].([]interface{})
	require.Len(t, logs, 5)
	newest := logs[0].(map[string]interface{})
	assert.Equal(t, "withdraw_funds", newest["action"])
	assert.Equal(t, true, newest["success"])

	code, _ = s.do(http.MethodGet, "/api/v1/admin/audit", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestTokenExchange(t *testing.T) {
	s := newServer(t)
	root := s.token("ops", admin.RoleRoot)

	code, _ := s.do(http.MethodPost, "/api/v1/admin/credentials", root, gin.H{"account": "carol", "key": "s3cret"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = s.do(http.MethodPost, "/api/v1/auth/token", "", gin.H{"account": "carol", "key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(http.MethodPost, "/api/v1/auth/token", "", gin.H{"account": "carol", "key": "s3cret"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "carol", body["account"])

	claims, err := middleware.ParseToken(secret, body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{admin.RolePlayer}, claims.Roles)

	code, _ = s.do(http.MethodPost, "/api/v1/admin/credentials", s.token("carol", admin.RolePlayer), gin.H{"account": "dave", "key": "x"})
	assert.Equal(t, http.StatusForbidden, code)
}
