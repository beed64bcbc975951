//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/postgres"
	"github.com/R3E-Network/dapp_registry/internal/engine"
	"github.com/R3E-Network/dapp_registry/internal/middleware"
	"github.com/R3E-Network/dapp_registry/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and the core flows
// work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}
	if err := migrations.Apply(dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store, err := postgres.Open(context.Background(), dsn, postgres.PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	s := newTestServerOn(t, store)
	suffix := uuid.NewString()[:8]
	id := "val-" + suffix
	payer := "payer-" + suffix

	s.act(t, engine.VerbRegisterValidator, id, map[string]any{"id": id})
	s.act(t, engine.VerbApproveValidator, "bp1", map[string]any{"authority": "bp1", "id": id})

	resp := s.do(t, http.MethodGet, "/v1/validators/"+id, "", nil)
	if v := decode[validator.Validator](t, resp); v.Weight != 0.6 || len(v.Approvers) != 1 {
		t.Fatalf("unexpected validator %+v", v)
	}

	notice := map[string]any{"from": payer, "to": systemAccount, "quantity": "2 GAS", "tx_id": "tx-" + suffix}
	resp = s.do(t, http.MethodPost, "/v1/deposits/notify", middleware.SystemActor, notice)
	if resp.Code != http.StatusOK {
		t.Fatalf("notify status %d: %s", resp.Code, resp.Body.String())
	}
	resp = s.do(t, http.MethodPost, "/v1/deposits/notify", middleware.SystemActor, notice)
	expectError(t, resp, http.StatusConflict, "ALREADY_EXISTS")

	resp = s.do(t, http.MethodGet, "/v1/credits/"+payer, "", nil)
	if acct := decode[credit.Account](t, resp); acct.Balance.Amount != 200_000_000 {
		t.Fatalf("balance = %d, want 200000000", acct.Balance.Amount)
	}

	s.act(t, engine.VerbDeregisterValidator, id, map[string]any{"id": id})
}
