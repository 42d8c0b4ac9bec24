//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/tip_settlement/internal/app"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/storage/postgres"
	"github.com/R3E-Network/tip_settlement/internal/config"
	"github.com/R3E-Network/tip_settlement/internal/logging"
	"github.com/R3E-Network/tip_settlement/internal/middleware"
	"github.com/R3E-Network/tip_settlement/internal/platform/migrations"
	"github.com/R3E-Network/tip_settlement/pkg/testutil"
)

// Runs the tip flow against a migrated Postgres database.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}
	require.NoError(t, migrations.Up(dsn))

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	store := postgres.New(db)

	ctx := context.Background()
	run := uuid.NewString()[:8]
	sender, err := store.CreateUser(ctx, account.User{
		ID: "sender-" + run, Email: "sender-" + run + "@example.com", DisplayName: "Sender",
		ProcessorCustomerID: "cus_" + run, DefaultPaymentMethodID: "pm_" + run,
	})
	require.NoError(t, err)
	receiver, err := store.CreateUser(ctx, account.User{
		ID: "receiver-" + run, Email: "receiver-" + run + "@example.com", DisplayName: "Receiver",
		ProcessorAccountID: "acct_" + run,
	})
	require.NoError(t, err)
	key := testutil.NewDeviceKey()
	_, _, err = store.UpsertDevice(ctx, account.Device{UserID: sender.ID, Name: "Phone", PublicKey: key.Public})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Stripe.Mode = "mock"
	cfg.Sweeper.Enabled = false
	log := logging.NewDiscard()
	application, err := app.New(cfg, app.Stores{Tips: store, Users: store, Devices: store},
		app.Dependencies{Processor: processor.NewMockClient()}, log)
	require.NoError(t, err)
	defer func() { _ = application.Stop(context.Background()) }()

	handler := NewRouter(application, Options{
		Auth:   middleware.NewAuthMiddleware(jwtSecret, "", log, PublicPaths),
		Health: store.Ping,
		Log:    log,
	})
	token, err := middleware.IssueToken(jwtSecret, "", sender.ID, time.Hour)
	require.NoError(t, err)

	ts := time.Now().UnixMilli()
	body, err := json.Marshal(map[string]interface{}{
		"senderId":   sender.ID,
		"receiverId": receiver.ID,
		"amount":     json.Number("12.50"),
		"nonce":      "nonce-" + run,
		"timestamp":  ts,
		"signature":  key.SignTip(sender.ID, receiver.ID, decimal.RequireFromString("12.50"), "nonce-"+run, ts),
	})
	require.NoError(t, err)

	post := func() map[string]string {
		req := httptest.NewRequest(http.MethodPost, "/tips", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}
	first := post()
	require.Equal(t, "CONFIRMED", first["status"])
	require.Equal(t, "DUPLICATE", post()["status"])

	stored, err := store.GetTip(ctx, first["tipId"])
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("12.50").Equal(stored.Amount))
	require.NotEmpty(t, stored.PaymentIntentID)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
