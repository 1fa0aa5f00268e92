package bootstrap

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rewards/contexts/settlement/contribution-engine/adapters/processor"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	"rewards/internal/platform/config"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddr(t *testing.T) {
	require.Equal(t, ":8080", normalizeAddr(""))
	require.Equal(t, ":9090", normalizeAddr("9090"))
	require.Equal(t, ":7070", normalizeAddr(" :7070 "))
}

func TestBatchTypesDropsUnknownValues(t *testing.T) {
	require.Equal(t,
		[]entities.BatchType{entities.BatchTypeSKU, entities.BatchTypePromotion},
		batchTypes([]string{" SKU", "gold", "promotion"}),
	)
}

func TestRedemptionProcessorSelection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	fallback, err := redemptionProcessor("", cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &processor.Recording{}, fallback)

	remote, err := redemptionProcessor("https://ledger.internal/redeem", cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &processor.HTTPProcessor{}, remote)
}

func TestBuildAPIFallsBackToMemoryStore(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("TOKEN_NATIVE_PROCESSOR_URL", "")

	app, err := BuildAPI()
	require.NoError(t, err)
	require.Nil(t, app.postgres)
	require.NoError(t, app.Close())
}

func TestBuildWorkerRequiresPostgres(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POSTGRES_DSN", "")

	_, err := BuildWorker()
	require.ErrorContains(t, err, "POSTGRES_DSN")
}

func TestBuildAPIWithoutPostgresSettlesIssuedTokens(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("TOKEN_NATIVE_PROCESSOR_URL", "")

	app, err := BuildAPI()
	require.NoError(t, err)
	handler := app.server.Handler()
	post := func(path string, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec
	}

	rec := post("/v1/tokens", `{"tokens":[{"token_id":"tok-1","value":"1","batch_type":"promotion"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = post("/v1/contributions", `{"contribution_id":"c-1","amount":"1","type":"one_time","processor":"token_native","publishers":[{"publisher_key":"brave.com"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = post("/v1/contributions/c-1/start", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Outcome string `json:"outcome"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "completed", resp.Data.Outcome)
}
