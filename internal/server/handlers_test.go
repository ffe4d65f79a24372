package server

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federico-bidone/FAIR-sub001/internal/database"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/decision"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/ledger"
	"github.com/federico-bidone/FAIR-sub001/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, *ledger.Service) {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := ledger.NewStore(db.Conn(), log)
	require.NoError(t, store.InitSchema())
	ledgerSvc := ledger.NewService(store, log)

	opts := execution.DefaultBootstrapOptions()
	opts.Resamples = 100
	decisionSvc := decision.New(ledgerSvc, opts, execution.NewTaxRules(execution.MethodFIFO), 0.05, log)

	srv := New(Config{
		Log:      log,
		Port:     0,
		DevMode:  true,
		Decision: decisionSvc,
		Ledger:   ledgerSvc,
	})
	return srv, ledgerSvc
}

func seedLot(t *testing.T, svc *ledger.Service) {
	t.Helper()
	lots := []execution.Lot{
		{
			InstrumentID: "IT0001",
			LotID:        "old",
			Quantity:     decimal.NewFromInt(100),
			CostBasis:    decimal.NewFromInt(90),
			Acquired:     time.Date(2020, time.January, 2, 0, 0, 0, 0, time.UTC),
			GoviesShare:  0.2,
		},
	}
	require.NoError(t, svc.ReplaceState(lots, nil))
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleEvaluateDecision(t *testing.T) {
	srv, _ := newTestServer(t)

	rng := rand.New(rand.NewSource(3))
	returns := make([][]float64, 200)
	for i := range returns {
		returns[i] = []float64{0.01 + 0.005*rng.NormFloat64(), 0.004 + 0.002*rng.NormFloat64()}
	}
	scenario := decision.Scenario{
		PortfolioValue: 500_000,
		WeightsOld:     []float64{0.4, 0.6},
		WeightsNew:     []float64{0.55, 0.45},
		Returns:        returns,
		Prices:         []float64{20, 80},
		Spreads:        []float64{0.001, 0.002},
		ADV:            []float64{1e6, 1e6},
		Eta:            []float64{0.1, 0.1},
		LotSizes:       []float64{1, 1},
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/decision/evaluate", scenario)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report decision.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Breakdown.DriftOK)
	assert.Len(t, report.Lots, 2)
}

func TestHandleEvaluateDecisionRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/decision/evaluate", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTaxPreviewAndResolve(t *testing.T) {
	srv, ledgerSvc := newTestServer(t)
	seedLot(t, ledgerSvc)

	body := TaxBatchRequest{
		Orders: []OrderPayload{
			{InstrumentID: "IT0001", Quantity: -100, Price: 120, TradeDate: "2024-05-01", GoviesShare: 0.2},
		},
		Method: execution.MethodFIFO,
	}

	// Preview leaves inventory untouched.
	rec := doRequest(t, srv, http.MethodPost, "/api/tax/preview", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview execution.TaxResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.InDelta(t, 3000.0, preview.TaxableOther, 1e-9)

	lots, err := ledgerSvc.Inventory()
	require.NoError(t, err)
	assert.Len(t, lots, 1)

	// Resolve commits.
	rec = doRequest(t, srv, http.MethodPost, "/api/tax/resolve", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	lots, err = ledgerSvc.Inventory()
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestHandleTaxResolveInsufficientInventory(t *testing.T) {
	srv, ledgerSvc := newTestServer(t)
	seedLot(t, ledgerSvc)

	body := TaxBatchRequest{
		Orders: []OrderPayload{
			{InstrumentID: "IT0001", Quantity: -500, Price: 120, TradeDate: "2024-05-01", GoviesShare: 0.2},
		},
		Method: execution.MethodFIFO,
	}
	rec := doRequest(t, srv, http.MethodPost, "/api/tax/resolve", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	lots, err := ledgerSvc.Inventory()
	require.NoError(t, err)
	assert.Len(t, lots, 1, "failed resolve must not mutate inventory")
}

func TestHandleMinusBagAndPurge(t *testing.T) {
	srv, ledgerSvc := newTestServer(t)
	require.NoError(t, ledgerSvc.ReplaceState(nil, []execution.MinusLot{
		{Amount: decimal.NewFromInt(300), Expiry: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{Amount: decimal.NewFromInt(200), Expiry: time.Date(2031, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/ledger/minus_bag", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		Total float64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.InDelta(t, 500.0, state.Total, 1e-9)

	rec = doRequest(t, srv, http.MethodPost, "/api/ledger/minus_bag/purge", PurgeRequest{AsOf: "2025-06-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	var purged struct {
		Purged int64 `json:"purged"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purged))
	assert.Equal(t, int64(1), purged.Purged)
}

func TestHandleSnapshotContentType(t *testing.T) {
	srv, ledgerSvc := newTestServer(t)
	seedLot(t, ledgerSvc)

	rec := doRequest(t, srv, http.MethodGet, "/api/ledger/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}
