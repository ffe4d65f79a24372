package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/decision"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/ledger"
)

// Handlers bundles the HTTP handlers; all business logic lives in the
// underlying services.
type Handlers struct {
	decision *decision.Service
	ledger   *ledger.Service
	log      zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(decisionSvc *decision.Service, ledgerSvc *ledger.Service, log zerolog.Logger) *Handlers {
	return &Handlers{
		decision: decisionSvc,
		ledger:   ledgerSvc,
		log:      log.With().Str("handler", "api").Logger(),
	}
}

// TaxBatchRequest represents a request to price or resolve sell orders
// against the lot ledger.
type TaxBatchRequest struct {
	Orders []OrderPayload `json:"orders"`

	Method         string  `json:"method,omitempty"`
	PortfolioValue float64 `json:"portfolio_value,omitempty"`
}

// OrderPayload is one sell order in a tax request.
type OrderPayload struct {
	InstrumentID string  `json:"instrument_id"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	TradeDate    string  `json:"trade_date"`
	GoviesShare  float64 `json:"govies_share"`
}

// PurgeRequest asks for expired carryforward losses to be dropped as of a
// given date (defaults to today).
type PurgeRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleEvaluateDecision handles POST /api/decision/evaluate.
func (h *Handlers) HandleEvaluateDecision(w http.ResponseWriter, r *http.Request) {
	var scenario decision.Scenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	report, err := h.decision.Evaluate(scenario)
	if err != nil {
		h.log.Error().Err(err).Msg("Decision evaluation failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ObserveDecision(report.Breakdown.Execute, report.NetBenefit)
	writeJSON(w, http.StatusOK, report)
}

// HandleTaxPreview handles POST /api/tax/preview. It prices the batch
// without committing ledger state.
func (h *Handlers) HandleTaxPreview(w http.ResponseWriter, r *http.Request) {
	h.runTaxBatch(w, r, false)
}

// HandleTaxResolve handles POST /api/tax/resolve. It commits the surviving
// inventory and updated loss carryforward in one transaction.
func (h *Handlers) HandleTaxResolve(w http.ResponseWriter, r *http.Request) {
	h.runTaxBatch(w, r, true)
}

func (h *Handlers) runTaxBatch(w http.ResponseWriter, r *http.Request, commit bool) {
	var req TaxBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Orders) == 0 {
		http.Error(w, "orders must not be empty", http.StatusBadRequest)
		return
	}

	orders := make([]execution.Order, len(req.Orders))
	for i, payload := range req.Orders {
		tradeDate, err := time.Parse("2006-01-02", payload.TradeDate)
		if err != nil {
			http.Error(w, "trade_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		orders[i] = execution.Order{
			InstrumentID: payload.InstrumentID,
			Quantity:     payload.Quantity,
			Price:        payload.Price,
			TradeDate:    tradeDate,
			GoviesShare:  payload.GoviesShare,
		}
	}

	method := req.Method
	if method == "" {
		method = execution.MethodFIFO
	}
	rules := execution.NewTaxRules(method)
	rules.PortfolioValue = req.PortfolioValue

	var result execution.TaxResult
	var err error
	if commit {
		result, err = h.ledger.ResolveBatch(orders, rules)
	} else {
		result, err = h.ledger.Preview(orders, rules)
	}
	if err != nil {
		if errors.Is(err, execution.ErrInsufficientInventory) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Bool("commit", commit).Msg("Tax batch failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ObserveTaxBatch(commit, result.TotalTax())
	writeJSON(w, http.StatusOK, result)
}

// HandleListLots handles GET /api/ledger/lots.
func (h *Handlers) HandleListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.ledger.Inventory()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load inventory")
		http.Error(w, "Failed to load inventory", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lots": lots})
}

// HandleMinusBag handles GET /api/ledger/minus_bag.
func (h *Handlers) HandleMinusBag(w http.ResponseWriter, r *http.Request) {
	lots, total, err := h.ledger.MinusBagState()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load minus bag")
		http.Error(w, "Failed to load minus bag", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lots":  lots,
		"total": total,
	})
}

// HandlePurgeMinusBag handles POST /api/ledger/minus_bag/purge.
func (h *Handlers) HandlePurgeMinusBag(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			http.Error(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	dropped, err := h.ledger.PurgeExpired(asOf)
	if err != nil {
		h.log.Error().Err(err).Msg("Minus bag purge failed")
		http.Error(w, "Minus bag purge failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": dropped})
}

// HandleSnapshot handles GET /api/ledger/snapshot. The payload is msgpack.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	payload, err := h.ledger.Snapshot()
	if err != nil {
		h.log.Error().Err(err).Msg("Snapshot failed")
		http.Error(w, "Snapshot failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
