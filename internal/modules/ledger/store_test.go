package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/federico-bidone/FAIR-sub001/internal/database"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
	"github.com/federico-bidone/FAIR-sub001/pkg/logger"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db.Conn(), logger.New(logger.Config{Level: "error"}))
	require.NoError(t, store.InitSchema())
	return store
}

func seedBaseInventory(t *testing.T, store *Store) {
	t.Helper()
	lots := []execution.Lot{
		{InstrumentID: "IT0001", LotID: "old", Quantity: decimal.NewFromInt(100), CostBasis: decimal.NewFromInt(90), Acquired: date(2020, time.January, 2), GoviesShare: 0.2},
		{InstrumentID: "IT0001", LotID: "recent", Quantity: decimal.NewFromInt(100), CostBasis: decimal.NewFromInt(110), Acquired: date(2023, time.January, 5), GoviesShare: 0.2},
	}
	for _, lot := range lots {
		_, err := store.InsertLot(lot)
		require.NoError(t, err)
	}
}

func TestStoreLotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	id, err := store.InsertLot(execution.Lot{
		InstrumentID: "IT0001",
		Quantity:     decimal.RequireFromString("12.5"),
		CostBasis:    decimal.RequireFromString("101.37"),
		Acquired:     date(2021, time.June, 3),
		GoviesShare:  0.7,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "lot id assigned when absent")

	lots, err := store.Inventory()
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, id, lots[0].LotID)
	assert.True(t, lots[0].Quantity.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, lots[0].CostBasis.Equal(decimal.RequireFromString("101.37")), "decimal text storage is exact")
	assert.Equal(t, date(2021, time.June, 3), lots[0].Acquired)
}

func TestStoreRejectsNegativeQuantity(t *testing.T) {
	store := newTestStore(t)
	_, err := store.InsertLot(execution.Lot{
		InstrumentID: "IT0001",
		Quantity:     decimal.NewFromInt(-5),
		CostBasis:    decimal.NewFromInt(100),
		Acquired:     date(2021, time.June, 3),
	})
	assert.Error(t, err)
}

func TestServiceResolveBatchCommitsState(t *testing.T) {
	store := newTestStore(t)
	seedBaseInventory(t, store)
	service := NewService(store, logger.New(logger.Config{Level: "error"}))

	rules := execution.NewTaxRules(execution.MethodFIFO)
	rules.PortfolioValue = 200000.0
	orders := []execution.Order{
		{InstrumentID: "IT0001", Quantity: -100, Price: 120, TradeDate: date(2024, time.May, 1), GoviesShare: 0.2},
	}

	result, err := service.ResolveBatch(orders, rules)
	require.NoError(t, err)
	assert.InDelta(t, 3000.0, result.TaxableOther, 1e-9)

	// The cost-90 lot is gone; the cost-110 lot survives in full.
	lots, err := store.Inventory()
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "recent", lots[0].LotID)
	assert.True(t, lots[0].Quantity.Equal(decimal.NewFromInt(100)))
}

func TestServiceResolveBatchPersistsNewLosses(t *testing.T) {
	store := newTestStore(t)
	service := NewService(store, logger.New(logger.Config{Level: "error"}))
	_, err := store.InsertLot(execution.Lot{
		InstrumentID: "LOSS", LotID: "lot",
		Quantity:  decimal.NewFromInt(100),
		CostBasis: decimal.NewFromInt(100),
		Acquired:  date(2022, time.March, 1),
	})
	require.NoError(t, err)

	rules := execution.NewTaxRules(execution.MethodFIFO)
	result, err := service.ResolveBatch([]execution.Order{
		{InstrumentID: "LOSS", Quantity: -40, Price: 90, TradeDate: date(2024, time.April, 1)},
	}, rules)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, result.MinusAdded, 1e-9)

	minusLots, total, err := service.MinusBagState()
	require.NoError(t, err)
	require.Len(t, minusLots, 1)
	assert.Equal(t, date(2028, time.April, 1), minusLots[0].Expiry)
	assert.InDelta(t, 400.0, total, 1e-9)
}

func TestServiceResolveBatchIsAtomic(t *testing.T) {
	store := newTestStore(t)
	seedBaseInventory(t, store)
	service := NewService(store, logger.New(logger.Config{Level: "error"}))
	require.NoError(t, store.ReplaceState(
		mustInventory(t, store),
		[]execution.MinusLot{{Amount: decimal.NewFromInt(500), Expiry: date(2026, time.January, 1)}},
	))

	rules := execution.NewTaxRules(execution.MethodFIFO)
	_, err := service.ResolveBatch([]execution.Order{
		{InstrumentID: "IT0001", Quantity: -300, Price: 120, TradeDate: date(2024, time.May, 1)},
	}, rules)
	require.ErrorIs(t, err, execution.ErrInsufficientInventory)

	// Inventory and minus bag unchanged.
	lots, err := store.Inventory()
	require.NoError(t, err)
	assert.Len(t, lots, 2)
	_, total, err := service.MinusBagState()
	require.NoError(t, err)
	assert.InDelta(t, 500.0, total, 1e-9)
}

func TestServicePreviewDoesNotMutate(t *testing.T) {
	store := newTestStore(t)
	seedBaseInventory(t, store)
	service := NewService(store, logger.New(logger.Config{Level: "error"}))

	rules := execution.NewTaxRules(execution.MethodFIFO)
	orders := []execution.Order{
		{InstrumentID: "IT0001", Quantity: -100, Price: 120, TradeDate: date(2024, time.May, 1)},
	}

	first, err := service.Preview(orders, rules)
	require.NoError(t, err)
	second, err := service.Preview(orders, rules)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	lots, err := store.Inventory()
	require.NoError(t, err)
	assert.Len(t, lots, 2)
}

func TestStorePurgeExpiredMinusLots(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.ReplaceState(nil, []execution.MinusLot{
		{Amount: decimal.NewFromInt(100), Expiry: date(2024, time.January, 1)},
		{Amount: decimal.NewFromInt(50), Expiry: date(2030, time.January, 1)},
	}))

	dropped, err := store.PurgeExpiredMinusLots(date(2025, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), dropped)

	minusLots, err := store.MinusLots()
	require.NoError(t, err)
	require.Len(t, minusLots, 1)
	assert.Equal(t, date(2030, time.January, 1), minusLots[0].Expiry)
}

func TestStoreSnapshotDecodes(t *testing.T) {
	store := newTestStore(t)
	seedBaseInventory(t, store)

	payload, err := store.Snapshot()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(payload, &decoded))
	assert.Contains(t, decoded, "lots")
	assert.Contains(t, decoded, "minus_lots")
}

func mustInventory(t *testing.T, store *Store) []execution.Lot {
	t.Helper()
	lots, err := store.Inventory()
	require.NoError(t, err)
	return lots
}
