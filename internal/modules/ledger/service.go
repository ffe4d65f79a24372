package ledger

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
)

// Service resolves order batches against the persisted ledger.
//
// Each batch is one logical transaction: the capital-gains engine runs on
// in-memory copies, and only a fully successful resolution is written back.
// Callers serialize access per account; the service performs no internal
// locking across processes.
type Service struct {
	store *Store
	log   zerolog.Logger
}

// NewService creates a new ledger service.
func NewService(store *Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("service", "ledger").Logger(),
	}
}

// Preview runs the capital-gains computation against the persisted state
// without committing anything. The persisted minus bag is copied first, so
// repeated previews are idempotent.
func (s *Service) Preview(orders []execution.Order, rules execution.TaxRules) (execution.TaxResult, error) {
	inventory, err := s.store.Inventory()
	if err != nil {
		return execution.TaxResult{}, err
	}
	minusLots, err := s.store.MinusLots()
	if err != nil {
		return execution.TaxResult{}, err
	}
	rules.MinusBag = execution.NewMinusBag(minusLots...)

	result, _, err := execution.ComputeTaxPenalty(orders, inventory, rules)
	return result, err
}

// ResolveBatch resolves a batch of orders against the persisted inventory
// and minus bag, commits the surviving state, and returns the tax result.
// On any error the persisted ledger is left untouched.
func (s *Service) ResolveBatch(orders []execution.Order, rules execution.TaxRules) (execution.TaxResult, error) {
	inventory, err := s.store.Inventory()
	if err != nil {
		return execution.TaxResult{}, err
	}
	minusLots, err := s.store.MinusLots()
	if err != nil {
		return execution.TaxResult{}, err
	}

	bag := execution.NewMinusBag(minusLots...)
	rules.MinusBag = bag

	result, remaining, err := execution.ComputeTaxPenalty(orders, inventory, rules)
	if err != nil {
		return execution.TaxResult{}, fmt.Errorf("batch resolution failed: %w", err)
	}

	if err := s.store.ReplaceState(remaining, bag.Snapshot()); err != nil {
		return execution.TaxResult{}, err
	}

	s.log.Info().
		Int("orders", len(orders)).
		Int("lots_remaining", len(remaining)).
		Float64("capital_gains_tax", result.CapitalGainsTax).
		Float64("stamp_duty", result.StampDuty).
		Msg("Resolved order batch")
	return result, nil
}

// PurgeExpired drops expired minus lots as of the given date.
func (s *Service) PurgeExpired(asOf time.Time) (int64, error) {
	return s.store.PurgeExpiredMinusLots(asOf)
}

// ReplaceState overwrites the persisted lots and minus bag in one
// transaction.
func (s *Service) ReplaceState(lots []execution.Lot, minusLots []execution.MinusLot) error {
	return s.store.ReplaceState(lots, minusLots)
}

// Inventory returns the persisted tax lots.
func (s *Service) Inventory() ([]execution.Lot, error) {
	return s.store.Inventory()
}

// Snapshot serializes the full ledger state.
func (s *Service) Snapshot() ([]byte, error) {
	return s.store.Snapshot()
}

// MinusBagState reports the persisted loss carry-forward lots and total.
func (s *Service) MinusBagState() ([]execution.MinusLot, float64, error) {
	minusLots, err := s.store.MinusLots()
	if err != nil {
		return nil, 0, err
	}
	bag := execution.NewMinusBag(minusLots...)
	return bag.Snapshot(), bag.Total().InexactFloat64(), nil
}
