// Package ledger persists the tax-lot inventory and the loss carry-forward
// bag between rebalancing cycles, and applies capital-gains resolutions to
// them transactionally.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
)

const dateLayout = "2006-01-02"

// Store handles lot and minus-lot database operations.
//
// Decimal amounts are stored as TEXT so cost bases and loss amounts survive
// round-trips exactly.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new ledger store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// InitSchema creates the ledger tables when missing.
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lots (
		lot_id        TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL,
		quantity      TEXT NOT NULL,
		cost_basis    TEXT NOT NULL,
		acquired      TEXT NOT NULL,
		govies_share  REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lots_instrument ON lots(instrument_id);
	CREATE TABLE IF NOT EXISTS minus_lots (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		amount TEXT NOT NULL,
		expiry TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

// InsertLot adds a lot to the inventory, assigning a lot id when absent.
func (s *Store) InsertLot(lot execution.Lot) (string, error) {
	if lot.Quantity.Sign() < 0 {
		return "", fmt.Errorf("lot quantity must be non-negative")
	}
	if lot.LotID == "" {
		lot.LotID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO lots (lot_id, instrument_id, quantity, cost_basis, acquired, govies_share)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		lot.LotID, lot.InstrumentID, lot.Quantity.String(), lot.CostBasis.String(),
		lot.Acquired.Format(dateLayout), lot.GoviesShare,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert lot: %w", err)
	}
	return lot.LotID, nil
}

// Inventory returns all lots ordered by acquisition date then lot id.
func (s *Store) Inventory() ([]execution.Lot, error) {
	rows, err := s.db.Query(
		`SELECT lot_id, instrument_id, quantity, cost_basis, acquired, govies_share
		 FROM lots ORDER BY acquired, lot_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []execution.Lot
	for rows.Next() {
		var lot execution.Lot
		var quantity, costBasis, acquired string
		if err := rows.Scan(&lot.LotID, &lot.InstrumentID, &quantity, &costBasis, &acquired, &lot.GoviesShare); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if lot.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid lot quantity %q: %w", quantity, err)
		}
		if lot.CostBasis, err = decimal.NewFromString(costBasis); err != nil {
			return nil, fmt.Errorf("invalid lot cost basis %q: %w", costBasis, err)
		}
		if lot.Acquired, err = time.Parse(dateLayout, acquired); err != nil {
			return nil, fmt.Errorf("invalid lot acquisition date %q: %w", acquired, err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

// MinusLots returns the persisted loss carry-forward lots in expiry order.
func (s *Store) MinusLots() ([]execution.MinusLot, error) {
	rows, err := s.db.Query(`SELECT amount, expiry FROM minus_lots ORDER BY expiry`)
	if err != nil {
		return nil, fmt.Errorf("failed to query minus lots: %w", err)
	}
	defer rows.Close()

	var lots []execution.MinusLot
	for rows.Next() {
		var amount, expiry string
		if err := rows.Scan(&amount, &expiry); err != nil {
			return nil, fmt.Errorf("failed to scan minus lot: %w", err)
		}
		var lot execution.MinusLot
		if lot.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid minus lot amount %q: %w", amount, err)
		}
		if lot.Expiry, err = time.Parse(dateLayout, expiry); err != nil {
			return nil, fmt.Errorf("invalid minus lot expiry %q: %w", expiry, err)
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating minus lots: %w", err)
	}
	return lots, nil
}

// ReplaceState overwrites the persisted inventory and minus bag with the
// post-resolution state in a single transaction.
func (s *Store) ReplaceState(lots []execution.Lot, minusLots []execution.MinusLot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM lots`); err != nil {
		return fmt.Errorf("failed to clear lots: %w", err)
	}
	for _, lot := range lots {
		if lot.LotID == "" {
			lot.LotID = uuid.NewString()
		}
		if _, err := tx.Exec(
			`INSERT INTO lots (lot_id, instrument_id, quantity, cost_basis, acquired, govies_share)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			lot.LotID, lot.InstrumentID, lot.Quantity.String(), lot.CostBasis.String(),
			lot.Acquired.Format(dateLayout), lot.GoviesShare,
		); err != nil {
			return fmt.Errorf("failed to insert lot %s: %w", lot.LotID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM minus_lots`); err != nil {
		return fmt.Errorf("failed to clear minus lots: %w", err)
	}
	for _, lot := range minusLots {
		if _, err := tx.Exec(
			`INSERT INTO minus_lots (amount, expiry) VALUES (?, ?)`,
			lot.Amount.String(), lot.Expiry.Format(dateLayout),
		); err != nil {
			return fmt.Errorf("failed to insert minus lot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// PurgeExpiredMinusLots removes carry-forward losses that expired before
// asOf and returns how many entries were dropped.
func (s *Store) PurgeExpiredMinusLots(asOf time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM minus_lots WHERE expiry < ?`, asOf.Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired minus lots: %w", err)
	}
	dropped, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged minus lots: %w", err)
	}
	if dropped > 0 {
		s.log.Info().Int64("dropped", dropped).Time("as_of", asOf).Msg("Purged expired minus lots")
	}
	return dropped, nil
}

// snapshot is the msgpack export schema for a full ledger state.
type snapshot struct {
	TakenAt   time.Time      `msgpack:"taken_at"`
	Lots      []snapshotLot  `msgpack:"lots"`
	MinusLots []snapshotLoss `msgpack:"minus_lots"`
}

type snapshotLot struct {
	LotID        string  `msgpack:"lot_id"`
	InstrumentID string  `msgpack:"instrument_id"`
	Quantity     string  `msgpack:"quantity"`
	CostBasis    string  `msgpack:"cost_basis"`
	Acquired     string  `msgpack:"acquired"`
	GoviesShare  float64 `msgpack:"govies_share"`
}

type snapshotLoss struct {
	Amount string `msgpack:"amount"`
	Expiry string `msgpack:"expiry"`
}

// Snapshot serializes the full ledger state for export or audit archival.
func (s *Store) Snapshot() ([]byte, error) {
	lots, err := s.Inventory()
	if err != nil {
		return nil, err
	}
	minusLots, err := s.MinusLots()
	if err != nil {
		return nil, err
	}

	snap := snapshot{TakenAt: time.Now().UTC()}
	for _, lot := range lots {
		snap.Lots = append(snap.Lots, snapshotLot{
			LotID:        lot.LotID,
			InstrumentID: lot.InstrumentID,
			Quantity:     lot.Quantity.String(),
			CostBasis:    lot.CostBasis.String(),
			Acquired:     lot.Acquired.Format(dateLayout),
			GoviesShare:  lot.GoviesShare,
		})
	}
	for _, lot := range minusLots {
		snap.MinusLots = append(snap.MinusLots, snapshotLoss{
			Amount: lot.Amount.String(),
			Expiry: lot.Expiry.Format(dateLayout),
		})
	}

	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger snapshot: %w", err)
	}
	return payload, nil
}
