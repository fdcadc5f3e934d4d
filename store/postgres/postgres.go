/*
Package postgres provides a PostgreSQL-backed ledger.Store built on gorm.

PURPOSE:
  Production backend. Same contract as the SQLite store; the schema is
  managed with gorm AutoMigrate from the row models below.

ROW MODELS:
  chargeRow:    charges table, seq keeps creation order
  historyRow:   payment_history table, keyed by (charge_id, position)
  sequenceRow:  charge_sequence table, single row with the id high-water mark

DIALECTS:
  New() opens Postgres through gorm.io/driver/postgres. NewWithDialector()
  accepts any gorm dialector; tests run the store on gorm.io/driver/sqlite.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go: database/sql implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warp/swim-ledger/ledger"
)

// =============================================================================
// ROW MODELS
// =============================================================================

type chargeRow struct {
	Seq          int64           `gorm:"column:seq;primaryKey;autoIncrement"`
	ID           string          `gorm:"column:id;not null;uniqueIndex"`
	StudentID    string          `gorm:"column:student_id;not null;index"`
	ChargeAmount decimal.Decimal `gorm:"column:charge_amount;type:numeric(12,2);not null"`
	PaidAmount   decimal.Decimal `gorm:"column:paid_amount;type:numeric(12,2);not null"`
	DateCharged  time.Time       `gorm:"column:date_charged;type:date;not null"`
}

func (chargeRow) TableName() string { return "charges" }

type historyRow struct {
	ChargeID         string          `gorm:"column:charge_id;primaryKey;autoIncrement:false"`
	Position         int             `gorm:"column:position;primaryKey;autoIncrement:false"`
	PaidAt           time.Time       `gorm:"column:paid_at;not null"`
	AmountPaid       decimal.Decimal `gorm:"column:amount_paid;type:numeric(12,2);not null"`
	OutstandingAfter decimal.Decimal `gorm:"column:outstanding_after;type:numeric(12,2);not null"`
	PaymentType      string          `gorm:"column:payment_type;not null"`
	Notes            string          `gorm:"column:notes;not null;default:''"`
}

func (historyRow) TableName() string { return "payment_history" }

type sequenceRow struct {
	ID         int `gorm:"column:id;primaryKey;autoIncrement:false"`
	LastIssued int `gorm:"column:last_issued;not null"`
}

func (sequenceRow) TableName() string { return "charge_sequence" }

// =============================================================================
// STORE
// =============================================================================

// Store implements ledger.TxStore on gorm.
type Store struct {
	db *gorm.DB
}

// New connects to Postgres at dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	dialector := postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	})
	return NewWithDialector(ctx, dialector)
}

// NewWithDialector opens the store on any gorm dialector.
func NewWithDialector(ctx context.Context, dialector gorm.Dialector) (*Store, error) {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	s := &Store{db: conn}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&chargeRow{}, &historyRow{}, &sequenceRow{}); err != nil {
		return err
	}
	return db.FirstOrCreate(&sequenceRow{ID: 1}, sequenceRow{ID: 1}).Error
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) List(ctx context.Context) ([]ledger.Charge, error) {
	return listCharges(s.db.WithContext(ctx))
}

func (s *Store) Get(ctx context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	return getCharge(s.db.WithContext(ctx), id)
}

func (s *Store) Insert(ctx context.Context, c ledger.Charge) error {
	return s.withTx(ctx, func(tx *gorm.DB) error { return insertCharge(tx, c) })
}

func (s *Store) Update(ctx context.Context, c ledger.Charge) error {
	return s.withTx(ctx, func(tx *gorm.DB) error { return updateCharge(tx, c) })
}

func (s *Store) Delete(ctx context.Context, id ledger.ChargeID) error {
	return s.withTx(ctx, func(tx *gorm.DB) error { return deleteCharge(tx, id) })
}

func (s *Store) LastIssuedNumber(ctx context.Context) (int, error) {
	return lastIssued(s.db.WithContext(ctx))
}

func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, reset)
}

// WithTx executes fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	return s.withTx(ctx, func(tx *gorm.DB) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// txStore runs every call on the open transaction.
type txStore struct {
	tx *gorm.DB
}

func (ts *txStore) List(ctx context.Context) ([]ledger.Charge, error) {
	return listCharges(ts.tx.WithContext(ctx))
}

func (ts *txStore) Get(ctx context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	return getCharge(ts.tx.WithContext(ctx), id)
}

func (ts *txStore) Insert(ctx context.Context, c ledger.Charge) error {
	return insertCharge(ts.tx.WithContext(ctx), c)
}

func (ts *txStore) Update(ctx context.Context, c ledger.Charge) error {
	return updateCharge(ts.tx.WithContext(ctx), c)
}

func (ts *txStore) Delete(ctx context.Context, id ledger.ChargeID) error {
	return deleteCharge(ts.tx.WithContext(ctx), id)
}

func (ts *txStore) LastIssuedNumber(ctx context.Context) (int, error) {
	return lastIssued(ts.tx.WithContext(ctx))
}

func (ts *txStore) Reset(ctx context.Context) error {
	return reset(ts.tx.WithContext(ctx))
}

// =============================================================================
// QUERIES
// =============================================================================

func listCharges(db *gorm.DB) ([]ledger.Charge, error) {
	var rows []chargeRow
	if err := db.Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	var entries []historyRow
	if err := db.Order("charge_id asc, position asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query payment history: %w", err)
	}

	history := make(map[string][]ledger.PaymentHistoryEntry)
	for _, e := range entries {
		history[e.ChargeID] = append(history[e.ChargeID], e.toEntry())
	}

	charges := make([]ledger.Charge, 0, len(rows))
	for _, r := range rows {
		charges = append(charges, r.toCharge(history[r.ID]))
	}
	return charges, nil
}

func getCharge(db *gorm.DB, id ledger.ChargeID) (ledger.Charge, error) {
	var row chargeRow
	err := db.Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Charge{}, &ledger.NotFoundError{ID: id}
	}
	if err != nil {
		return ledger.Charge{}, fmt.Errorf("failed to query charge: %w", err)
	}

	var entries []historyRow
	if err := db.Where("charge_id = ?", string(id)).Order("position asc").Find(&entries).Error; err != nil {
		return ledger.Charge{}, fmt.Errorf("failed to query payment history: %w", err)
	}
	history := make([]ledger.PaymentHistoryEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, e.toEntry())
	}
	return row.toCharge(history), nil
}

func insertCharge(db *gorm.DB, c ledger.Charge) error {
	var count int64
	if err := db.Model(&chargeRow{}).Where("id = ?", string(c.ID)).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check charge id: %w", err)
	}
	if count > 0 {
		return ledger.ErrDuplicateChargeID
	}

	row := fromCharge(c)
	if err := db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.ErrDuplicateChargeID
		}
		return fmt.Errorf("failed to insert charge: %w", err)
	}
	if err := appendEntries(db, c.ID, 0, c.PaymentHistory); err != nil {
		return err
	}

	n := ledger.ChargeNumber(c.ID)
	err := db.Model(&sequenceRow{}).
		Where("id = ? AND last_issued < ?", 1, n).
		Update("last_issued", n).Error
	if err != nil {
		return fmt.Errorf("failed to advance charge sequence: %w", err)
	}
	return nil
}

func updateCharge(db *gorm.DB, c ledger.Charge) error {
	stored, err := getCharge(db, c.ID)
	if err != nil {
		return err
	}
	if err := ledger.CheckAppend(stored.PaymentHistory, c.PaymentHistory); err != nil {
		return err
	}

	row := fromCharge(c)
	err = db.Model(&chargeRow{}).Where("id = ?", row.ID).Updates(map[string]any{
		"student_id":    row.StudentID,
		"charge_amount": row.ChargeAmount,
		"paid_amount":   row.PaidAmount,
		"date_charged":  row.DateCharged,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update charge: %w", err)
	}

	n := len(stored.PaymentHistory)
	return appendEntries(db, c.ID, n, c.PaymentHistory[n:])
}

func appendEntries(db *gorm.DB, id ledger.ChargeID, offset int, entries []ledger.PaymentHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]historyRow, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, historyRow{
			ChargeID:         string(id),
			Position:         offset + i,
			PaidAt:           e.Date,
			AmountPaid:       e.AmountPaid,
			OutstandingAfter: e.OutstandingAfter,
			PaymentType:      string(e.PaymentType),
			Notes:            e.Notes,
		})
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to append history entries: %w", err)
	}
	return nil
}

func deleteCharge(db *gorm.DB, id ledger.ChargeID) error {
	res := db.Where("id = ?", string(id)).Delete(&chargeRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete charge: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &ledger.NotFoundError{ID: id}
	}
	if err := db.Where("charge_id = ?", string(id)).Delete(&historyRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete payment history: %w", err)
	}
	return nil
}

func lastIssued(db *gorm.DB) (int, error) {
	var seq sequenceRow
	if err := db.Where("id = ?", 1).Take(&seq).Error; err != nil {
		return 0, fmt.Errorf("failed to read charge sequence: %w", err)
	}
	return seq.LastIssued, nil
}

func reset(db *gorm.DB) error {
	if err := db.Where("1 = 1").Delete(&historyRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear payment history: %w", err)
	}
	if err := db.Where("1 = 1").Delete(&chargeRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear charges: %w", err)
	}
	if err := db.Model(&sequenceRow{}).Where("id = ?", 1).Update("last_issued", 0).Error; err != nil {
		return fmt.Errorf("failed to reset charge sequence: %w", err)
	}
	return nil
}

// =============================================================================
// MAPPING
// =============================================================================

func fromCharge(c ledger.Charge) chargeRow {
	return chargeRow{
		ID:           string(c.ID),
		StudentID:    string(c.StudentID),
		ChargeAmount: c.ChargeAmount,
		PaidAmount:   c.PaidAmount,
		DateCharged:  c.DateCharged.Time,
	}
}

func (r chargeRow) toCharge(history []ledger.PaymentHistoryEntry) ledger.Charge {
	return ledger.Charge{
		ID:             ledger.ChargeID(r.ID),
		StudentID:      ledger.StudentID(r.StudentID),
		ChargeAmount:   r.ChargeAmount,
		PaidAmount:     r.PaidAmount,
		DateCharged:    ledger.DateOf(r.DateCharged.UTC()),
		PaymentHistory: history,
	}
}

func (r historyRow) toEntry() ledger.PaymentHistoryEntry {
	return ledger.PaymentHistoryEntry{
		Date:             r.PaidAt,
		AmountPaid:       r.AmountPaid,
		OutstandingAfter: r.OutstandingAfter,
		PaymentType:      ledger.PaymentType(r.PaymentType),
		Notes:            r.Notes,
	}
}
