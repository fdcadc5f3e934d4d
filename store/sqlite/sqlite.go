/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  Persists charges and their payment history with database/sql and
  mattn/go-sqlite3. The schema is versioned with goose; migrations are
  embedded and applied on New().

KEY TABLES:
  charges:          One row per charge. seq keeps creation order.
  payment_history:  One row per journaled event, keyed by (charge_id, position).
                    ON DELETE CASCADE removes history with its charge.
  charge_sequence:  Single row holding the id high-water mark.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on payment_history except via cascade
  - Update() compares stored history to the incoming charge first
    (ledger.CheckAppend) and only inserts rows past the stored length

STORAGE FORMATS:
  Amounts are TEXT (decimal string) so no precision is lost. Entry times are
  RFC3339 with nanoseconds; dates are YYYY-MM-DD.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to a
  single connection, otherwise every pooled connection would see its own
  empty database.

USAGE:
  store, err := sqlite.New(ctx, "./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation
  - store/postgres/postgres.go: gorm implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/swim-ledger/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// =============================================================================
// STORE (ledger.Store interface)
// =============================================================================

func (s *Store) List(ctx context.Context) ([]ledger.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCharges(ctx, s.db)
}

func (s *Store) Get(ctx context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCharge(ctx, s.db, id)
}

// Insert writes a charge with its history atomically.
func (s *Store) Insert(ctx context.Context, c ledger.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q querier) error { return insertCharge(ctx, q, c) })
}

// Update rewrites amounts and appends new history rows atomically.
func (s *Store) Update(ctx context.Context, c ledger.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q querier) error { return updateCharge(ctx, q, c) })
}

func (s *Store) Delete(ctx context.Context, id ledger.ChargeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteCharge(ctx, s.db, id)
}

func (s *Store) LastIssuedNumber(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastIssued(ctx, s.db)
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q querier) error { return reset(ctx, q) })
}

func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q querier) error {
		return fn(&txStore{q: q})
	})
}

// txStore runs every call on the open transaction.
type txStore struct {
	q querier
}

func (ts *txStore) List(ctx context.Context) ([]ledger.Charge, error) {
	return listCharges(ctx, ts.q)
}

func (ts *txStore) Get(ctx context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	return getCharge(ctx, ts.q, id)
}

func (ts *txStore) Insert(ctx context.Context, c ledger.Charge) error {
	return insertCharge(ctx, ts.q, c)
}

func (ts *txStore) Update(ctx context.Context, c ledger.Charge) error {
	return updateCharge(ctx, ts.q, c)
}

func (ts *txStore) Delete(ctx context.Context, id ledger.ChargeID) error {
	return deleteCharge(ctx, ts.q, id)
}

func (ts *txStore) LastIssuedNumber(ctx context.Context) (int, error) {
	return lastIssued(ctx, ts.q)
}

func (ts *txStore) Reset(ctx context.Context) error {
	return reset(ctx, ts.q)
}

// =============================================================================
// QUERIES
// =============================================================================

const chargeColumns = `id, student_id, charge_amount, paid_amount, date_charged`

func listCharges(ctx context.Context, q querier) ([]ledger.Charge, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+chargeColumns+` FROM charges ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	var charges []ledger.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		charges = append(charges, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	history, err := queryHistory(ctx, q, `
		SELECT charge_id, paid_at, amount_paid, outstanding_after, payment_type, notes
		FROM payment_history
		ORDER BY charge_id, position ASC
	`)
	if err != nil {
		return nil, err
	}

	result := make([]ledger.Charge, 0, len(charges))
	for _, c := range charges {
		c.PaymentHistory = history[c.ID]
		result = append(result, c)
	}
	return result, nil
}

func getCharge(ctx context.Context, q querier, id ledger.ChargeID) (ledger.Charge, error) {
	row := q.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id)
	c, err := scanCharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Charge{}, &ledger.NotFoundError{ID: id}
	}
	if err != nil {
		return ledger.Charge{}, err
	}

	history, err := queryHistory(ctx, q, `
		SELECT charge_id, paid_at, amount_paid, outstanding_after, payment_type, notes
		FROM payment_history
		WHERE charge_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return ledger.Charge{}, err
	}
	c.PaymentHistory = history[id]
	return c, nil
}

func insertCharge(ctx context.Context, q querier, c ledger.Charge) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO charges (id, student_id, charge_amount, paid_amount, date_charged)
		VALUES (?, ?, ?, ?, ?)
	`,
		c.ID,
		c.StudentID,
		c.ChargeAmount.String(),
		c.PaidAmount.String(),
		c.DateCharged.String(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateChargeID
		}
		return fmt.Errorf("failed to insert charge: %w", err)
	}

	if err := appendEntries(ctx, q, c.ID, 0, c.PaymentHistory); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`UPDATE charge_sequence SET last_issued = MAX(last_issued, ?) WHERE id = 1`,
		ledger.ChargeNumber(c.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to advance charge sequence: %w", err)
	}
	return nil
}

func updateCharge(ctx context.Context, q querier, c ledger.Charge) error {
	stored, err := getCharge(ctx, q, c.ID)
	if err != nil {
		return err
	}
	if err := ledger.CheckAppend(stored.PaymentHistory, c.PaymentHistory); err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		UPDATE charges
		SET student_id = ?, charge_amount = ?, paid_amount = ?, date_charged = ?
		WHERE id = ?
	`,
		c.StudentID,
		c.ChargeAmount.String(),
		c.PaidAmount.String(),
		c.DateCharged.String(),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update charge: %w", err)
	}

	n := len(stored.PaymentHistory)
	return appendEntries(ctx, q, c.ID, n, c.PaymentHistory[n:])
}

func appendEntries(ctx context.Context, q querier, id ledger.ChargeID, offset int, entries []ledger.PaymentHistoryEntry) error {
	for i, e := range entries {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payment_history
			(charge_id, position, paid_at, amount_paid, outstanding_after, payment_type, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			offset+i,
			e.Date.Format(time.RFC3339Nano),
			e.AmountPaid.String(),
			e.OutstandingAfter.String(),
			e.PaymentType,
			e.Notes,
		)
		if err != nil {
			return fmt.Errorf("failed to append history entry: %w", err)
		}
	}
	return nil
}

func deleteCharge(ctx context.Context, q querier, id ledger.ChargeID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM charges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete charge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.NotFoundError{ID: id}
	}
	return nil
}

func lastIssued(ctx context.Context, q querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT last_issued FROM charge_sequence WHERE id = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read charge sequence: %w", err)
	}
	return n, nil
}

func reset(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM charges`); err != nil {
		return fmt.Errorf("failed to clear charges: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE charge_sequence SET last_issued = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to reset charge sequence: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanCharge(row scanner) (ledger.Charge, error) {
	var (
		c            ledger.Charge
		chargeAmount string
		paidAmount   string
		dateCharged  string
	)
	if err := row.Scan(&c.ID, &c.StudentID, &chargeAmount, &paidAmount, &dateCharged); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan charge: %w", err)
	}

	var err error
	if c.ChargeAmount, err = decimal.NewFromString(chargeAmount); err != nil {
		return c, fmt.Errorf("charge %s: bad charge_amount %q: %w", c.ID, chargeAmount, err)
	}
	if c.PaidAmount, err = decimal.NewFromString(paidAmount); err != nil {
		return c, fmt.Errorf("charge %s: bad paid_amount %q: %w", c.ID, paidAmount, err)
	}
	if c.DateCharged, err = ledger.ParseDate(dateCharged); err != nil {
		return c, fmt.Errorf("charge %s: bad date_charged %q: %w", c.ID, dateCharged, err)
	}
	return c, nil
}

func queryHistory(ctx context.Context, q querier, query string, args ...any) (map[ledger.ChargeID][]ledger.PaymentHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment history: %w", err)
	}
	defer rows.Close()

	history := make(map[ledger.ChargeID][]ledger.PaymentHistoryEntry)
	for rows.Next() {
		var (
			id          ledger.ChargeID
			e           ledger.PaymentHistoryEntry
			paidAt      string
			amountPaid  string
			outstanding string
		)
		if err := rows.Scan(&id, &paidAt, &amountPaid, &outstanding, &e.PaymentType, &e.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if e.Date, err = time.Parse(time.RFC3339Nano, paidAt); err != nil {
			return nil, fmt.Errorf("charge %s: bad paid_at %q: %w", id, paidAt, err)
		}
		if e.AmountPaid, err = decimal.NewFromString(amountPaid); err != nil {
			return nil, fmt.Errorf("charge %s: bad amount_paid %q: %w", id, amountPaid, err)
		}
		if e.OutstandingAfter, err = decimal.NewFromString(outstanding); err != nil {
			return nil, fmt.Errorf("charge %s: bad outstanding_after %q: %w", id, outstanding, err)
		}
		history[id] = append(history[id], e)
	}
	return history, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
