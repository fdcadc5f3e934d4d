/*
store.go - Persistence interface for charges

PURPOSE:
  Defines the interface between the charge service and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage
  without the validator or engine noticing.

APPEND-ONLY HISTORY:
  Charges are mutable (amounts change), their history is not:
  - Insert(): Writes a charge and its creation entry
  - Update(): Rewrites amounts and appends any new history entries
  - Update() with fewer entries than stored returns ErrHistoryRewrite
  - Delete(): Removes the charge and all of its history, no tombstone

ID HIGH-WATER MARK:
  Stores remember the highest charge number they ever accepted. The service
  feeds it to NextChargeID so deleting chg_007 never frees "chg_007" again.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory (default, tests)
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/postgres/postgres.go: PostgreSQL via gorm

SEE ALSO:
  - charges/service.go: The only writer
  - errors.go: ErrChargeNotFound, ErrDuplicateChargeID, ErrHistoryRewrite
*/
package ledger

import "context"

// Store handles persistence of charges.
type Store interface {
	// List returns every charge in creation order.
	List(ctx context.Context) ([]Charge, error)

	// Get returns one charge, or an error wrapping ErrChargeNotFound.
	Get(ctx context.Context, id ChargeID) (Charge, error)

	// Insert persists a new charge. Fails with ErrDuplicateChargeID if the id exists.
	Insert(ctx context.Context, c Charge) error

	// Update replaces amounts and appends history entries beyond those stored.
	Update(ctx context.Context, c Charge) error

	// Delete removes the charge and its history.
	Delete(ctx context.Context, id ChargeID) error

	// LastIssuedNumber returns the highest charge number ever inserted.
	LastIssuedNumber(ctx context.Context) (int, error)

	// Reset removes all charges and the id high-water mark.
	Reset(ctx context.Context) error
}

// CheckAppend verifies that next only appends to stored history.
// Shared by store implementations.
func CheckAppend(stored, next []PaymentHistoryEntry) error {
	if len(next) < len(stored) {
		return ErrHistoryRewrite
	}
	for i := range stored {
		if !sameEntry(stored[i], next[i]) {
			return ErrHistoryRewrite
		}
	}
	return nil
}

func sameEntry(a, b PaymentHistoryEntry) bool {
	return a.Date.Equal(b.Date) &&
		a.AmountPaid.Equal(b.AmountPaid) &&
		a.OutstandingAfter.Equal(b.OutstandingAfter) &&
		a.PaymentType == b.PaymentType &&
		a.Notes == b.Notes
}

// TxStore wraps Store with transaction support.
// Use this when several writes must land together (e.g. loading demo data).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
