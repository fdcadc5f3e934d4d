// Package storetest holds the behaviour every ledger.TxStore must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/swim-ledger/ledger"
)

// Factory returns an empty store. Cleanup is the caller's job (t.Cleanup).
type Factory func(t *testing.T) ledger.TxStore

var at = time.Date(2025, time.April, 2, 10, 0, 0, 123456789, time.UTC)

func charge(id ledger.ChargeID, amount, paid string) ledger.Charge {
	return ledger.CreateCharge(id, ledger.MustParseAmount(amount), ledger.MustParseAmount(paid),
		"stu_103", ledger.NewDate(2025, time.April, 1), at)
}

// Run exercises newStore against the shared store behaviour.
func Run(t *testing.T, newStore Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("CreationOrder", func(t *testing.T) { testCreationOrder(t, newStore(t)) })
	t.Run("Duplicate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("AppendOnly", func(t *testing.T) { testAppendOnly(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
}

func testRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := charge("chg_001", "120.50", "20.25")
	c = ledger.RecordPayment(c, ledger.MustParseAmount("0.25"), nil, at.Add(time.Hour))
	require.NoError(t, s.Insert(ctx, c))

	got, err := s.Get(ctx, "chg_001")
	require.NoError(t, err)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.StudentID, got.StudentID)
	assert.True(t, c.DateCharged.Equal(got.DateCharged))
	assert.True(t, got.ChargeAmount.Equal(decimal.RequireFromString("120.5")))
	assert.True(t, got.PaidAmount.Equal(decimal.RequireFromString("20.5")))
	require.Len(t, got.PaymentHistory, 2)
	for i := range c.PaymentHistory {
		want, have := c.PaymentHistory[i], got.PaymentHistory[i]
		assert.True(t, want.Date.Equal(have.Date), "entry %d date", i)
		assert.True(t, want.AmountPaid.Equal(have.AmountPaid), "entry %d amount", i)
		assert.True(t, want.OutstandingAfter.Equal(have.OutstandingAfter), "entry %d outstanding", i)
		assert.Equal(t, want.PaymentType, have.PaymentType)
		assert.Equal(t, want.Notes, have.Notes)
	}

	n, err := s.LastIssuedNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testCreationOrder(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	for _, id := range []ledger.ChargeID{"chg_003", "chg_001", "chg_002"} {
		require.NoError(t, s.Insert(ctx, charge(id, "10", "0")))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ledger.ChargeID("chg_003"), list[0].ID)
	assert.Equal(t, ledger.ChargeID("chg_001"), list[1].ID)
	assert.Equal(t, ledger.ChargeID("chg_002"), list[2].ID)
	for _, c := range list {
		assert.Len(t, c.PaymentHistory, 1)
	}
}

func testDuplicate(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, charge("chg_001", "10", "0")))

	err := s.Insert(ctx, charge("chg_001", "99", "0"))

	assert.ErrorIs(t, err, ledger.ErrDuplicateChargeID)
	got, _ := s.Get(ctx, "chg_001")
	assert.True(t, got.ChargeAmount.Equal(ledger.MustParseAmount("10")))
}

func testNotFound(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "chg_404")
	assert.True(t, ledger.IsNotFound(err))
	assert.True(t, ledger.IsNotFound(s.Delete(ctx, "chg_404")))
	assert.True(t, ledger.IsNotFound(s.Update(ctx, charge("chg_404", "1", "0"))))
}

func testAppendOnly(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := charge("chg_001", "100", "0")
	require.NoError(t, s.Insert(ctx, c))

	paid := ledger.RecordPayment(c, ledger.MustParseAmount("40"), nil, at)
	require.NoError(t, s.Update(ctx, paid))
	corrected := ledger.CorrectChargeAmount(paid, ledger.MustParseAmount("90"), at)
	require.NoError(t, s.Update(ctx, corrected))

	got, err := s.Get(ctx, "chg_001")
	require.NoError(t, err)
	assert.Len(t, got.PaymentHistory, 3)
	assert.True(t, got.ChargeAmount.Equal(ledger.MustParseAmount("90")))

	assert.ErrorIs(t, s.Update(ctx, paid), ledger.ErrHistoryRewrite)

	tampered := corrected.Clone()
	tampered.PaymentHistory[1].AmountPaid = ledger.MustParseAmount("41")
	assert.ErrorIs(t, s.Update(ctx, tampered), ledger.ErrHistoryRewrite)
}

func testDeleteCascades(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, charge("chg_001", "10", "0")))
	require.NoError(t, s.Insert(ctx, charge("chg_002", "10", "5")))

	require.NoError(t, s.Delete(ctx, "chg_002"))

	_, err := s.Get(ctx, "chg_002")
	assert.True(t, ledger.IsNotFound(err))
	n, _ := s.LastIssuedNumber(ctx)
	assert.Equal(t, 2, n)

	// Re-inserting the same id starts a clean history
	require.NoError(t, s.Insert(ctx, charge("chg_002", "7", "0")))
	got, _ := s.Get(ctx, "chg_002")
	assert.Len(t, got.PaymentHistory, 1)
}

func testReset(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, charge("chg_005", "10", "0")))

	require.NoError(t, s.Reset(ctx))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	n, err := s.LastIssuedNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testTxRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, charge("chg_001", "10", "0")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.Reset(ctx); err != nil {
			return err
		}
		if err := tx.Insert(ctx, charge("chg_009", "10", "0")); err != nil {
			return err
		}
		list, err := tx.List(ctx)
		if err != nil {
			return err
		}
		if len(list) != 1 {
			return errors.New("transaction does not see its own writes")
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ledger.ChargeID("chg_001"), list[0].ID)
	n, _ := s.LastIssuedNumber(ctx)
	assert.Equal(t, 1, n)

	// A successful transaction commits
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.Insert(ctx, charge("chg_002", "10", "0"))
	}))
	list, _ = s.List(ctx)
	assert.Len(t, list, 2)
}
