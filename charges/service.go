/*
Package charges is the command surface of the ledger.

PURPOSE:
  Service turns operator input into committed charges. Every mutation runs
  the same pipeline:

    validate (validation) -> transition (ledger engine) -> check invariants -> write (store)

  A failure at any step returns before the write, so a rejected command
  leaves the store exactly as it was.

CONCURRENCY:
  Mutating commands are serialized by a mutex. Reads go straight to the
  store. An optional commit delay simulates a storage round-trip before the
  write and observes ctx: a cancelled command never mutates.

SEE ALSO:
  - validation/validation.go: Input rules
  - ledger/engine.go: Transitions
  - ledger/store.go: Persistence contract
*/
package charges

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/logger"
	"github.com/warp/swim-ledger/metrics"
	"github.com/warp/swim-ledger/validation"
)

// Options configures a Service. Zero values are usable.
type Options struct {
	// CommitDelay is waited before each write.
	CommitDelay time.Duration
	// Now is the clock; defaults to time.Now.
	Now     func() time.Time
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
}

type Service struct {
	store       ledger.Store
	mu          sync.Mutex
	now         func() time.Time
	commitDelay time.Duration
	log         *logger.Logger
	metrics     *metrics.LedgerMetrics
}

func NewService(store ledger.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("charges: store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Service{
		store:       store,
		now:         opts.Now,
		commitDelay: opts.CommitDelay,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// List returns every charge in creation order.
func (s *Service) List(ctx context.Context) ([]ledger.Charge, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id ledger.ChargeID) (ledger.Charge, error) {
	return s.store.Get(ctx, id)
}

// History returns the payment history of one charge, oldest first.
func (s *Service) History(ctx context.Context, id ledger.ChargeID) ([]ledger.PaymentHistoryEntry, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.History(), nil
}

func (s *Service) Summary(ctx context.Context) (ledger.Summary, error) {
	list, err := s.List(ctx)
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summarize(list), nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// Create validates the input and appends a new charge with a fresh id.
func (s *Service) Create(ctx context.Context, in validation.NewChargeInput) (ledger.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	parsed, errs := validation.ValidateNewCharge(in, ledger.DateOf(now))
	if len(errs) > 0 {
		s.metrics.IncValidationFailure("create")
		return ledger.Charge{}, errs
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return ledger.Charge{}, fmt.Errorf("list charges: %w", err)
	}
	highWater, err := s.store.LastIssuedNumber(ctx)
	if err != nil {
		return ledger.Charge{}, fmt.Errorf("read id high-water: %w", err)
	}

	id := ledger.NextChargeID(existing, highWater)
	c := ledger.CreateCharge(id, parsed.ChargeAmount, parsed.PaidAmount, parsed.StudentID, parsed.DateCharged, now)
	if err := ledger.CheckInvariants(c); err != nil {
		return ledger.Charge{}, err
	}

	if err := s.wait(ctx); err != nil {
		return ledger.Charge{}, err
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return ledger.Charge{}, fmt.Errorf("insert charge %s: %w", id, err)
	}

	s.metrics.IncCommand("create", "")
	s.metrics.AddPayment(c.PaidAmount)
	s.logCommitted(ctx, "charge.created", c, "")
	return c, nil
}

// Amend applies an edit to an existing charge. An edit that changes
// nothing is not written.
func (s *Service) Amend(ctx context.Context, id ledger.ChargeID, in validation.AmendmentInput) (ledger.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amendLocked(ctx, "amend", id, in)
}

// RecordPayment is Amend with only an incremental payment.
func (s *Service) RecordPayment(ctx context.Context, id ledger.ChargeID, amount, paymentDate string) (ledger.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amendLocked(ctx, "payment", id, validation.AmendmentInput{
		NewPayment:  amount,
		PaymentDate: paymentDate,
	})
}

func (s *Service) amendLocked(ctx context.Context, op string, id ledger.ChargeID, in validation.AmendmentInput) (ledger.Charge, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return ledger.Charge{}, err
	}

	now := s.now()
	change, errs := validation.ValidateAmendment(in, current, ledger.DateOf(now))
	if len(errs) > 0 {
		s.metrics.IncValidationFailure(op)
		return ledger.Charge{}, errs
	}

	next, path := ledger.Amend(current, change, now)
	if path == ledger.PathNone {
		return current, nil
	}
	if err := ledger.CheckInvariants(next); err != nil {
		return ledger.Charge{}, err
	}

	if err := s.wait(ctx); err != nil {
		return ledger.Charge{}, err
	}
	if err := s.store.Update(ctx, next); err != nil {
		return ledger.Charge{}, fmt.Errorf("update charge %s: %w", id, err)
	}

	s.metrics.IncCommand(op, string(path))
	if path == ledger.PathPayment {
		s.metrics.AddPayment(next.PaidAmount.Sub(current.PaidAmount))
	}
	s.logCommitted(ctx, "charge.amended", next, path)
	return next, nil
}

// Remove deletes a charge and its history. The id is never issued again.
func (s *Service) Remove(ctx context.Context, id ledger.ChargeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete charge %s: %w", id, err)
	}

	s.metrics.IncCommand("remove", "")
	s.log.Info(s.log.WithField(ctx, "charge_id", id), "charge.removed")
	return nil
}

// Load replaces the whole ledger with charges. Each one must satisfy the
// ledger invariants. With a transactional store the swap is atomic.
func (s *Service) Load(ctx context.Context, charges []ledger.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range charges {
		if err := ledger.CheckInvariants(c); err != nil {
			return err
		}
	}

	load := func(st ledger.Store) error {
		if err := st.Reset(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
		for _, c := range charges {
			if err := st.Insert(ctx, c); err != nil {
				return fmt.Errorf("insert charge %s: %w", c.ID, err)
			}
		}
		return nil
	}

	var err error
	if tx, ok := s.store.(ledger.TxStore); ok {
		err = tx.WithTx(ctx, load)
	} else {
		err = load(s.store)
	}
	if err != nil {
		return err
	}

	s.metrics.IncCommand("load", "")
	s.log.Info(s.log.WithField(ctx, "charges", len(charges)), "ledger.loaded")
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// wait holds the command for the commit delay, or until ctx is done.
func (s *Service) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.commitDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.commitDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) logCommitted(ctx context.Context, msg string, c ledger.Charge, path ledger.AmendPath) {
	fields := map[string]any{
		"charge_id":   c.ID,
		"student_id":  c.StudentID,
		"paid":        c.PaidAmount.StringFixed(ledger.AmountPlaces),
		"outstanding": c.Outstanding().StringFixed(ledger.AmountPlaces),
		"status":      c.Status(),
	}
	if path != "" {
		fields["path"] = path
	}
	s.log.Info(s.log.WithFields(ctx, fields), msg)
}
