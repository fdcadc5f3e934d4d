package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/swim-ledger/charges"
	"github.com/warp/swim-ledger/directory"
	"github.com/warp/swim-ledger/idempotency"
	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/ledger/store"
	"github.com/warp/swim-ledger/logger"
	"github.com/warp/swim-ledger/metrics"
)

var testNow = time.Date(2025, time.May, 20, 15, 4, 5, 0, time.Local)

type fakeIdempotencyStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{data: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", idempotency.ErrMiss
	}
	return v, nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeIdempotencyStore) Key(scope, id string) string { return scope + ":" + id }

type testServer struct {
	router http.Handler
	svc    *charges.Service
	h      *Handler
	idem   *fakeIdempotencyStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, err := charges.NewService(store.NewTxMemory(), charges.Options{
		Now: func() time.Time { return testNow },
	})
	require.NoError(t, err)

	h := NewHandler(svc, directory.Default(), logger.Nop())
	idem := newFakeIdempotencyStore()
	router := NewRouter(h, RouterOptions{
		Idempotency: idem,
		Gatherer:    prometheus.NewRegistry(),
	})
	return &testServer{router: router, svc: svc, h: h, idem: idem}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeCharge(t *testing.T, rec *httptest.ResponseRecorder) ChargeDTO {
	t.Helper()
	var dto ChargeDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto), rec.Body.String())
	return dto
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (APIError, []FieldErrorDTO) {
	t.Helper()
	var resp struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details []FieldErrorDTO `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return APIError{Code: resp.Error.Code, Message: resp.Error.Message}, resp.Error.Details
}

// =============================================================================
// CHARGES
// =============================================================================

func TestCreateAndPayInFull(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: a new RM120.00 charge
	rec := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"120.00","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeCharge(t, rec)
	assert.Equal(t, "chg_001", created.ID)
	assert.Equal(t, "/api/charges/chg_001", rec.Header().Get("Location"))
	assert.Equal(t, "Ali bin Ahmad", created.StudentName)
	assert.Equal(t, "unpaid", created.Status)
	assert.Equal(t, json.Number("120.00"), created.Outstanding)
	require.Len(t, created.PaymentHistory, 1)
	assert.Equal(t, "initial", created.PaymentHistory[0].PaymentType)

	// WHEN: 30 then 90 are paid
	rec = ts.do(t, http.MethodPost, "/api/charges/chg_001/payments", `{"amount":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	partial := decodeCharge(t, rec)
	assert.Equal(t, "partial", partial.Status)
	assert.Equal(t, json.Number("90.00"), partial.Outstanding)

	rec = ts.do(t, http.MethodPatch, "/api/charges/chg_001", `{"new_payment":"90","payment_date":"2025-05-10"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the charge is paid and the history has three entries
	paid := decodeCharge(t, rec)
	assert.Equal(t, "paid", paid.Status)
	assert.Equal(t, json.Number("120.00"), paid.PaidAmount)
	assert.Equal(t, json.Number("0.00"), paid.Outstanding)
	require.Len(t, paid.PaymentHistory, 3)
	last := paid.PaymentHistory[2]
	assert.Equal(t, "full", last.PaymentType)
	assert.Equal(t, "Final payment received - fully paid", last.Notes)
	assert.True(t, strings.HasPrefix(last.Date, "2025-05-10 "), last.Date)

	rec = ts.do(t, http.MethodGet, "/api/charges/chg_001/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []PaymentHistoryEntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 3)
}

func TestCreateCharge_RawJSONNumbers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":80.5,"paid_amount":80.50,"student_id":"stu_102","date_charged":"2025-05-01"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeCharge(t, rec)
	assert.Equal(t, json.Number("80.50"), c.ChargeAmount)
	assert.Equal(t, "paid", c.Status)
	assert.Contains(t, rec.Body.String(), `"charge_amount":80.50`)
}

func TestCreateCharge_ValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	// WHEN: a negative amount is submitted
	rec := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"-10","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`)

	// THEN: 422 with the field error and nothing stored
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	apiErr, details := decodeError(t, rec)
	assert.Equal(t, string(CodeValidation), apiErr.Code)
	require.Len(t, details, 1)
	assert.Equal(t, "charge_amount", details[0].Field)
	assert.Equal(t, "NonPositiveAmount", details[0].Kind)

	list, err := ts.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecordPayment_Overpayment(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"120.00","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/charges/chg_001/payments", `{"amount":"150"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	_, details := decodeError(t, rec)
	require.Len(t, details, 1)
	assert.Equal(t, "ExceedsOutstanding", details[0].Kind)
	assert.Equal(t, "Payment cannot exceed outstanding balance of RM120.00", details[0].Message)
}

func TestDeleteCharge(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"50","paid_amount":"0","student_id":"stu_103","date_charged":"2025-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: the charge is deleted
	rec = ts.do(t, http.MethodDelete, "/api/charges/chg_001", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: it is gone and a second delete is a 404
	rec = ts.do(t, http.MethodGet, "/api/charges/chg_001", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	apiErr, _ := decodeError(t, rec)
	assert.Equal(t, string(CodeNotFound), apiErr.Code)

	rec = ts.do(t, http.MethodDelete, "/api/charges/chg_001", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: the next charge does not reuse the id
	rec = ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"60","paid_amount":"0","student_id":"stu_103","date_charged":"2025-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "chg_002", decodeCharge(t, rec).ID)
}

func TestDecodeFailures(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"charge_amount":"1","extra":true}`},
		{"malformed json", `{"charge_amount":`},
		{"amount is an object", `{"charge_amount":{"v":1}}`},
		{"two objects", `{"charge_amount":"1"}{"charge_amount":"2"}`},
		{"student id too long", `{"student_id":"` + strings.Repeat("x", 65) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/charges", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			apiErr, _ := decodeError(t, rec)
			assert.Equal(t, string(CodeBadRequest), apiErr.Code)
		})
	}
}

func TestAmendCharge_NoChange(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"100","paid_amount":"0","student_id":"stu_105","date_charged":"2025-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/charges/chg_001", `{}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeCharge(t, rec).PaymentHistory, 1)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestIdempotency_ReplaysResponse(t *testing.T) {
	ts := newTestServer(t)
	body := `{"charge_amount":"120","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`

	// GIVEN: a create with an idempotency key
	first := ts.do(t, http.MethodPost, "/api/charges", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)

	// WHEN: the client retries with the same key and body
	second := ts.do(t, http.MethodPost, "/api/charges", body, "Idempotency-Key", "abc")

	// THEN: the stored response is replayed and only one charge exists
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	list, err := ts.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// AND: reusing the key for a different body is a conflict
	conflict := ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"99","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`,
		"Idempotency-Key", "abc")
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestIdempotency_WithoutKey(t *testing.T) {
	ts := newTestServer(t)
	body := `{"charge_amount":"120","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/charges", body).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/charges", body).Code)

	list, err := ts.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Empty(t, ts.idem.data)
}

func TestIdempotency_ScopedByPath(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/charges",
			`{"charge_amount":"100","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// The same key on two different charges records two payments.
	rec := ts.do(t, http.MethodPost, "/api/charges/chg_001/payments", `{"amount":"10"}`, "Idempotency-Key", "k")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/charges/chg_002/payments", `{"amount":"10"}`, "Idempotency-Key", "k")
	require.Equal(t, http.StatusOK, rec.Code)

	// A retried payment is not applied twice.
	rec = ts.do(t, http.MethodPost, "/api/charges/chg_001/payments", `{"amount":"10"}`, "Idempotency-Key", "k")
	require.Equal(t, http.StatusOK, rec.Code)

	c, err := ts.svc.Get(context.Background(), "chg_001")
	require.NoError(t, err)
	assert.Equal(t, "10.00", c.PaidAmount.StringFixed(2))
}

// =============================================================================
// DIRECTORY, SUMMARY, DEMO
// =============================================================================

func TestStudents(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/students", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var students []StudentDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &students))
	assert.Len(t, students, 10)

	rec = ts.do(t, http.MethodGet, "/api/students/stu_104", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var s StudentDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "stu_104 (Raj Kumar)", s.Display)

	rec = ts.do(t, http.MethodGet, "/api/students/stu_999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadDemoAndSummary(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/demo/load", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"loaded":5}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary SummaryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 5, summary.Count)
	assert.Equal(t, json.Number("640.50"), summary.TotalCharged)
	assert.Equal(t, json.Number("420.50"), summary.TotalPaid)
	assert.Equal(t, json.Number("220.00"), summary.TotalOutstanding)
	assert.Equal(t, map[string]int{"unpaid": 1, "partial": 1, "paid": 3}, summary.ByStatus)

	rec = ts.do(t, http.MethodGet, "/api/charges/chg_003/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []PaymentHistoryEntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 3)
	assert.Equal(t, "2025-01-15 16:45:00", history[1].Date)
	assert.Equal(t, "Payment received - RM120.00 remaining", history[1].Notes)

	// New charges continue after the demo ids.
	rec = ts.do(t, http.MethodPost, "/api/charges",
		`{"charge_amount":"10","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "chg_006", decodeCharge(t, rec).ID)
}

func TestDemoCharges_SatisfyInvariants(t *testing.T) {
	demo := DemoCharges()

	require.Len(t, demo, 5)
	for _, c := range demo {
		assert.NoError(t, ledger.CheckInvariants(c), c.ID)
		last := c.PaymentHistory[len(c.PaymentHistory)-1]
		assert.True(t, last.OutstandingAfter.Equal(c.Outstanding()), c.ID)
	}

	// Each call returns an independent copy.
	demo[0].PaymentHistory[0].Notes = "changed"
	assert.Equal(t, "Charge created", DemoCharges()[0].PaymentHistory[0].Notes)
}

// =============================================================================
// HEALTH, REQUEST ID, ROUTING
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.h.Checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	ts.h.Checks["store"] = func(context.Context) error { return nil }

	rec = ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis: connection refused")
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/charges", "", "X-Request-Id", "req-42")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/charges", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	svc, err := charges.NewService(store.NewMemory(), charges.Options{
		Now:     func() time.Time { return testNow },
		Metrics: m,
	})
	require.NoError(t, err)
	router := NewRouter(NewHandler(svc, nil, nil), RouterOptions{Gatherer: reg})

	req := httptest.NewRequest(http.MethodPost, "/api/charges",
		strings.NewReader(`{"charge_amount":"10","paid_amount":"0","student_id":"stu_101","date_charged":"2025-05-01"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ledger_commands_total{operation="create",path="none"} 1`)
}

// =============================================================================
// REPORTER
// =============================================================================

func TestBalanceReporter_Refresh(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	svc, err := charges.NewService(store.NewTxMemory(), charges.Options{})
	require.NoError(t, err)
	require.NoError(t, svc.Load(ctx, DemoCharges()))

	reporter := NewBalanceReporter(svc, m, nil)

	// WHEN: the reporter refreshes
	require.NoError(t, reporter.Refresh(ctx))

	// THEN: the gauges carry the ledger totals
	expected := `
# HELP ledger_outstanding_amount Sum of unpaid balances across all charges.
# TYPE ledger_outstanding_amount gauge
ledger_outstanding_amount 220
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ledger_outstanding_amount"))

	// AND: failing checks are all reported
	reporter.Checks["redis"] = func(context.Context) error { return errors.New("down") }
	reporter.Checks["store"] = func(context.Context) error { return errors.New("locked") }
	err = reporter.Refresh(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: down")
	assert.Contains(t, err.Error(), "store: locked")
}

func TestBalanceReporter_StartStop(t *testing.T) {
	svc, err := charges.NewService(store.NewMemory(), charges.Options{})
	require.NoError(t, err)

	reporter := NewBalanceReporter(svc, nil, nil)
	reporter.Interval = 10 * time.Millisecond
	reporter.Start()
	reporter.Start()
	time.Sleep(25 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	disabled := NewBalanceReporter(svc, nil, nil)
	disabled.Interval = 0
	disabled.Start()
	disabled.Stop()
}
