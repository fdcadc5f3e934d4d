/*
demo.go - Demo ledger for walkthroughs and local development

PURPOSE:
  Five charges across four students covering every payment status:
  one unpaid, one partially paid, three paid (one in a single payment,
  two in installments). Loaded at startup when SWIMLEDGER_SEED_DEMO is
  set, or on demand via POST /api/demo/load.

SEE ALSO:
  - handlers.go: LoadDemo endpoint
  - charges/service.go: Load replaces the store contents
*/
package api

import (
	"time"

	"github.com/warp/swim-ledger/ledger"
)

type demoEntry struct {
	at          string
	paid        string
	outstanding string
	kind        ledger.PaymentType
	notes       string
}

type demoCharge struct {
	id      ledger.ChargeID
	amount  string
	paid    string
	student ledger.StudentID
	date    ledger.Date
	history []demoEntry
}

var demoLedger = []demoCharge{
	{
		id: "chg_001", amount: "120.00", paid: "0.00", student: "stu_101",
		date: ledger.NewDate(2025, time.January, 5),
		history: []demoEntry{
			{"2025-01-05 10:30:00", "0.00", "120.00", ledger.PaymentInitial, "Charge created"},
		},
	},
	{
		id: "chg_002", amount: "80.50", paid: "80.50", student: "stu_102",
		date: ledger.NewDate(2025, time.January, 7),
		history: []demoEntry{
			{"2025-01-07 09:15:00", "0.00", "80.50", ledger.PaymentInitial, "Charge created"},
			{"2025-01-07 14:20:00", "80.50", "0.00", ledger.PaymentFull, "Final payment received - fully paid"},
		},
	},
	{
		id: "chg_003", amount: "150.00", paid: "50.00", student: "stu_101",
		date: ledger.NewDate(2025, time.January, 12),
		history: []demoEntry{
			{"2025-01-12 11:00:00", "0.00", "150.00", ledger.PaymentInitial, "Charge created"},
			{"2025-01-15 16:45:00", "30.00", "120.00", ledger.PaymentPartial, "Payment received - RM120.00 remaining"},
			{"2025-01-18 10:30:00", "20.00", "100.00", ledger.PaymentPartial, "Payment received - RM100.00 remaining"},
		},
	},
	{
		id: "chg_004", amount: "90.00", paid: "90.00", student: "stu_103",
		date: ledger.NewDate(2025, time.January, 15),
		history: []demoEntry{
			{"2025-01-15 13:20:00", "0.00", "90.00", ledger.PaymentInitial, "Charge created"},
			{"2025-01-16 10:00:00", "45.00", "45.00", ledger.PaymentPartial, "Payment received - RM45.00 remaining"},
			{"2025-01-18 14:30:00", "45.00", "0.00", ledger.PaymentFull, "Final payment received - fully paid"},
		},
	},
	{
		id: "chg_005", amount: "200.00", paid: "200.00", student: "stu_104",
		date: ledger.NewDate(2025, time.January, 20),
		history: []demoEntry{
			{"2025-01-20 08:00:00", "0.00", "200.00", ledger.PaymentInitial, "Charge created"},
			{"2025-01-22 09:30:00", "100.00", "100.00", ledger.PaymentPartial, "Payment received - RM100.00 remaining"},
			{"2025-01-25 10:00:00", "100.00", "0.00", ledger.PaymentFull, "Final payment received - fully paid"},
		},
	},
}

// DemoCharges returns a fresh copy of the demo ledger. History timestamps
// are wall-clock times in the local zone.
func DemoCharges() []ledger.Charge {
	out := make([]ledger.Charge, 0, len(demoLedger))
	for _, d := range demoLedger {
		c := ledger.Charge{
			ID:           d.id,
			ChargeAmount: ledger.MustParseAmount(d.amount),
			PaidAmount:   ledger.MustParseAmount(d.paid),
			StudentID:    d.student,
			DateCharged:  d.date,
		}
		for _, e := range d.history {
			at, err := ledger.ParseTimestamp(e.at)
			if err != nil {
				panic("demo ledger: " + err.Error())
			}
			c.PaymentHistory = append(c.PaymentHistory, ledger.PaymentHistoryEntry{
				Date:             at,
				AmountPaid:       ledger.MustParseAmount(e.paid),
				OutstandingAfter: ledger.MustParseAmount(e.outstanding),
				PaymentType:      e.kind,
				Notes:            e.notes,
			})
		}
		out = append(out, c)
	}
	return out
}
