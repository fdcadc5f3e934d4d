package ledger

import "github.com/shopspring/decimal"

// Summary aggregates a set of charges.
type Summary struct {
	Count            int
	TotalCharged     decimal.Decimal
	TotalPaid        decimal.Decimal
	TotalOutstanding decimal.Decimal
	ByStatus         map[Status]int
}

// Summarize totals charges and counts them by status.
func Summarize(charges []Charge) Summary {
	s := Summary{
		TotalCharged:     decimal.Zero,
		TotalPaid:        decimal.Zero,
		TotalOutstanding: decimal.Zero,
		ByStatus: map[Status]int{
			StatusUnpaid:  0,
			StatusPartial: 0,
			StatusPaid:    0,
		},
	}
	for _, c := range charges {
		s.Count++
		s.TotalCharged = s.TotalCharged.Add(c.ChargeAmount)
		s.TotalPaid = s.TotalPaid.Add(c.PaidAmount)
		s.TotalOutstanding = s.TotalOutstanding.Add(c.Outstanding())
		s.ByStatus[c.Status()]++
	}
	return s
}
