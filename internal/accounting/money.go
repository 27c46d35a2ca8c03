package accounting

import "github.com/shopspring/decimal"

// Tolerance is the smallest amount the ledger distinguishes from zero.
var Tolerance = decimal.RequireFromString("0.01")

// Round2 rounds half away from zero to two decimals.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Negligible reports whether |v| is below Tolerance.
func Negligible(v decimal.Decimal) bool {
	return v.Abs().LessThan(Tolerance)
}

// WithinTolerance reports whether a and b differ by less than Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return Negligible(a.Sub(b))
}

// Totals sums line amounts per side.
func Totals(lines []LineInput) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		switch line.Side {
		case SideDebit:
			debit = debit.Add(line.Amount)
		case SideCredit:
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}
