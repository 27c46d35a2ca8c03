package closing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
)

// Plan is the set of journal lines a closing step will post.
type Plan struct {
	Lines         []accounting.LineInput
	AccountsCount int
	TotalAmount   decimal.Decimal
	Warnings      []Warning
}

// Empty reports whether the plan has nothing to post.
func (p Plan) Empty() bool {
	return len(p.Lines) == 0
}

// Balanced reports whether total debit equals total credit within tolerance.
func (p Plan) Balanced() bool {
	debit, credit := accounting.Totals(p.Lines)
	return accounting.WithinTolerance(debit, credit)
}

// BuildClassClose zeroes every account in balances against controlID. normal is the side the
// class normally carries: CREDIT for revenue, DEBIT for expenses. Accounts carrying the
// other side are still closed and reported as warnings.
func BuildClassClose(balances []accounting.AccountBalance, normal accounting.Side, controlID int64, memo string) Plan {
	plan := Plan{TotalAmount: decimal.Zero}
	net := decimal.Zero
	for _, b := range balances {
		excess := b.Credit.Sub(b.Debit)
		if normal == accounting.SideDebit {
			excess = b.Debit.Sub(b.Credit)
		}
		excess = accounting.Round2(excess)
		if accounting.Negligible(excess) {
			continue
		}
		side := normal.Opposite()
		if excess.IsNegative() {
			side = normal
			plan.Warnings = append(plan.Warnings, Warning{
				AccountID: b.AccountID,
				Code:      b.Code,
				Message:   fmt.Sprintf("account %s carries a %s balance", b.Code, normal.Opposite()),
				Amount:    excess.Abs(),
			})
		}
		plan.Lines = append(plan.Lines, accounting.LineInput{
			AccountID:   b.AccountID,
			Side:        side,
			Amount:      excess.Abs(),
			Description: lineMemo(memo, b.Code),
		})
		plan.AccountsCount++
		net = net.Add(excess)
	}
	if plan.Empty() {
		return plan
	}
	if !accounting.Negligible(net) {
		side := normal
		if net.IsNegative() {
			side = normal.Opposite()
		}
		plan.Lines = append(plan.Lines, accounting.LineInput{
			AccountID:   controlID,
			Side:        side,
			Amount:      net.Abs(),
			Description: memo,
		})
	}
	plan.TotalAmount = net.Abs()
	return plan
}

// BuildProfitLossClose transfers the period result held on the profit and loss account
// to the closing balance account. A profit (credit-heavy) debits plID, a loss credits it.
func BuildProfitLossClose(control accounting.AccountBalance, plID, closingID int64, memo string) Plan {
	plan := Plan{TotalAmount: decimal.Zero}
	result := accounting.Round2(control.Credit.Sub(control.Debit))
	if accounting.Negligible(result) {
		return plan
	}
	amount := result.Abs()
	plSide, closingSide := accounting.SideDebit, accounting.SideCredit
	if result.IsNegative() {
		plSide, closingSide = closingSide, plSide
	}
	plan.Lines = []accounting.LineInput{
		{AccountID: plID, Side: plSide, Amount: amount, Description: memo},
		{AccountID: closingID, Side: closingSide, Amount: amount, Description: memo},
	}
	plan.AccountsCount = 1
	plan.TotalAmount = amount
	return plan
}

// BuildOpeningBalance carries balance sheet accounts forward. Debit-heavy accounts are debited
// and credit-heavy accounts credited; openingID takes one credit for the former and one debit
// for the latter.
func BuildOpeningBalance(balances []accounting.AccountBalance, openingID int64, memo string) Plan {
	plan := Plan{TotalAmount: decimal.Zero}
	debits, credits := decimal.Zero, decimal.Zero
	for _, b := range balances {
		net := accounting.Round2(b.Net())
		if accounting.Negligible(net) {
			continue
		}
		side := accounting.SideDebit
		if net.IsNegative() {
			side = accounting.SideCredit
			credits = credits.Add(net.Abs())
		} else {
			debits = debits.Add(net)
		}
		plan.Lines = append(plan.Lines, accounting.LineInput{
			AccountID:   b.AccountID,
			Side:        side,
			Amount:      net.Abs(),
			Description: lineMemo(memo, b.Code),
		})
		plan.AccountsCount++
	}
	if plan.Empty() {
		return plan
	}
	if debits.IsPositive() {
		plan.Lines = append(plan.Lines, accounting.LineInput{
			AccountID: openingID, Side: accounting.SideCredit, Amount: debits, Description: memo,
		})
	}
	if credits.IsPositive() {
		plan.Lines = append(plan.Lines, accounting.LineInput{
			AccountID: openingID, Side: accounting.SideDebit, Amount: credits, Description: memo,
		})
	}
	plan.TotalAmount = debits.Add(credits)
	return plan
}

func lineMemo(memo, code string) string {
	if memo == "" {
		return code
	}
	return memo + " " + code
}
