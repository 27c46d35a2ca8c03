package closing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
)

func balance(id int64, code, debit, credit string) accounting.AccountBalance {
	return accounting.AccountBalance{AccountID: id, Code: code, Debit: amt(debit), Credit: amt(credit)}
}

func TestBuildClassCloseDropsSubCentAdjustments(t *testing.T) {
	plan := BuildClassClose([]accounting.AccountBalance{
		balance(1, "601", "0", "1000"),
		balance(2, "602", "0", "0.004"),
	}, accounting.SideCredit, 99, "Revenue close")

	require.Len(t, plan.Lines, 2)
	for _, l := range plan.Lines {
		assert.NotEqual(t, int64(2), l.AccountID)
	}
	assert.Equal(t, 1, plan.AccountsCount)
	assert.Equal(t, "1000.00", plan.TotalAmount.StringFixed(2))
	assert.True(t, plan.Balanced())
}

func TestBuildClassCloseNothingToDo(t *testing.T) {
	plan := BuildClassClose([]accounting.AccountBalance{
		balance(1, "601", "100", "100.004"),
	}, accounting.SideCredit, 99, "Revenue close")
	assert.True(t, plan.Empty())
	assert.Zero(t, plan.AccountsCount)
	assert.True(t, plan.TotalAmount.IsZero())

	assert.True(t, BuildClassClose(nil, accounting.SideDebit, 99, "").Empty())
}

func TestBuildClassCloseExpenseDirection(t *testing.T) {
	plan := BuildClassClose([]accounting.AccountBalance{
		balance(1, "501", "400", "0"),
		balance(2, "512", "50.255", "0"),
	}, accounting.SideDebit, 99, "Expense close")

	require.Len(t, plan.Lines, 3)
	assert.Equal(t, accounting.SideCredit, plan.Lines[0].Side)
	assert.Equal(t, "50.26", plan.Lines[1].Amount.StringFixed(2))
	control := plan.Lines[2]
	assert.Equal(t, int64(99), control.AccountID)
	assert.Equal(t, accounting.SideDebit, control.Side)
	assert.Equal(t, "450.26", control.Amount.StringFixed(2))
	assert.Equal(t, "Expense close 501", plan.Lines[0].Description)
	assert.True(t, plan.Balanced())
}

func TestBuildClassCloseNetAbnormalFlipsControlSide(t *testing.T) {
	plan := BuildClassClose([]accounting.AccountBalance{
		balance(1, "601", "0", "100"),
		balance(2, "603", "250", "0"),
	}, accounting.SideCredit, 99, "")

	require.Len(t, plan.Lines, 3)
	assert.Equal(t, accounting.SideDebit, plan.Lines[0].Side)
	assert.Equal(t, accounting.SideCredit, plan.Lines[1].Side)
	assert.Equal(t, accounting.SideDebit, plan.Lines[2].Side)
	assert.Equal(t, "150.00", plan.Lines[2].Amount.StringFixed(2))
	assert.Equal(t, "150.00", plan.TotalAmount.StringFixed(2))
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, int64(2), plan.Warnings[0].AccountID)
	assert.True(t, plan.Balanced())
}

func TestBuildClassCloseOffsettingAccountsOmitControlLine(t *testing.T) {
	plan := BuildClassClose([]accounting.AccountBalance{
		balance(1, "601", "0", "100"),
		balance(2, "603", "100", "0"),
	}, accounting.SideCredit, 99, "")

	require.Len(t, plan.Lines, 2)
	assert.True(t, plan.TotalAmount.IsZero())
	assert.True(t, plan.Balanced())
}

func TestBuildProfitLossClose(t *testing.T) {
	profit := BuildProfitLossClose(balance(7, "710", "400", "1000"), 7, 8, "P&L")
	require.Len(t, profit.Lines, 2)
	assert.Equal(t, int64(7), profit.Lines[0].AccountID)
	assert.Equal(t, accounting.SideDebit, profit.Lines[0].Side)
	assert.True(t, profit.Lines[0].Amount.Equal(amt("600")))
	assert.Equal(t, "P&L", profit.Lines[0].Description)
	assert.Equal(t, accounting.SideCredit, profit.Lines[1].Side)
	assert.Equal(t, int64(8), profit.Lines[1].AccountID)
	assert.Equal(t, 1, profit.AccountsCount)

	loss := BuildProfitLossClose(balance(7, "710", "1000", "400"), 7, 8, "P&L")
	assert.Equal(t, accounting.SideCredit, loss.Lines[0].Side)
	assert.Equal(t, accounting.SideDebit, loss.Lines[1].Side)
	assert.Equal(t, "600.00", loss.TotalAmount.StringFixed(2))

	flat := BuildProfitLossClose(balance(7, "710", "500", "500.003"), 7, 8, "P&L")
	assert.True(t, flat.Empty())
	assert.Zero(t, flat.AccountsCount)
}

func TestBuildOpeningBalanceUsesTwoCounterPostings(t *testing.T) {
	plan := BuildOpeningBalance([]accounting.AccountBalance{
		balance(1, "022", "800", "0"),
		balance(2, "241", "600", "100"),
		balance(3, "300", "0", "1000"),
		balance(4, "435", "50", "350"),
		balance(5, "436", "10", "10.004"),
	}, 70, "Opening")

	require.Len(t, plan.Lines, 6)
	assert.Equal(t, 4, plan.AccountsCount)
	var control []accounting.LineInput
	for _, l := range plan.Lines {
		if l.AccountID == 70 {
			control = append(control, l)
		}
	}
	require.Len(t, control, 2)
	assert.Equal(t, accounting.SideCredit, control[0].Side)
	assert.Equal(t, "1300.00", control[0].Amount.StringFixed(2))
	assert.Equal(t, accounting.SideDebit, control[1].Side)
	assert.Equal(t, "1300.00", control[1].Amount.StringFixed(2))
	assert.Equal(t, "2600.00", plan.TotalAmount.StringFixed(2))
	assert.True(t, plan.Balanced())
}

func TestBuildOpeningBalanceOmitsEmptySide(t *testing.T) {
	plan := BuildOpeningBalance([]accounting.AccountBalance{
		balance(1, "241", "100", "0"),
	}, 70, "Opening")
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, accounting.SideCredit, plan.Lines[1].Side)
	assert.Equal(t, "100.00", plan.TotalAmount.StringFixed(2))

	assert.True(t, BuildOpeningBalance(nil, 70, "").Empty())
}
