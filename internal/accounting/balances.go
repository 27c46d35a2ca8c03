package accounting

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"
)

var prefixPattern = regexp.MustCompile(`^[0-9][0-9.]*$`)

// BalanceStore is the read side consumed by BalanceReader.
type BalanceStore interface {
	ListAccountsByPrefix(ctx context.Context, companyID int64, prefix string) ([]Account, error)
	SumPostedLines(ctx context.Context, companyID int64, accountIDs []int64, from, to time.Time) ([]LineTotals, error)
}

// BalanceReader aggregates posted journal lines into per-account balances.
// It never caches: every call re-reads the store.
type BalanceReader struct {
	store BalanceStore
}

// NewBalanceReader constructs a BalanceReader.
func NewBalanceReader(store BalanceStore) *BalanceReader {
	return &BalanceReader{store: store}
}

// AccountBalances returns debit/credit totals for every live account whose code starts with
// prefix and that has posted activity between from and to inclusive. A nil slice with a nil
// error means no activity; read failures are returned wrapped in ErrBalanceRead.
func (r *BalanceReader) AccountBalances(ctx context.Context, companyID int64, from, to time.Time, prefix string) ([]AccountBalance, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	accounts, err := r.store.ListAccountsByPrefix(ctx, companyID, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts %s: %v", ErrBalanceRead, prefix, err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	totals, err := r.store.SumPostedLines(ctx, companyID, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: sum lines %s: %v", ErrBalanceRead, prefix, err)
	}
	byAccount := make(map[int64]LineTotals, len(totals))
	for _, t := range totals {
		byAccount[t.AccountID] = t
	}

	var balances []AccountBalance
	for _, a := range accounts {
		t, ok := byAccount[a.ID]
		if !ok || (t.Debit.IsZero() && t.Credit.IsZero()) {
			continue
		}
		balances = append(balances, AccountBalance{
			AccountID: a.ID,
			Code:      a.Code,
			Name:      a.Name,
			Nature:    a.Nature,
			Debit:     t.Debit,
			Credit:    t.Credit,
		})
	}
	return balances, nil
}

// ClassBalances aggregates several prefixes concurrently and concatenates the results in
// prefix order. Accounts matched by more than one prefix are reported once.
func (r *BalanceReader) ClassBalances(ctx context.Context, companyID int64, from, to time.Time, prefixes ...string) ([]AccountBalance, error) {
	results := make([][]AccountBalance, len(prefixes))
	g, gctx := errgroup.WithContext(ctx)
	for i, prefix := range prefixes {
		g.Go(func() error {
			rows, err := r.AccountBalances(gctx, companyID, from, to, prefix)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	var out []AccountBalance
	for _, rows := range results {
		for _, b := range rows {
			if _, dup := seen[b.AccountID]; dup {
				continue
			}
			seen[b.AccountID] = struct{}{}
			out = append(out, b)
		}
	}
	return out, nil
}
