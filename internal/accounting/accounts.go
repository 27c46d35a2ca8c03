package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
)

// AccountStore is the chart of accounts surface consumed by AccountResolver.
type AccountStore interface {
	FindAccountByCode(ctx context.Context, companyID int64, code string) (Account, error)
	InsertAccountIfAbsent(ctx context.Context, companyID int64, spec ControlAccount) (Account, bool, error)
}

// AccountResolver finds or provisions well-known control accounts.
type AccountResolver struct {
	store  AccountStore
	logger *slog.Logger
	group  singleflight.Group
}

// NewAccountResolver constructs an AccountResolver.
func NewAccountResolver(store AccountStore, logger *slog.Logger) *AccountResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountResolver{store: store, logger: logger}
}

// FindOrCreate returns the live account with spec.Code, creating it when absent. Concurrent
// callers converge on a single row: in-process through singleflight, across processes through
// the partial unique index on (company_id, code). Failures wrap ErrAccountProvisioning.
func (r *AccountResolver) FindOrCreate(ctx context.Context, companyID int64, spec ControlAccount) (Account, error) {
	if companyID == 0 || strings.TrimSpace(spec.Code) == "" {
		return Account{}, fmt.Errorf("%w: company and code required", ErrAccountProvisioning)
	}
	key := fmt.Sprintf("%d:%s", companyID, spec.Code)
	// The shared call outlives any single caller's cancellation; each caller
	// stops waiting on its own ctx.
	shared := context.WithoutCancel(ctx)
	resultChan := r.group.DoChan(key, func() (interface{}, error) {
		return r.findOrCreate(shared, companyID, spec)
	})
	select {
	case <-ctx.Done():
		return Account{}, fmt.Errorf("%w: %s: %w", ErrAccountProvisioning, spec.Code, ctx.Err())
	case res := <-resultChan:
		if res.Err != nil {
			return Account{}, res.Err
		}
		return res.Val.(Account), nil
	}
}

func (r *AccountResolver) findOrCreate(ctx context.Context, companyID int64, spec ControlAccount) (Account, error) {
	account, err := r.store.FindAccountByCode(ctx, companyID, spec.Code)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, fmt.Errorf("%w: lookup %s: %v", ErrAccountProvisioning, spec.Code, err)
	}
	nature := spec.Nature
	if nature == "" {
		nature = AccountNaturePassive
	}
	account, created, err := r.store.InsertAccountIfAbsent(ctx, companyID, ControlAccount{Code: spec.Code, Name: spec.Name, Nature: nature})
	if err != nil {
		return Account{}, fmt.Errorf("%w: create %s: %v", ErrAccountProvisioning, spec.Code, err)
	}
	if created {
		r.logger.Info("control account provisioned",
			slog.Int64("company_id", companyID),
			slog.String("code", spec.Code),
			slog.Int64("account_id", account.ID))
	}
	return account, nil
}
