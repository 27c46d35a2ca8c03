package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	"github.com/odyssey-erp/odyssey-close/internal/closing"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// ClosingStack bundles the ledger and closing components shared by the API,
// the worker and closectl.
type ClosingStack struct {
	Ledger      *accounting.Repository
	Runs        *closing.Repository
	Service     *closing.Service
	Idempotency *shared.IdempotencyStore
	Policy      closing.Policy
}

// LoadClosingPolicy reads the policy file named by the config and applies the
// currency override.
func LoadClosingPolicy(cfg *Config) (closing.Policy, error) {
	path := ""
	if cfg != nil {
		path = cfg.ClosingPolicyFile
	}
	policy, err := closing.LoadPolicy(path)
	if err != nil {
		return closing.Policy{}, err
	}
	if cfg != nil && strings.TrimSpace(cfg.ClosingCurrency) != "" {
		policy.Currency = strings.ToUpper(strings.TrimSpace(cfg.ClosingCurrency))
		if err := policy.Validate(); err != nil {
			return closing.Policy{}, err
		}
	}
	return policy, nil
}

// NewClosingStack wires repositories, the Redis step lock and the closing service.
func NewClosingStack(pool *pgxpool.Pool, redisClient redis.UniversalClient, cfg *Config, logger *slog.Logger, metrics *jobmetrics.Metrics) (*ClosingStack, error) {
	if pool == nil || redisClient == nil {
		return nil, fmt.Errorf("app: closing stack requires postgres and redis")
	}
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := LoadClosingPolicy(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: closing policy: %w", err)
	}

	ledger := accounting.NewRepository(pool)
	numberer := accounting.NewSequenceNumberer(ledger, map[string]string{policy.DocumentType: policy.NumberPrefix})
	writer := accounting.NewWriter(ledger, numberer, logger)
	runs := closing.NewRepository(pool)

	opts := closing.Options{EnforceOrder: true}
	if cfg != nil {
		opts.EnforceOrder = cfg.ClosingEnforceOrder
		opts.LockTTL = cfg.ClosingLockTTL
	}
	service := closing.NewService(closing.Deps{
		Balances: accounting.NewBalanceReader(ledger),
		Accounts: accounting.NewAccountResolver(ledger, logger),
		Writer:   writer,
		Runs:     runs,
		Locker:   closing.NewRedisLocker(redisClient),
		Audit:    shared.NewAuditLogger(pool),
		Metrics:  metrics,
		Logger:   logger,
		Policy:   policy,
		Options:  opts,
	})
	return &ClosingStack{
		Ledger:      ledger,
		Runs:        runs,
		Service:     service,
		Idempotency: shared.NewIdempotencyStore(pool),
		Policy:      policy,
	}, nil
}
