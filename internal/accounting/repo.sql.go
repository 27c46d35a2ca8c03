package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
)

// Repository persists chart of accounts and journal data in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes writes available inside a transaction.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error
}

// LineTotals holds summed posted amounts for one account.
type LineTotals struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// IntegrityIssue describes a posted entry that breaks the ledger invariants.
type IntegrityIssue struct {
	EntryID     int64
	CompanyID   int64
	Number      string
	LineCount   int
	LineDebit   decimal.Decimal
	LineCredit  decimal.Decimal
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListAccountsByPrefix returns live accounts whose code starts with prefix.
func (r *Repository) ListAccountsByPrefix(ctx context.Context, companyID int64, prefix string) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, code, name, nature, active, deleted_at, created_at, updated_at
FROM chart_of_accounts
WHERE company_id=$1 AND deleted_at IS NULL AND code LIKE $2 || '%'
ORDER BY code`, companyID, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Nature, &a.IsActive, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SumPostedLines sums posted line amounts per account and side within [from, to].
func (r *Repository) SumPostedLines(ctx context.Context, companyID int64, accountIDs []int64, from, to time.Time) ([]LineTotals, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT l.account_id,
       COALESCE(SUM(l.amount) FILTER (WHERE l.side='DEBIT'), 0)::text,
       COALESCE(SUM(l.amount) FILTER (WHERE l.side='CREDIT'), 0)::text
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.journal_entry_id
WHERE e.company_id=$1 AND l.company_id=$1 AND e.status='POSTED'
  AND e.date BETWEEN $2 AND $3
  AND l.account_id = ANY($4)
GROUP BY l.account_id`, companyID, from, to, accountIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var totals []LineTotals
	for rows.Next() {
		var (
			t             LineTotals
			debit, credit string
		)
		if err := rows.Scan(&t.AccountID, &debit, &credit); err != nil {
			return nil, err
		}
		if t.Debit, err = parseAmount("debit total", debit); err != nil {
			return nil, err
		}
		if t.Credit, err = parseAmount("credit total", credit); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// FindAccountByCode returns the live account carrying code.
func (r *Repository) FindAccountByCode(ctx context.Context, companyID int64, code string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, code, name, nature, active, deleted_at, created_at, updated_at
FROM chart_of_accounts WHERE company_id=$1 AND code=$2 AND deleted_at IS NULL`, companyID, code).
		Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Nature, &a.IsActive, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// InsertAccountIfAbsent creates the account unless a live one with the same code exists.
// The boolean reports whether this call created the row.
func (r *Repository) InsertAccountIfAbsent(ctx context.Context, companyID int64, spec ControlAccount) (Account, bool, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `INSERT INTO chart_of_accounts (company_id, code, name, nature, active)
VALUES ($1,$2,$3,$4,TRUE)
ON CONFLICT (company_id, code) WHERE deleted_at IS NULL DO NOTHING
RETURNING id, company_id, code, name, nature, active, deleted_at, created_at, updated_at`, companyID, spec.Code, spec.Name, spec.Nature).
		Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Nature, &a.IsActive, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, err
	}
	existing, err := r.FindAccountByCode(ctx, companyID, spec.Code)
	if err != nil {
		return Account{}, false, err
	}
	return existing, false, nil
}

// NextSequence allocates the next value of the per-company document sequence.
func (r *Repository) NextSequence(ctx context.Context, companyID int64, documentType string) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `INSERT INTO document_sequences (company_id, document_type, last_value)
VALUES ($1,$2,1)
ON CONFLICT (company_id, document_type) DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`, companyID, documentType).Scan(&value)
	return value, err
}

// selectJournalEntry reads one header. Nullable columns are coalesced so entries
// posted without a source still scan.
const selectJournalEntry = `SELECT id, company_id, number, document_type, date, description, status,
       total_debit::text, total_credit::text, COALESCE(source_module, ''),
       COALESCE(source_id, '00000000-0000-0000-0000-000000000000'::uuid), created_by, posted_by, posted_at, created_at
FROM journal_entries WHERE id=$1`

// parseAmount converts a numeric column read as text.
func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("accounting: parse %s %q: %w", field, raw, err)
	}
	return d, nil
}

// GetJournalWithLines loads an entry and its lines ordered by position.
func (r *Repository) GetJournalWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	var (
		e             JournalEntry
		debit, credit string
	)
	err := r.pool.QueryRow(ctx, selectJournalEntry, entryID).
		Scan(&e.ID, &e.CompanyID, &e.Number, &e.DocumentType, &e.Date, &e.Description, &e.Status,
			&debit, &credit, &e.SourceModule, &e.SourceID, &e.CreatedBy, &e.PostedBy, &e.PostedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	if e.TotalDebit, err = parseAmount("total debit", debit); err != nil {
		return JournalEntry{}, err
	}
	if e.TotalCredit, err = parseAmount("total credit", credit); err != nil {
		return JournalEntry{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, journal_entry_id, company_id, position, account_id, side, amount::text, currency, description
FROM journal_entry_lines WHERE journal_entry_id=$1 ORDER BY position ASC`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line   JournalLine
			amount string
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.CompanyID, &line.Position, &line.AccountID, &line.Side, &amount, &line.Currency, &line.Description); err != nil {
			return JournalEntry{}, err
		}
		if line.Amount, err = parseAmount("line amount", amount); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, line)
	}
	return e, rows.Err()
}

// FindUnbalancedEntries lists posted entries whose lines do not balance, whose header totals
// disagree with their lines, or which have no lines at all.
func (r *Repository) FindUnbalancedEntries(ctx context.Context, limit int) ([]IntegrityIssue, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `WITH sums AS (
    SELECT e.id, e.company_id, e.number, e.total_debit, e.total_credit,
           COUNT(l.id) AS line_count,
           COALESCE(SUM(l.amount) FILTER (WHERE l.side='DEBIT'), 0) AS line_debit,
           COALESCE(SUM(l.amount) FILTER (WHERE l.side='CREDIT'), 0) AS line_credit
    FROM journal_entries e
    LEFT JOIN journal_entry_lines l ON l.journal_entry_id = e.id
    WHERE e.status='POSTED'
    GROUP BY e.id
)
SELECT id, company_id, number, line_count, line_debit::text, line_credit::text, total_debit::text, total_credit::text
FROM sums
WHERE line_count = 0
   OR ABS(line_debit - line_credit) >= 0.01
   OR ABS(line_debit - total_debit) >= 0.01
   OR ABS(line_credit - total_credit) >= 0.01
ORDER BY id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var issues []IntegrityIssue
	for rows.Next() {
		var (
			issue          IntegrityIssue
			ld, lc, td, tc string
		)
		if err := rows.Scan(&issue.EntryID, &issue.CompanyID, &issue.Number, &issue.LineCount, &ld, &lc, &td, &tc); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"line debit", ld, &issue.LineDebit},
			{"line credit", lc, &issue.LineCredit},
			{"total debit", td, &issue.TotalDebit},
			{"total credit", tc, &issue.TotalCredit},
		} {
			if *f.dst, err = parseAmount(f.name, f.raw); err != nil {
				return nil, err
			}
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, number, document_type, date, description, status,
    total_debit, total_credit, source_module, source_id, created_by, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at`,
		entry.CompanyID, entry.Number, entry.DocumentType, entry.Date, entry.Description, entry.Status,
		toNumeric(entry.TotalDebit), toNumeric(entry.TotalCredit), entry.SourceModule, entry.SourceID,
		entry.CreatedBy, nullIntPtr(entry.PostedBy), entry.PostedAt)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_entry_lines (company_id, journal_entry_id, position, account_id, side, amount, currency, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, line.CompanyID, entryID, line.Position, line.AccountID, line.Side, toNumeric(line.Amount), line.Currency, line.Description); err != nil {
			return fmt.Errorf("accounting: insert line %d: %w", line.Position, err)
		}
	}
	return nil
}

func nullIntPtr(val *int64) any {
	if val == nil || *val == 0 {
		return nil
	}
	return *val
}

func toNumeric(v decimal.Decimal) any {
	return v.StringFixed(2)
}
