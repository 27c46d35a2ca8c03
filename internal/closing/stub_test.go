package closing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// fakeLedger implements BalanceSource, AccountProvider and EntryWriter over memory.
type fakeLedger struct {
	mu       sync.Mutex
	nextID   int64
	accounts []accounting.Account
	entries  []accounting.JournalEntry
	created  int

	resolveErr error
	writeErr   error
	writePanic bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nextID: 1000}
}

func (f *fakeLedger) account(companyID int64, code string, nature accounting.AccountNature) accounting.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a := accounting.Account{ID: f.nextID, CompanyID: companyID, Code: code, Name: code, Nature: nature, IsActive: true}
	f.accounts = append(f.accounts, a)
	return a
}

// post records an already posted entry, bypassing validation.
func (f *fakeLedger) post(companyID int64, date time.Time, lines ...accounting.LineInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry := accounting.JournalEntry{ID: f.nextID, CompanyID: companyID, Date: date, Status: accounting.JournalStatusPosted}
	for i, l := range lines {
		entry.Lines = append(entry.Lines, accounting.JournalLine{
			EntryID: entry.ID, CompanyID: companyID, Position: i + 1, AccountID: l.AccountID, Side: l.Side, Amount: l.Amount,
		})
	}
	f.entries = append(f.entries, entry)
}

func (f *fakeLedger) AccountBalances(ctx context.Context, companyID int64, from, to time.Time, prefix string) ([]accounting.AccountBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var accounts []accounting.Account
	for _, a := range f.accounts {
		if a.CompanyID == companyID && strings.HasPrefix(a.Code, prefix) {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Code < accounts[j].Code })
	var out []accounting.AccountBalance
	for _, a := range accounts {
		b := accounting.AccountBalance{AccountID: a.ID, Code: a.Code, Name: a.Name, Nature: a.Nature, Debit: decimal.Zero, Credit: decimal.Zero}
		for _, e := range f.entries {
			if e.CompanyID != companyID || e.Status != accounting.JournalStatusPosted || e.Date.Before(from) || e.Date.After(to) {
				continue
			}
			for _, l := range e.Lines {
				if l.AccountID != a.ID {
					continue
				}
				if l.Side == accounting.SideDebit {
					b.Debit = b.Debit.Add(l.Amount)
				} else {
					b.Credit = b.Credit.Add(l.Amount)
				}
			}
		}
		if b.Debit.IsZero() && b.Credit.IsZero() {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeLedger) ClassBalances(ctx context.Context, companyID int64, from, to time.Time, prefixes ...string) ([]accounting.AccountBalance, error) {
	seen := make(map[int64]bool)
	var out []accounting.AccountBalance
	for _, p := range prefixes {
		rows, err := f.AccountBalances(ctx, companyID, from, to, p)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if !seen[r.AccountID] {
				seen[r.AccountID] = true
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (f *fakeLedger) FindOrCreate(ctx context.Context, companyID int64, spec accounting.ControlAccount) (accounting.Account, error) {
	if f.resolveErr != nil {
		return accounting.Account{}, f.resolveErr
	}
	f.mu.Lock()
	for _, a := range f.accounts {
		if a.CompanyID == companyID && a.Code == spec.Code {
			f.mu.Unlock()
			return a, nil
		}
	}
	f.created++
	f.mu.Unlock()
	return f.account(companyID, spec.Code, spec.Nature), nil
}

func (f *fakeLedger) CreateEntry(ctx context.Context, in accounting.EntryInput) (accounting.JournalEntry, error) {
	if f.writePanic {
		panic("ledger exploded")
	}
	if f.writeErr != nil {
		return accounting.JournalEntry{}, f.writeErr
	}
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	f.post(in.CompanyID, in.Date, in.Lines...)
	f.mu.Lock()
	defer f.mu.Unlock()
	last := &f.entries[len(f.entries)-1]
	last.Description = in.Description
	last.DocumentType = in.DocumentType
	last.SourceModule = in.SourceModule
	last.SourceID = in.SourceID
	debit, credit := accounting.Totals(in.Lines)
	last.TotalDebit, last.TotalCredit = debit, credit
	return *last, nil
}

func (f *fakeLedger) entryByID(id int64) (accounting.JournalEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return e, true
		}
	}
	return accounting.JournalEntry{}, false
}

func (f *fakeLedger) closingEntries() []accounting.JournalEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []accounting.JournalEntry
	for _, e := range f.entries {
		if e.SourceModule == SourceModule {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeLedger) codeOf(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			return a.Code
		}
	}
	return ""
}

// memRuns mirrors the closing_runs partial unique index in memory.
type memRuns struct {
	mu     sync.Mutex
	nextID int64
	runs   []Run
}

func (m *memRuns) ClaimRun(ctx context.Context, req Request, startedAt time.Time) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.CompanyID == req.CompanyID && r.FiscalYearStart.Equal(req.FiscalYearStart) && r.Step == req.Step && r.Status != RunStatusFailed {
			return Run{}, ErrStepAlreadyRun
		}
	}
	m.nextID++
	run := Run{
		ID: m.nextID, CompanyID: req.CompanyID, FiscalYearStart: req.FiscalYearStart, FiscalYearEnd: req.FiscalYearEnd,
		Step: req.Step, Status: RunStatusRunning, StartedBy: req.ActorID, StartedAt: startedAt, TotalAmount: decimal.Zero,
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memRuns) CompleteRun(ctx context.Context, runID int64, entryID *int64, accountsCount int, total decimal.Decimal, finishedAt time.Time) error {
	return m.update(runID, func(r *Run) {
		r.Status = RunStatusCompleted
		r.JournalEntryID = entryID
		r.AccountsCount = accountsCount
		r.TotalAmount = total
		r.FinishedAt = &finishedAt
	})
}

func (m *memRuns) FailRun(ctx context.Context, runID int64, message string, finishedAt time.Time) error {
	return m.update(runID, func(r *Run) {
		r.Status = RunStatusFailed
		r.Error = message
		r.FinishedAt = &finishedAt
	})
}

func (m *memRuns) update(runID int64, fn func(*Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID && m.runs[i].Status == RunStatusRunning {
			fn(&m.runs[i])
			return nil
		}
	}
	return ErrRunNotFound
}

func (m *memRuns) CompletedSteps(ctx context.Context, companyID int64, fiscalYearStart time.Time) (map[StepType]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	done := make(map[StepType]bool)
	for _, r := range m.runs {
		if r.CompanyID == companyID && r.FiscalYearStart.Equal(fiscalYearStart) && r.Status == RunStatusCompleted {
			done[r.Step] = true
		}
	}
	return done, nil
}

func (m *memRuns) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].CompanyID == filter.CompanyID {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}

func (m *memRuns) byStatus(status RunStatus) []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

type memAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

var errWrite = errors.New("line insert failed")
