package accounting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// memLedger is an in-memory ledger used by the package tests.
type memLedger struct {
	mu       sync.Mutex
	accounts []Account
	entries  []JournalEntry
	lines    []JournalLine
	seq      map[string]int64
	nextID   int64

	listErr    error
	sumErr     error
	findErr    error
	insertErr  error
	seqErr     error
	lineErr    error
	inserts    int
	txCommits  int
	txRollback int
}

func newMemLedger() *memLedger {
	return &memLedger{seq: make(map[string]int64), nextID: 100}
}

func (m *memLedger) addAccount(companyID int64, code, name string, nature AccountNature) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a := Account{ID: m.nextID, CompanyID: companyID, Code: code, Name: name, Nature: nature, IsActive: true}
	m.accounts = append(m.accounts, a)
	return a
}

func (m *memLedger) ListAccountsByPrefix(ctx context.Context, companyID int64, prefix string) ([]Account, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Account
	for _, a := range m.accounts {
		if a.CompanyID == companyID && a.DeletedAt == nil && strings.HasPrefix(a.Code, prefix) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memLedger) SumPostedLines(ctx context.Context, companyID int64, accountIDs []int64, from, to time.Time) ([]LineTotals, error) {
	if m.sumErr != nil {
		return nil, m.sumErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}
	entries := make(map[int64]JournalEntry, len(m.entries))
	for _, e := range m.entries {
		entries[e.ID] = e
	}
	sums := make(map[int64]*LineTotals)
	var order []int64
	for _, l := range m.lines {
		e := entries[l.EntryID]
		if e.CompanyID != companyID || e.Status != JournalStatusPosted || !wanted[l.AccountID] {
			continue
		}
		if e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		t, ok := sums[l.AccountID]
		if !ok {
			t = &LineTotals{AccountID: l.AccountID}
			sums[l.AccountID] = t
			order = append(order, l.AccountID)
		}
		if l.Side == SideDebit {
			t.Debit = t.Debit.Add(l.Amount)
		} else {
			t.Credit = t.Credit.Add(l.Amount)
		}
	}
	out := make([]LineTotals, 0, len(order))
	for _, id := range order {
		out = append(out, *sums[id])
	}
	return out, nil
}

func (m *memLedger) FindAccountByCode(ctx context.Context, companyID int64, code string) (Account, error) {
	if m.findErr != nil {
		return Account{}, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.CompanyID == companyID && a.Code == code && a.DeletedAt == nil {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (m *memLedger) InsertAccountIfAbsent(ctx context.Context, companyID int64, spec ControlAccount) (Account, bool, error) {
	if m.insertErr != nil {
		return Account{}, false, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.CompanyID == companyID && a.Code == spec.Code && a.DeletedAt == nil {
			return a, false, nil
		}
	}
	m.inserts++
	m.nextID++
	a := Account{ID: m.nextID, CompanyID: companyID, Code: spec.Code, Name: spec.Name, Nature: spec.Nature, IsActive: true}
	m.accounts = append(m.accounts, a)
	return a, true, nil
}

func (m *memLedger) NextSequence(ctx context.Context, companyID int64, documentType string) (int64, error) {
	if m.seqErr != nil {
		return 0, m.seqErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := documentType
	m.seq[key]++
	return m.seq[key], nil
}

func (m *memLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memTx{ledger: m}
	if err := fn(ctx, tx); err != nil {
		m.txRollback++
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, tx.entries...)
	m.lines = append(m.lines, tx.lines...)
	m.txCommits++
	return nil
}

type memTx struct {
	ledger  *memLedger
	entries []JournalEntry
	lines   []JournalLine
}

func (t *memTx) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	t.ledger.mu.Lock()
	t.ledger.nextID++
	entry.ID = t.ledger.nextID
	t.ledger.mu.Unlock()
	t.entries = append(t.entries, entry)
	return entry, nil
}

func (t *memTx) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	if t.ledger.lineErr != nil {
		return t.ledger.lineErr
	}
	for _, l := range lines {
		l.EntryID = entryID
		t.lines = append(t.lines, l)
	}
	return nil
}

var errStore = errors.New("store unavailable")
