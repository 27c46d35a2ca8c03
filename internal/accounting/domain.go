package accounting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountNature tells whether an account behaves like an asset or a liability.
type AccountNature string

const (
	AccountNatureActive  AccountNature = "ACTIVE"
	AccountNaturePassive AccountNature = "PASSIVE"
)

// Side enumerates journal line sides.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Opposite returns the other side of the ledger.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "DRAFT"
	JournalStatusPosted JournalStatus = "POSTED"
)

// Account models a chart of accounts node scoped to a company.
type Account struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Nature    AccountNature
	IsActive  bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64
	CompanyID    int64
	Number       string
	DocumentType string
	Date         time.Time
	Description  string
	Status       JournalStatus
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	SourceModule string
	SourceID     uuid.UUID
	CreatedBy    int64
	PostedBy     *int64
	PostedAt     *time.Time
	CreatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores one side of a posting against an account.
type JournalLine struct {
	ID          int64
	EntryID     int64
	CompanyID   int64
	Position    int
	AccountID   int64
	Side        Side
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// AccountBalance is a read-time projection of posted activity for one account.
type AccountBalance struct {
	AccountID int64
	Code      string
	Name      string
	Nature    AccountNature
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Net returns debit minus credit.
func (b AccountBalance) Net() decimal.Decimal {
	return b.Debit.Sub(b.Credit)
}

// LineInput describes a journal line for a new entry.
type LineInput struct {
	AccountID   int64
	Side        Side
	Amount      decimal.Decimal
	Description string
}

// EntryInput groups fields required to create a posted journal entry.
type EntryInput struct {
	CompanyID    int64
	ActorID      int64
	Date         time.Time
	Description  string
	DocumentType string
	NumberPrefix string
	Currency     string
	SourceModule string
	SourceID     uuid.UUID
	Lines        []LineInput
}

// ControlAccount describes a well-known account the engine may provision.
type ControlAccount struct {
	Code   string        `yaml:"code"`
	Name   string        `yaml:"name"`
	Nature AccountNature `yaml:"nature"`
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrAccountNotFound indicates no live account carries the requested code.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountProvisioning indicates a control account could not be found or created.
	ErrAccountProvisioning = errors.New("accounting: control account could not be provisioned")
	// ErrBalanceRead indicates balances could not be read; distinct from an empty result.
	ErrBalanceRead = errors.New("accounting: balances could not be read")
	// ErrInvalidPrefix indicates an empty or malformed account code prefix.
	ErrInvalidPrefix = errors.New("accounting: invalid account code prefix")
	// ErrInvalidRange indicates the period start is after the period end.
	ErrInvalidRange = errors.New("accounting: invalid date range")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
)

// Validate ensures the entry input can be written as a posted entry.
func (in EntryInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("accounting: company required")
	}
	if in.ActorID == 0 {
		return errors.New("accounting: actor required")
	}
	if in.Date.IsZero() {
		return errors.New("accounting: date required")
	}
	if strings.TrimSpace(in.DocumentType) == "" {
		return errors.New("accounting: document type required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("accounting: line %d missing account", idx)
		}
		if line.Side != SideDebit && line.Side != SideCredit {
			return fmt.Errorf("accounting: line %d has invalid side %q", idx, line.Side)
		}
		if line.Amount.IsNegative() {
			return fmt.Errorf("accounting: line %d negative amount", idx)
		}
	}
	debit, credit := Totals(in.Lines)
	if !WithinTolerance(debit, credit) {
		return ErrUnbalanced
	}
	return nil
}
