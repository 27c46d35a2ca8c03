package accounting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Writer persists posted journal entries. Header and lines are written in one transaction.
type Writer struct {
	repo    RepositoryPort
	numbers Numberer
	logger  *slog.Logger
	now     func() time.Time
}

// NewWriter constructs the journal entry writer.
func NewWriter(repo RepositoryPort, numbers Numberer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{repo: repo, numbers: numbers, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (w *Writer) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// CreateEntry numbers and writes a posted journal entry with its lines.
func (w *Writer) CreateEntry(ctx context.Context, in EntryInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	number := w.allocateNumber(ctx, in)
	postedAt := w.now()
	actor := in.ActorID
	debit, credit := Totals(in.Lines)
	sourceID := in.SourceID
	if sourceID == uuid.Nil {
		sourceID = uuid.New()
	}
	header := JournalEntry{
		CompanyID:    in.CompanyID,
		Number:       number,
		DocumentType: in.DocumentType,
		Date:         in.Date,
		Description:  in.Description,
		Status:       JournalStatusPosted,
		TotalDebit:   Round2(debit),
		TotalCredit:  Round2(credit),
		SourceModule: in.SourceModule,
		SourceID:     sourceID,
		CreatedBy:    actor,
		PostedBy:     &actor,
		PostedAt:     &postedAt,
	}
	lines := toJournalLines(in)

	var entry JournalEntry
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertJournalEntry(ctx, header)
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, inserted.ID, lines); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range lines {
		lines[i].EntryID = entry.ID
	}
	entry.Lines = lines
	return entry, nil
}

func (w *Writer) allocateNumber(ctx context.Context, in EntryInput) string {
	if w.numbers != nil {
		number, err := w.numbers.Next(ctx, in.CompanyID, in.DocumentType)
		if err == nil && strings.TrimSpace(number) != "" {
			return number
		}
		w.logger.Warn("document numbering unavailable, using fallback",
			slog.Int64("company_id", in.CompanyID),
			slog.String("document_type", in.DocumentType),
			slog.Any("error", err))
	}
	return FallbackNumber(in.NumberPrefix, w.now())
}

func toJournalLines(in EntryInput) []JournalLine {
	out := make([]JournalLine, 0, len(in.Lines))
	for idx, line := range in.Lines {
		out = append(out, JournalLine{
			CompanyID:   in.CompanyID,
			Position:    idx + 1,
			AccountID:   line.AccountID,
			Side:        line.Side,
			Amount:      Round2(line.Amount),
			Currency:    in.Currency,
			Description: line.Description,
		})
	}
	return out
}
