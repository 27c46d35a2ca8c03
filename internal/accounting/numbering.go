package accounting

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Numberer allocates human-readable document numbers per company and document type.
type Numberer interface {
	Next(ctx context.Context, companyID int64, documentType string) (string, error)
}

// SequenceStore allocates raw sequence values.
type SequenceStore interface {
	NextSequence(ctx context.Context, companyID int64, documentType string) (int64, error)
}

// SequenceNumberer formats sequence values as <PREFIX>-<NNNNNN>.
type SequenceNumberer struct {
	store    SequenceStore
	prefixes map[string]string
}

// NewSequenceNumberer constructs a numberer. prefixes maps document types to number prefixes;
// unmapped types use the upper-cased type itself.
func NewSequenceNumberer(store SequenceStore, prefixes map[string]string) *SequenceNumberer {
	return &SequenceNumberer{store: store, prefixes: prefixes}
}

// Next returns the next number for the document type.
func (n *SequenceNumberer) Next(ctx context.Context, companyID int64, documentType string) (string, error) {
	if n == nil || n.store == nil {
		return "", fmt.Errorf("accounting: numbering not configured")
	}
	value, err := n.store.NextSequence(ctx, companyID, documentType)
	if err != nil {
		return "", fmt.Errorf("accounting: next number for %s: %w", documentType, err)
	}
	prefix, ok := n.prefixes[documentType]
	if !ok || prefix == "" {
		prefix = strings.ToUpper(documentType)
	}
	return fmt.Sprintf("%s-%06d", prefix, value), nil
}

// FallbackNumber builds the synthetic <prefix>-<epoch millis> number used when numbering fails.
func FallbackNumber(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "DOC"
	}
	return fmt.Sprintf("%s-%d", prefix, now.UnixMilli())
}
