package accounting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
)

// nullableColumns lists the columns of table declared without NOT NULL.
func nullableColumns(t *testing.T, ddl, table string) []string {
	t.Helper()
	start := strings.Index(ddl, "CREATE TABLE IF NOT EXISTS "+table+" (")
	require.NotEqual(t, -1, start, "table %s not in schema", table)
	body := ddl[start:]
	body = body[strings.Index(body, "(")+1 : strings.Index(body, ");")]
	var cols []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.Contains(line, "NOT NULL") || strings.Contains(line, "PRIMARY KEY") {
			continue
		}
		cols = append(cols, fields[0])
	}
	return cols
}

func TestSelectJournalEntryCoalescesNullableColumns(t *testing.T) {
	// posted_by and posted_at scan into pointers.
	pointerScanned := map[string]bool{"posted_by": true, "posted_at": true}

	cols := nullableColumns(t, db.Schema(), "journal_entries")
	require.Contains(t, cols, "source_module")
	for _, col := range cols {
		if pointerScanned[col] {
			continue
		}
		assert.Contains(t, selectJournalEntry, "COALESCE("+col+",", "nullable column %s must not scan into a plain value", col)
	}
}

func TestParseAmount(t *testing.T) {
	d, err := parseAmount("total debit", "1250.50")
	require.NoError(t, err)
	assert.Equal(t, "1250.50", d.StringFixed(2))

	_, err = parseAmount("line amount", "12,50")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounting: parse line amount")
}
