package db

import (
	"strings"
	"testing"
)

func TestSchemaCoversClosingTables(t *testing.T) {
	ddl := Schema()
	for _, table := range []string{
		"chart_of_accounts",
		"journal_entries",
		"journal_entry_lines",
		"document_sequences",
		"closing_runs",
		"idempotency_keys",
		"audit_logs",
	} {
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("schema missing table %s", table)
		}
	}
	if !strings.Contains(ddl, "WHERE status <> 'FAILED'") {
		t.Fatal("closing_runs must only allow one live run per step")
	}
}
