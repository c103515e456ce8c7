package sqlite

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
)

// HistoryFilter narrows List. Zero-valued fields do not filter.
type HistoryFilter struct {
	Type          core.EventType
	Collection    string
	DocumentID    string
	TransactionID string
	// Since keeps events at or after this Unix millisecond timestamp.
	Since int64
	// Limit caps the number of records. Zero means no limit.
	Limit int
	// Descending returns the newest events first.
	Descending bool
}

// Record is one stored event with its row id.
type Record struct {
	ID    int64
	Event core.Event
}

// selectSQL builds the SELECT for filter against table, returning the
// statement and its parameters.
func selectSQL(table string, filter HistoryFilter) (string, []any, error) {
	if filter.Limit < 0 {
		return "", nil, fmt.Errorf("limit cannot be negative: %d", filter.Limit)
	}

	cols := make([]string, 0, len(eventColumns)+1)
	cols = append(cols, quoteIdentifier("id"))
	for _, c := range eventColumns {
		cols = append(cols, quoteIdentifier(c.name))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdentifier(table))

	var (
		where  []string
		params []any
	)
	add := func(col string, op string, v any) {
		where = append(where, fmt.Sprintf("%s %s ?", quoteIdentifier(col), op))
		params = append(params, v)
	}
	if filter.Type != "" {
		add("type", "=", string(filter.Type))
	}
	if filter.Collection != "" {
		add("collection", "=", filter.Collection)
	}
	if filter.DocumentID != "" {
		add("document_id", "=", filter.DocumentID)
	}
	if filter.TransactionID != "" {
		add("transaction_id", "=", filter.TransactionID)
	}
	if filter.Since > 0 {
		add("timestamp", ">=", filter.Since)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	if filter.Descending {
		sb.WriteString(` ORDER BY "id" DESC`)
	} else {
		sb.WriteString(` ORDER BY "id" ASC`)
	}
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, filter.Limit)
	}
	return sb.String(), params, nil
}
