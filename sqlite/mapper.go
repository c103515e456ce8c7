package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
	"go.uber.org/zap"
)

// DefaultTable is the table engine events are recorded in.
const DefaultTable = "engine_events"

// column describes one column of the events table.
type column struct {
	name string
	ddl  string
}

var eventColumns = []column{
	{"type", "TEXT NOT NULL"},
	{"timestamp", "INTEGER NOT NULL"},
	{"operation", "TEXT NOT NULL DEFAULT ''"},
	{"database", "TEXT NOT NULL DEFAULT ''"},
	{"collection", "TEXT NOT NULL DEFAULT ''"},
	{"document_id", "TEXT NOT NULL DEFAULT ''"},
	{"transaction_id", "TEXT NOT NULL DEFAULT ''"},
	{"input", "TEXT"},
	{"output", "TEXT"},
	{"error", "TEXT"},
	{"duration", "INTEGER"},
	{"context", "TEXT"},
}

// indexedColumns are the columns HistoryFilter can narrow on.
var indexedColumns = []string{"type", "collection", "transaction_id"}

// quoteIdentifier safely quotes a table or column name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTableSQL returns the statements creating the events table and its
// indexes. Every statement is idempotent.
func CreateTableSQL(table string) []string {
	defs := make([]string, 0, len(eventColumns)+1)
	defs = append(defs, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	for _, c := range eventColumns {
		defs = append(defs, quoteIdentifier(c.name)+" "+c.ddl)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdentifier(table), strings.Join(defs, ",\n\t")),
	}
	for _, col := range indexedColumns {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdentifier("idx_"+table+"_"+col), quoteIdentifier(table), quoteIdentifier(col)))
	}
	return stmts
}

// insertSQL returns the parameterised INSERT for one event row.
func insertSQL(table string) string {
	names := make([]string, len(eventColumns))
	marks := make([]string, len(eventColumns))
	for i, c := range eventColumns {
		names[i] = quoteIdentifier(c.name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(table), strings.Join(names, ", "), strings.Join(marks, ", "))
}

// eventArgs flattens an event into INSERT arguments, in eventColumns order.
// Structured payloads are stored as JSON text.
func eventArgs(e core.Event) ([]any, error) {
	input, err := encodeJSON(e.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	output, err := encodeJSON(e.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	var ctxJSON any
	if len(e.Context) > 0 {
		if ctxJSON, err = encodeJSON(e.Context); err != nil {
			return nil, fmt.Errorf("failed to encode context: %w", err)
		}
	}

	var errText, duration any
	if e.Error != nil {
		errText = *e.Error
	}
	if e.Duration != nil {
		duration = *e.Duration
	}

	return []any{
		string(e.Type), e.Timestamp, e.Operation, e.Database, e.Collection,
		e.DocumentID, e.TransactionID, input, output, errText, duration, ctxJSON,
	}, nil
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// readRows converts SELECT results back into events. Payload columns that
// no longer decode are kept as raw text.
func readRows(logger *zap.Logger, rows *sql.Rows) ([]Record, error) {
	var results []Record
	for rows.Next() {
		var (
			rec                            Record
			eventType                      string
			input, output, errText, ctxCol sql.NullString
			duration                       sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &eventType, &rec.Event.Timestamp, &rec.Event.Operation, &rec.Event.Database,
			&rec.Event.Collection, &rec.Event.DocumentID, &rec.Event.TransactionID,
			&input, &output, &errText, &duration, &ctxCol,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.Event.Type = core.EventType(eventType)
		rec.Event.Input = decodeJSON(logger, "input", input)
		rec.Event.Output = decodeJSON(logger, "output", output)
		if errText.Valid {
			rec.Event.Error = core.StringPtr(errText.String)
		}
		if duration.Valid {
			d := duration.Int64
			rec.Event.Duration = &d
		}
		if ctxCol.Valid {
			if m, ok := decodeJSON(logger, "context", ctxCol).(map[string]any); ok {
				rec.Event.Context = m
			}
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

func decodeJSON(logger *zap.Logger, col string, v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(v.String), &decoded); err != nil {
		logger.Warn("Column holds invalid JSON, using raw value", zap.String("column", col), zap.Error(err))
		return v.String
	}
	return decoded
}
