// Package query answers structured reads over a collection's documents.
// A Query names a collection, an optional filter tree, a sort order, a
// projection and a page window. Queries are built by hand, through the
// fluent Builder, or compiled from a SQL subset.
package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
)

// LogicalOperator combines the members of a Filter.
type LogicalOperator string

// Logical operators for combining filter conditions.
const (
	LogicalOperatorAnd LogicalOperator = "AND"
	LogicalOperatorOr  LogicalOperator = "OR"
	// LogicalOperatorNot matches when the conjunction of the members fails.
	LogicalOperatorNot LogicalOperator = "NOT"
)

// ComparisonOperator is the operator of a single Condition.
type ComparisonOperator string

// Supported comparison operators.
const (
	ComparisonOperatorEq         ComparisonOperator = "eq"
	ComparisonOperatorNe         ComparisonOperator = "ne"
	ComparisonOperatorGt         ComparisonOperator = "gt"
	ComparisonOperatorGte        ComparisonOperator = "gte"
	ComparisonOperatorLt         ComparisonOperator = "lt"
	ComparisonOperatorLte        ComparisonOperator = "lte"
	ComparisonOperatorIn         ComparisonOperator = "in"
	ComparisonOperatorNin        ComparisonOperator = "nin"
	ComparisonOperatorContains   ComparisonOperator = "contains"
	ComparisonOperatorStartsWith ComparisonOperator = "startswith"
	ComparisonOperatorEndsWith   ComparisonOperator = "endswith"
	ComparisonOperatorMatches    ComparisonOperator = "matches"
	ComparisonOperatorExists     ComparisonOperator = "exists"
)

// IsValid reports whether op is one of the supported operators.
func (op ComparisonOperator) IsValid() bool {
	switch op {
	case ComparisonOperatorEq, ComparisonOperatorNe, ComparisonOperatorGt, ComparisonOperatorGte,
		ComparisonOperatorLt, ComparisonOperatorLte, ComparisonOperatorIn, ComparisonOperatorNin,
		ComparisonOperatorContains, ComparisonOperatorStartsWith, ComparisonOperatorEndsWith,
		ComparisonOperatorMatches, ComparisonOperatorExists:
		return true
	}
	return false
}

// FilterValue is the right-hand side of a condition. It holds decoded JSON:
// nil, bool, a number, a string, []any or map[string]any.
type FilterValue any

// Condition tests one field of a document. Field is a dot path such as
// "address.city".
type Condition struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"operator"`
	Value    FilterValue        `json:"value"`
}

// Filter is a node of the filter tree. Conditions and nested Groups are
// combined with Operator.
type Filter struct {
	Operator   LogicalOperator `json:"operator"`
	Conditions []Condition     `json:"conditions,omitempty"`
	Groups     []Filter        `json:"groups,omitempty"`
}

// And builds a filter matching when every condition holds.
func And(conditions ...Condition) *Filter {
	return &Filter{Operator: LogicalOperatorAnd, Conditions: conditions}
}

// Or builds a filter matching when any condition holds.
func Or(conditions ...Condition) *Filter {
	return &Filter{Operator: LogicalOperatorOr, Conditions: conditions}
}

// Validate checks the operators of the whole tree.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	switch f.Operator {
	case LogicalOperatorAnd, LogicalOperatorOr, LogicalOperatorNot:
	case "":
		return fmt.Errorf("filter: missing logical operator: %w", ErrInvalidQuery)
	default:
		return fmt.Errorf("filter: unknown logical operator %q: %w", f.Operator, ErrInvalidQuery)
	}
	for _, c := range f.Conditions {
		if c.Field == "" {
			return fmt.Errorf("filter: condition without field: %w", ErrInvalidQuery)
		}
		if !c.Operator.IsValid() {
			return fmt.Errorf("filter: unknown operator %q on %s: %w", c.Operator, c.Field, ErrInvalidQuery)
		}
	}
	for i := range f.Groups {
		if err := f.Groups[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SortDirection specifies the direction for sorting.
type SortDirection string

// Supported sort directions.
const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// SortField orders results by one field. Later entries break ties of
// earlier ones.
type SortField struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// ProjectionMode selects whether Projection.Fields are kept or removed.
type ProjectionMode string

const (
	ProjectionInclude ProjectionMode = "include"
	ProjectionExclude ProjectionMode = "exclude"
)

// Projection reshapes each returned document.
type Projection struct {
	Mode   ProjectionMode `json:"mode"`
	Fields []string       `json:"fields"`
}

// Query is a complete read request against one collection. A nil Limit
// returns every document from Offset on.
type Query struct {
	Collection string      `json:"collection"`
	Filter     *Filter     `json:"filter,omitempty"`
	Sort       []SortField `json:"sort,omitempty"`
	Limit      *int        `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
	Projection *Projection `json:"projection,omitempty"`
}

// Validate checks the query before execution.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("query: missing collection: %w", ErrInvalidQuery)
	}
	if q.Offset < 0 {
		return fmt.Errorf("query: negative offset %d: %w", q.Offset, ErrInvalidQuery)
	}
	if q.Limit != nil && *q.Limit < 0 {
		return fmt.Errorf("query: negative limit %d: %w", *q.Limit, ErrInvalidQuery)
	}
	for _, s := range q.Sort {
		if s.Field == "" {
			return fmt.Errorf("query: sort without field: %w", ErrInvalidQuery)
		}
		if s.Direction != "" && s.Direction != SortDirectionAsc && s.Direction != SortDirectionDesc {
			return fmt.Errorf("query: unknown sort direction %q: %w", s.Direction, ErrInvalidQuery)
		}
	}
	if p := q.Projection; p != nil && p.Mode != ProjectionInclude && p.Mode != ProjectionExclude {
		return fmt.Errorf("query: unknown projection mode %q: %w", p.Mode, ErrInvalidQuery)
	}
	return q.Filter.Validate()
}

// ParseQuery decodes a JSON query document.
func ParseQuery(data []byte) (*Query, error) {
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Result is one page of a query. TotalCount counts every matching document
// before Offset and Limit were applied.
type Result struct {
	Documents  []core.Document `json:"documents"`
	TotalCount int             `json:"total_count"`
	Offset     int             `json:"offset"`
	Limit      *int            `json:"limit,omitempty"`
}

// InsertResult reports the outcome of Engine.Insert.
type InsertResult struct {
	InsertedCount int      `json:"inserted_count"`
	InsertedIDs   []string `json:"inserted_ids"`
}

// UpsertResult reports the outcome of Engine.Upsert.
type UpsertResult struct {
	InsertedCount int      `json:"inserted_count"`
	UpdatedCount  int      `json:"updated_count"`
	AffectedIDs   []string `json:"affected_ids"`
}

// UpdateResult reports the outcome of Engine.Update.
type UpdateResult struct {
	MatchedCount  int `json:"matched_count"`
	ModifiedCount int `json:"modified_count"`
}

// DeleteResult reports the outcome of Engine.Delete.
type DeleteResult struct {
	DeletedCount int `json:"deleted_count"`
}
