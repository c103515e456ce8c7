package query

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core/query/sql"
)

// CompileSQL parses a SELECT statement and translates it into a Query.
// Parse failures wrap sql.ErrSyntax or sql.ErrUnsupported.
func CompileSQL(input string) (Query, error) {
	stmt, err := sql.Parse(input)
	if err != nil {
		return Query{}, err
	}
	return FromStatement(stmt)
}

// FromStatement translates a parsed statement. LIMIT and OFFSET carry over
// to the query window.
func FromStatement(stmt *sql.SelectStmt) (Query, error) {
	q := Query{Collection: stmt.Collection}
	if stmt.Fields != nil {
		q.Projection = &Projection{Mode: ProjectionInclude, Fields: append([]string(nil), stmt.Fields...)}
	}
	if stmt.Where != nil {
		filter, err := filterFromExpr(stmt.Where)
		if err != nil {
			return Query{}, err
		}
		q.Filter = filter
	}
	for _, item := range stmt.OrderBy {
		dir := SortDirectionAsc
		if item.Desc {
			dir = SortDirectionDesc
		}
		q.Sort = append(q.Sort, SortField{Field: item.Field, Direction: dir})
	}
	if stmt.Limit != nil {
		limit := *stmt.Limit
		q.Limit = &limit
	}
	if stmt.Offset != nil {
		q.Offset = *stmt.Offset
	}
	return q, q.Validate()
}

func filterFromExpr(expr sql.Expr) (*Filter, error) {
	switch e := expr.(type) {
	case *sql.ComparisonExpr:
		f := &Filter{Operator: LogicalOperatorAnd}
		if err := f.add(e); err != nil {
			return nil, err
		}
		return f, nil

	case *sql.LogicalExpr:
		f := &Filter{Operator: LogicalOperator(e.Op)}
		for _, operand := range e.Operands {
			if err := f.add(operand); err != nil {
				return nil, err
			}
		}
		return f, nil

	case *sql.NotExpr:
		inner, err := filterFromExpr(e.Operand)
		if err != nil {
			return nil, err
		}
		// NOT negates the conjunction of its members, so an AND operand can be
		// inlined; anything else is nested.
		if inner.Operator == LogicalOperatorAnd {
			inner.Operator = LogicalOperatorNot
			return inner, nil
		}
		return &Filter{Operator: LogicalOperatorNot, Groups: []Filter{*inner}}, nil
	}
	return nil, fmt.Errorf("unexpected expression %T: %w", expr, ErrInvalidQuery)
}

// add appends expr to f as a condition when it maps to one, or as a nested
// group otherwise.
func (f *Filter) add(expr sql.Expr) error {
	cmp, ok := expr.(*sql.ComparisonExpr)
	if !ok {
		sub, err := filterFromExpr(expr)
		if err != nil {
			return err
		}
		f.Groups = append(f.Groups, *sub)
		return nil
	}

	negate := cmp.Op == sql.OpNotLike
	if negate {
		cmp = &sql.ComparisonExpr{Field: cmp.Field, Op: sql.OpLike, Value: cmp.Value}
	}
	cond, err := conditionFromComparison(cmp)
	if err != nil {
		return err
	}
	if negate {
		f.Groups = append(f.Groups, Filter{Operator: LogicalOperatorNot, Conditions: []Condition{cond}})
		return nil
	}
	f.Conditions = append(f.Conditions, cond)
	return nil
}

func conditionFromComparison(e *sql.ComparisonExpr) (Condition, error) {
	cond := Condition{Field: e.Field, Value: e.Value}
	switch e.Op {
	case sql.OpEq:
		cond.Operator = ComparisonOperatorEq
	case sql.OpNe:
		cond.Operator = ComparisonOperatorNe
	case sql.OpLt:
		cond.Operator = ComparisonOperatorLt
	case sql.OpLte:
		cond.Operator = ComparisonOperatorLte
	case sql.OpGt:
		cond.Operator = ComparisonOperatorGt
	case sql.OpGte:
		cond.Operator = ComparisonOperatorGte
	case sql.OpIn:
		cond.Operator = ComparisonOperatorIn
	case sql.OpNotIn:
		cond.Operator = ComparisonOperatorNin
	case sql.OpIsNull:
		cond.Operator, cond.Value = ComparisonOperatorEq, nil
	case sql.OpIsNotNull:
		cond.Operator, cond.Value = ComparisonOperatorNe, nil
	case sql.OpLike:
		pattern, _ := e.Value.(string)
		cond.Operator, cond.Value = likeCondition(pattern)
	default:
		return Condition{}, fmt.Errorf("unsupported operator %q: %w", e.Op, ErrInvalidQuery)
	}
	return cond, nil
}

// likeCondition maps a LIKE pattern onto a string operator: 'x%' is a
// prefix, '%x' a suffix and anything else a substring search with the
// outer wildcards stripped.
func likeCondition(pattern string) (ComparisonOperator, string) {
	leading := strings.HasPrefix(pattern, "%")
	trailing := len(pattern) > 1 && strings.HasSuffix(pattern, "%")
	switch {
	case trailing && !leading:
		return ComparisonOperatorStartsWith, strings.TrimSuffix(pattern, "%")
	case leading && !trailing:
		return ComparisonOperatorEndsWith, strings.TrimPrefix(pattern, "%")
	}
	return ComparisonOperatorContains, strings.TrimSuffix(strings.TrimPrefix(pattern, "%"), "%")
}
