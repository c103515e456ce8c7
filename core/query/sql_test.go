package query

import (
	"errors"
	"testing"

	"github.com/asaidimu/go-jsondb/core/query/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSQL(t *testing.T) {
	q, err := CompileSQL("SELECT name, age FROM users WHERE age > 18 ORDER BY age DESC, name LIMIT 5 OFFSET 10")
	require.NoError(t, err)

	expected := New("users").
		Where("age").Gt(18.0).
		OrderByDesc("age").
		OrderByAsc("name").
		Limit(5).
		Offset(10).
		Include("name", "age").
		Build()
	assert.Equal(t, expected, q)
}

func TestCompileSQL_Where(t *testing.T) {
	tests := []struct {
		name     string
		where    string
		expected *Filter
	}{
		{"like prefix", "name LIKE 'Al%'", And(Condition{"name", ComparisonOperatorStartsWith, "Al"})},
		{"like suffix", "name LIKE '%ce'", And(Condition{"name", ComparisonOperatorEndsWith, "ce"})},
		{"like infix", "name LIKE '%li%'", And(Condition{"name", ComparisonOperatorContains, "li"})},
		{"like plain", "name LIKE 'li'", And(Condition{"name", ComparisonOperatorContains, "li"})},
		{"is null", "email IS NULL", And(Condition{"email", ComparisonOperatorEq, nil})},
		{"is not null", "email IS NOT NULL", And(Condition{"email", ComparisonOperatorNe, nil})},
		{"in", "role IN ('a', 'b')", And(Condition{"role", ComparisonOperatorIn, []any{"a", "b"}})},
		{"not in", "role NOT IN ('a')", And(Condition{"role", ComparisonOperatorNin, []any{"a"}})},
		{"or", "a = 1 OR b = 2", Or(Condition{"a", ComparisonOperatorEq, 1.0}, Condition{"b", ComparisonOperatorEq, 2.0})},
		{"not comparison", "NOT a = 1", &Filter{Operator: LogicalOperatorNot, Conditions: []Condition{{"a", ComparisonOperatorEq, 1.0}}}},
		{"not or", "NOT (a = 1 OR b = 2)", &Filter{
			Operator: LogicalOperatorNot,
			Groups:   []Filter{*Or(Condition{"a", ComparisonOperatorEq, 1.0}, Condition{"b", ComparisonOperatorEq, 2.0})},
		}},
		{"not like", "name NOT LIKE 'x%'", &Filter{
			Operator: LogicalOperatorAnd,
			Groups:   []Filter{{Operator: LogicalOperatorNot, Conditions: []Condition{{"name", ComparisonOperatorStartsWith, "x"}}}},
		}},
		{"nested", "a = 1 AND (b = 2 OR c = 3)", &Filter{
			Operator:   LogicalOperatorAnd,
			Conditions: []Condition{{"a", ComparisonOperatorEq, 1.0}},
			Groups:     []Filter{*Or(Condition{"b", ComparisonOperatorEq, 2.0}, Condition{"c", ComparisonOperatorEq, 3.0})},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := CompileSQL("SELECT * FROM c WHERE " + tt.where)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, q.Filter)
		})
	}
}

func TestCompileSQL_Errors(t *testing.T) {
	_, err := CompileSQL("SELECT * FROM c WHERE a = 1 OR b = 2 AND c = 3")
	assert.True(t, errors.Is(err, sql.ErrSyntax))

	_, err = CompileSQL("DELETE FROM c")
	assert.True(t, errors.Is(err, sql.ErrUnsupported))
}

func TestLikeMatchesExecutor(t *testing.T) {
	tests := []struct {
		sql      string
		expected []string
	}{
		{"SELECT * FROM people WHERE name LIKE 'Ca%'", []string{"3"}},
		{"SELECT * FROM people WHERE name LIKE '%ob'", []string{"2"}},
		{"SELECT * FROM people WHERE city LIKE '%ar%'", []string{"1", "3"}},
		{"SELECT * FROM people WHERE city NOT LIKE 'P%' AND age IS NOT NULL", []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			q, err := CompileSQL(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(run(t, q).Documents))
		})
	}
}
