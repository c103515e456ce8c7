package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer(t *testing.T) {
	l := NewLexer(`SELECT a.b, "first name" FROM users WHERE x <> 'it''s' AND y >= -1.5;`)
	var got []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			break
		}
		got = append(got, tok)
	}

	expected := []Token{
		{TokenKeyword, "SELECT", 0},
		{TokenIdent, "a.b", 7},
		{TokenComma, ",", 10},
		{TokenIdent, "first name", 12},
		{TokenKeyword, "FROM", 25},
		{TokenIdent, "users", 30},
		{TokenKeyword, "WHERE", 36},
		{TokenIdent, "x", 42},
		{TokenOperator, "<>", 44},
		{TokenString, "it's", 47},
		{TokenKeyword, "AND", 55},
		{TokenIdent, "y", 59},
		{TokenOperator, ">=", 61},
		{TokenMinus, "-", 64},
		{TokenNumber, "1.5", 65},
		{TokenSemicolon, ";", 68},
	}
	assert.Equal(t, expected, got)
}

func TestParseSelect(t *testing.T) {
	stmt, err := Parse("select name, age from users where age >= 18 order by age desc, name limit 10 offset 20")
	require.NoError(t, err)

	limit, offset := 10, 20
	assert.Equal(t, &SelectStmt{
		Fields:     []string{"name", "age"},
		Collection: "users",
		Where:      &ComparisonExpr{Field: "age", Op: OpGte, Value: 18.0},
		OrderBy:    []OrderItem{{Field: "age", Desc: true}, {Field: "name"}},
		Limit:      &limit,
		Offset:     &offset,
	}, stmt)

	stmt, err = Parse("SELECT * FROM actors;")
	require.NoError(t, err)
	assert.Nil(t, stmt.Fields)
	assert.Nil(t, stmt.Where)
	assert.Nil(t, stmt.Limit)
}

func TestParseWhere(t *testing.T) {
	tests := []struct {
		name     string
		where    string
		expected Expr
	}{
		{"equals string", "kind = 'bot'", &ComparisonExpr{"kind", OpEq, "bot"}},
		{"not equals", "kind != 'bot'", &ComparisonExpr{"kind", OpNe, "bot"}},
		{"diamond", "kind <> 'bot'", &ComparisonExpr{"kind", OpNe, "bot"}},
		{"boolean", "active = TRUE", &ComparisonExpr{"active", OpEq, true}},
		{"negative", "n < -3", &ComparisonExpr{"n", OpLt, -3.0}},
		{"like", "name LIKE 'Al%'", &ComparisonExpr{"name", OpLike, "Al%"}},
		{"not like", "name NOT LIKE '%x%'", &ComparisonExpr{"name", OpNotLike, "%x%"}},
		{"in", "role IN ('a', 2, NULL)", &ComparisonExpr{"role", OpIn, []any{"a", 2.0, nil}}},
		{"not in", "role NOT IN ('a')", &ComparisonExpr{"role", OpNotIn, []any{"a"}}},
		{"is null", "email IS NULL", &ComparisonExpr{Field: "email", Op: OpIsNull}},
		{"is not null", "email IS NOT NULL", &ComparisonExpr{Field: "email", Op: OpIsNotNull}},
		{"and chain", "a = 1 AND b = 2 AND c = 3", &LogicalExpr{"AND", []Expr{
			&ComparisonExpr{"a", OpEq, 1.0}, &ComparisonExpr{"b", OpEq, 2.0}, &ComparisonExpr{"c", OpEq, 3.0},
		}}},
		{"parenthesised mix", "a = 1 AND (b = 2 OR c = 3)", &LogicalExpr{"AND", []Expr{
			&ComparisonExpr{"a", OpEq, 1.0},
			&LogicalExpr{"OR", []Expr{&ComparisonExpr{"b", OpEq, 2.0}, &ComparisonExpr{"c", OpEq, 3.0}}},
		}}},
		{"not", "NOT (a = 1 OR b = 2)", &NotExpr{&LogicalExpr{"OR", []Expr{
			&ComparisonExpr{"a", OpEq, 1.0}, &ComparisonExpr{"b", OpEq, 2.0},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Parse("SELECT * FROM c WHERE " + tt.where)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, stmt.Where)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  error
		pos   int
		token string
	}{
		{"empty", "", ErrSyntax, 0, ""},
		{"mixed and or", "SELECT * FROM c WHERE a = 1 AND b = 2 OR c = 3", ErrSyntax, 38, "OR"},
		{"missing from", "SELECT * users", ErrSyntax, 9, "users"},
		{"missing value", "SELECT * FROM c WHERE a =", ErrSyntax, 25, ""},
		{"unclosed paren", "SELECT * FROM c WHERE (a = 1", ErrSyntax, 22, "("},
		{"unterminated string", "SELECT * FROM c WHERE a = 'x", ErrSyntax, 26, "'x"},
		{"illegal character", "SELECT * FROM c WHERE a # 1", ErrSyntax, 24, "#"},
		{"bad limit", "SELECT * FROM c LIMIT x", ErrSyntax, 22, "x"},
		{"trailing tokens", "SELECT * FROM c d", ErrSyntax, 16, "d"},
		{"insert", "INSERT INTO c VALUES (1)", ErrUnsupported, 0, "INSERT"},
		{"join", "SELECT * FROM a JOIN b", ErrUnsupported, 16, "JOIN"},
		{"group by", "SELECT * FROM a GROUP BY x", ErrUnsupported, 16, "GROUP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, tt.pos, syntaxErr.Pos)
			assert.Equal(t, tt.token, syntaxErr.Token)
		})
	}
}
