package sql

import (
	"fmt"
	"strconv"
)

// Parser is a recursive-descent parser over a Lexer with one token of
// lookahead.
type Parser struct {
	lexer *Lexer
	cur   Token
	peek  Token
}

// NewParser creates a Parser reading tokens from lexer.
func NewParser(lexer *Lexer) *Parser {
	p := &Parser{lexer: lexer}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a single SELECT statement from input.
func Parse(input string) (*SelectStmt, error) {
	return NewParser(NewLexer(input)).Parse()
}

func (p *Parser) nextToken() {
	p.cur = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	return p.errorAt(p.cur, ErrSyntax, format, args...)
}

func (p *Parser) errorAt(tok Token, kind error, format string, args ...any) error {
	return &SyntaxError{Pos: tok.Pos, Token: tok.Value, Msg: fmt.Sprintf(format, args...), kind: kind}
}

func (p *Parser) isKeyword(kw string) bool {
	return p.cur.Type == TokenKeyword && p.cur.Value == kw
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.unexpected("expected " + kw)
	}
	p.nextToken()
	return nil
}

// unexpected reports the current token, flagging words outside the dialect
// as unsupported rather than malformed.
func (p *Parser) unexpected(msg string) error {
	if p.cur.Type == TokenKeyword {
		if _, ok := unsupportedKeywords[p.cur.Value]; ok {
			return p.errorAt(p.cur, ErrUnsupported, "%s is not supported", p.cur.Value)
		}
	}
	if p.cur.Type == TokenIllegal {
		return p.errorf("illegal input")
	}
	return p.errorf("%s", msg)
}

// Parse parses the whole input as one SELECT statement.
func (p *Parser) Parse() (*SelectStmt, error) {
	if p.cur.Type == TokenEOF {
		return nil, p.errorf("empty statement")
	}
	if !p.isKeyword("SELECT") {
		return nil, p.unexpected("expected SELECT")
	}
	p.nextToken()

	stmt := &SelectStmt{}
	if p.cur.Type == TokenStar {
		p.nextToken()
	} else {
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		stmt.Fields = fields
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	if p.cur.Type != TokenIdent {
		return nil, p.unexpected("expected collection name")
	}
	stmt.Collection = p.cur.Value
	p.nextToken()

	if p.isKeyword("WHERE") {
		p.nextToken()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.isKeyword("ORDER") {
		p.nextToken()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		order, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = order
	}

	if p.isKeyword("LIMIT") {
		p.nextToken()
		n, err := p.parseCount("LIMIT")
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.isKeyword("OFFSET") {
		p.nextToken()
		n, err := p.parseCount("OFFSET")
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	if p.cur.Type == TokenSemicolon {
		p.nextToken()
	}
	if p.cur.Type != TokenEOF {
		return nil, p.unexpected("unexpected token after statement")
	}
	return stmt, nil
}

func (p *Parser) parseFieldList() ([]string, error) {
	var fields []string
	for {
		if p.cur.Type != TokenIdent {
			return nil, p.unexpected("expected field name")
		}
		fields = append(fields, p.cur.Value)
		p.nextToken()
		if p.cur.Type != TokenComma {
			return fields, nil
		}
		p.nextToken()
	}
}

func (p *Parser) parseOrderBy() ([]OrderItem, error) {
	var items []OrderItem
	for {
		if p.cur.Type != TokenIdent {
			return nil, p.unexpected("expected field name in ORDER BY")
		}
		item := OrderItem{Field: p.cur.Value}
		p.nextToken()
		switch {
		case p.isKeyword("ASC"):
			p.nextToken()
		case p.isKeyword("DESC"):
			item.Desc = true
			p.nextToken()
		}
		items = append(items, item)
		if p.cur.Type != TokenComma {
			return items, nil
		}
		p.nextToken()
	}
}

func (p *Parser) parseCount(clause string) (int, error) {
	if p.cur.Type != TokenNumber {
		return 0, p.unexpected("expected a non-negative integer after " + clause)
	}
	n, err := strconv.Atoi(p.cur.Value)
	if err != nil {
		return 0, p.errorf("%s must be a non-negative integer", clause)
	}
	p.nextToken()
	return n, nil
}

// parseExpr parses operands joined by one logical operator. A different
// operator at the same level is an error.
func (p *Parser) parseExpr() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("AND") && !p.isKeyword("OR") {
		return first, nil
	}

	logical := &LogicalExpr{Op: p.cur.Value, Operands: []Expr{first}}
	for p.isKeyword("AND") || p.isKeyword("OR") {
		if p.cur.Value != logical.Op {
			return nil, p.errorf("cannot mix AND and OR without parentheses")
		}
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		logical.Operands = append(logical.Operands, operand)
	}
	return logical, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isKeyword("NOT") {
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Operand: operand}, nil
	}
	if p.cur.Type == TokenLParen {
		open := p.cur
		p.nextToken()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur.Type != TokenRParen {
			if p.cur.Type == TokenEOF {
				return nil, p.errorAt(open, ErrSyntax, "unclosed parenthesis")
			}
			return nil, p.unexpected("expected )")
		}
		p.nextToken()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	if p.cur.Type != TokenIdent {
		return nil, p.unexpected("expected field name")
	}
	field := p.cur.Value
	p.nextToken()

	switch {
	case p.cur.Type == TokenOperator:
		op := p.cur.Value
		if op == "<>" {
			op = OpNe
		}
		p.nextToken()
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &ComparisonExpr{Field: field, Op: op, Value: value}, nil

	case p.isKeyword("IS"):
		p.nextToken()
		op := OpIsNull
		if p.isKeyword("NOT") {
			op = OpIsNotNull
			p.nextToken()
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &ComparisonExpr{Field: field, Op: op}, nil

	case p.isKeyword("NOT"):
		p.nextToken()
		switch {
		case p.isKeyword("LIKE"):
			return p.parseLike(field, OpNotLike)
		case p.isKeyword("IN"):
			return p.parseIn(field, OpNotIn)
		}
		return nil, p.unexpected("expected LIKE or IN after NOT")

	case p.isKeyword("LIKE"):
		return p.parseLike(field, OpLike)

	case p.isKeyword("IN"):
		return p.parseIn(field, OpIn)
	}
	return nil, p.unexpected("expected comparison operator")
}

func (p *Parser) parseLike(field, op string) (Expr, error) {
	p.nextToken()
	if p.cur.Type != TokenString {
		return nil, p.unexpected("LIKE needs a string pattern")
	}
	pattern := p.cur.Value
	p.nextToken()
	return &ComparisonExpr{Field: field, Op: op, Value: pattern}, nil
}

func (p *Parser) parseIn(field, op string) (Expr, error) {
	p.nextToken()
	if p.cur.Type != TokenLParen {
		return nil, p.unexpected("expected ( after IN")
	}
	p.nextToken()
	values := []any{}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur.Type == TokenComma {
			p.nextToken()
			continue
		}
		if p.cur.Type != TokenRParen {
			return nil, p.unexpected("expected , or ) in IN list")
		}
		p.nextToken()
		return &ComparisonExpr{Field: field, Op: op, Value: values}, nil
	}
}

// parseLiteral reads a string, number, boolean or NULL. Numbers become
// float64, the type decoded JSON numbers have.
func (p *Parser) parseLiteral() (any, error) {
	negative := false
	if p.cur.Type == TokenMinus {
		negative = true
		p.nextToken()
		if p.cur.Type != TokenNumber {
			return nil, p.unexpected("expected number after -")
		}
	}

	tok := p.cur
	switch {
	case tok.Type == TokenString:
		p.nextToken()
		return tok.Value, nil
	case tok.Type == TokenNumber:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf("invalid number")
		}
		p.nextToken()
		if negative {
			f = -f
		}
		return f, nil
	case p.isKeyword("TRUE"):
		p.nextToken()
		return true, nil
	case p.isKeyword("FALSE"):
		p.nextToken()
		return false, nil
	case p.isKeyword("NULL"):
		p.nextToken()
		return nil, nil
	}
	return nil, p.unexpected("expected a literal value")
}
