/*
Package sql compiles a small SELECT-only SQL dialect into a statement tree
that the query package turns into a query.Query.

Supported grammar:

	SELECT * | field [, field ...]
	FROM collection
	[WHERE expr]
	[ORDER BY field [ASC|DESC] [, ...]]
	[LIMIT n] [OFFSET m] [;]

	expr    := unary { AND unary } | unary { OR unary }
	unary   := NOT unary | '(' expr ')' | compare
	compare := field (= | != | <> | < | <= | > | >=) literal
	         | field [NOT] LIKE 'pattern'
	         | field [NOT] IN (literal [, ...])
	         | field IS [NOT] NULL

AND and OR cannot be mixed at one nesting level; parentheses make the
grouping explicit. Fields are identifiers, optionally dotted ("address.city")
or double-quoted ("first name"). Keywords are case-insensitive.
*/
package sql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType is the category of a lexical token.
type TokenType int

const (
	TokenEOF     TokenType = iota
	TokenIllegal           // Unrecognised input
	TokenIdent             // Field or collection name
	TokenString            // 'literal'
	TokenNumber            // 12, 3.5
	TokenKeyword           // SELECT, FROM, ...
	TokenComma
	TokenLParen
	TokenRParen
	TokenStar
	TokenMinus
	TokenSemicolon
	TokenOperator // =, !=, <>, <, <=, >, >=
)

// Token is one lexical unit. Pos is its byte offset in the input.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

var keywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "ORDER": {}, "BY": {},
	"ASC": {}, "DESC": {}, "LIMIT": {}, "OFFSET": {},
	"AND": {}, "OR": {}, "NOT": {}, "LIKE": {}, "IN": {}, "IS": {},
	"NULL": {}, "TRUE": {}, "FALSE": {},
}

// unsupportedKeywords are SQL words outside the dialect. They lex as
// keywords so the parser can report ErrUnsupported instead of a generic
// syntax error.
var unsupportedKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "CREATE": {}, "DROP": {},
	"ALTER": {}, "JOIN": {}, "GROUP": {}, "HAVING": {}, "UNION": {},
	"DISTINCT": {}, "BETWEEN": {},
}

// Lexer turns an input string into tokens, one NextToken call at a time.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a Lexer positioned at the start of input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token, or TokenEOF at the end of input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	r, width := utf8.DecodeRuneInString(l.input[l.pos:])

	switch {
	case unicode.IsLetter(r) || r == '_':
		for l.pos < len(l.input) {
			r, w := utf8.DecodeRuneInString(l.input[l.pos:])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '$' {
				break
			}
			l.pos += w
		}
		lit := l.input[start:l.pos]
		upper := strings.ToUpper(lit)
		if _, ok := keywords[upper]; ok {
			return Token{Type: TokenKeyword, Value: upper, Pos: start}
		}
		if _, ok := unsupportedKeywords[upper]; ok {
			return Token{Type: TokenKeyword, Value: upper, Pos: start}
		}
		return Token{Type: TokenIdent, Value: lit, Pos: start}

	case unicode.IsDigit(r):
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
		if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(l.input[l.pos+1]) {
			l.pos++
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
		return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start}

	case r == '\'':
		return l.quoted('\'', TokenString)

	case r == '"':
		return l.quoted('"', TokenIdent)
	}

	l.pos += width
	switch r {
	case ',':
		return Token{Type: TokenComma, Value: ",", Pos: start}
	case '(':
		return Token{Type: TokenLParen, Value: "(", Pos: start}
	case ')':
		return Token{Type: TokenRParen, Value: ")", Pos: start}
	case '*':
		return Token{Type: TokenStar, Value: "*", Pos: start}
	case '-':
		return Token{Type: TokenMinus, Value: "-", Pos: start}
	case ';':
		return Token{Type: TokenSemicolon, Value: ";", Pos: start}
	case '=':
		return Token{Type: TokenOperator, Value: "=", Pos: start}
	case '!':
		if l.match('=') {
			return Token{Type: TokenOperator, Value: "!=", Pos: start}
		}
	case '<':
		if l.match('=') {
			return Token{Type: TokenOperator, Value: "<=", Pos: start}
		}
		if l.match('>') {
			return Token{Type: TokenOperator, Value: "<>", Pos: start}
		}
		return Token{Type: TokenOperator, Value: "<", Pos: start}
	case '>':
		if l.match('=') {
			return Token{Type: TokenOperator, Value: ">=", Pos: start}
		}
		return Token{Type: TokenOperator, Value: ">", Pos: start}
	}
	return Token{Type: TokenIllegal, Value: l.input[start:l.pos], Pos: start}
}

// quoted reads a literal delimited by quote. A doubled quote stands for
// itself. An unterminated literal is returned as TokenIllegal.
func (l *Lexer) quoted(quote byte, typ TokenType) Token {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == quote {
				b.WriteByte(quote)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: typ, Value: b.String(), Pos: start}
		}
		b.WriteByte(ch)
		l.pos++
	}
	return Token{Type: TokenIllegal, Value: l.input[start:], Pos: start}
}

func (l *Lexer) match(ch byte) bool {
	if l.pos < len(l.input) && l.input[l.pos] == ch {
		l.pos++
		return true
	}
	return false
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, w := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += w
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
