package sql

// SelectStmt is a parsed SELECT statement. Fields is nil for SELECT *.
type SelectStmt struct {
	Fields     []string
	Collection string
	Where      Expr
	OrderBy    []OrderItem
	Limit      *int
	Offset     *int
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Field string
	Desc  bool
}

// Expr is a node of a WHERE expression.
type Expr interface {
	exprNode()
}

// Comparison operators produced by the parser.
const (
	OpEq        = "="
	OpNe        = "!="
	OpLt        = "<"
	OpLte       = "<="
	OpGt        = ">"
	OpGte       = ">="
	OpLike      = "LIKE"
	OpNotLike   = "NOT LIKE"
	OpIn        = "IN"
	OpNotIn     = "NOT IN"
	OpIsNull    = "IS NULL"
	OpIsNotNull = "IS NOT NULL"
)

// ComparisonExpr tests one field. Value holds the literal for binary
// operators and a []any for IN lists; it is unused for IS [NOT] NULL.
type ComparisonExpr struct {
	Field string
	Op    string
	Value any
}

// LogicalExpr joins operands with a single AND or OR.
type LogicalExpr struct {
	Op       string
	Operands []Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

func (*ComparisonExpr) exprNode() {}
func (*LogicalExpr) exprNode()    {}
func (*NotExpr) exprNode()        {}
