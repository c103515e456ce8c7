// Package rules implements the computed-field expression language: an AST,
// its JSON encoding, an evaluator, a dependency analyzer and a store that
// indexes rules by the fields they read.
package rules

// Expr is a node of the expression tree.
type Expr interface {
	isExpr()
}

// CompareOp names a comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpNeq CompareOp = "neq"
	OpGt  CompareOp = "gt"
	OpLt  CompareOp = "lt"
	OpGte CompareOp = "gte"
	OpLte CompareOp = "lte"
)

// ArithOp names an arithmetic operator.
type ArithOp string

const (
	OpAdd ArithOp = "add"
	OpSub ArithOp = "sub"
	OpMul ArithOp = "mul"
	OpDiv ArithOp = "div"
)

// Val is a literal JSON value.
type Val struct{ Value any }

// Var reads a field of the document being computed. Name is a dot path,
// or a JSON pointer when it starts with '/'.
type Var struct{ Name string }

// And is true when every argument is truthy.
type And struct{ Args []Expr }

// Or is true when any argument is truthy.
type Or struct{ Args []Expr }

// Not negates the truthiness of its argument.
type Not struct{ Arg Expr }

// If evaluates Then or Else depending on Condition.
type If struct {
	Condition Expr
	Then      Expr
	Else      Expr
}

// Compare applies a comparison to two operands.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

// Arith folds its arguments with an arithmetic operator.
type Arith struct {
	Op   ArithOp
	Args []Expr
}

// Now yields the current instant as an RFC 3339 string.
type Now struct{}

// DateDiff yields the whole days from Start to End.
type DateDiff struct{ Start, End Expr }

// DateAdd adds Days to Date.
type DateAdd struct{ Date, Days Expr }

// Concat joins strings, numbers and booleans.
type Concat struct{ Args []Expr }

// Upper upper-cases a string.
type Upper struct{ Arg Expr }

// RegexMatch tests Value against Pattern.
type RegexMatch struct{ Value, Pattern Expr }

// Lookup reads Field of document ID in Collection.
type Lookup struct {
	Collection string
	ID         Expr
	Field      string
}

func (Val) isExpr()        {}
func (Var) isExpr()        {}
func (And) isExpr()        {}
func (Or) isExpr()         {}
func (Not) isExpr()        {}
func (If) isExpr()         {}
func (Compare) isExpr()    {}
func (Arith) isExpr()      {}
func (Now) isExpr()        {}
func (DateDiff) isExpr()   {}
func (DateAdd) isExpr()    {}
func (Concat) isExpr()     {}
func (Upper) isExpr()      {}
func (RegexMatch) isExpr() {}
func (Lookup) isExpr()     {}

// Rule computes Target from Expr.
type Rule struct {
	ID     string
	Target string
	Expr   Expr
}
