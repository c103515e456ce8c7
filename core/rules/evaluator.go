package rules

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/shopspring/decimal"
)

// DataProvider gives lookups access to other collections. GetValue returns
// (nil, nil) when the document or field does not exist.
type DataProvider interface {
	GetValue(ctx context.Context, collection, id, field string) (any, error)
}

// Evaluator computes expression values. It holds no per-call state and is
// safe for concurrent use.
type Evaluator struct {
	provider DataProvider
	now      func() time.Time
}

// NewEvaluator creates an evaluator resolving lookups through provider,
// which may be nil when no expression uses lookup.
func NewEvaluator(provider DataProvider) *Evaluator {
	return &Evaluator{provider: provider, now: time.Now}
}

// WithClock returns a copy of the evaluator using now as its clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	c := *e
	c.now = now
	return &c
}

// Evaluate computes expr against doc.
func (e *Evaluator) Evaluate(ctx context.Context, expr Expr, doc map[string]any) (any, error) {
	switch n := expr.(type) {
	case Val:
		return n.Value, nil
	case Var:
		v, ok := core.GetPath(doc, n.Name)
		if !ok {
			return nil, evalErr(KindVarNotFound, "%s", n.Name)
		}
		return v, nil
	case Now:
		return e.now().UTC().Format(time.RFC3339), nil
	case And:
		for _, a := range n.Args {
			v, err := e.Evaluate(ctx, a, doc)
			if err != nil {
				return nil, err
			}
			if !core.Truthy(v) {
				return false, nil
			}
		}
		return true, nil
	case Or:
		for _, a := range n.Args {
			v, err := e.Evaluate(ctx, a, doc)
			if err != nil {
				return nil, err
			}
			if core.Truthy(v) {
				return true, nil
			}
		}
		return false, nil
	case Not:
		v, err := e.Evaluate(ctx, n.Arg, doc)
		if err != nil {
			return nil, err
		}
		return !core.Truthy(v), nil
	case If:
		cond, err := e.Evaluate(ctx, n.Condition, doc)
		if err != nil {
			return nil, err
		}
		if core.Truthy(cond) {
			return e.Evaluate(ctx, n.Then, doc)
		}
		return e.Evaluate(ctx, n.Else, doc)
	case Compare:
		return e.compare(ctx, n, doc)
	case Arith:
		vals, err := e.evalAll(ctx, n.Args, doc)
		if err != nil {
			return nil, err
		}
		return arith(n.Op, vals)
	case Concat:
		vals, err := e.evalAll(ctx, n.Args, doc)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, v := range vals {
			s, err := stringify(v)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	case Upper:
		v, err := e.Evaluate(ctx, n.Arg, doc)
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, evalErr(KindNotAString, "upper expects a string, got %T", v)
		}
		return strings.ToUpper(s), nil
	case RegexMatch:
		return e.regexMatch(ctx, n, doc)
	case DateDiff:
		start, err := e.date(ctx, n.Start, doc)
		if err != nil {
			return nil, err
		}
		end, err := e.date(ctx, n.End, doc)
		if err != nil {
			return nil, err
		}
		return math.Trunc(end.Sub(start).Hours() / 24), nil
	case DateAdd:
		base, err := e.date(ctx, n.Date, doc)
		if err != nil {
			return nil, err
		}
		raw, err := e.Evaluate(ctx, n.Days, doc)
		if err != nil {
			return nil, err
		}
		days, ok := number(raw)
		if !ok {
			return nil, evalErr(KindNotANumber, "date_add days: %v", raw)
		}
		return base.AddDate(0, 0, int(days)).Format(time.RFC3339), nil
	case Lookup:
		return e.lookup(ctx, n, doc)
	case nil:
		return nil, evalErr(KindGeneric, "nil expression")
	}
	return nil, evalErr(KindGeneric, "unsupported expression %T", expr)
}

func (e *Evaluator) evalAll(ctx context.Context, args []Expr, doc map[string]any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := e.Evaluate(ctx, a, doc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Evaluator) compare(ctx context.Context, n Compare, doc map[string]any) (any, error) {
	left, err := e.Evaluate(ctx, n.Left, doc)
	if err != nil {
		return nil, err
	}
	right, err := e.Evaluate(ctx, n.Right, doc)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case OpEq:
		return core.JSONEqual(left, right), nil
	case OpNeq:
		return !core.JSONEqual(left, right), nil
	}

	l, lok := number(left)
	r, rok := number(right)
	if !lok || !rok {
		return nil, evalErr(KindNotANumber, "%s expects numbers, got %v and %v", n.Op, left, right)
	}
	switch n.Op {
	case OpGt:
		return l > r, nil
	case OpLt:
		return l < r, nil
	case OpGte:
		return l >= r, nil
	case OpLte:
		return l <= r, nil
	}
	return nil, evalErr(KindGeneric, "unknown comparison %q", n.Op)
}

func number(v any) (float64, bool) {
	if !core.IsNumber(v) {
		return 0, false
	}
	return core.ToFloat64(v)
}

// arith folds values with exact decimal arithmetic. add and mul are
// variadic; sub and div fold from the left. Division by zero yields nil.
func arith(op ArithOp, vals []any) (any, error) {
	nums := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		f, ok := number(v)
		if !ok {
			return nil, evalErr(KindNotANumber, "%s operand %d: %v", op, i, v)
		}
		nums[i] = decimal.NewFromFloat(f)
	}

	var acc decimal.Decimal
	switch op {
	case OpAdd:
		acc = decimal.Zero
		for _, d := range nums {
			acc = acc.Add(d)
		}
	case OpMul:
		acc = decimal.NewFromInt(1)
		for _, d := range nums {
			acc = acc.Mul(d)
		}
	case OpSub:
		if len(nums) == 0 {
			return 0.0, nil
		}
		acc = nums[0]
		for _, d := range nums[1:] {
			acc = acc.Sub(d)
		}
	case OpDiv:
		if len(nums) == 0 {
			return 1.0, nil
		}
		acc = nums[0]
		for _, d := range nums[1:] {
			if d.IsZero() {
				return nil, nil
			}
			acc = acc.Div(d)
		}
	default:
		return nil, evalErr(KindGeneric, "unknown arithmetic operator %q", op)
	}
	f, _ := acc.Float64()
	return f, nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	}
	if f, ok := number(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", evalErr(KindNotAString, "cannot concatenate %T", v)
}

func (e *Evaluator) regexMatch(ctx context.Context, n RegexMatch, doc map[string]any) (any, error) {
	v, err := e.Evaluate(ctx, n.Value, doc)
	if err != nil {
		return nil, err
	}
	p, err := e.Evaluate(ctx, n.Pattern, doc)
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, evalErr(KindNotAString, "regex_match value: %v", v)
	}
	pattern, ok := p.(string)
	if !ok {
		return nil, evalErr(KindNotAString, "regex_match pattern: %v", p)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, evalErr(KindInvalidRegex, "%s: %v", pattern, err)
	}
	return re.MatchString(s), nil
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, evalErr(KindInvalidDate, "%q", s)
}

func (e *Evaluator) date(ctx context.Context, expr Expr, doc map[string]any) (time.Time, error) {
	v, err := e.Evaluate(ctx, expr, doc)
	if err != nil {
		return time.Time{}, err
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, evalErr(KindInvalidDate, "%v", v)
	}
	return ParseDate(s)
}

func (e *Evaluator) lookup(ctx context.Context, n Lookup, doc map[string]any) (any, error) {
	raw, err := e.Evaluate(ctx, n.ID, doc)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var id string
	switch v := raw.(type) {
	case string:
		id = v
	default:
		s, err := stringify(v)
		if err != nil {
			return nil, err
		}
		id = s
	}
	if e.provider == nil {
		return nil, evalErr(KindGeneric, "lookup %s/%s: no data provider", n.Collection, id)
	}
	v, err := e.provider.GetValue(ctx, n.Collection, id, n.Field)
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s.%s: %w", n.Collection, id, n.Field, err)
	}
	return v, nil
}
