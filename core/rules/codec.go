package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidExpression is wrapped by every decoding failure.
var ErrInvalidExpression = errors.New("invalid expression")

// Parse decodes a JSON-encoded expression.
func Parse(data []byte) (Expr, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return ParseValue(raw)
}

// ParseValue decodes an expression from its generic JSON form. Every node
// is an object with a single snake_case operator key, except "now" which
// may also be written as a bare string.
func ParseValue(raw any) (Expr, error) {
	if s, ok := raw.(string); ok {
		if s == "now" {
			return Now{}, nil
		}
		return nil, fmt.Errorf("%w: unexpected string %q", ErrInvalidExpression, s)
	}

	obj, ok := raw.(map[string]any)
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("%w: expected an object with one operator key, got %v", ErrInvalidExpression, raw)
	}

	var op string
	var arg any
	for k, v := range obj {
		op, arg = k, v
	}

	switch op {
	case "val":
		return Val{Value: arg}, nil
	case "var":
		name, ok := arg.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: var expects a field name", ErrInvalidExpression)
		}
		return Var{Name: name}, nil
	case "now":
		return Now{}, nil
	case "and", "or", "concat", string(OpAdd), string(OpSub), string(OpMul), string(OpDiv):
		args, err := parseList(op, arg)
		if err != nil {
			return nil, err
		}
		switch op {
		case "and":
			return And{Args: args}, nil
		case "or":
			return Or{Args: args}, nil
		case "concat":
			return Concat{Args: args}, nil
		}
		return Arith{Op: ArithOp(op), Args: args}, nil
	case "not", "upper":
		inner, err := ParseValue(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if op == "not" {
			return Not{Arg: inner}, nil
		}
		return Upper{Arg: inner}, nil
	case string(OpEq), string(OpNeq), string(OpGt), string(OpLt), string(OpGte), string(OpLte):
		args, err := parseList(op, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %s expects 2 operands, got %d", ErrInvalidExpression, op, len(args))
		}
		return Compare{Op: CompareOp(op), Left: args[0], Right: args[1]}, nil
	case "if":
		fields, err := parseFields(op, arg, "condition", "then_branch", "else_branch")
		if err != nil {
			return nil, err
		}
		return If{Condition: fields[0], Then: fields[1], Else: fields[2]}, nil
	case "date_diff":
		fields, err := parseFields(op, arg, "start", "end")
		if err != nil {
			return nil, err
		}
		return DateDiff{Start: fields[0], End: fields[1]}, nil
	case "date_add":
		fields, err := parseFields(op, arg, "date", "days")
		if err != nil {
			return nil, err
		}
		return DateAdd{Date: fields[0], Days: fields[1]}, nil
	case "regex_match":
		fields, err := parseFields(op, arg, "value", "pattern")
		if err != nil {
			return nil, err
		}
		return RegexMatch{Value: fields[0], Pattern: fields[1]}, nil
	case "lookup":
		return parseLookup(arg)
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidExpression, op)
}

func parseList(op string, arg any) ([]Expr, error) {
	list, ok := arg.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an array", ErrInvalidExpression, op)
	}
	out := make([]Expr, 0, len(list))
	for i, item := range list {
		e, err := ParseValue(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseFields(op string, arg any, names ...string) ([]Expr, error) {
	obj, ok := arg.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an object", ErrInvalidExpression, op)
	}
	out := make([]Expr, len(names))
	for i, name := range names {
		raw, ok := obj[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing %q", ErrInvalidExpression, op, name)
		}
		e, err := ParseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", op, name, err)
		}
		out[i] = e
	}
	return out, nil
}

func parseLookup(arg any) (Expr, error) {
	obj, ok := arg.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: lookup expects an object", ErrInvalidExpression)
	}
	collection, _ := obj["collection"].(string)
	field, _ := obj["field"].(string)
	if collection == "" || field == "" {
		return nil, fmt.Errorf("%w: lookup needs collection and field", ErrInvalidExpression)
	}
	rawID, ok := obj["id"]
	if !ok {
		return nil, fmt.Errorf("%w: lookup is missing \"id\"", ErrInvalidExpression)
	}
	id, err := ParseValue(rawID)
	if err != nil {
		return nil, fmt.Errorf("lookup.id: %w", err)
	}
	return Lookup{Collection: collection, ID: id, Field: field}, nil
}

// Encode renders an expression in its generic JSON form.
func Encode(e Expr) any {
	switch n := e.(type) {
	case Val:
		return map[string]any{"val": n.Value}
	case Var:
		return map[string]any{"var": n.Name}
	case Now:
		return "now"
	case And:
		return map[string]any{"and": encodeList(n.Args)}
	case Or:
		return map[string]any{"or": encodeList(n.Args)}
	case Concat:
		return map[string]any{"concat": encodeList(n.Args)}
	case Arith:
		return map[string]any{string(n.Op): encodeList(n.Args)}
	case Not:
		return map[string]any{"not": Encode(n.Arg)}
	case Upper:
		return map[string]any{"upper": Encode(n.Arg)}
	case Compare:
		return map[string]any{string(n.Op): []any{Encode(n.Left), Encode(n.Right)}}
	case If:
		return map[string]any{"if": map[string]any{
			"condition":   Encode(n.Condition),
			"then_branch": Encode(n.Then),
			"else_branch": Encode(n.Else),
		}}
	case DateDiff:
		return map[string]any{"date_diff": map[string]any{"start": Encode(n.Start), "end": Encode(n.End)}}
	case DateAdd:
		return map[string]any{"date_add": map[string]any{"date": Encode(n.Date), "days": Encode(n.Days)}}
	case RegexMatch:
		return map[string]any{"regex_match": map[string]any{"value": Encode(n.Value), "pattern": Encode(n.Pattern)}}
	case Lookup:
		return map[string]any{"lookup": map[string]any{
			"collection": n.Collection,
			"id":         Encode(n.ID),
			"field":      n.Field,
		}}
	}
	return nil
}

func encodeList(args []Expr) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = Encode(a)
	}
	return out
}

type ruleJSON struct {
	ID     string `json:"id"`
	Target string `json:"target"`
	Expr   any    `json:"expr"`
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{ID: r.ID, Target: r.Target, Expr: Encode(r.Expr)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseRule(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func parseRule(raw ruleJSON) (Rule, error) {
	if raw.ID == "" || raw.Target == "" {
		return Rule{}, fmt.Errorf("%w: rule needs id and target", ErrInvalidExpression)
	}
	e, err := ParseValue(raw.Expr)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", raw.ID, err)
	}
	return Rule{ID: raw.ID, Target: raw.Target, Expr: e}, nil
}

// ParseRules decodes an x_rules array.
func ParseRules(raw any) ([]Rule, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: rules must be an array", ErrInvalidExpression)
	}
	out := make([]Rule, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: rule %d is not an object", ErrInvalidExpression, i)
		}
		id, _ := obj["id"].(string)
		target, _ := obj["target"].(string)
		r, err := parseRule(ruleJSON{ID: id, Target: target, Expr: obj["expr"]})
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// sortedKeys is used where map iteration order must not leak into results.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
