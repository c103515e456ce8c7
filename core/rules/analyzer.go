package rules

// Dependencies returns the sorted set of variable names expr reads.
// Literals and now contribute nothing; a lookup contributes only the
// variables of its id expression.
func Dependencies(expr Expr) []string {
	set := make(map[string]struct{})
	collect(expr, set)
	return sortedKeys(set)
}

func collect(expr Expr, set map[string]struct{}) {
	switch n := expr.(type) {
	case Var:
		set[n.Name] = struct{}{}
	case And:
		collectAll(n.Args, set)
	case Or:
		collectAll(n.Args, set)
	case Concat:
		collectAll(n.Args, set)
	case Arith:
		collectAll(n.Args, set)
	case Not:
		collect(n.Arg, set)
	case Upper:
		collect(n.Arg, set)
	case If:
		collect(n.Condition, set)
		collect(n.Then, set)
		collect(n.Else, set)
	case Compare:
		collect(n.Left, set)
		collect(n.Right, set)
	case DateDiff:
		collect(n.Start, set)
		collect(n.End, set)
	case DateAdd:
		collect(n.Date, set)
		collect(n.Days, set)
	case RegexMatch:
		collect(n.Value, set)
		collect(n.Pattern, set)
	case Lookup:
		collect(n.ID, set)
	}
}

func collectAll(args []Expr, set map[string]struct{}) {
	for _, a := range args {
		collect(a, set)
	}
}
