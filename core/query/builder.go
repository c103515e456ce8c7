package query

import "github.com/asaidimu/go-jsondb/core"

// Builder provides a fluent API for building Query values.
//
//	q := query.New("users").
//		Where("age").Gt(18).
//		Where("role").In("admin", "owner").
//		OrderByDesc("age").
//		Limit(10).
//		Build()
//
// Conditions added with Where are joined with AND. Use WhereGroup for OR
// and NOT branches.
type Builder struct {
	query Query
}

// New creates a builder for a query over collection.
func New(collection string) *Builder {
	return &Builder{query: Query{Collection: collection}}
}

// Build returns a copy of the constructed query.
func (b *Builder) Build() Query {
	return cloneQuery(b.query)
}

// Clone creates an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	return &Builder{query: cloneQuery(b.query)}
}

// Reset clears everything but the collection.
func (b *Builder) Reset() *Builder {
	b.query = Query{Collection: b.query.Collection}
	return b
}

func (b *Builder) root() *Filter {
	if b.query.Filter == nil {
		b.query.Filter = &Filter{Operator: LogicalOperatorAnd}
	}
	return b.query.Filter
}

// Where begins a condition on field. The condition is ANDed with the others.
func (b *Builder) Where(field string) *ConditionBuilder[*Builder] {
	return &ConditionBuilder[*Builder]{
		field: field,
		add: func(c Condition) *Builder {
			root := b.root()
			root.Conditions = append(root.Conditions, c)
			return b
		},
	}
}

// WhereGroup opens a nested group combined with operator. Close it with End.
func (b *Builder) WhereGroup(operator LogicalOperator) *GroupBuilder {
	return &GroupBuilder{builder: b, group: Filter{Operator: operator}}
}

// Filter replaces the whole filter tree.
func (b *Builder) Filter(f *Filter) *Builder {
	if f == nil {
		b.query.Filter = nil
		return b
	}
	cp := cloneFilter(*f)
	b.query.Filter = &cp
	return b
}

// OrderBy adds a sort field.
func (b *Builder) OrderBy(field string, direction SortDirection) *Builder {
	b.query.Sort = append(b.query.Sort, SortField{Field: field, Direction: direction})
	return b
}

// OrderByAsc adds an ascending sort field.
func (b *Builder) OrderByAsc(field string) *Builder {
	return b.OrderBy(field, SortDirectionAsc)
}

// OrderByDesc adds a descending sort field.
func (b *Builder) OrderByDesc(field string) *Builder {
	return b.OrderBy(field, SortDirectionDesc)
}

// Limit caps the number of returned documents.
func (b *Builder) Limit(limit int) *Builder {
	b.query.Limit = &limit
	return b
}

// Offset skips the first offset matching documents.
func (b *Builder) Offset(offset int) *Builder {
	b.query.Offset = offset
	return b
}

// Include keeps only fields in the returned documents.
func (b *Builder) Include(fields ...string) *Builder {
	b.query.Projection = &Projection{Mode: ProjectionInclude, Fields: append([]string(nil), fields...)}
	return b
}

// Exclude removes fields from the returned documents.
func (b *Builder) Exclude(fields ...string) *Builder {
	b.query.Projection = &Projection{Mode: ProjectionExclude, Fields: append([]string(nil), fields...)}
	return b
}

// ConditionBuilder completes a condition on one field and hands control back
// to its parent P, either a *Builder or a *GroupBuilder.
type ConditionBuilder[P any] struct {
	field string
	add   func(Condition) P
}

func (cb *ConditionBuilder[P]) op(operator ComparisonOperator, value FilterValue) P {
	return cb.add(Condition{Field: cb.field, Operator: operator, Value: value})
}

// Eq adds an equality condition. Eq(nil) matches a missing or null field.
func (cb *ConditionBuilder[P]) Eq(value FilterValue) P { return cb.op(ComparisonOperatorEq, value) }

// Ne adds a not-equal condition.
func (cb *ConditionBuilder[P]) Ne(value FilterValue) P { return cb.op(ComparisonOperatorNe, value) }

// Gt adds a greater-than condition.
func (cb *ConditionBuilder[P]) Gt(value FilterValue) P { return cb.op(ComparisonOperatorGt, value) }

// Gte adds a greater-than-or-equal condition.
func (cb *ConditionBuilder[P]) Gte(value FilterValue) P { return cb.op(ComparisonOperatorGte, value) }

// Lt adds a less-than condition.
func (cb *ConditionBuilder[P]) Lt(value FilterValue) P { return cb.op(ComparisonOperatorLt, value) }

// Lte adds a less-than-or-equal condition.
func (cb *ConditionBuilder[P]) Lte(value FilterValue) P { return cb.op(ComparisonOperatorLte, value) }

// In matches when the field equals one of values.
func (cb *ConditionBuilder[P]) In(values ...FilterValue) P {
	return cb.op(ComparisonOperatorIn, toAnySlice(values))
}

// Nin matches when the field equals none of values.
func (cb *ConditionBuilder[P]) Nin(values ...FilterValue) P {
	return cb.op(ComparisonOperatorNin, toAnySlice(values))
}

// Contains matches array membership or a substring.
func (cb *ConditionBuilder[P]) Contains(value FilterValue) P {
	return cb.op(ComparisonOperatorContains, value)
}

// StartsWith matches a string prefix.
func (cb *ConditionBuilder[P]) StartsWith(prefix string) P {
	return cb.op(ComparisonOperatorStartsWith, prefix)
}

// EndsWith matches a string suffix.
func (cb *ConditionBuilder[P]) EndsWith(suffix string) P {
	return cb.op(ComparisonOperatorEndsWith, suffix)
}

// Matches tests the field against a regular expression.
func (cb *ConditionBuilder[P]) Matches(pattern string) P {
	return cb.op(ComparisonOperatorMatches, pattern)
}

// Exists matches when the field is present and not null.
func (cb *ConditionBuilder[P]) Exists() P { return cb.op(ComparisonOperatorExists, true) }

// NotExists matches when the field is absent or null.
func (cb *ConditionBuilder[P]) NotExists() P { return cb.op(ComparisonOperatorExists, false) }

// GroupBuilder collects the members of a nested filter group.
type GroupBuilder struct {
	builder *Builder
	outer   *GroupBuilder
	group   Filter
}

// Where adds a condition to the group.
func (gb *GroupBuilder) Where(field string) *ConditionBuilder[*GroupBuilder] {
	return &ConditionBuilder[*GroupBuilder]{
		field: field,
		add: func(c Condition) *GroupBuilder {
			gb.group.Conditions = append(gb.group.Conditions, c)
			return gb
		},
	}
}

// WhereGroup opens a group nested inside this one. Close it with EndGroup.
func (gb *GroupBuilder) WhereGroup(operator LogicalOperator) *GroupBuilder {
	return &GroupBuilder{builder: gb.builder, outer: gb, group: Filter{Operator: operator}}
}

// EndGroup closes a nested group and returns the enclosing one. On a
// top-level group it attaches the group to the query and returns nil.
func (gb *GroupBuilder) EndGroup() *GroupBuilder {
	if gb.outer == nil {
		gb.attach()
		return nil
	}
	gb.outer.group.Groups = append(gb.outer.group.Groups, gb.group)
	return gb.outer
}

// End closes this group and every enclosing one, returning to the query
// builder.
func (gb *GroupBuilder) End() *Builder {
	current := gb
	for current.outer != nil {
		current = current.EndGroup()
	}
	current.attach()
	return gb.builder
}

func (gb *GroupBuilder) attach() {
	root := gb.builder.root()
	root.Groups = append(root.Groups, gb.group)
}

func toAnySlice(values []FilterValue) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func cloneQuery(q Query) Query {
	out := q
	if q.Filter != nil {
		f := cloneFilter(*q.Filter)
		out.Filter = &f
	}
	out.Sort = append([]SortField(nil), q.Sort...)
	if q.Limit != nil {
		limit := *q.Limit
		out.Limit = &limit
	}
	if q.Projection != nil {
		out.Projection = &Projection{Mode: q.Projection.Mode, Fields: append([]string(nil), q.Projection.Fields...)}
	}
	return out
}

func cloneFilter(f Filter) Filter {
	out := Filter{Operator: f.Operator}
	if f.Conditions != nil {
		out.Conditions = make([]Condition, len(f.Conditions))
		for i, c := range f.Conditions {
			out.Conditions[i] = Condition{Field: c.Field, Operator: c.Operator, Value: core.CloneValue(c.Value)}
		}
	}
	if f.Groups != nil {
		out.Groups = make([]Filter, len(f.Groups))
		for i, g := range f.Groups {
			out.Groups[i] = cloneFilter(g)
		}
	}
	return out
}
