package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-jsondb/core"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Executor evaluates queries over documents held in memory. It is safe for
// concurrent use.
type Executor struct {
	logger *zap.Logger
	locale language.Tag

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewExecutor creates an Executor. Strings are ordered with the collation
// rules of locale; an empty or unknown locale falls back to English.
func NewExecutor(logger *zap.Logger, locale string) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		} else {
			logger.Warn("Unknown collation locale, using English", zap.String("locale", locale), zap.Error(err))
		}
	}
	return &Executor{
		logger:   logger,
		locale:   tag,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Execute runs q over docs: filter, stable sort, projection, then the
// offset/limit window. docs are not modified.
func (e *Executor) Execute(docs []core.Document, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	matched := make([]core.Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := e.Match(q.Filter, doc)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Collection, err)
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	e.logger.Debug("Documents remaining after filter",
		zap.String("collection", q.Collection), zap.Int("scanned", len(docs)), zap.Int("matched", len(matched)))

	if len(q.Sort) > 0 {
		e.sortDocuments(matched, q.Sort)
	}

	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)

	out := make([]core.Document, len(page))
	for i, doc := range page {
		out[i] = applyProjection(doc, q.Projection)
	}

	return &Result{
		Documents:  out,
		TotalCount: total,
		Offset:     q.Offset,
		Limit:      q.Limit,
	}, nil
}

// Match reports whether doc satisfies filter. A nil filter matches
// everything.
func (e *Executor) Match(filter *Filter, doc core.Document) (bool, error) {
	if filter == nil {
		return true, nil
	}
	return e.evaluateFilter(doc, filter)
}

func (e *Executor) evaluateFilter(doc core.Document, filter *Filter) (bool, error) {
	switch filter.Operator {
	case LogicalOperatorAnd, "":
		return e.all(doc, filter)
	case LogicalOperatorNot:
		ok, err := e.all(doc, filter)
		return !ok, err
	case LogicalOperatorOr:
		for _, cond := range filter.Conditions {
			ok, err := e.evaluateCondition(doc, cond)
			if err != nil || ok {
				return ok, err
			}
		}
		for i := range filter.Groups {
			ok, err := e.evaluateFilter(doc, &filter.Groups[i])
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported logical operator %q: %w", filter.Operator, ErrInvalidQuery)
	}
}

func (e *Executor) all(doc core.Document, filter *Filter) (bool, error) {
	for _, cond := range filter.Conditions {
		ok, err := e.evaluateCondition(doc, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	for i := range filter.Groups {
		ok, err := e.evaluateFilter(doc, &filter.Groups[i])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e *Executor) evaluateCondition(doc core.Document, cond Condition) (bool, error) {
	fieldValue, present := core.GetPath(doc, cond.Field)

	switch cond.Operator {
	case ComparisonOperatorEq:
		if cond.Value == nil {
			return !present || fieldValue == nil, nil
		}
		return present && core.ValuesEqual(fieldValue, cond.Value), nil
	case ComparisonOperatorNe:
		if cond.Value == nil {
			return present && fieldValue != nil, nil
		}
		return !present || !core.ValuesEqual(fieldValue, cond.Value), nil
	case ComparisonOperatorGt, ComparisonOperatorGte, ComparisonOperatorLt, ComparisonOperatorLte:
		if !present {
			return false, nil
		}
		c, ok := core.Compare(fieldValue, cond.Value)
		if !ok {
			return false, nil
		}
		switch cond.Operator {
		case ComparisonOperatorGt:
			return c > 0, nil
		case ComparisonOperatorGte:
			return c >= 0, nil
		case ComparisonOperatorLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case ComparisonOperatorIn:
		return present && memberOf(fieldValue, cond.Value), nil
	case ComparisonOperatorNin:
		return !present || !memberOf(fieldValue, cond.Value), nil
	case ComparisonOperatorContains:
		return present && contains(fieldValue, cond.Value), nil
	case ComparisonOperatorStartsWith:
		s, sub, ok := stringPair(fieldValue, cond.Value)
		return present && ok && strings.HasPrefix(s, sub), nil
	case ComparisonOperatorEndsWith:
		s, sub, ok := stringPair(fieldValue, cond.Value)
		return present && ok && strings.HasSuffix(s, sub), nil
	case ComparisonOperatorMatches:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false, fmt.Errorf("matches on %s needs a string pattern, got %T: %w", cond.Field, cond.Value, ErrInvalidQuery)
		}
		re, err := e.compile(pattern)
		if err != nil {
			return false, fmt.Errorf("matches on %s: %w", cond.Field, err)
		}
		s, isString := fieldValue.(string)
		return present && isString && re.MatchString(s), nil
	case ComparisonOperatorExists:
		want := true
		if b, ok := cond.Value.(bool); ok {
			want = b
		}
		return (present && fieldValue != nil) == want, nil
	default:
		return false, fmt.Errorf("unsupported comparison operator %q: %w", cond.Operator, ErrInvalidQuery)
	}
}

func (e *Executor) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.patterns[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %v: %w", pattern, err, ErrInvalidQuery)
	}
	e.mu.Lock()
	e.patterns[pattern] = re
	e.mu.Unlock()
	return re, nil
}

// sortDocuments orders docs in place. Values of different kinds order as
// missing < null < bool < number < string < arrays and objects.
func (e *Executor) sortDocuments(docs []core.Document, fields []SortField) {
	collator := collate.New(e.locale)
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, aok := core.GetPath(docs[i], f.Field)
			b, bok := core.GetPath(docs[j], f.Field)
			c := compareForSort(collator, a, aok, b, bok)
			if f.Direction == SortDirectionDesc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func paginate(docs []core.Document, offset int, limit *int) []core.Document {
	if offset >= len(docs) {
		return nil
	}
	docs = docs[offset:]
	if limit != nil && *limit < len(docs) {
		docs = docs[:*limit]
	}
	return docs
}

func applyProjection(doc core.Document, p *Projection) core.Document {
	if p == nil {
		return doc.Clone()
	}
	switch p.Mode {
	case ProjectionInclude:
		out := core.Document{}
		for _, field := range p.Fields {
			if v, ok := core.GetPath(doc, field); ok {
				_ = core.SetPath(out, field, core.CloneValue(v))
			}
		}
		return out
	default:
		out := doc.Clone()
		for _, field := range p.Fields {
			removePath(out, field)
		}
		return out
	}
}
