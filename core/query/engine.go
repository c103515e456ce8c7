package query

import (
	"context"
	"fmt"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/transaction"
	"go.uber.org/zap"
)

// Engine answers queries over a Store and applies filter-based writes as
// single transactions through a Committer. Every scan is a full scan of the
// collection.
type Engine struct {
	store     Store
	committer Committer
	executor  *Executor
	logger    *zap.Logger
}

// NewEngine creates an Engine. locale selects the string collation used
// for sorting.
func NewEngine(store Store, committer Committer, logger *zap.Logger, locale string) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		committer: committer,
		executor:  NewExecutor(logger, locale),
		logger:    logger,
	}
}

// Executor returns the in-memory executor the engine uses.
func (e *Engine) Executor() *Executor {
	return e.executor
}

// ExecuteQuery loads the collection and runs q over it.
func (e *Engine) ExecuteQuery(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	docs, err := e.store.ListAll(ctx, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", q.Collection, err)
	}
	result, err := e.executor.Execute(docs, q)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Query executed",
		zap.String("collection", q.Collection),
		zap.Int("total", result.TotalCount),
		zap.Int("returned", len(result.Documents)),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// ExecuteSQL compiles a SELECT statement and executes it.
func (e *Engine) ExecuteSQL(ctx context.Context, statement string) (*Result, error) {
	q, err := CompileSQL(statement)
	if err != nil {
		return nil, err
	}
	return e.ExecuteQuery(ctx, q)
}

// Count returns the number of documents of collection matching filter.
func (e *Engine) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	matched, err := e.find(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// ListCollections returns the user collection names.
func (e *Engine) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.store.ListCollections()
}

// Insert stores docs in one transaction. Documents without an id get a
// generated one. Either every document is stored or none is.
func (e *Engine) Insert(ctx context.Context, collection string, docs []core.Document) (*InsertResult, error) {
	tx := transaction.New()
	for _, doc := range docs {
		tx.Insert(collection, doc)
	}
	if err := e.commit(ctx, tx); err != nil {
		return nil, err
	}
	ids := make([]string, 0, tx.Len())
	for _, op := range tx.Operations {
		ids = append(ids, op.ID)
	}
	return &InsertResult{InsertedCount: len(ids), InsertedIDs: ids}, nil
}

// Upsert matches each document against the stored ones on matchFields.
// A match is updated by merging the document's top-level fields into it;
// otherwise the document is inserted. Every document must carry all match
// fields. The whole batch is one transaction.
func (e *Engine) Upsert(ctx context.Context, collection string, docs []core.Document, matchFields []string) (*UpsertResult, error) {
	if len(matchFields) == 0 {
		return nil, fmt.Errorf("upsert into %s: no match fields: %w", collection, ErrInvalidQuery)
	}
	stored, err := e.store.ListAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collection, err)
	}

	result := &UpsertResult{AffectedIDs: []string{}}
	tx := transaction.New()
	for i, doc := range docs {
		filter := And()
		for _, field := range matchFields {
			value, ok := core.GetPath(doc, field)
			if !ok {
				return nil, fmt.Errorf("upsert into %s: document %d lacks match field %q: %w", collection, i, field, ErrInvalidQuery)
			}
			filter.Conditions = append(filter.Conditions, Condition{Field: field, Operator: ComparisonOperatorEq, Value: value})
		}

		existing, err := e.first(stored, filter)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			tx.Insert(collection, doc)
			op := tx.Operations[len(tx.Operations)-1]
			// Later documents of the batch can match this one.
			stored = append(stored, op.Document)
			result.InsertedCount++
			result.AffectedIDs = append(result.AffectedIDs, op.ID)
			continue
		}
		merged := mergeTopLevel(existing, doc)
		tx.Update(collection, merged)
		for j := range stored {
			if stored[j].ID() == existing.ID() {
				stored[j] = merged
			}
		}
		result.UpdatedCount++
		result.AffectedIDs = append(result.AffectedIDs, existing.ID())
	}

	if err := e.commit(ctx, tx); err != nil {
		return nil, err
	}
	return result, nil
}

// Update merges patch into every document of collection matching filter.
// A nil patch value removes that field. Documents the patch leaves
// unchanged are not rewritten.
func (e *Engine) Update(ctx context.Context, collection string, filter *Filter, patch map[string]any) (*UpdateResult, error) {
	matched, err := e.find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	tx := transaction.New()
	for _, doc := range matched {
		merged := mergeTopLevel(doc, patch)
		if core.JSONEqual(merged, doc) {
			continue
		}
		tx.Update(collection, merged)
	}
	if err := e.commit(ctx, tx); err != nil {
		return nil, err
	}
	return &UpdateResult{MatchedCount: len(matched), ModifiedCount: tx.Len()}, nil
}

// Delete removes every document of collection matching filter. A nil
// filter removes them all.
func (e *Engine) Delete(ctx context.Context, collection string, filter *Filter) (*DeleteResult, error) {
	matched, err := e.find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	tx := transaction.New()
	for _, doc := range matched {
		tx.Delete(collection, doc.ID())
	}
	if err := e.commit(ctx, tx); err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: tx.Len()}, nil
}

func (e *Engine) find(ctx context.Context, collection string, filter *Filter) ([]core.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	docs, err := e.store.ListAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collection, err)
	}
	matched := make([]core.Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := e.executor.Match(filter, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	return matched, nil
}

func (e *Engine) first(docs []core.Document, filter *Filter) (core.Document, error) {
	for _, doc := range docs {
		ok, err := e.executor.Match(filter, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			return doc, nil
		}
	}
	return nil, nil
}

func (e *Engine) commit(ctx context.Context, tx *transaction.Transaction) error {
	if tx.Len() == 0 {
		return nil
	}
	if e.committer == nil {
		return fmt.Errorf("engine has no committer: %w", ErrInvalidQuery)
	}
	return e.committer.Execute(ctx, tx)
}
