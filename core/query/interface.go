package query

import (
	"context"
	"errors"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/transaction"
)

// ErrInvalidQuery is returned for queries that cannot be executed as
// written.
var ErrInvalidQuery = errors.New("invalid query")

// Store is the read side the Engine scans. *collections.Manager satisfies
// it.
type Store interface {
	// ListAll returns every document of a collection in storage order.
	ListAll(ctx context.Context, collection string) ([]core.Document, error)
	// ListCollections returns the names of the user collections.
	ListCollections() ([]string, error)
}

// Committer applies a batch of writes atomically. *transaction.Manager
// satisfies it.
type Committer interface {
	Execute(ctx context.Context, tx *transaction.Transaction) error
}
