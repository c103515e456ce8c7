// Package transaction applies batches of document writes atomically. Each
// batch is staged in a write-ahead log record carrying the pre-image of
// every document it touches; on failure, and on startup after a crash, the
// pre-images are written back in reverse order.
package transaction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/google/uuid"
)

// ErrRolledBack marks a transaction whose effects were undone.
var ErrRolledBack = errors.New("transaction rolled back")

// OpKind is the closed set of operations a transaction can stage.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one staged write.
type Operation struct {
	Kind       OpKind        `json:"kind"`
	Collection string        `json:"collection"`
	ID         string        `json:"id"`
	Document   core.Document `json:"document,omitempty"`
	// Previous is the stored version before the transaction, nil when the
	// document did not exist.
	Previous core.Document `json:"previous,omitempty"`
}

// Transaction is an ordered batch of operations built in memory.
type Transaction struct {
	ID         string
	Operations []Operation
}

// New starts an empty transaction with a fresh id.
func New() *Transaction {
	return &Transaction{ID: uuid.New().String()}
}

// Insert stages a new document. A missing id is generated now so the WAL
// record can name the document.
func (t *Transaction) Insert(collection string, doc core.Document) *Transaction {
	doc = doc.Clone()
	if doc == nil {
		doc = core.Document{}
	}
	if doc.ID() == "" {
		doc["id"] = uuid.New().String()
	}
	t.Operations = append(t.Operations, Operation{Kind: OpInsert, Collection: collection, ID: doc.ID(), Document: doc})
	return t
}

// Update stages the replacement of an existing document.
func (t *Transaction) Update(collection string, doc core.Document) *Transaction {
	doc = doc.Clone()
	t.Operations = append(t.Operations, Operation{Kind: OpUpdate, Collection: collection, ID: doc.ID(), Document: doc})
	return t
}

// Delete stages the removal of a document.
func (t *Transaction) Delete(collection, id string) *Transaction {
	t.Operations = append(t.Operations, Operation{Kind: OpDelete, Collection: collection, ID: id})
	return t
}

// Len returns the number of staged operations.
func (t *Transaction) Len() int {
	return len(t.Operations)
}

// Error reports a failed transaction. Cause is the error of operation Op;
// RollbackErr is set when undoing the applied operations failed too, in
// which case the WAL record is kept for Recover.
type Error struct {
	TxID        string
	Op          int
	Operation   Operation
	Cause       error
	RollbackErr error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction %s: %s %s/%s (operation %d): %v",
		e.TxID, e.Operation.Kind, e.Operation.Collection, e.Operation.ID, e.Op, e.Cause)
	if e.RollbackErr != nil {
		fmt.Fprintf(&b, "; rollback failed: %v", e.RollbackErr)
	} else {
		b.WriteString("; rolled back")
	}
	return b.String()
}

// Unwrap exposes the cause, the rollback failure and ErrRolledBack when the
// rollback succeeded.
func (e *Error) Unwrap() []error {
	if e.RollbackErr != nil {
		return []error{e.Cause, e.RollbackErr}
	}
	return []error{ErrRolledBack, e.Cause}
}
