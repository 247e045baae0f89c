/*
Package store defines the document store capability the backend consumes

A Store hands out Collections. A Collection can find, count, insert, update
and remove documents matching a Filter. Drivers live in the sub packages
memstore, mongostore and pgstore.

Documents are plain maps decoded from JSON. The identifier of a document is
stored under the key "_id", the revision under "__v".
*/
package store

import (
	"context"
	"errors"
)

// Reserved document keys
const (
	// IDKey holds the identifier of a document
	IDKey = "_id"
	// RevisionKey holds the revision counter of a document
	RevisionKey = "__v"
)

// Document is a single record as stored
type Document = map[string]interface{}

/*
Filter is a raw filter object which is forwarded to the driver.

Keys are field names (dotted paths address nested objects) or the logical
operators "$and" and "$or". Values are either a scalar for equality, or an
operator object with one or more of

	$eq $ne $gt $gte $lt $lte $in $nin $regex $options $exists

The filter is intentionally dynamic. Clients can pass operator objects in
request bodies and the backend does not interpret them beyond ownership and
identifier handling.
*/
type Filter map[string]interface{}

// SortField is a single sort criterion
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions control a find operation
type FindOptions struct {
	Sort  []SortField
	Limit int64
	Skip  int64
	// BatchSize is a performance hint for drivers which fetch in batches
	BatchSize int32
}

// Update is a conditional update of a single document
type Update struct {
	// Filter selects the document, usually by identifier and owner
	Filter Filter
	// Set replaces the given fields
	Set Document
	// Inc increments the given numeric fields
	Inc map[string]int64
}

// BulkResult is the result of a bulk update
type BulkResult struct {
	Matched  int64
	Modified int64
}

// Sentinel errors returned by drivers
var (
	ErrDuplicate = errors.New("duplicate identifier")
	ErrNotFound  = errors.New("not found")
)

// Collection is a named set of documents
type Collection interface {
	Name() string
	Find(ctx context.Context, filter Filter, options FindOptions) ([]Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	// InsertMany inserts all documents. Documents must carry an identifier. The operation
	// is not atomic; on error some documents may have been inserted.
	InsertMany(ctx context.Context, documents []Document) error
	// BulkUpdate applies all updates unordered. Each update is atomic for its document.
	BulkUpdate(ctx context.Context, updates []Update) (BulkResult, error)
	Remove(ctx context.Context, filter Filter) (int64, error)
}

// Store is a document store
type Store interface {
	// EnsureCollection creates the collection with its indexes if it does not exist yet
	EnsureCollection(ctx context.Context, name string) error
	Collection(name string) Collection
	// NextSequence returns the next value of the named sequence. The first value is startAt.
	NextSequence(ctx context.Context, name string, startAt, incrementBy int64) (int64, error)
	Close(ctx context.Context) error
}
