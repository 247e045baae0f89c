package backend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/restifier/core"
	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/query"
	"github.com/relabs-tech/restifier/core/schema"
	"github.com/relabs-tech/restifier/core/store"
)

// timestamp fields maintained by the backend
const (
	createdAtKey = "createdAt"
	updatedAtKey = "updatedAt"
	historyKey   = "history"
)

// timestampFormat is RFC 3339 with fixed millisecond precision, so timestamps sort lexically
const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// sanitizedKeys are never taken from a request body
var sanitizedKeys = []string{store.IDKey, store.RevisionKey, historyKey, createdAtKey, updatedAtKey, originalIDKey}

// saveOptions are the write flags of a save request
type saveOptions struct {
	createOnly bool
	updateOnly bool
}

// saveResult is the outcome of a save
type saveResult struct {
	// created are the inserted documents
	created []store.Document
	newIDs  []interface{}
	// updated is the number of modified records
	updated    int64
	updatedIDs []interface{}
	unchanged  int
	// foreignIDs are existing records owned by somebody else, they are left untouched
	foreignIDs []interface{}
	// missingIDs are new records dropped by updateOnly
	missingIDs []interface{}
	// skipped counts records left out by the flags or owned by somebody else
	skipped int
}

func now() string {
	return time.Now().UTC().Format(timestampFormat)
}

// saveRecords creates new records and updates changed ones. All records are validated
// before anything is written.
func (c *collection) saveRecords(ctx context.Context, records []map[string]interface{}, options saveOptions, auth *access.Authorization) (*saveResult, error) {
	if options.createOnly && options.updateOnly {
		return nil, errUnprocessable("Should not use both insertOnly and updateOnly together!")
	}
	result := &saveResult{}
	if len(records) == 0 {
		return result, nil
	}

	owner, scoped := c.query.Owner(auth)
	if scoped && owner == query.OwnerSentinel {
		return nil, errNotAuthenticated
	}

	idField := c.descriptor.IDField()
	autoIncrement, startAt, incrementBy := c.descriptor.AutoIncrement()

	candidates := make([]candidate, len(records))
	for i, record := range records {
		for _, key := range sanitizedKeys {
			delete(record, key)
		}
		c.descriptor.Strip(record)
		if c.ownerField != "" && scoped {
			record[c.ownerField] = owner
		}
		if id, ok := record[idField]; (!ok || id == nil) && c.descriptor.IDType() == schema.TypeString {
			record[idField] = uuid.New().String()
		}
		candidates[i] = candidate{index: i, record: record}
	}
	if err := rejectDuplicates(candidates, idField); err != nil {
		return nil, err
	}

	cls, err := c.categorize(ctx, candidates)
	if err != nil {
		return nil, err
	}
	result.unchanged = len(cls.unchangedItems)

	// unscoped callers own what they create, unless they name an owner. Existing
	// records keep their stored owner.
	if c.ownerField != "" && !scoped && auth.IsAuthenticated() {
		for _, cand := range cls.newItems {
			if _, ok := cand.record[c.ownerField]; !ok {
				cand.record[c.ownerField] = auth.Identity
			}
		}
	}

	// validate everything before the first write
	multi := len(records) > 1
	invalid := map[string]string{}
	addErrors := func(index int, err error) error {
		validationErr, ok := err.(*schema.ValidationError)
		if !ok {
			return err
		}
		for field, message := range validationErr.Fields {
			if multi {
				field = strconv.Itoa(index) + "." + field
			}
			invalid[field] = message
		}
		return nil
	}

	var inserts, updates []candidate
	if options.updateOnly {
		result.skipped += len(cls.newItems)
		for _, cand := range cls.newItems {
			result.missingIDs = append(result.missingIDs, cand.record[idField])
		}
	} else {
		for _, cand := range cls.newItems {
			c.descriptor.ApplyDefaults(cand.record)
			if id, ok := cand.record[idField]; (!ok || id == nil) && !autoIncrement {
				if err := addErrors(cand.index, &schema.ValidationError{Fields: map[string]string{idField: idField + " is required"}}); err != nil {
					return nil, err
				}
				continue
			}
			if err := c.descriptor.Validate(cand.record, false); err != nil {
				if err := addErrors(cand.index, err); err != nil {
					return nil, err
				}
				continue
			}
			inserts = append(inserts, cand)
		}
	}
	if options.createOnly {
		result.skipped += len(cls.changedItems)
	} else {
		for _, cand := range cls.changedItems {
			id := cand.record[idField]
			if scoped && !store.Equal(cls.storedDocument(id)[c.ownerField], owner) {
				result.foreignIDs = append(result.foreignIDs, id)
				result.skipped++
				continue
			}
			if err := c.descriptor.Validate(cand.record, true); err != nil {
				if err := addErrors(cand.index, err); err != nil {
					return nil, err
				}
				continue
			}
			updates = append(updates, cand)
		}
	}
	if len(invalid) > 0 {
		return nil, &schema.ValidationError{Fields: invalid}
	}

	if len(inserts) > 0 {
		if err := c.bulkCreate(ctx, inserts, autoIncrement, startAt, incrementBy, result); err != nil {
			return nil, err
		}
	}
	if len(updates) > 0 {
		if err := c.bulkUpdate(ctx, updates, owner, scoped, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// rejectDuplicates fails if an identifier occurs more than once. Each record of a
// batch gets its own revision and history entry, which requires distinct identifiers.
func rejectDuplicates(candidates []candidate, idField string) error {
	if len(candidates) < 2 {
		return nil
	}
	first := map[string]int{}
	invalid := map[string]string{}
	for _, cand := range candidates {
		id, ok := cand.record[idField]
		if !ok || id == nil {
			continue
		}
		key := store.Canonical(id)
		if index, seen := first[key]; seen {
			invalid[strconv.Itoa(cand.index)+"."+idField] = "duplicate identifier, already used by record " + strconv.Itoa(index)
			continue
		}
		first[key] = cand.index
	}
	if len(invalid) > 0 {
		return &schema.ValidationError{Fields: invalid}
	}
	return nil
}

func (c *collection) bulkCreate(ctx context.Context, inserts []candidate, autoIncrement bool, startAt, incrementBy int64, result *saveResult) error {
	idField := c.descriptor.IDField()
	timestamp := now()
	documents := make([]store.Document, 0, len(inserts))
	for _, cand := range inserts {
		doc := store.Document{}
		for k, v := range cand.record {
			doc[k] = v
		}
		id, ok := doc[idField]
		if (!ok || id == nil) && autoIncrement {
			next, err := c.backend.store.NextSequence(ctx, c.name, startAt, incrementBy)
			if err != nil {
				return fmt.Errorf("cannot assign identifier: %w", err)
			}
			id = next
		}
		delete(doc, idField)
		doc[store.IDKey] = id
		doc[store.RevisionKey] = 0
		if c.timestamps {
			doc[createdAtKey] = timestamp
			doc[updatedAtKey] = timestamp
		}
		documents = append(documents, doc)
	}

	if err := c.live.InsertMany(ctx, documents); err != nil {
		return fmt.Errorf("cannot create records: %w", err)
	}
	for _, doc := range documents {
		result.created = append(result.created, doc)
		result.newIDs = append(result.newIDs, doc[store.IDKey])
		c.notify(core.OperationCreate, c.toItem(doc))
	}
	return nil
}

func (c *collection) bulkUpdate(ctx context.Context, changed []candidate, owner string, scoped bool, result *saveResult) error {
	idField := c.descriptor.IDField()
	ids := make([]interface{}, len(changed))
	for i, cand := range changed {
		ids[i] = cand.record[idField]
	}

	if c.history != nil {
		if err := c.createHistory(ctx, ids); err != nil {
			return err
		}
	}

	timestamp := now()
	updates := make([]store.Update, len(changed))
	for i, cand := range changed {
		set := store.Document{}
		for k, v := range cand.record {
			if k != idField {
				set[k] = v
			}
		}
		if c.timestamps {
			set[updatedAtKey] = timestamp
		}
		filter := store.Filter{store.IDKey: ids[i]}
		if scoped {
			filter[c.ownerField] = owner
		}
		updates[i] = store.Update{
			Filter: filter,
			Set:    set,
			Inc:    map[string]int64{store.RevisionKey: 1},
		}
	}

	bulk, err := c.live.BulkUpdate(ctx, updates)
	if err != nil {
		return fmt.Errorf("cannot update records: %w", err)
	}
	result.updated = bulk.Modified
	result.updatedIDs = ids
	for _, cand := range changed {
		c.notify(core.OperationUpdate, cand.record)
	}
	return nil
}
