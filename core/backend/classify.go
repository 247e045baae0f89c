package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/restifier/core/store"
)

// candidate is a record of a save request together with its position in the request
type candidate struct {
	index  int
	record map[string]interface{}
}

// classification partitions the candidates of a save request
type classification struct {
	newItems       []candidate
	changedItems   []candidate
	unchangedItems []candidate
	existingIDs    []interface{}
	// stored documents of existing candidates by canonical identifier
	stored map[string]store.Document
}

// categorize sorts candidates into new, changed and unchanged records. It looks
// up all identifiers with a single query and without ownership constraint, so
// records of other owners count as existing.
func (c *collection) categorize(ctx context.Context, candidates []candidate) (*classification, error) {
	idField := c.descriptor.IDField()
	cls := &classification{stored: map[string]store.Document{}}

	var ids []interface{}
	for _, cand := range candidates {
		if id, ok := cand.record[idField]; ok && id != nil {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		docs, err := c.live.Find(ctx, store.Filter{store.IDKey: map[string]interface{}{"$in": ids}}, store.FindOptions{})
		if err != nil {
			return nil, fmt.Errorf("cannot look up existing records: %w", err)
		}
		for _, doc := range docs {
			cls.stored[store.Canonical(doc[store.IDKey])] = doc
		}
	}

	for _, cand := range candidates {
		id, ok := cand.record[idField]
		if !ok || id == nil {
			cls.newItems = append(cls.newItems, cand)
			continue
		}
		doc, exists := cls.stored[store.Canonical(id)]
		if !exists {
			cls.newItems = append(cls.newItems, cand)
			continue
		}
		cls.existingIDs = append(cls.existingIDs, id)
		if differs(cand.record, doc, idField) {
			cls.changedItems = append(cls.changedItems, cand)
		} else {
			cls.unchangedItems = append(cls.unchangedItems, cand)
		}
	}
	return cls, nil
}

// storedDocument returns the stored document of an existing identifier
func (cls *classification) storedDocument(id interface{}) store.Document {
	return cls.stored[store.Canonical(id)]
}

// differs returns true if any field of record has a different value in doc
func differs(record map[string]interface{}, doc store.Document, idField string) bool {
	for field, value := range record {
		if field == idField {
			continue
		}
		if !store.Equal(value, doc[field]) {
			return true
		}
	}
	return false
}
