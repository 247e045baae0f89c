/*
Package memstore is an in-process document store

It keeps all collections in memory and evaluates filters itself. It is
meant for development and tests, data is lost when the process exits.
*/
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/restifier/core/store"
)

// Store is an in-memory store.Store
type Store struct {
	mutex       sync.Mutex
	collections map[string]*Collection
	sequences   map[string]int64
}

// New returns an empty in-memory store
func New() *Store {
	return &Store{
		collections: map[string]*Collection{},
		sequences:   map[string]int64{},
	}
}

// EnsureCollection implements store.Store
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	s.collection(name)
	return nil
}

// Collection implements store.Store
func (s *Store) Collection(name string) store.Collection {
	return s.collection(name)
}

func (s *Store) collection(name string) *Collection {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &Collection{name: name, ids: map[string]struct{}{}}
		s.collections[name] = c
	}
	return c
}

// NextSequence implements store.Store
func (s *Store) NextSequence(ctx context.Context, name string, startAt, incrementBy int64) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	value, ok := s.sequences[name]
	if !ok {
		value = startAt
	} else {
		value += incrementBy
	}
	s.sequences[name] = value
	return value, nil
}

// Close implements store.Store
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// Collection is an in-memory store.Collection
type Collection struct {
	name  string
	mutex sync.RWMutex
	docs  []store.Document
	ids   map[string]struct{}
}

// Name implements store.Collection
func (c *Collection) Name() string {
	return c.name
}

// Find implements store.Collection
func (c *Collection) Find(ctx context.Context, filter store.Filter, options store.FindOptions) ([]store.Document, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	c.mutex.RLock()
	var result []store.Document
	for _, doc := range c.docs {
		if matches(doc, f) {
			result = append(result, doc)
		}
	}
	c.mutex.RUnlock()

	if len(options.Sort) > 0 {
		sort.SliceStable(result, func(i, j int) bool {
			return less(result[i], result[j], options.Sort)
		})
	}
	if options.Skip > 0 {
		if options.Skip >= int64(len(result)) {
			result = nil
		} else {
			result = result[options.Skip:]
		}
	}
	if options.Limit > 0 && int64(len(result)) > options.Limit {
		result = result[:options.Limit]
	}

	out := make([]store.Document, 0, len(result))
	for _, doc := range result {
		cp, err := copyDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Count implements store.Collection
func (c *Collection) Count(ctx context.Context, filter store.Filter) (int64, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var count int64
	for _, doc := range c.docs {
		if matches(doc, f) {
			count++
		}
	}
	return count, nil
}

// InsertMany implements store.Collection. Like an unordered bulk insert, documents
// with a duplicate identifier are skipped and reported while the others are inserted.
func (c *Collection) InsertMany(ctx context.Context, documents []store.Document) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var firstErr error
	for _, document := range documents {
		id, ok := document[store.IDKey]
		if !ok || id == nil {
			return fmt.Errorf("insert into %s: document has no %s", c.name, store.IDKey)
		}
		key := store.Canonical(id)
		if _, exists := c.ids[key]; exists {
			if firstErr == nil {
				firstErr = fmt.Errorf("insert into %s: %s %s: %w", c.name, store.IDKey, key, store.ErrDuplicate)
			}
			continue
		}
		doc, err := copyDocument(document)
		if err != nil {
			return err
		}
		c.docs = append(c.docs, doc)
		c.ids[key] = struct{}{}
	}
	return firstErr
}

// BulkUpdate implements store.Collection
func (c *Collection) BulkUpdate(ctx context.Context, updates []store.Update) (store.BulkResult, error) {
	var result store.BulkResult
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, update := range updates {
		f, err := normalizeFilter(update.Filter)
		if err != nil {
			return result, err
		}
		set, err := copyDocument(update.Set)
		if err != nil {
			return result, err
		}
		for i, doc := range c.docs {
			if !matches(doc, f) {
				continue
			}
			result.Matched++
			before := store.Canonical(doc)
			updated := make(store.Document, len(doc)+len(set))
			for k, v := range doc {
				updated[k] = v
			}
			for k, v := range set {
				if k == store.IDKey {
					continue
				}
				updated[k] = v
			}
			for k, inc := range update.Inc {
				n, _ := updated[k].(float64)
				updated[k] = n + float64(inc)
			}
			if store.Canonical(updated) != before {
				result.Modified++
			}
			c.docs[i] = updated
			break
		}
	}
	return result, nil
}

// Remove implements store.Collection
func (c *Collection) Remove(ctx context.Context, filter store.Filter) (int64, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var removed int64
	kept := c.docs[:0]
	for _, doc := range c.docs {
		if matches(doc, f) {
			delete(c.ids, store.Canonical(doc[store.IDKey]))
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return removed, nil
}

// copyDocument deep copies a document through JSON, which also brings all numbers
// into float64 representation
func copyDocument(document store.Document) (store.Document, error) {
	if document == nil {
		return store.Document{}, nil
	}
	body, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("cannot encode document: %w", err)
	}
	var doc store.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("cannot decode document: %w", err)
	}
	return doc, nil
}

func normalizeFilter(filter store.Filter) (map[string]interface{}, error) {
	return copyDocument(store.Document(filter))
}
