// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/restifier/core"
	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/query"
	"github.com/relabs-tech/restifier/core/schema"
	"github.com/relabs-tech/restifier/core/store"
)

const arrayBodyMessage = "Invalid request; body of this request cannot be an array!"

// collection is a registered collection resource
type collection struct {
	backend    *Backend
	name       string
	resource   string
	descriptor *schema.Descriptor
	query      *query.Builder
	live       store.Collection
	// history is nil if the collection does not keep versions
	history    store.Collection
	timestamps bool
	ownerField string
}

func (b *Backend) createCollectionResource(ctx context.Context, rc collectionConfiguration) error {
	resource := rc.resource()

	nillog := logger.FromContext(nil)
	nillog.Debugln("create collection:", rc.Name)
	if rc.Description != "" {
		nillog.Debugln("  description:", rc.Description)
	}

	descriptor, err := schema.Compile(rc.Name, rc.Schema, schema.Options{
		Strict:     rc.strict(),
		OwnerField: rc.UserSpace.Field,
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	name := strings.ToLower(rc.Name)
	if err := b.store.EnsureCollection(ctx, name); err != nil {
		return fmt.Errorf("cannot create collection %s: %w", name, err)
	}

	c := &collection{
		backend:    b,
		name:       name,
		resource:   resource,
		descriptor: descriptor,
		query: &query.Builder{
			Descriptor:   descriptor,
			OwnerField:   rc.UserSpace.Field,
			BypassRoles:  rc.UserSpace.Ignore,
			DefaultLimit: rc.DefaultLimit,
			MaxLimit:     rc.MaxLimit,
		},
		live:       b.store.Collection(name),
		timestamps: rc.Timestamps,
		ownerField: rc.UserSpace.Field,
	}

	if rc.History {
		historyName := rc.historyName()
		if err := b.store.EnsureCollection(ctx, historyName); err != nil {
			return fmt.Errorf("cannot create collection %s: %w", historyName, err)
		}
		c.history = b.store.Collection(historyName)
	}
	b.collections[name] = c

	router := b.router
	listRoute := b.baseURL + "/" + resource
	itemRoute := listRoute + "/{id}"

	nillog.Debugln("  handle collection routes:", listRoute, "GET,POST,PUT,DELETE")
	nillog.Debugln("  handle collection routes:", itemRoute, "GET,PUT,DELETE")

	router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.save(w, r)
	}))).Methods(http.MethodPut)

	router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.list(w, r, false)
	}))).Methods(http.MethodGet)

	router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.list(w, r, true)
	}))).Methods(http.MethodPost)

	router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.deleteAll(w, r)
	}))).Methods(http.MethodDelete)

	router.Handle(itemRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.getByID(w, r)
	}))).Methods(http.MethodGet)

	router.Handle(itemRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.updateByID(w, r)
	}))).Methods(http.MethodPut)

	router.Handle(itemRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		if c.history != nil {
			c.deleteAllVersionsRoute(w, r)
			return
		}
		c.deleteByID(w, r)
	}))).Methods(http.MethodDelete)

	if c.history != nil {
		c.handleHistoryRoutes(router, itemRoute)
	}
	return nil
}

// pathID parses the identifier from the route
func (c *collection) pathID(r *http.Request) (interface{}, error) {
	raw := mux.Vars(r)["id"]
	id, ok := c.descriptor.ParseID(raw)
	if !ok {
		return nil, errInvalidID(raw)
	}
	return id, nil
}

// toItem maps a stored document to a response item
func (c *collection) toItem(doc store.Document) map[string]interface{} {
	item := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		item[k] = v
	}
	if id, ok := item[store.IDKey]; ok {
		delete(item, store.IDKey)
		item[c.descriptor.IDField()] = id
	}
	return item
}

// findOne returns the record with id visible to the caller, or nil
func (c *collection) findOne(ctx context.Context, id interface{}, auth *access.Authorization) (store.Document, error) {
	filter := c.query.Scope(store.Filter{store.IDKey: id}, auth)
	docs, err := c.live.Find(ctx, filter, store.FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (c *collection) notify(operation core.Operation, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4760: cannot marshal notification")
		return
	}
	c.backend.notify(c.resource, operation, data)
}

func (c *collection) list(w http.ResponseWriter, r *http.Request, withBody bool) {
	ctx := r.Context()
	req := query.Request{
		Query:         r.URL.Query(),
		Authorization: access.AuthorizationFromContext(ctx),
	}
	if withBody {
		body, err := readObject(r, arrayBodyMessage)
		if err != nil {
			writeError(w, r, err, "4701")
			return
		}
		req.Body = body
	}

	spec := c.query.Build(req, true)
	if spec.Count {
		count, err := c.live.Count(ctx, spec.Filter)
		if err != nil {
			writeError(w, r, err, "4702")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"count": count})
		return
	}

	docs, err := c.live.Find(ctx, spec.Filter, spec.Options)
	if err != nil {
		writeError(w, r, err, "4703")
		return
	}
	items := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		items = append(items, spec.Projection.Apply(c.toItem(doc)))
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *collection) getByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4704")
		return
	}
	spec := c.query.ByID(id, r.URL.Query(), access.AuthorizationFromContext(ctx))
	docs, err := c.live.Find(ctx, spec.Filter, spec.Options)
	if err != nil {
		writeError(w, r, err, "4705")
		return
	}
	if len(docs) == 0 {
		writeError(w, r, errInvalidID(id), "4705")
		return
	}
	writeJSON(w, http.StatusOK, spec.Projection.Apply(c.toItem(docs[0])))
}

func (c *collection) deleteByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4706")
		return
	}
	spec := c.query.ByID(id, r.URL.Query(), auth)
	docs, err := c.live.Find(ctx, spec.Filter, spec.Options)
	if err != nil {
		writeError(w, r, err, "4707")
		return
	}
	if len(docs) == 0 {
		writeError(w, r, errInvalidID(id), "4707")
		return
	}
	deleted, err := c.live.Remove(ctx, spec.Filter)
	if err != nil {
		writeError(w, r, err, "4708")
		return
	}
	if deleted == 0 {
		// removed concurrently
		writeError(w, r, errInvalidID(id), "4708")
		return
	}
	item := c.toItem(docs[0])
	c.notify(core.OperationDelete, item)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"deleted": deleted,
		"item":    spec.Projection.Apply(item),
	})
}

func (c *collection) deleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	body, err := readObject(r, arrayBodyMessage)
	if err != nil {
		writeError(w, r, err, "4709")
		return
	}

	// the query string is the base, the body wins
	spec := c.query.Build(query.Request{Query: r.URL.Query(), Authorization: auth}, true)
	filter := spec.Filter
	for key, value := range body {
		if query.IsReserved(key) {
			continue
		}
		if key == c.descriptor.IDField() {
			key = store.IDKey
		}
		filter[key] = value
	}
	filter = c.query.Scope(filter, auth)

	var ids []interface{}
	if c.history != nil {
		docs, err := c.live.Find(ctx, filter, store.FindOptions{})
		if err != nil {
			writeError(w, r, err, "4710")
			return
		}
		for _, doc := range docs {
			ids = append(ids, doc[store.IDKey])
		}
	}

	deleted, err := c.live.Remove(ctx, filter)
	if err != nil {
		writeError(w, r, err, "4711")
		return
	}
	if len(ids) > 0 {
		if _, err := c.history.Remove(ctx, store.Filter{originalIDKey: map[string]interface{}{"$in": ids}}); err != nil {
			writeError(w, r, err, "4712")
			return
		}
	}
	if deleted > 0 {
		c.notify(core.OperationClear, map[string]interface{}{"deleted": deleted})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "deleted": deleted})
}

func (c *collection) save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err, "4713")
		return
	}
	options, err := parseSaveOptions(r)
	if err != nil {
		writeError(w, r, err, "4713")
		return
	}

	switch b := body.(type) {
	case map[string]interface{}:
		c.respondSingle(w, r, b, options)
	case []interface{}:
		records := make([]map[string]interface{}, len(b))
		for i, e := range b {
			record, ok := e.(map[string]interface{})
			if !ok {
				writeError(w, r, errUnprocessable("Invalid request; array items must be objects!"), "4714")
				return
			}
			records[i] = record
		}
		result, err := c.saveRecords(ctx, records, options, access.AuthorizationFromContext(ctx))
		if err != nil {
			writeError(w, r, err, "4715")
			return
		}
		newIDs := result.newIDs
		if newIDs == nil {
			newIDs = []interface{}{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "saved",
			"result": map[string]interface{}{
				"created":   len(result.created),
				"updated":   result.updated,
				"unchanged": result.unchanged,
				"skipped":   result.skipped,
				"newIds":    newIDs,
			},
		})
	case nil:
		writeError(w, r, errUnprocessable("Invalid request; body is required!"), "4714")
	default:
		writeError(w, r, errUnprocessable("Invalid request; body must be an object or an array of objects!"), "4714")
	}
}

func (c *collection) updateByID(w http.ResponseWriter, r *http.Request) {
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4716")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err, "4716")
		return
	}
	record, ok := body.(map[string]interface{})
	if !ok {
		if _, isArray := body.([]interface{}); isArray {
			writeError(w, r, errUnprocessable(arrayBodyMessage), "4716")
			return
		}
		writeError(w, r, errUnprocessable("Invalid request; body must be an object!"), "4716")
		return
	}
	options, err := parseSaveOptions(r)
	if err != nil {
		writeError(w, r, err, "4716")
		return
	}
	record[c.descriptor.IDField()] = id
	c.respondSingle(w, r, record, options)
}

// respondSingle saves a single record and responds with the outcome
func (c *collection) respondSingle(w http.ResponseWriter, r *http.Request, record map[string]interface{}, options saveOptions) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	projection := query.ParseProjection(r.URL.Query().Get("fields"))

	result, err := c.saveRecords(ctx, []map[string]interface{}{record}, options, auth)
	if err != nil {
		writeError(w, r, err, "4717")
		return
	}

	switch {
	case len(result.created) == 1:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "created",
			"item":   projection.Apply(c.toItem(result.created[0])),
		})
	case result.updated > 0:
		response := map[string]interface{}{"status": "updated"}
		if projection.Requested() {
			doc, err := c.findOne(ctx, result.updatedIDs[0], auth)
			if err != nil {
				writeError(w, r, err, "4718")
				return
			}
			if doc != nil {
				response["item"] = projection.Apply(c.toItem(doc))
			}
		}
		writeJSON(w, http.StatusOK, response)
	case len(result.foreignIDs) > 0:
		writeError(w, r, errInvalidID(result.foreignIDs[0]), "4719")
	case len(result.missingIDs) > 0:
		writeError(w, r, errInvalidID(result.missingIDs[0]), "4719")
	default:
		writeJSON(w, http.StatusNotModified, map[string]interface{}{"status": "no change"})
	}
}

func parseSaveOptions(r *http.Request) (saveOptions, error) {
	var options saveOptions
	values := r.URL.Query()
	for key, target := range map[string]*bool{"createOnly": &options.createOnly, "updateOnly": &options.updateOnly} {
		s := values.Get(key)
		if s == "" {
			continue
		}
		value, err := strconv.ParseBool(s)
		if err != nil {
			return options, errUnprocessable(fmt.Sprintf("Invalid request; %s must be a boolean!", key))
		}
		*target = value
	}
	return options, nil
}
