package backend

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/restifier/core"
	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/query"
	"github.com/relabs-tech/restifier/core/store"
)

// originalIDKey holds the identifier of the live record in a history entry
const originalIDKey = "_originalId"

func (c *collection) handleHistoryRoutes(router *mux.Router, itemRoute string) {
	versionsRoute := itemRoute + "/version"
	versionRoute := versionsRoute + "/{version}"
	rollbackRoute := itemRoute + "/rollback"
	rollbackVersionRoute := rollbackRoute + "/{version}"

	nillog := logger.FromContext(nil)
	nillog.Debugln("  handle history routes:", versionsRoute, "GET")
	nillog.Debugln("  handle history routes:", versionRoute, "GET,DELETE")
	nillog.Debugln("  handle history routes:", rollbackRoute, "POST")
	nillog.Debugln("  handle history routes:", rollbackVersionRoute, "POST")

	router.Handle(versionsRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.listVersionsRoute(w, r)
	}))).Methods(http.MethodGet)

	router.Handle(versionRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.findVersionRoute(w, r)
	}))).Methods(http.MethodGet)

	router.Handle(versionRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.deleteVersionRoute(w, r)
	}))).Methods(http.MethodDelete)

	router.Handle(rollbackRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.rollbackRoute(w, r)
	}))).Methods(http.MethodPost)

	router.Handle(rollbackVersionRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.rollbackRoute(w, r)
	}))).Methods(http.MethodPost)
}

// parseVersion parses the version path parameter
func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errUnprocessable("version must be an integer")
	}
	if v < 0 {
		return 0, errUnprocessable("version must be greater than or equal to zero")
	}
	return v, nil
}

func errInvalidVersion(id interface{}, version int64) *apiError {
	return newAPIError(http.StatusNotFound, fmt.Sprintf("Invalid version %d of resource id %v!", version, id))
}

// createHistory snapshots the current state of the records with ids
func (c *collection) createHistory(ctx context.Context, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	docs, err := c.live.Find(ctx, store.Filter{store.IDKey: map[string]interface{}{"$in": ids}}, store.FindOptions{})
	if err != nil {
		return fmt.Errorf("cannot read records for history: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	entries := make([]store.Document, len(docs))
	for i, doc := range docs {
		entry := store.Document{}
		for k, v := range doc {
			entry[k] = v
		}
		entry[originalIDKey] = doc[store.IDKey]
		entry[store.IDKey] = uuid.New().String()
		entries[i] = entry
	}
	if err := c.history.InsertMany(ctx, entries); err != nil {
		return fmt.Errorf("cannot create history: %w", err)
	}
	c.backend.metrics.historyEntries.WithLabelValues(c.name).Add(float64(len(entries)))
	return nil
}

// historyItem maps a history entry to a response item
func (c *collection) historyItem(entry store.Document) map[string]interface{} {
	item := make(map[string]interface{}, len(entry))
	for k, v := range entry {
		item[k] = v
	}
	delete(item, store.IDKey)
	delete(item, originalIDKey)
	item[c.descriptor.IDField()] = entry[originalIDKey]
	item[historyKey] = map[string]interface{}{
		"id":      entry[store.IDKey],
		"version": entry[store.RevisionKey],
	}
	return item
}

// liveItem maps the live record to a response item of a timeline
func (c *collection) liveItem(doc store.Document) map[string]interface{} {
	item := c.toItem(doc)
	item[historyKey] = map[string]interface{}{
		"id":      doc[store.IDKey],
		"version": doc[store.RevisionKey],
	}
	return item
}

func (c *collection) historyFilter(id interface{}, auth *access.Authorization) store.Filter {
	return c.query.Scope(store.Filter{originalIDKey: id}, auth)
}

// listVersions returns the timeline of a record, history entries first by ascending
// revision and the live record last.
func (c *collection) listVersions(ctx context.Context, id interface{}, auth *access.Authorization) ([]map[string]interface{}, error) {
	var entries []store.Document
	var live store.Document

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = c.history.Find(gctx, c.historyFilter(id, auth), store.FindOptions{
			Sort: []store.SortField{{Field: store.RevisionKey}},
		})
		return err
	})
	g.Go(func() error {
		var err error
		live, err = c.findOne(gctx, id, auth)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	timeline := make([]map[string]interface{}, 0, len(entries)+1)
	for _, entry := range entries {
		timeline = append(timeline, c.historyItem(entry))
	}
	if live != nil {
		timeline = append(timeline, c.liveItem(live))
	}
	if len(timeline) == 0 {
		return nil, errInvalidID(id)
	}
	return timeline, nil
}

// findVersion returns the history entry with version, or the live record if it has it
func (c *collection) findVersion(ctx context.Context, id interface{}, version int64, auth *access.Authorization) (map[string]interface{}, error) {
	filter := c.historyFilter(id, auth)
	filter[store.RevisionKey] = version
	entries, err := c.history.Find(ctx, filter, store.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return c.historyItem(entries[0]), nil
	}
	live, err := c.findOne(ctx, id, auth)
	if err != nil {
		return nil, err
	}
	if live != nil && store.Equal(live[store.RevisionKey], version) {
		return c.liveItem(live), nil
	}
	return nil, errInvalidVersion(id, version)
}

// promote turns the latest history entry of id into the live record. It returns
// false if there is no history entry left.
func (c *collection) promote(ctx context.Context, id interface{}, auth *access.Authorization) (bool, error) {
	entries, err := c.history.Find(ctx, c.historyFilter(id, auth), store.FindOptions{
		Sort:  []store.SortField{{Field: store.RevisionKey, Desc: true}},
		Limit: 1,
	})
	if err != nil || len(entries) == 0 {
		return false, err
	}
	if err := c.restore(ctx, entries[0]); err != nil {
		return false, err
	}
	if _, err := c.history.Remove(ctx, store.Filter{store.IDKey: entries[0][store.IDKey]}); err != nil {
		return false, fmt.Errorf("cannot remove promoted history entry: %w", err)
	}
	return true, nil
}

// restore inserts a history entry as live record
func (c *collection) restore(ctx context.Context, entry store.Document) error {
	doc := store.Document{}
	for k, v := range entry {
		doc[k] = v
	}
	doc[store.IDKey] = entry[originalIDKey]
	delete(doc, originalIDKey)
	if err := c.live.InsertMany(ctx, []store.Document{doc}); err != nil {
		return fmt.Errorf("cannot restore version: %w", err)
	}
	return nil
}

// deleteVersionState is a step of deleteVersion
type deleteVersionState int

const (
	stateLocate deleteVersionState = iota
	stateDeleteHistory
	stateDeleteLive
	statePromote
	stateDone
)

// deleteVersion deletes a single version of a record. If the version is the live
// record, the latest remaining history entry becomes the live record.
func (c *collection) deleteVersion(ctx context.Context, id interface{}, version int64, auth *access.Authorization) error {
	filter := c.historyFilter(id, auth)
	filter[store.RevisionKey] = version

	state := stateLocate
	for state != stateDone {
		switch state {
		case stateLocate:
			n, err := c.history.Count(ctx, filter)
			if err != nil {
				return err
			}
			if n > 0 {
				state = stateDeleteHistory
				continue
			}
			live, err := c.findOne(ctx, id, auth)
			if err != nil {
				return err
			}
			if live == nil || !store.Equal(live[store.RevisionKey], version) {
				return errInvalidVersion(id, version)
			}
			state = stateDeleteLive
		case stateDeleteHistory:
			if _, err := c.history.Remove(ctx, filter); err != nil {
				return fmt.Errorf("cannot remove history entry: %w", err)
			}
			state = stateDone
		case stateDeleteLive:
			liveFilter := c.query.Scope(store.Filter{store.IDKey: id, store.RevisionKey: version}, auth)
			n, err := c.live.Remove(ctx, liveFilter)
			if err != nil {
				return fmt.Errorf("cannot remove live record: %w", err)
			}
			if n == 0 {
				// updated or removed concurrently
				return errInvalidVersion(id, version)
			}
			state = statePromote
		case statePromote:
			if _, err := c.promote(ctx, id, auth); err != nil {
				return err
			}
			state = stateDone
		}
	}
	return nil
}

// rollback makes version the live record and drops all later versions. Without
// a version, or if version is the live revision, nothing changes.
func (c *collection) rollback(ctx context.Context, id interface{}, version *int64, auth *access.Authorization) (map[string]interface{}, error) {
	live, err := c.findOne(ctx, id, auth)
	if err != nil {
		return nil, err
	}
	if version == nil {
		if live == nil {
			return nil, errInvalidID(id)
		}
		return c.toItem(live), nil
	}
	if live != nil && store.Equal(live[store.RevisionKey], *version) {
		return c.toItem(live), nil
	}

	filter := c.historyFilter(id, auth)
	filter[store.RevisionKey] = *version
	entries, err := c.history.Find(ctx, filter, store.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errInvalidVersion(id, *version)
	}
	entry := entries[0]

	later := map[string]interface{}{"$gte": *version}
	laterHistory := c.historyFilter(id, auth)
	laterHistory[store.RevisionKey] = later
	if _, err := c.history.Remove(ctx, laterHistory); err != nil {
		return nil, fmt.Errorf("cannot remove later history entries: %w", err)
	}
	laterLive := c.query.Scope(store.Filter{store.IDKey: id, store.RevisionKey: later}, auth)
	if _, err := c.live.Remove(ctx, laterLive); err != nil {
		return nil, fmt.Errorf("cannot remove live record: %w", err)
	}
	if err := c.restore(ctx, entry); err != nil {
		return nil, err
	}

	restored, err := c.findOne(ctx, id, auth)
	if err != nil {
		return nil, err
	}
	if restored == nil {
		return nil, errInvalidID(id)
	}
	item := c.toItem(restored)
	c.notify(core.OperationRollback, item)
	return item, nil
}

// deleteAllVersions removes the live record and its complete history
func (c *collection) deleteAllVersions(ctx context.Context, id interface{}, auth *access.Authorization) (int64, error) {
	historyDeleted, err := c.history.Remove(ctx, c.historyFilter(id, auth))
	if err != nil {
		return 0, fmt.Errorf("cannot remove history: %w", err)
	}
	liveDeleted, err := c.live.Remove(ctx, c.query.Scope(store.Filter{store.IDKey: id}, auth))
	if err != nil {
		return 0, fmt.Errorf("cannot remove live record: %w", err)
	}
	if liveDeleted > 0 {
		// entries created between the two removals
		if _, err := c.promote(ctx, id, auth); err != nil {
			return 0, err
		}
	}
	deleted := historyDeleted + liveDeleted
	if deleted == 0 {
		return 0, errInvalidID(id)
	}
	c.notify(core.OperationDelete, map[string]interface{}{c.descriptor.IDField(): id})
	return deleted, nil
}

func (c *collection) listVersionsRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4720")
		return
	}
	timeline, err := c.listVersions(ctx, id, access.AuthorizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err, "4721")
		return
	}
	projection := query.ParseProjection(r.URL.Query().Get("fields"))
	for i := range timeline {
		timeline[i] = projection.Apply(timeline[i])
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (c *collection) findVersionRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4722")
		return
	}
	version, err := parseVersion(mux.Vars(r)["version"])
	if err != nil {
		writeError(w, r, err, "4722")
		return
	}
	item, err := c.findVersion(ctx, id, version, access.AuthorizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err, "4723")
		return
	}
	writeJSON(w, http.StatusOK, query.ParseProjection(r.URL.Query().Get("fields")).Apply(item))
}

func (c *collection) deleteVersionRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4724")
		return
	}
	version, err := parseVersion(mux.Vars(r)["version"])
	if err != nil {
		writeError(w, r, err, "4724")
		return
	}
	if err := c.deleteVersion(ctx, id, version, access.AuthorizationFromContext(ctx)); err != nil {
		writeError(w, r, err, "4725")
		return
	}
	c.notify(core.OperationDelete, map[string]interface{}{c.descriptor.IDField(): id, "version": version})
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "deleted": true})
}

func (c *collection) rollbackRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4726")
		return
	}
	var version *int64
	if s, ok := mux.Vars(r)["version"]; ok {
		v, err := parseVersion(s)
		if err != nil {
			writeError(w, r, err, "4726")
			return
		}
		version = &v
	}
	item, err := c.rollback(ctx, id, version, access.AuthorizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err, "4727")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "rolled back",
		"item":   query.ParseProjection(r.URL.Query().Get("fields")).Apply(item),
	})
}

func (c *collection) deleteAllVersionsRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := c.pathID(r)
	if err != nil {
		writeError(w, r, err, "4728")
		return
	}
	deleted, err := c.deleteAllVersions(ctx, id, access.AuthorizationFromContext(ctx))
	if err != nil {
		writeError(w, r, err, "4729")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "deleted": deleted})
}
