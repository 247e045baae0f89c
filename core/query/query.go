/*
Package query translates inbound requests into store queries

A request carries an optional body, which is used as a raw filter, and query
string options. The Builder merges both into a filter, resolves projection,
sorting and paging, and applies ownership scoping.
*/
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/schema"
	"github.com/relabs-tech/restifier/core/store"
)

// OwnerSentinel is the owner value used for unauthenticated callers. No record
// can be owned by it, so scoped reads of anonymous callers find nothing.
const OwnerSentinel = "___**___"

// Defaults for paging
const (
	DefaultLimit = 100
	MaxLimit     = 1000
	MinBatchSize = 100
)

// ReservedKeys are query string options which are never treated as field predicates
var ReservedKeys = []string{"limit", "skip", "fields", "sort", "count", "createOnly", "updateOnly"}

// Request is the part of an inbound request the builder looks at
type Request struct {
	Body          map[string]interface{}
	Query         url.Values
	Authorization *access.Authorization
}

// Spec is the result of building a query
type Spec struct {
	Filter     store.Filter
	Projection Projection
	Options    store.FindOptions
	// Count switches the operation to counting instead of fetching
	Count bool
}

// Builder builds queries for one collection
type Builder struct {
	Descriptor *schema.Descriptor
	// OwnerField enables ownership scoping if it is not empty
	OwnerField string
	// BypassRoles are roles which are not subject to ownership scoping
	BypassRoles []string
	// DefaultLimit is used when the request has no valid limit
	DefaultLimit int64
	// MaxLimit caps the limit a request can ask for
	MaxLimit int64
}

// IsReserved returns true if key is a reserved query string option
func IsReserved(key string) bool {
	for _, r := range ReservedKeys {
		if r == key {
			return true
		}
	}
	return false
}

// Owner returns the value the owner field must have for the caller. It returns
// false if the collection is not scoped or the caller bypasses the scoping.
func (b *Builder) Owner(auth *access.Authorization) (string, bool) {
	if b.OwnerField == "" || auth.HasAnyRole(b.BypassRoles) {
		return "", false
	}
	if !auth.IsAuthenticated() {
		return OwnerSentinel, true
	}
	return auth.Identity, true
}

// Scope adds the ownership constraint for the caller to filter
func (b *Builder) Scope(filter store.Filter, auth *access.Authorization) store.Filter {
	if filter == nil {
		filter = store.Filter{}
	}
	if owner, ok := b.Owner(auth); ok {
		filter[b.OwnerField] = owner
	}
	return filter
}

// Build translates a request. If multi is false, the result is limited to a single document.
func (b *Builder) Build(req Request, multi bool) Spec {
	filter := store.Filter{}
	for key, value := range req.Body {
		if !IsReserved(key) {
			filter[key] = value
		}
	}
	// query string wins
	for key, values := range req.Query {
		if IsReserved(key) || len(values) == 0 {
			continue
		}
		field := key
		if field == store.IDKey {
			field = b.Descriptor.IDField()
		}
		if len(values) == 1 {
			filter[key] = b.Descriptor.Coerce(field, values[0])
			continue
		}
		in := make([]interface{}, len(values))
		for i, v := range values {
			in[i] = b.Descriptor.Coerce(field, v)
		}
		filter[key] = map[string]interface{}{"$in": in}
	}
	if value, ok := filter[b.Descriptor.IDField()]; ok {
		delete(filter, b.Descriptor.IDField())
		filter[store.IDKey] = value
	}

	spec := Spec{
		Filter:     b.Scope(filter, req.Authorization),
		Projection: ParseProjection(req.Query.Get("fields")),
	}
	spec.Options.Limit = b.limit(req.Query.Get("limit"))
	if !multi {
		spec.Options.Limit = 1
	}
	if skip, err := strconv.ParseInt(req.Query.Get("skip"), 10, 64); err == nil && skip >= 0 {
		spec.Options.Skip = skip
	}
	spec.Options.Sort = b.sort(req.Query.Get("sort"))
	spec.Options.BatchSize = int32(spec.Options.Limit)
	if spec.Options.BatchSize < MinBatchSize {
		spec.Options.BatchSize = MinBatchSize
	}
	if count, err := strconv.ParseBool(req.Query.Get("count")); err == nil {
		spec.Count = count
	}
	return spec
}

// ByID builds the lookup of a single record. Body and query string filters are
// ignored, only the projection is taken from the query string.
func (b *Builder) ByID(id interface{}, query url.Values, auth *access.Authorization) Spec {
	return Spec{
		Filter:     b.Scope(store.Filter{store.IDKey: id}, auth),
		Projection: ParseProjection(query.Get("fields")),
		Options:    store.FindOptions{Limit: 1},
	}
}

func (b *Builder) limit(s string) int64 {
	defaultLimit := b.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	maxLimit := b.MaxLimit
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	limit, err := strconv.ParseInt(s, 10, 64)
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func (b *Builder) sort(s string) []store.SortField {
	var fields []store.SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		sf := store.SortField{Field: part}
		if strings.HasPrefix(part, "-") {
			sf = store.SortField{Field: part[1:], Desc: true}
		} else if strings.HasPrefix(part, "+") {
			sf.Field = part[1:]
		}
		if sf.Field == "" {
			continue
		}
		if sf.Field == b.Descriptor.IDField() {
			sf.Field = store.IDKey
		}
		fields = append(fields, sf)
	}
	return fields
}
