package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relabs-tech/restifier/core"
	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/store"
)

// DefaultBaseURL is the path prefix of all collection routes unless configured otherwise
const DefaultBaseURL = "/api"

// Backend is the generic rest backend
type Backend struct {
	config               *Configuration
	store                store.Store
	notifier             core.Notifier
	router               *mux.Router
	baseURL              string
	authorizationEnabled bool
	metrics              *metrics
	collections          map[string]*collection
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all collections. This is mandatory.
	Config string
	// Store is the document store. This is mandatory.
	Store store.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every successful write. This is optional.
	Notifier core.Notifier
	// AuthorizationEnabled must be set if an authorization middleware attaches identities to
	// requests. Collections with a user space require it.
	AuthorizationEnabled bool
	// BaseURL is the path prefix of the collection routes. Defaults to /api.
	BaseURL string
	// CORSOrigin enables CORS handling for the given origin, e.g. "*". This is optional.
	CORSOrigin string
	// Registry receives the request metrics which are exposed on /metrics. If it is nil,
	// the backend uses a registry of its own.
	Registry *prometheus.Registry
}

// New realizes the actual backend. It creates the store collections (if they
// do not exist) and adds actual routes to router
func New(bb *Builder) (*Backend, error) {
	if bb.Store == nil {
		return nil, fmt.Errorf("Store is missing")
	}
	if bb.Router == nil {
		return nil, fmt.Errorf("Router is missing")
	}

	config, err := parseConfiguration(bb.Config, bb.AuthorizationEnabled)
	if err != nil {
		return nil, err
	}

	baseURL := bb.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = "/" + strings.Trim(baseURL, "/")
	if baseURL == "/" {
		baseURL = ""
	}

	registry := bb.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	b := &Backend{
		config:               config,
		store:                bb.Store,
		notifier:             bb.Notifier,
		router:               bb.Router,
		baseURL:              baseURL,
		authorizationEnabled: bb.AuthorizationEnabled,
		metrics:              newMetrics(registry),
		collections:          make(map[string]*collection),
	}

	if bb.CORSOrigin != "" {
		b.handleCORS(bb.CORSOrigin)
	}
	b.handleMetrics(registry)
	access.HandleAuthorizationRoute(b.router)
	b.handleVersion(b.router)
	if err := b.handleRoutes(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

// MustNew is like New but panics on configuration errors
func MustNew(bb *Builder) *Backend {
	b, err := New(bb)
	if err != nil {
		panic(err)
	}
	return b
}

// handleRoutes adds all necessary handlers for the specified configuration
func (b *Backend) handleRoutes(ctx context.Context) error {
	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: handle routes below", b.baseURL+"/")

	for i := range b.config.Collections {
		if err := b.createCollectionResource(ctx, b.config.Collections[i]); err != nil {
			return err
		}
	}
	return nil
}

// notify sends a notification if a notifier is installed
func (b *Backend) notify(resource string, operation core.Operation, payload []byte) {
	if b.notifier == nil {
		return
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	b.notifier.Notify(resource, operation, payload)
}
