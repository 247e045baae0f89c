// Package logger provides request scoped logrus entries
//
// Every request served by restifier carries its own entry in the context,
// tagged with the request ID and, after authentication, the caller identity.
// Handlers retrieve it with FromContext.
package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request ID from upstream proxies. It is echoed in every response.
const RequestIDHeader = "X-Request-Id"

// log fields
const (
	requestIDField = "requestID"
	identityField  = "identity"
)

type requestLogKey struct{}

// requestLog is what a request context carries
type requestLog struct {
	requestID string
	entry     *logrus.Entry
}

// InitLogger configures the standard logger. format "json" switches to structured
// output, everything else uses text with full timestamps.
func InitLogger(level logrus.Level, format string) {
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}
	logrus.SetLevel(level)
}

// AddRequestID installs a middleware which gives every request its own logger.
func AddRequestID(router *mux.Router) {
	router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, rl := withRequestLog(r.Context(), r.Header.Get(RequestIDHeader))
			w.Header().Set(RequestIDHeader, rl.requestID)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	})
}

// Default returns a logger without request context
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger makes sure ctx carries a logger
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	ctx, rl := withRequestLog(ctx, "")
	return ctx, rl.entry
}

// withRequestLog keeps an existing request log. A new one uses requestID, or a
// generated one if it is empty.
func withRequestLog(ctx context.Context, requestID string) (context.Context, *requestLog) {
	if ctx == nil {
		ctx = context.Background()
	}
	if rl := fromContext(ctx); rl != nil {
		return ctx, rl
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	rl := &requestLog{
		requestID: requestID,
		entry:     logrus.WithField(requestIDField, requestID),
	}
	return context.WithValue(ctx, requestLogKey{}, rl), rl
}

func fromContext(ctx context.Context) *requestLog {
	if ctx == nil {
		return nil
	}
	rl, _ := ctx.Value(requestLogKey{}).(*requestLog)
	return rl
}

// FromContext returns the request logger of ctx, or the default logger
func FromContext(ctx context.Context) *logrus.Entry {
	if rl := fromContext(ctx); rl != nil {
		return rl.entry
	}
	return Default()
}

// ContextWithLoggerIdentity tags the request logger with the caller identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rl := withRequestLog(ctx, "")
	tagged := &requestLog{
		requestID: rl.requestID,
		entry:     rl.entry.WithField(identityField, identity),
	}
	return context.WithValue(ctx, requestLogKey{}, tagged), tagged.entry
}

// RequestIDFromContext returns the request ID, or an empty string outside a request.
func RequestIDFromContext(ctx context.Context) string {
	if rl := fromContext(ctx); rl != nil {
		return rl.requestID
	}
	return ""
}
