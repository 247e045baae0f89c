package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	InitLogger(logrus.WarnLevel, "json")
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	InitLogger(logrus.InfoLevel, "text")
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}

func TestContextWithLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	id := RequestIDFromContext(ctx)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rlog.Data[requestIDField])

	// a second call keeps the existing logger
	ctx2, _ := ContextWithLogger(ctx)
	assert.Equal(t, id, RequestIDFromContext(ctx2))

	ctx3, rlog := ContextWithLoggerIdentity(ctx2, "alice")
	assert.Equal(t, id, RequestIDFromContext(ctx3))
	assert.Equal(t, "alice", rlog.Data[identityField])
	assert.Equal(t, "alice", FromContext(ctx3).Data[identityField])
}

func TestFromContextWithoutLogger(t *testing.T) {
	assert.NotNil(t, FromContext(nil))
	assert.NotNil(t, FromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	var seen string
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.Header.Set(RequestIDHeader, "upstream-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "upstream-id", seen)
}
