package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restifier/core/access"
)

func echoRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		auth := access.AuthorizationFromContext(r.Context())
		response := map[string]interface{}{
			"method": r.Method,
			"body":   string(body),
			"header": r.Header.Get("X-Test"),
		}
		if auth != nil {
			response["roles"] = auth.Roles
		}
		json.NewEncoder(w).Encode(response)
	})
	router.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"status":422,"message":"bad"}`))
	})
	return router
}

func TestClientWithRouter(t *testing.T) {
	c := NewWithRouter(echoRouter()).WithRole("admin").WithHeader("X-Test", "yes")

	var result map[string]interface{}
	status, err := c.RawPut("/echo", map[string]string{"a": "b"}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PUT", result["method"])
	assert.Equal(t, `{"a":"b"}`, result["body"])
	assert.Equal(t, "yes", result["header"])
	assert.Equal(t, []interface{}{"admin"}, result["roles"])

	status, err = c.RawDelete("/echo", nil, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "DELETE", result["method"])
	assert.Equal(t, "", result["body"])
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	c := NewWithRouter(echoRouter())

	var result map[string]interface{}
	status, err := c.RawPost("/fail", []byte(`{}`), &result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "bad", result["message"])
}

func TestClientWithURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"authorization":"` + r.Header.Get("Authorization") + `"}`))
	}))
	defer server.Close()

	var result map[string]string
	status, err := NewWithURL(server.URL).WithToken("secret").RawGet("/", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bearer secret", result["authorization"])
}

func TestClientRawResult(t *testing.T) {
	var raw []byte
	_, err := NewWithRouter(echoRouter()).RawGet("/echo", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"method":"GET"`)
}

func TestClientWithRouterWithoutBody(t *testing.T) {
	c := NewWithRouter(echoRouter())
	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPost} {
		var result map[string]interface{}
		status, err := c.do(method, "/echo", nil, &result)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, method, result["method"])
		assert.Equal(t, "", result["body"])
	}
}
