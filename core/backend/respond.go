package backend

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/schema"
	"github.com/relabs-tech/restifier/core/store"
)

// statusMessage is the envelope of all error responses
type statusMessage struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// apiError is an error with a defined response
type apiError struct {
	status  int
	message string
	fields  map[string]string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s", e.status, e.message)
}

func newAPIError(status int, message string) *apiError {
	return &apiError{status: status, message: message}
}

func errUnprocessable(message string) *apiError {
	return newAPIError(http.StatusUnprocessableEntity, message)
}

func errInvalidID(id interface{}) *apiError {
	return newAPIError(http.StatusNotFound, fmt.Sprintf("Invalid resource id %v!", id))
}

var errNotAuthenticated = newAPIError(http.StatusUnauthorized, "Not authenticated!")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4700: cannot marshal response")
		status = http.StatusInternalServerError
		data = []byte(`{"status":500,"message":"Error 4700"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError responds with the envelope of err. Unexpected errors are logged with
// code and only the code is returned to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error, code string) {
	var apiErr *apiError
	var validationErr *schema.ValidationError
	switch {
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.status, statusMessage{Status: apiErr.status, Message: apiErr.message, Errors: apiErr.fields})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, statusMessage{
			Status:  http.StatusUnprocessableEntity,
			Message: schema.ErrValidation.Error(),
			Errors:  validationErr.Fields,
		})
	case errors.Is(err, store.ErrDuplicate):
		logger.FromContext(r.Context()).WithError(err).Infoln("duplicate identifier")
		writeJSON(w, http.StatusConflict, statusMessage{Status: http.StatusConflict, Message: "duplicate identifier"})
	default:
		logger.FromContext(r.Context()).WithError(err).Errorf("Error %s: %s %s", code, r.Method, r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, statusMessage{Status: http.StatusInternalServerError, Message: "Error " + code})
	}
}

// readBody decodes the optional JSON body of a request. It returns nil for an empty body.
func readBody(r *http.Request) (interface{}, error) {
	if r.Body == nil {
		return nil, nil
	}
	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, errUnprocessable("invalid gzipped json data: " + err.Error())
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("cannot read body: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errUnprocessable("invalid json data: " + err.Error())
	}
	return result, nil
}

// readObject decodes an optional body which must be a JSON object
func readObject(r *http.Request, arrayMessage string) (map[string]interface{}, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	switch b := body.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return b, nil
	case []interface{}:
		return nil, errUnprocessable(arrayMessage)
	default:
		return nil, errUnprocessable("Invalid request; body must be a JSON object!")
	}
}
