package backend_test

import (
	"net/http/httptest"
)

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// item returns the item of a response envelope
func item(envelope map[string]interface{}) map[string]interface{} {
	i, _ := envelope["item"].(map[string]interface{})
	return i
}

// versions returns the history versions of a timeline
func versions(timeline []map[string]interface{}) []interface{} {
	var result []interface{}
	for _, entry := range timeline {
		h, _ := entry["history"].(map[string]interface{})
		result = append(result, h["version"])
	}
	return result
}
