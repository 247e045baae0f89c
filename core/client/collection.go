package client

import (
	"net/url"
	"strconv"
)

// SaveResponse is the envelope of a save
type SaveResponse struct {
	Status string                 `json:"status"`
	Item   map[string]interface{} `json:"item,omitempty"`
	Result *BatchResult           `json:"result,omitempty"`
}

// BatchResult is the outcome of an array save
type BatchResult struct {
	Created   int64         `json:"created"`
	Updated   int64         `json:"updated"`
	Unchanged int64         `json:"unchanged"`
	NewIDs    []interface{} `json:"newIds"`
}

// Collection addresses the routes of one collection, e.g. "/api/task"
type Collection struct {
	client Client
	path   string
}

// Collection returns a client for the collection at path
func (c Client) Collection(path string) Collection {
	return Collection{client: c, path: path}
}

func (c Collection) itemPath(id string) string {
	return c.path + "/" + url.PathEscape(id)
}

// Save saves a single record or an array of records
func (c Collection) Save(records interface{}) (SaveResponse, int, error) {
	var response SaveResponse
	status, err := c.client.RawPut(c.path, records, &response)
	return response, status, err
}

// Update updates the record with id
func (c Collection) Update(id string, record interface{}) (SaveResponse, int, error) {
	var response SaveResponse
	status, err := c.client.RawPut(c.itemPath(id), record, &response)
	return response, status, err
}

// List lists records matching the query string parameters
func (c Collection) List(query url.Values, result interface{}) (int, error) {
	path := c.path
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.client.RawGet(path, result)
}

// Get gets the record with id
func (c Collection) Get(id string, result interface{}) (int, error) {
	return c.client.RawGet(c.itemPath(id), result)
}

// Delete deletes the record with id, including its history
func (c Collection) Delete(id string) (int, error) {
	return c.client.RawDelete(c.itemPath(id), nil, nil)
}

// Versions gets the timeline of id, oldest first
func (c Collection) Versions(id string, result interface{}) (int, error) {
	return c.client.RawGet(c.itemPath(id)+"/version", result)
}

// Version gets version of id
func (c Collection) Version(id string, version int64, result interface{}) (int, error) {
	return c.client.RawGet(c.itemPath(id)+"/version/"+strconv.FormatInt(version, 10), result)
}

// DeleteVersion deletes version of id
func (c Collection) DeleteVersion(id string, version int64) (int, error) {
	return c.client.RawDelete(c.itemPath(id)+"/version/"+strconv.FormatInt(version, 10), nil, nil)
}

// Rollback rolls id back to version. A nil version keeps the live record.
func (c Collection) Rollback(id string, version *int64, result interface{}) (int, error) {
	path := c.itemPath(id) + "/rollback"
	if version != nil {
		path += "/" + strconv.FormatInt(*version, 10)
	}
	return c.client.RawPost(path, nil, result)
}
