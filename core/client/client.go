// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client talks to a restifier service

A client either serves requests in-process through the mux router, which is
what the tests use, or sends them over HTTP to a running service. Both modes
share the same raw methods and the typed Collection helpers.

	c := client.NewWithRouter(router).WithRole("admin")
	var task map[string]interface{}
	status, err := c.Collection("/api/task").Get("t1", &task)
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/restifier/core/access"
)

// DefaultTimeout is the request timeout of URL clients
const DefaultTimeout = 20 * time.Second

// Client is an immutable request configuration. All With methods return a copy.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string

	token   string
	auth    *access.Authorization
	ctx     context.Context
	headers http.Header
}

// NewWithRouter returns a client which serves requests through router in-process.
// Authorizations set with WithAuthorization or WithRole are put into the request
// context, there is no token verification.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// NewWithURL returns a client for the service at url. Use WithToken to authenticate.
func NewWithURL(url string) Client {
	return Client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHeader returns a client which sends the header with every request
func (c Client) WithHeader(key string, value string) Client {
	headers := c.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set(key, value)
	c.headers = headers
	return c
}

// WithToken returns a client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithRole returns a client with an anonymous authorization carrying roles.
// In-process only.
func (c Client) WithRole(roles ...string) Client {
	c.auth = &access.Authorization{Roles: roles}
	return c
}

// WithAuthorization returns a client with auth. In-process only.
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a client with a base context for all requests
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context including the authorization
func (c Client) Context() context.Context {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// RawGet gets path, which may include a query string, and decodes the response
// into result. Error envelopes are decoded as well. result can be a *[]byte or nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result)
}

// RawPost posts body, which may be raw []byte, to path
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result)
}

// RawPut puts body, which may be raw []byte, to path
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPut, path, body, result)
}

// RawDelete deletes path. Collection routes use an optional body as filter.
func (c Client) RawDelete(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodDelete, path, body, result)
}

// do sends the request. Any status >= 400 is returned as error together with the status.
func (c Client) do(method string, path string, body interface{}, result interface{}) (int, error) {
	payload, err := encode(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("%s %s: %w", method, path, err)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, payload)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if payload != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, values := range c.headers {
		r.Header[key] = append(r.Header[key], values...)
	}

	status, response, err := c.roundTrip(r)
	if err != nil {
		return status, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if len(response) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = response
		} else if err := json.Unmarshal(response, result); err != nil && status < http.StatusBadRequest {
			return status, fmt.Errorf("%s %s: cannot decode response: %w", method, path, err)
		}
	}
	if status >= http.StatusBadRequest {
		return status, fmt.Errorf("%s %s: status %d: %s", method, path, status, strings.TrimSpace(string(response)))
	}
	return status, nil
}

func (c Client) roundTrip(r *http.Request) (int, []byte, error) {
	if c.router != nil {
		// server requests always have a body
		if r.Body == nil {
			r.Body = http.NoBody
		}
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Code, rec.Body.Bytes(), nil
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	response, err := io.ReadAll(res.Body)
	return res.StatusCode, response, err
}

func encode(body interface{}) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.([]byte); ok {
		return bytes.NewReader(raw), nil
	}
	j, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(j), nil
}
