// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restifier/core/schema"
)

// DefaultOwnerField is the owner field of a collection with user_space: true
const DefaultOwnerField = "_user"

// Configuration holds a complete backend configuration
type Configuration struct {
	Collections []collectionConfiguration `json:"collections"`
}

// collectionConfiguration describes a collection resource
type collectionConfiguration struct {
	Name         string                  `json:"name"`
	URL          string                  `json:"url"`
	Description  string                  `json:"description"`
	Schema       map[string]schema.Field `json:"schema"`
	History      bool                    `json:"history"`
	Timestamps   bool                    `json:"timestamps"`
	UserSpace    userSpaceConfiguration  `json:"user_space"`
	Strict       *bool                   `json:"strict"`
	DefaultLimit int64                   `json:"default_limit"`
	MaxLimit     int64                   `json:"max_limit"`
}

// userSpaceConfiguration enables ownership scoping. In JSON it is either a boolean
// or an object with the owner field and the roles which ignore the scoping.
type userSpaceConfiguration struct {
	Enabled bool
	Field   string
	Ignore  []string
}

// UnmarshalJSON is a custom JSON unmarshaller
func (u *userSpaceConfiguration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] != '{' {
		var enabled bool
		if err := json.Unmarshal(data, &enabled); err != nil {
			return fmt.Errorf("user_space must be a boolean or an object: %w", err)
		}
		*u = userSpaceConfiguration{Enabled: enabled}
		if enabled {
			u.Field = DefaultOwnerField
		}
		return nil
	}
	var object struct {
		Field  string   `json:"field"`
		Ignore []string `json:"ignore"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("user_space must be a boolean or an object: %w", err)
	}
	*u = userSpaceConfiguration{Enabled: true, Field: object.Field, Ignore: object.Ignore}
	if u.Field == "" {
		u.Field = DefaultOwnerField
	}
	return nil
}

// resource returns the path of the collection below the base URL
func (rc *collectionConfiguration) resource() string {
	if rc.URL != "" {
		return strings.Trim(rc.URL, "/")
	}
	return strings.ToLower(rc.Name)
}

// strict returns true unless strict mode was explicitly disabled
func (rc *collectionConfiguration) strict() bool {
	return rc.Strict == nil || *rc.Strict
}

// historyName is the name of the companion collection holding the history entries
func (rc *collectionConfiguration) historyName() string {
	return strings.ToLower(rc.Name) + "_history"
}

func parseConfiguration(config string, authorizationEnabled bool) (*Configuration, error) {
	var configuration Configuration
	if err := json.Unmarshal([]byte(config), &configuration); err != nil {
		return nil, fmt.Errorf("parse error in backend configuration: %w", err)
	}
	names := map[string]bool{}
	resources := map[string]bool{}
	for _, rc := range configuration.Collections {
		lower := strings.ToLower(rc.Name)
		if names[lower] {
			return nil, fmt.Errorf("collection %s is declared twice", rc.Name)
		}
		names[lower] = true
		if resources[rc.resource()] {
			return nil, fmt.Errorf("collection %s: resource path /%s is already taken", rc.Name, rc.resource())
		}
		resources[rc.resource()] = true
		if rc.UserSpace.Enabled && !authorizationEnabled {
			return nil, fmt.Errorf("collection %s: user_space requires authorization to be enabled", rc.Name)
		}
		if rc.DefaultLimit < 0 || rc.MaxLimit < 0 {
			return nil, fmt.Errorf("collection %s: limits must not be negative", rc.Name)
		}
	}
	for _, rc := range configuration.Collections {
		if rc.History && names[rc.historyName()] {
			return nil, fmt.Errorf("collection %s: history collection %s clashes with a declared collection", rc.Name, rc.historyName())
		}
	}
	return &configuration, nil
}
