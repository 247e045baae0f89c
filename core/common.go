package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List, Clear, Rollback
type Operation string

// all supported database operations
const (
	OperationCreate   Operation = "create"
	OperationRead     Operation = "read"
	OperationUpdate   Operation = "update"
	OperationDelete   Operation = "delete"
	OperationList     Operation = "list"
	OperationClear    Operation = "clear"
	OperationRollback Operation = "rollback"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList, OperationClear, OperationRollback:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Notifier is an interface to receive database notifications
//
// Notify is called after a modifying operation on a collection succeeded.
// The payload is the JSON representation of the affected record, or of
// the affected identifiers for bulk operations.
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
