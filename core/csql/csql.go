// Package csql wraps a postgres database handle together with the schema all
// tables of the backend live in
package csql

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq" // load database driver for postgres
	"github.com/relabs-tech/restifier/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a postgres database with a schema. The password is
// appended to the data source name if it is not empty.
// The schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, password, schema string) (*DB, error) {
	nillog := logger.FromContext(nil)
	nillog.Infoln("connecting to postgres database:", dataSourceName)
	if len(password) > 0 {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("cannot open postgres: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot ping postgres: %w", err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		nillog.Infoln("selected database schema:", schema)
		if _, err = db.Exec(`CREATE schema IF NOT EXISTS ` + pq.QuoteIdentifier(schema) + `;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("cannot create schema %s: %w", schema, err)
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// Table returns the quoted, schema qualified name of a table
func (db *DB) Table(name string) string {
	return pq.QuoteIdentifier(db.Schema) + "." + pq.QuoteIdentifier(name)
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() error {
	if db.Schema == "public" {
		return fmt.Errorf("refuse to drop public schema")
	}
	schema := pq.QuoteIdentifier(db.Schema)
	_, err := db.Exec(`DROP SCHEMA ` + schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + schema + `;`)
	if err != nil {
		return fmt.Errorf("clear schema %s: %w", db.Schema, err)
	}
	return nil
}
