/*
Package pgstore implements the document store on PostgreSQL

Every collection is a table with the canonical identifier as primary key and
the whole document in a jsonb column. Filters are translated into jsonb
expressions. Sequences live in the registry.
*/
package pgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/relabs-tech/restifier/core/csql"
	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/registry"
	"github.com/relabs-tech/restifier/core/store"
)

// Store is a store.Store backed by postgres
type Store struct {
	db          *csql.DB
	collections registry.Accessor
	sequences   registry.Accessor
}

type collectionInfo struct {
	Table     string    `json:"table"`
	CreatedAt time.Time `json:"created_at"`
}

// New returns a store on db. The registry tables are created if necessary.
func New(db *csql.DB) (*Store, error) {
	r, err := registry.New(db)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:          db,
		collections: r.Accessor("_collections_"),
		sequences:   r.Accessor("_sequences_"),
	}, nil
}

// EnsureCollection implements store.Store
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	var info collectionInfo
	timestamp, err := s.collections.Read(ctx, name, &info)
	if err != nil {
		return err
	}
	if !timestamp.IsZero() {
		return nil
	}

	table := s.db.Table(name)
	logger.FromContext(ctx).Infoln("create table", table)
	_, err = s.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+table+` 
(seq bigserial NOT NULL,
id text NOT NULL,
document jsonb NOT NULL,
PRIMARY KEY(id)
);
CREATE index IF NOT EXISTS `+pq.QuoteIdentifier(name+"_document_idx")+` ON `+table+` USING gin (document jsonb_path_ops);
CREATE index IF NOT EXISTS `+pq.QuoteIdentifier(name+"_seq_idx")+` ON `+table+`(seq);`)
	if err != nil {
		return fmt.Errorf("cannot create table %s: %w", name, err)
	}
	return s.collections.Write(ctx, name, collectionInfo{Table: table, CreatedAt: time.Now().UTC()})
}

// Collection implements store.Store
func (s *Store) Collection(name string) store.Collection {
	return &Collection{db: s.db, name: name, table: s.db.Table(name)}
}

// NextSequence implements store.Store
func (s *Store) NextSequence(ctx context.Context, name string, startAt, incrementBy int64) (int64, error) {
	return s.sequences.Increment(ctx, name, startAt, incrementBy)
}

// Close implements store.Store
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// Collection is a store.Collection backed by a table
type Collection struct {
	db    *csql.DB
	name  string
	table string
}

// Name implements store.Collection
func (c *Collection) Name() string {
	return c.name
}

func normalizeFilter(filter store.Filter) (map[string]interface{}, error) {
	body, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("cannot encode filter: %w", err)
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("cannot decode filter: %w", err)
	}
	return m, nil
}

func (c *Collection) where(b *sqlBuilder, filter store.Filter) (string, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return "", err
	}
	return b.where(f)
}

// Find implements store.Collection
func (c *Collection) Find(ctx context.Context, filter store.Filter, options store.FindOptions) ([]store.Document, error) {
	b := &sqlBuilder{}
	where, err := c.where(b, filter)
	if err != nil {
		return nil, err
	}
	query := `SELECT document FROM ` + c.table + ` WHERE ` + where + ` ORDER BY `
	for _, s := range options.Sort {
		query += b.path(s.Field)
		if s.Desc {
			query += " DESC NULLS LAST, "
		} else {
			query += " ASC NULLS FIRST, "
		}
	}
	query += "seq"
	if options.Limit > 0 {
		query += " LIMIT " + strconv.FormatInt(options.Limit, 10)
	}
	if options.Skip > 0 {
		query += " OFFSET " + strconv.FormatInt(options.Skip, 10)
	}

	rows, err := c.db.QueryContext(ctx, query+";", b.args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	defer rows.Close()
	docs := []store.Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("read from %s: %w", c.name, err)
		}
		doc := store.Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document from %s: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count implements store.Collection
func (c *Collection) Count(ctx context.Context, filter store.Filter) (int64, error) {
	b := &sqlBuilder{}
	where, err := c.where(b, filter)
	if err != nil {
		return 0, err
	}
	var count int64
	err = c.db.QueryRowContext(ctx, `SELECT count(*) FROM `+c.table+` WHERE `+where+`;`, b.args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.name, err)
	}
	return count, nil
}

// InsertMany implements store.Collection. Like an unordered bulk insert, documents
// with a duplicate identifier are skipped and reported while the others are inserted.
func (c *Collection) InsertMany(ctx context.Context, documents []store.Document) error {
	query := `INSERT INTO ` + c.table + ` (id, document) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING;`
	var duplicates []string
	for _, document := range documents {
		id, ok := document[store.IDKey]
		if !ok || id == nil {
			return fmt.Errorf("insert into %s: document has no %s", c.name, store.IDKey)
		}
		body, err := json.Marshal(document)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
		res, err := c.db.ExecContext(ctx, query, store.Canonical(id), string(body))
		if err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
		if count, err := res.RowsAffected(); err == nil && count == 0 {
			duplicates = append(duplicates, store.Canonical(id))
		}
	}
	if len(duplicates) > 0 {
		return fmt.Errorf("insert into %s: %s %s: %w", c.name, store.IDKey, strings.Join(duplicates, ","), store.ErrDuplicate)
	}
	return nil
}

// BulkUpdate implements store.Collection. Every update touches at most one row.
func (c *Collection) BulkUpdate(ctx context.Context, updates []store.Update) (store.BulkResult, error) {
	var result store.BulkResult
	for _, u := range updates {
		b := &sqlBuilder{}
		where, err := c.where(b, u.Filter)
		if err != nil {
			return result, err
		}
		set := store.Document{}
		for k, v := range u.Set {
			if k != store.IDKey {
				set[k] = v
			}
		}
		setArg, err := b.jsonArg(set)
		if err != nil {
			return result, err
		}
		expr := "(t.document || " + setArg + ")"
		for k, inc := range u.Inc {
			p := b.arg(pq.Array([]string{k})) + "::text[]"
			expr = "jsonb_set(" + expr + ", " + p + ", to_jsonb(COALESCE((t.document #>> " + p + ")::numeric, 0) + " +
				b.arg(inc) + "::numeric))"
		}

		query := `WITH target AS (SELECT id, document FROM ` + c.table + ` WHERE ` + where + ` ORDER BY seq LIMIT 1 FOR UPDATE),
updated AS (UPDATE ` + c.table + ` t SET document = ` + expr + ` FROM target WHERE t.id = target.id
RETURNING t.document AS after, target.document AS before)
SELECT count(*), count(*) FILTER (WHERE after <> before) FROM updated;`

		var matched, modified int64
		if err := c.db.QueryRowContext(ctx, query, b.args...).Scan(&matched, &modified); err != nil {
			return result, fmt.Errorf("bulk update in %s: %w", c.name, err)
		}
		result.Matched += matched
		result.Modified += modified
	}
	return result, nil
}

// Remove implements store.Collection
func (c *Collection) Remove(ctx context.Context, filter store.Filter) (int64, error) {
	b := &sqlBuilder{}
	where, err := c.where(b, filter)
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE `+where+`;`, b.args...)
	if err != nil {
		return 0, fmt.Errorf("remove from %s: %w", c.name, err)
	}
	return res.RowsAffected()
}
