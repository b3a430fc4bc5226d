// Package catalog provides the named table registry a worker evaluates
// queries against.
package catalog

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/leapstack-labs/leapframe/pkg/query"
	"github.com/leapstack-labs/leapframe/pkg/table"
)

// Database maps table names to tables. Tables added to a database share
// its random source, so Seed makes sampling reproducible.
type Database struct {
	mu sync.RWMutex

	tables map[string]*table.Table
	// order keeps names in insertion order for List.
	order []string

	rng    *table.Random
	logger *slog.Logger
}

// New creates an empty database. A nil logger discards output.
func New(logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Database{
		tables: make(map[string]*table.Table),
		rng:    table.NewRandom(),
		logger: logger,
	}
}

// Get returns the named table.
func (db *Database) Get(name string) (*table.Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, &UnknownTableError{Name: name}
	}
	return t, nil
}

// Set stores t under name, replacing any existing table.
func (db *Database) Set(name string, t *table.Table) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.set(name, t)
}

func (db *Database) set(name string, t *table.Table) {
	if _, exists := db.tables[name]; !exists {
		db.order = append(db.order, name)
	}
	db.tables[name] = t.WithRandom(db.rng)
	db.logger.Debug("table stored", "name", name, "rows", t.NumRows(), "cols", t.NumCols())
}

// Add stores t under a new name.
func (db *Database) Add(name string, t *table.Table) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tables[name]; exists {
		return &DuplicateTableError{Name: name}
	}
	db.set(name, t)
	return nil
}

// Append concatenates t onto the named table.
func (db *Database) Append(name string, t *table.Table) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cur, ok := db.tables[name]
	if !ok {
		return &UnknownTableError{Name: name}
	}
	out, err := cur.Concat([]query.Table{t})
	if err != nil {
		return fmt.Errorf("append to %s: %w", name, err)
	}
	db.set(name, out.(*table.Table))
	return nil
}

// Drop removes the named table and reports whether it existed.
func (db *Database) Drop(name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; !ok {
		return false
	}
	delete(db.tables, name)
	db.order = slices.DeleteFunc(db.order, func(n string) bool { return n == name })
	db.logger.Debug("table dropped", "name", name)
	return true
}

// List returns the table names in insertion order.
func (db *Database) List() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append(make([]string, 0, len(db.order)), db.order...)
}

// Seed reseeds the shared random source. A nil seed reseeds from the clock.
func (db *Database) Seed(seed *uint64) {
	db.rng.Seed(seed)
}

// Query evaluates q starting from the named table. Table references
// inside q resolve against the database.
func (db *Database) Query(name string, q *query.Query) (*table.Table, error) {
	start, err := db.Get(name)
	if err != nil {
		return nil, err
	}
	out, err := q.Evaluate(start, db.Resolve)
	if err != nil {
		return nil, err
	}
	t, ok := out.(*table.Table)
	if !ok {
		return nil, fmt.Errorf("query produced unsupported table type %T", out)
	}
	return t, nil
}

// Resolve implements query.Resolver. A name looks up a table; a nested
// query or builder is evaluated from its own source table.
func (db *Database) Resolve(ref any) (query.Table, error) {
	switch r := ref.(type) {
	case string:
		return db.Get(r)
	case *query.Query:
		return db.Query(r.TableName(), r)
	case *query.Builder:
		q, err := r.Query()
		if err != nil {
			return nil, err
		}
		return db.Query(q.TableName(), q)
	default:
		return nil, fmt.Errorf("unsupported table reference %T", ref)
	}
}
