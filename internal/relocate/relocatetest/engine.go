// Package relocatetest provides an in-memory storage engine for tests of
// code that relocates, scripts, or discovers objects.
package relocatetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tiershift/internal/catalog"
	"tiershift/internal/ledger"
	"tiershift/internal/relocate"
)

// Table is the simulated state of one object
type Table struct {
	Columns    []string
	PrimaryKey string
	Tier       string
	PathTier   string

	// Indexes maps secondary index names to the column and tier they use
	Indexes map[string]Index

	SizeBytes int64
}

// Index is a simulated secondary index
type Index struct {
	Column string
	Tier   string
}

// Engine simulates a database with tablespaces. It implements
// relocate.Engine as well as the scripter and discoverer contracts.
type Engine struct {
	mu sync.Mutex

	DefaultTier string
	Tiers       map[string]bool
	Tables      map[ledger.ObjectID]*Table

	// Fail injects an error returned by any mutation of the object
	Fail map[ledger.ObjectID]error

	DiscoverErr error

	Calls []string
}

// New creates an engine with the default tier and the given extra tiers
func New(tiers ...string) *Engine {
	e := &Engine{
		DefaultTier: relocate.DefaultTier,
		Tiers:       map[string]bool{relocate.DefaultTier: true},
		Tables:      make(map[ledger.ObjectID]*Table),
		Fail:        make(map[ledger.ObjectID]error),
	}
	for _, t := range tiers {
		e.Tiers[t] = true
	}
	return e
}

// AddTable registers an object on the default tier
func (e *Engine) AddTable(obj ledger.ObjectID, primaryKey string, size int64, columns ...string) *Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &Table{
		Columns:    columns,
		PrimaryKey: primaryKey,
		Tier:       e.DefaultTier,
		PathTier:   e.DefaultTier,
		Indexes:    make(map[string]Index),
		SizeBytes:  size,
	}
	e.Tables[obj] = t
	return t
}

// Get returns a copy of the table state
func (e *Engine) Get(obj ledger.ObjectID) (Table, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.Tables[obj]
	if !ok {
		return Table{}, false
	}
	cp := *t
	cp.Indexes = make(map[string]Index, len(t.Indexes))
	for k, v := range t.Indexes {
		cp.Indexes[k] = v
	}
	return cp, true
}

// CallCount returns how many recorded calls start with prefix
func (e *Engine) CallCount(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (e *Engine) record(format string, args ...any) {
	e.Calls = append(e.Calls, fmt.Sprintf(format, args...))
}

func (e *Engine) mutable(obj ledger.ObjectID) (*Table, error) {
	if err := e.Fail[obj]; err != nil {
		return nil, err
	}
	t, ok := e.Tables[obj]
	if !ok {
		return nil, relocate.ErrObjectNotFound
	}
	return t, nil
}

func (e *Engine) TierExists(_ context.Context, tier string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Tiers[tier], nil
}

func (e *Engine) Placement(_ context.Context, obj ledger.ObjectID, tempIndex string) (*relocate.Placement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.Tables[obj]
	if !ok {
		return nil, relocate.ErrObjectNotFound
	}
	p := &relocate.Placement{
		TableTier:      t.Tier,
		AccessPath:     t.PrimaryKey,
		AccessPathTier: t.PathTier,
	}
	if len(t.Columns) > 0 {
		p.KeyColumn = strings.Fields(t.Columns[0])[0]
	}
	if idx, ok := t.Indexes[tempIndex]; ok {
		p.TempIndex = true
		p.TempIndexTier = idx.Tier
	}
	return p, nil
}

func (e *Engine) MoveTable(_ context.Context, obj ledger.ObjectID, tier string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("MoveTable %s %s", obj, tier)
	t, err := e.mutable(obj)
	if err != nil {
		return err
	}
	if !e.Tiers[tier] {
		return relocate.ErrTierNotFound
	}
	t.Tier = tier
	return nil
}

func (e *Engine) MoveIndex(_ context.Context, obj ledger.ObjectID, index, tier string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("MoveIndex %s %s %s", obj, index, tier)
	t, err := e.mutable(obj)
	if err != nil {
		return err
	}
	if !e.Tiers[tier] {
		return relocate.ErrTierNotFound
	}
	if index == t.PrimaryKey {
		t.PathTier = tier
		return nil
	}
	idx, ok := t.Indexes[index]
	if !ok {
		return fmt.Errorf("index %s does not exist", index)
	}
	idx.Tier = tier
	t.Indexes[index] = idx
	return nil
}

func (e *Engine) RebuildIndex(_ context.Context, obj ledger.ObjectID, index, tier string, parallelism int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("RebuildIndex %s %s %s %d", obj, index, tier, parallelism)
	t, err := e.mutable(obj)
	if err != nil {
		return err
	}
	if index != t.PrimaryKey {
		return fmt.Errorf("index %s is not the access path", index)
	}
	t.PathTier = tier
	return nil
}

func (e *Engine) CreateIndex(_ context.Context, obj ledger.ObjectID, index, column, tier string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("CreateIndex %s %s %s", obj, index, tier)
	t, err := e.mutable(obj)
	if err != nil {
		return err
	}
	if _, ok := t.Indexes[index]; !ok {
		t.Indexes[index] = Index{Column: column, Tier: tier}
	}
	return nil
}

func (e *Engine) DropIndex(_ context.Context, obj ledger.ObjectID, index string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("DropIndex %s %s", obj, index)
	t, err := e.mutable(obj)
	if err != nil {
		return err
	}
	delete(t.Indexes, index)
	return nil
}

// Script renders a tier-independent definition of the object
func (e *Engine) Script(_ context.Context, obj ledger.ObjectID) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.Tables[obj]
	if !ok {
		return "", relocate.ErrObjectNotFound
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", obj)
	lines := append([]string(nil), t.Columns...)
	if t.PrimaryKey != "" {
		lines = append(lines, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY", t.PrimaryKey))
	}
	b.WriteString("    " + strings.Join(lines, ",\n    "))
	b.WriteString("\n);\n")

	names := make([]string, 0, len(t.Indexes))
	for name := range t.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "CREATE INDEX %s ON %s (%s);\n", name, obj, t.Indexes[name].Column)
	}
	return b.String(), nil
}

// Discover lists simulated tables ordered by namespace and name
func (e *Engine) Discover(_ context.Context) ([]catalog.Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DiscoverErr != nil {
		return nil, e.DiscoverErr
	}
	tables := make([]catalog.Table, 0, len(e.Tables))
	for id, t := range e.Tables {
		tables = append(tables, catalog.Table{ID: id, SizeBytes: t.SizeBytes, Tier: t.Tier})
	}
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].ID.Namespace != tables[j].ID.Namespace {
			return tables[i].ID.Namespace < tables[j].ID.Namespace
		}
		return tables[i].ID.Name < tables[j].ID.Name
	})
	return tables, nil
}
