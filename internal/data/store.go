// Package data holds the product records served by the collaborator API and
// targeted by the data corruption scenario.
package data

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// IDField is the row field used as the record key.
const IDField = "id"

// Store is a concurrency-safe set of records keyed by id.
// Rows are schemaless: a field may be missing, hold a wrong type, or be nil.
type Store struct {
	name string

	mu   sync.RWMutex
	rows map[string]map[string]any
	ids  []string // insertion order
}

// NewStore creates a store from rows. Rows without an id are keyed by their
// 1-based position, which is also written back into the row.
func NewStore(name string, rows []map[string]any) *Store {
	s := &Store{
		name: name,
		rows: make(map[string]map[string]any, len(rows)),
	}
	for i, row := range rows {
		r := maps.Clone(row)
		if r == nil {
			r = make(map[string]any)
		}
		id := fmt.Sprint(r[IDField])
		if r[IDField] == nil || id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		r[IDField] = id
		if _, dup := s.rows[id]; !dup {
			s.ids = append(s.ids, id)
		}
		s.rows[id] = r
	}
	return s
}

// LoadFile loads a CSV or JSON file into a Store.
func LoadFile(name, path, configDir string) (*Store, error) {
	if !filepath.IsAbs(path) && configDir != "" {
		path = filepath.Join(configDir, path)
	}

	var rows []map[string]any
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = loadCSV(path)
	case ".json":
		rows, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported file format %q (use .csv or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data file %s is empty", path)
	}

	return NewStore(name, rows), nil
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns record ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids)
}

// All returns copies of every record in insertion order.
func (s *Store) All() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, maps.Clone(s.rows[id]))
	}
	return out
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(row), true
}

// Random returns a copy of a random record, or nil if the store is empty.
func (s *Store) Random(rng *rand.Rand) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ids) == 0 {
		return nil
	}
	return maps.Clone(s.rows[s.ids[rng.IntN(len(s.ids))]])
}

// Field reports a field's value and whether it is present on the record.
// A present field may hold nil.
func (s *Store) Field(id, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	v, ok := row[field]
	return v, ok
}

// SetField overwrites a field on an existing record.
func (s *Store) SetField(id, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	row[field] = value
	return nil
}

// DeleteField removes a field from an existing record.
func (s *Store) DeleteField(id, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	delete(row, field)
	return nil
}
