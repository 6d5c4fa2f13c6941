package failure

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrNoRecords means the corruption scenario found nothing to corrupt.
var ErrNoRecords = errors.New("no corruptible records")

// Records is a store whose fields can be overwritten and restored.
// data.Store implements it.
type Records interface {
	IDs() []string
	Field(id, field string) (any, bool)
	SetField(id, field string, value any) error
	DeleteField(id, field string) error
}

// corruptions are the sentinel values written over each field: a negative
// price, a name of the wrong type, and a null category.
var corruptions = []struct {
	field string
	value any
}{
	{"price", -999.99},
	{"name", 12345},
	{"category", nil},
}

// fieldSnapshot is the pre-corruption state of one field.
type fieldSnapshot struct {
	id      string
	field   string
	value   any
	present bool
}

// corrupt snapshots and overwrites the sentinel fields on up to n random
// records. On a write error it restores what it already changed and
// reports any restore failure alongside the write error.
func corrupt(rng *rand.Rand, records Records, n int) ([]fieldSnapshot, error) {
	if records == nil {
		return nil, ErrNoRecords
	}
	ids := records.IDs()
	if len(ids) == 0 || n <= 0 {
		return nil, ErrNoRecords
	}
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n > len(ids) {
		n = len(ids)
	}

	var snap []fieldSnapshot
	for _, id := range ids[:n] {
		for _, c := range corruptions {
			v, ok := records.Field(id, c.field)
			snap = append(snap, fieldSnapshot{id: id, field: c.field, value: v, present: ok})
			if err := records.SetField(id, c.field, c.value); err != nil {
				err = fmt.Errorf("corrupting %s.%s: %w", id, c.field, err)
				return nil, errors.Join(err, restore(records, snap))
			}
		}
	}
	return snap, nil
}

// restore puts every snapshotted field back, removing fields that did not
// exist before. It returns the first error but keeps going.
func restore(records Records, snap []fieldSnapshot) error {
	var first error
	for i := len(snap) - 1; i >= 0; i-- {
		s := snap[i]
		var err error
		if s.present {
			err = records.SetField(s.id, s.field, s.value)
		} else {
			err = records.DeleteField(s.id, s.field)
		}
		if err != nil && first == nil {
			first = fmt.Errorf("restoring %s.%s: %w", s.id, s.field, err)
		}
	}
	return first
}
