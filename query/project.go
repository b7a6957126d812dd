package query

import (
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
)

// createIndexOnlyResults returns one entity for each combination of the
// distinct values of the properties in names, the way the rows of an index
// would appear. Entities with a single value for each of names are returned
// unchanged.
func createIndexOnlyResults(candidates []*entity.Entity,
	names map[string]struct{}) []*entity.Entity {

	var results []*entity.Entity
	for _, e := range candidates {
		var order []string
		vals := map[string][]entity.Value{}
		var rest []entity.Property
		split := false
		for _, p := range e.Properties {
			if _, ok := names[p.Name]; !ok {
				rest = append(rest, p)
				continue
			}
			if pvals, ok := vals[p.Name]; !ok {
				order = append(order, p.Name)
			} else {
				split = true
				if containsValue(pvals, p.Value) {
					continue
				}
			}
			vals[p.Name] = append(vals[p.Name], p.Value)
		}

		if !split {
			results = append(results, e)
			continue
		}

		combos := [][]entity.Property{rest}
		for _, name := range order {
			var next [][]entity.Property
			for _, combo := range combos {
				for _, v := range vals[name] {
					c := append(append([]entity.Property(nil), combo...),
						entity.Property{Name: name, Value: v, Meaning: entity.IndexValue})
					next = append(next, c)
				}
			}
			combos = next
		}

		for _, combo := range combos {
			results = append(results, &entity.Entity{
				Key:           e.Key,
				Properties:    combo,
				RawProperties: e.RawProperties,
			})
		}
	}
	return results
}

func containsValue(vals []entity.Value, v entity.Value) bool {
	for _, val := range vals {
		if entity.Equal(val, v) {
			return true
		}
	}
	return false
}

// LoadEntity returns the form of e which a query returns: just the key for
// keys only queries and only the projected properties, each with a single
// value, for projection queries.
func LoadEntity(e *entity.Entity, keysOnly bool, projection []string) (*entity.Entity, error) {
	if keysOnly {
		return &entity.Entity{Key: e.Key.Clone()}, nil
	}
	if len(projection) == 0 {
		return e.Clone(), nil
	}

	names := map[string]struct{}{}
	for _, p := range projection {
		names[p] = struct{}{}
	}

	le := &entity.Entity{Key: e.Key.Clone()}
	seen := map[string]struct{}{}
	for _, p := range e.Properties {
		if _, ok := names[p.Name]; !ok {
			continue
		}
		if _, ok := seen[p.Name]; ok {
			return nil, errors.Newf(errors.ErrInternal,
				"query produced bad result: multiple values for projected property %s", p.Name)
		}
		seen[p.Name] = struct{}{}
		le.Properties = append(le.Properties, entity.Property{
			Name:    p.Name,
			Value:   p.Value,
			Meaning: entity.IndexValue,
		})
	}
	return le, nil
}
