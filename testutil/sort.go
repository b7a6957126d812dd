package testutil

import (
	"sort"

	"github.com/leftmike/egdb/entity"
)

// SortEntities sorts entities in key order.
func SortEntities(entities []*entity.Entity) {
	sort.Slice(entities,
		func(i, j int) bool {
			return entity.CompareKeys(entities[i].Key, entities[j].Key) < 0
		})
}

// Keys returns the keys of entities, in order; nil entities are skipped.
func Keys(entities []*entity.Entity) []string {
	var keys []string
	for _, e := range entities {
		if e != nil {
			keys = append(keys, e.Key.String())
		}
	}
	return keys
}
