package index

import (
	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/query"
)

// Cost counts the entity and index rows written by a commit.
type Cost struct {
	EntityWrites int
	IndexWrites  int
}

func (c *Cost) Add(c2 Cost) {
	c.EntityWrites += c2.EntityWrites
	c.IndexWrites += c2.IndexWrites
}

// WriteOps returns the cost of replacing old with new; old is nil for an
// insert and new is nil for a delete. A delete costs the same as inserting
// old. Rewriting an entity with the same properties costs nothing.
func WriteOps(indexes []Index, old, new *entity.Entity) Cost {
	if new == nil {
		if old == nil {
			return Cost{}
		}
		old, new = nil, old
	}

	if old != nil && entity.SameProperties(old, new) {
		return Cost{}
	}

	writes := changedIndexRows(indexes, old, new, len(new.Key.Path))
	if old == nil {
		writes += 1
	}
	return Cost{EntityWrites: 1, IndexWrites: writes}
}

func uniqueProperties(e *entity.Entity) map[string]map[string]struct{} {
	unique := map[string]map[string]struct{}{}
	if e == nil {
		return unique
	}
	for _, p := range e.Properties {
		if unique[p.Name] == nil {
			unique[p.Name] = map[string]struct{}{}
		}
		unique[p.Name][propertyID(p)] = struct{}{}
	}
	return unique
}

func propertyID(p entity.Property) string {
	p.Multiple = false
	return string(encode.EncodeProperty(p))
}

func changedIndexRows(indexes []Index, old, new *entity.Entity, pathSize int) int {
	oldProps := uniqueProperties(old)
	newProps := uniqueProperties(new)

	unchanged := map[string]int{}
	if new != nil {
		for _, p := range new.Properties {
			if _, ok := oldProps[p.Name][propertyID(p)]; ok {
				unchanged[p.Name] += 1
			}
		}
	}

	names := map[string]struct{}{}
	for name := range oldProps {
		names[name] = struct{}{}
	}
	for name := range newProps {
		names[name] = struct{}{}
	}

	var defs []Definition
	for name := range names {
		defs = append(defs,
			Definition{Properties: []Property{{Name: name, Direction: query.Ascending}}},
			Definition{Properties: []Property{{Name: name, Direction: query.Descending}}})
	}
	for _, idx := range indexes {
		defs = append(defs, idx.Definition)
	}

	writes := 0
	for _, def := range defs {
		multiplier := 1
		if def.Ancestor && len(def.Properties) > 1 {
			multiplier = pathSize
		}

		oldCount, newCount, common := 1, 1, 1
		for _, p := range def.Properties {
			oldCount *= len(oldProps[p.Name])
			newCount *= len(newProps[p.Name])
			common *= unchanged[p.Name]
		}
		writes += ((oldCount - common) + (newCount - common)) * multiplier
	}
	return writes
}
