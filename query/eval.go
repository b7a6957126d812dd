package query

import (
	"sort"

	"github.com/leftmike/egdb/entity"
)

type evaluator struct {
	kind     string
	ancestor *entity.Key
	filters  map[string][]Filter
	orders   []Order
}

func newEvaluator(q *Query, filters []Filter, orders []Order) *evaluator {
	ev := &evaluator{
		kind:     q.Kind,
		ancestor: q.Ancestor,
		filters:  map[string][]Filter{},
		orders:   orders,
	}
	for _, f := range filters {
		ev.filters[f.Property] = append(ev.filters[f.Property], f)
	}
	return ev
}

func propertyValues(e *entity.Entity, name string) []entity.Value {
	if name == entity.KeyProperty {
		if len(e.Key.Path) == 0 {
			return nil
		}
		return []entity.Value{e.Key.Reference()}
	}
	return e.Values(name)
}

func (f Filter) matchValue(v entity.Value) bool {
	c := entity.Compare(v, f.Value)
	switch f.Op {
	case LessThan:
		return c < 0
	case LessThanOrEqual:
		return c <= 0
	case GreaterThan:
		return c > 0
	case GreaterThanOrEqual:
		return c >= 0
	case Equal:
		return c == 0
	case Exists:
		return true
	}
	return false
}

// inRange returns the values which satisfy every inequality filter in
// filters.
func inRange(vals []entity.Value, filters []Filter) []entity.Value {
	var ret []entity.Value
	for _, v := range vals {
		ok := true
		for _, f := range filters {
			if f.Op.IsInequality() && !f.matchValue(v) {
				ok = false
				break
			}
		}
		if ok {
			ret = append(ret, v)
		}
	}
	return ret
}

func (ev *evaluator) matches(e *entity.Entity) bool {
	if ev.kind != "" && e.Key.Kind() != ev.kind {
		return false
	}
	if ev.ancestor != nil && !e.Key.HasAncestor(*ev.ancestor) {
		return false
	}

	for name, filters := range ev.filters {
		vals := propertyValues(e, name)
		if len(vals) == 0 {
			return false
		}

		var ineq bool
		for _, f := range filters {
			if f.Op == Equal {
				found := false
				for _, v := range vals {
					if f.matchValue(v) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			} else if f.Op.IsInequality() {
				ineq = true
			}
		}
		if ineq && len(inRange(vals, filters)) == 0 {
			return false
		}
	}

	for _, o := range ev.orders {
		if len(propertyValues(e, o.Property)) == 0 {
			return false
		}
	}
	return true
}

// sortValue returns the value of e which orders it under o: the smallest
// value in the filtered range for ascending orders, and the largest for
// descending orders.
func (ev *evaluator) sortValue(e *entity.Entity, o Order) (entity.Value, bool) {
	vals := propertyValues(e, o.Property)
	if len(vals) == 0 {
		return nil, false
	}
	if rvals := inRange(vals, ev.filters[o.Property]); len(rvals) > 0 {
		vals = rvals
	}

	val := vals[0]
	for _, v := range vals[1:] {
		c := entity.Compare(v, val)
		if (o.Direction == Descending && c > 0) || (o.Direction != Descending && c < 0) {
			val = v
		}
	}
	return val, true
}

func (ev *evaluator) compare(e1, e2 *entity.Entity) int {
	for _, o := range ev.orders {
		var c int
		if o.Property == entity.KeyProperty {
			if len(e1.Key.Path) == 0 || len(e2.Key.Path) == 0 {
				continue
			}
			c = entity.CompareKeys(e1.Key, e2.Key)
		} else {
			v1, ok1 := ev.sortValue(e1, o)
			v2, ok2 := ev.sortValue(e2, o)
			if !ok1 && !ok2 {
				continue
			} else if !ok1 {
				c = -1
			} else if !ok2 {
				c = 1
			} else {
				c = entity.Compare(v1, v2)
			}
		}

		if c != 0 {
			if o.Direction == Descending {
				return -c
			}
			return c
		}
	}
	return 0
}

func (ev *evaluator) apply(candidates []*entity.Entity) []*entity.Entity {
	var results []*entity.Entity
	for _, e := range candidates {
		if ev.matches(e) {
			results = append(results, e)
		}
	}
	sort.SliceStable(results,
		func(i, j int) bool {
			return ev.compare(results[i], results[j]) < 0
		})
	return results
}
