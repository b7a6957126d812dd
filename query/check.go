package query

import (
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
)

func badRequest(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrBadRequest, format, args...)
}

// Check validates q given its normalized filters and orders.
func Check(q *Query, filters []Filter, orders []Order, transactional bool) error {
	if len(q.Projection) > 0 && q.KeysOnly {
		return badRequest("projection and keys_only cannot both be set")
	}

	projected := map[string]struct{}{}
	for _, p := range q.Projection {
		if entity.IsReservedName(p) {
			return badRequest("projections are not supported for the property: %s", p)
		}
		if _, ok := projected[p]; ok {
			return badRequest("cannot project a property multiple times")
		}
		projected[p] = struct{}{}
	}

	if q.HasLimit && q.Limit < 0 {
		return badRequest("limit must be >= 0: %d", q.Limit)
	}
	if q.Offset < 0 {
		return badRequest("offset must be >= 0: %d", q.Offset)
	}
	if q.HasCount && q.Count < 0 {
		return badRequest("count must be >= 0: %d", q.Count)
	}

	if transactional && q.Ancestor == nil {
		return badRequest("Only ancestor queries are allowed inside transactions.")
	}

	n := len(filters) + len(orders)
	if q.Ancestor != nil {
		n += 1
	}
	if n > MaxQueryComponents {
		return badRequest("query is too large. may not have more than %d filters"+
			" + sort orders ancestor total", MaxQueryComponents)
	}

	if q.Ancestor != nil {
		if q.Ancestor.App != q.App {
			return badRequest("query app is %s but ancestor app is %s", q.App, q.Ancestor.App)
		}
		if q.Ancestor.Namespace != q.Namespace {
			return badRequest("query namespace is %s but ancestor namespace is %s",
				q.Namespace, q.Ancestor.Namespace)
		}
	}

	if len(q.GroupBy) > 0 {
		groupBy := map[string]struct{}{}
		for _, p := range q.GroupBy {
			if _, ok := projected[p]; !ok {
				return badRequest("group by property %s must be projected", p)
			}
			groupBy[p] = struct{}{}
		}
		for _, o := range orders {
			if len(groupBy) == 0 {
				break
			}
			if _, ok := groupBy[o.Property]; !ok {
				return badRequest(
					"items in the group by clause must be specified first in the ordering")
			}
			delete(groupBy, o.Property)
		}
	}

	var ineqProp string
	for _, f := range filters {
		if f.Property == entity.KeyProperty {
			ref, ok := f.Value.(entity.ReferenceValue)
			if !ok {
				return badRequest("%s filter value must be a Key", entity.KeyProperty)
			}
			if ref.App != q.App {
				return badRequest("%s filter app is %s but query app is %s",
					entity.KeyProperty, ref.App, q.App)
			}
			if ref.Namespace != q.Namespace {
				return badRequest("%s filter namespace is %s but query namespace is %s",
					entity.KeyProperty, ref.Namespace, q.Namespace)
			}
		}

		if f.Op == Equal {
			if _, ok := projected[f.Property]; ok {
				return badRequest(
					"cannot use projection on a property with an equality filter")
			}
		}
		if f.Op.IsInequality() && f.Property != entity.UnappliedLogTimestampProperty {
			if ineqProp == "" {
				ineqProp = f.Property
			} else if ineqProp != f.Property {
				return badRequest("Only one inequality filter per query is supported. "+
					"Encountered both %s and %s", ineqProp, f.Property)
			}
		}
	}

	if ineqProp != "" && len(orders) > 0 && orders[0].Property != ineqProp {
		return badRequest("The first sort property must be the same as the property to "+
			"which the inequality filter is applied.  In your query the first sort property "+
			"is %s but the inequality filter is on %s", orders[0].Property, ineqProp)
	}

	if q.Kind == "" {
		for _, f := range filters {
			if f.Property != entity.KeyProperty &&
				f.Property != entity.UnappliedLogTimestampProperty {
				return badRequest("kind is required for non-__key__ filters")
			}
		}
		for _, o := range orders {
			if o.Property != entity.KeyProperty || o.Direction != Ascending {
				return badRequest("kind is required for all orders except __key__ ascending")
			}
		}
	}

	return nil
}
