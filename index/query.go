package index

import (
	"sort"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/query"
)

// RemoveNativelySupported drops the parts of a query which every kind
// supports without a composite index: a trailing __key__ ascending order and,
// unless the query orders by __key__ descending or has an inequality on
// another property, the __key__ filters.
func RemoveNativelySupported(filters []query.Filter,
	orders []query.Order) ([]query.Filter, []query.Order) {

	filters, orders = query.Normalize(filters, orders, nil)

	keyDesc := false
	if len(orders) > 0 && orders[len(orders)-1].Property == entity.KeyProperty {
		if orders[len(orders)-1].Direction == query.Descending {
			keyDesc = true
		} else {
			orders = orders[:len(orders)-1]
		}
	}

	if !keyDesc {
		for _, f := range filters {
			if f.Op.IsInequality() && f.Property != entity.KeyProperty {
				return filters, orders
			}
		}

		var nf []query.Filter
		for _, f := range filters {
			if f.Property != entity.KeyProperty {
				nf = append(nf, f)
			}
		}
		filters = nf
	}
	return filters, orders
}

// Requirement is the composite index a query would scan.
type Requirement struct {
	Required   bool
	Definition Definition
	NumEqual   int
}

// ForQuery returns the composite index needed by a query over kind with the
// given filters and orders. Requirement.Required is false when the datastore
// serves the query with its built in indexes.
func ForQuery(kind string, ancestor bool, filters []query.Filter,
	orders []query.Order) Requirement {

	required := kind != ""
	filters, orders = RemoveNativelySupported(filters, orders)

	var eqFilters, ineqFilters, existsFilters []query.Filter
	for _, f := range filters {
		switch {
		case f.Op == query.Equal:
			eqFilters = append(eqFilters, f)
		case f.Op.IsInequality():
			ineqFilters = append(ineqFilters, f)
		case f.Op == query.Exists:
			existsFilters = append(existsFilters, f)
		}
	}

	if kind != "" && len(ineqFilters) == 0 && len(existsFilters) == 0 && len(orders) == 0 {
		special := false
		for _, f := range eqFilters {
			if entity.IsSpecialProperty(f.Property) {
				special = true
				break
			}
		}
		if !special {
			required = false
		}
	}

	var ineqProp string
	for _, f := range ineqFilters {
		if f.Property != entity.UnappliedLogTimestampProperty {
			ineqProp = f.Property
			break
		}
	}

	var props []Property
	for _, f := range eqFilters {
		props = append(props, Property{Name: f.Property, Direction: query.Ascending})
	}
	sort.SliceStable(props,
		func(i, j int) bool {
			return props[i].Name < props[j].Name
		})

	if ineqProp != "" && len(orders) == 0 {
		props = append(props, Property{Name: ineqProp, Direction: query.Ascending})
	}
	for _, o := range orders {
		props = append(props, Property{Name: o.Property, Direction: o.Direction})
	}
	for _, f := range existsFilters {
		found := false
		for _, p := range props {
			if p.Name == f.Property {
				found = true
				break
			}
		}
		if !found {
			props = append(props, Property{Name: f.Property, Direction: query.Ascending})
		}
	}

	if kind != "" && !ancestor && len(props) <= 1 {
		required = false
		if len(props) == 1 && entity.IsSpecialProperty(props[0].Name) &&
			props[0].Direction == query.Descending {

			required = true
		}
	}

	return Requirement{
		Required: required,
		Definition: Definition{
			Kind:       kind,
			Ancestor:   ancestor,
			Properties: props,
		},
		NumEqual: len(eqFilters),
	}
}

// Serves returns true if an index with def can serve a query which needs req.
// The equality properties which lead req may appear in any order.
func (req Requirement) Serves(def Definition) bool {
	rdef := req.Definition
	if def.Equal(rdef) {
		return true
	}
	if req.NumEqual <= 1 || def.Kind != rdef.Kind || def.Ancestor != rdef.Ancestor ||
		len(def.Properties) != len(rdef.Properties) {

		return false
	}

	eq := map[Property]int{}
	for _, p := range rdef.Properties[:req.NumEqual] {
		eq[p] += 1
	}
	for _, p := range def.Properties[:req.NumEqual] {
		if eq[p] == 0 {
			return false
		}
		eq[p] -= 1
	}
	for idx := req.NumEqual; idx < len(def.Properties); idx++ {
		if def.Properties[idx] != rdef.Properties[idx] {
			return false
		}
	}
	return true
}

// NeedIndexError returns the error for a query which requires def.
func NeedIndexError(def Definition) error {
	return errors.New(errors.ErrNeedIndex,
		"This query requires a composite index that is not defined. "+
			"You must update the index.yaml file in your application root.\n"+
			"The following index is the minimum index required:\n"+def.YAML())
}

// CheckQuery returns a NeedIndex error, along with the missing definition,
// when a query over kind needs a composite index which app does not have in
// the READ_WRITE state.
func (m *Manager) CheckQuery(app, kind string, ancestor bool, filters []query.Filter,
	orders []query.Order) (*Definition, error) {

	req := ForQuery(kind, ancestor, filters, orders)
	if !req.Required {
		return nil, nil
	}
	for _, def := range m.Serving(app) {
		if req.Serves(def) {
			return nil, nil
		}
	}
	return &req.Definition, NeedIndexError(req.Definition)
}
