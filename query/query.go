package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leftmike/egdb/entity"
)

const (
	MaxResults         = 300
	MaxQueryOffset     = 1000
	BatchSize          = 20
	MaxQueryComponents = 100
)

type Operator int

const (
	LessThan Operator = iota + 1
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Equal
	Exists
)

func (op Operator) String() string {
	switch op {
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	case Equal:
		return "="
	case Exists:
		return "exists"
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

func (op Operator) IsInequality() bool {
	return op >= LessThan && op <= GreaterThanOrEqual
}

type Filter struct {
	Property string
	Op       Operator
	Value    entity.Value
}

func (f Filter) String() string {
	if f.Op == Exists {
		return fmt.Sprintf("%s exists", f.Property)
	}
	return fmt.Sprintf("%s %s %v", f.Property, f.Op, f.Value)
}

type Direction int

const (
	Ascending Direction = iota + 1
	Descending
)

func (dir Direction) String() string {
	if dir == Descending {
		return "desc"
	}
	return "asc"
}

type Order struct {
	Property  string
	Direction Direction
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s", o.Property, o.Direction)
}

// Query describes a scan over the entities of one application namespace.
// An empty Kind matches every kind.
type Query struct {
	App         string
	Namespace   string
	Kind        string
	Ancestor    *entity.Key
	Filters     []Filter
	Orders      []Order
	Projection  []string
	GroupBy     []string
	KeysOnly    bool
	HasLimit    bool
	Limit       int
	Offset      int
	HasCount    bool
	Count       int
	Compile     bool
	StartCursor *CompiledCursor
	EndCursor   *CompiledCursor
}

// BatchCount returns the number of results the first batch should hold.
func (q *Query) BatchCount() int {
	if q.HasCount {
		return q.Count
	} else if q.HasLimit {
		return q.Limit
	}
	return BatchSize
}

// Signature describes q without its limit, offset, and count; queries with
// the same signature need the same indexes.
func (q *Query) Signature() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s/%s kind=%q", q.App, q.Namespace, q.Kind)
	if q.Ancestor != nil {
		fmt.Fprintf(&buf, " ancestor=%s", q.Ancestor)
	}
	for _, f := range q.Filters {
		fmt.Fprintf(&buf, " filter(%s)", f)
	}
	for _, o := range q.Orders {
		fmt.Fprintf(&buf, " order(%s)", o)
	}
	if len(q.Projection) > 0 {
		fmt.Fprintf(&buf, " project(%s)", strings.Join(q.Projection, ","))
	}
	if len(q.GroupBy) > 0 {
		fmt.Fprintf(&buf, " group(%s)", strings.Join(q.GroupBy, ","))
	}
	if q.KeysOnly {
		buf.WriteString(" keys-only")
	}
	return buf.String()
}

// Normalize returns filters and orders with the same effect as the originals.
// Orders on properties with an equality filter are dropped, as are orders
// following a __key__ order; all orders are dropped when __key__ has an
// equality filter. Each property in exists without a filter or order gets an
// EXISTS filter.
func Normalize(filters []Filter, orders []Order, exists []string) ([]Filter, []Order) {
	eqProps := map[string]struct{}{}
	ineqProps := map[string]struct{}{}
	for _, f := range filters {
		if f.Op == Equal {
			eqProps[f.Property] = struct{}{}
		} else if f.Op.IsInequality() {
			ineqProps[f.Property] = struct{}{}
		}
	}
	for p := range ineqProps {
		delete(eqProps, p)
	}

	remove := map[string]struct{}{}
	for p := range eqProps {
		remove[p] = struct{}{}
	}
	var newOrders []Order
	for _, o := range orders {
		if _, ok := remove[o.Property]; !ok {
			remove[o.Property] = struct{}{}
			newOrders = append(newOrders, o)
		}
	}

	for p := range ineqProps {
		remove[p] = struct{}{}
	}
	var newFilters []Filter
	for _, f := range filters {
		if f.Op != Exists {
			newFilters = append(newFilters, f)
			continue
		}
		if _, ok := remove[f.Property]; !ok {
			remove[f.Property] = struct{}{}
			newFilters = append(newFilters, f)
		}
	}
	for _, p := range exists {
		if _, ok := remove[p]; !ok {
			remove[p] = struct{}{}
			newFilters = append(newFilters, Filter{Property: p, Op: Exists})
		}
	}

	if _, ok := eqProps[entity.KeyProperty]; ok {
		newOrders = nil
	}
	for idx, o := range newOrders {
		if o.Property == entity.KeyProperty {
			newOrders = newOrders[:idx+1]
			break
		}
	}

	return newFilters, newOrders
}

// GuessOrders returns orders extended into a total order: an unordered query
// is ordered by its first non equality filter, EXISTS properties follow in
// name order unless __key__ is already ordered, and __key__ ascending ends
// the order.
func GuessOrders(filters []Filter, orders []Order) []Order {
	orders = append([]Order(nil), orders...)

	if len(orders) == 0 {
		for _, f := range filters {
			if f.Op != Equal {
				orders = append(orders, Order{Property: f.Property, Direction: Ascending})
				break
			}
		}
	}

	ordered := map[string]struct{}{}
	for _, o := range orders {
		ordered[o.Property] = struct{}{}
	}
	if _, ok := ordered[entity.KeyProperty]; !ok {
		var exists []string
		for _, f := range filters {
			if _, ok := ordered[f.Property]; f.Op == Exists && !ok {
				exists = append(exists, f.Property)
			}
		}
		sort.Strings(exists)
		for _, p := range exists {
			orders = append(orders, Order{Property: p, Direction: Ascending})
		}
	}

	if len(orders) == 0 || orders[len(orders)-1].Property != entity.KeyProperty {
		orders = append(orders, Order{Property: entity.KeyProperty, Direction: Ascending})
	}
	return orders
}
