package query

import (
	"encoding/base64"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
)

const (
	cursorKeyField        protowire.Number = 1
	cursorIndexValueField protowire.Number = 2
	cursorInclusiveField  protowire.Number = 3

	indexValuePropertyField protowire.Number = 1
	indexValueValueField    protowire.Number = 2
)

type IndexValue struct {
	Property string
	Value    entity.Value
}

// CompiledCursor is a position in the results of a query: the key and the
// cursor property values of a result. A cursor without a key or index
// values is empty and positioned before every result.
type CompiledCursor struct {
	Key         *entity.Key
	IndexValues []IndexValue
	Inclusive   bool
}

func (cc *CompiledCursor) Empty() bool {
	return cc == nil || (cc.Key == nil && len(cc.IndexValues) == 0)
}

func (cc *CompiledCursor) Encode() []byte {
	var buf []byte
	if cc.Key != nil {
		buf = protowire.AppendTag(buf, cursorKeyField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encode.EncodeKey(*cc.Key))
	}
	for _, iv := range cc.IndexValues {
		var ivb []byte
		ivb = protowire.AppendTag(ivb, indexValuePropertyField, protowire.BytesType)
		ivb = protowire.AppendString(ivb, iv.Property)
		ivb = protowire.AppendTag(ivb, indexValueValueField, protowire.BytesType)
		ivb = protowire.AppendBytes(ivb, encode.EncodeValue(iv.Value))

		buf = protowire.AppendTag(buf, cursorIndexValueField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, ivb)
	}
	if cc.Inclusive {
		buf = protowire.AppendTag(buf, cursorInclusiveField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}
	return buf
}

// String returns the web safe form of the cursor.
func (cc *CompiledCursor) String() string {
	return base64.RawURLEncoding.EncodeToString(cc.Encode())
}

func decodeIndexValue(b []byte) (IndexValue, error) {
	var iv IndexValue
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return iv, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return iv, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return iv, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case indexValuePropertyField:
			iv.Property = string(v)
		case indexValueValueField:
			val, err := encode.DecodeValue(v)
			if err != nil {
				return iv, err
			}
			iv.Value = val
		}
	}
	return iv, nil
}

func DecodeCursor(b []byte) (*CompiledCursor, error) {
	cc := &CompiledCursor{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, badRequest("invalid cursor: %s", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == cursorKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, badRequest("invalid cursor: %s", protowire.ParseError(n))
			}
			key, err := encode.DecodeKey(v)
			if err != nil {
				return nil, badRequest("invalid cursor: %s", err)
			}
			cc.Key = &key
			b = b[n:]
		case num == cursorIndexValueField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, badRequest("invalid cursor: %s", protowire.ParseError(n))
			}
			iv, err := decodeIndexValue(v)
			if err != nil {
				return nil, badRequest("invalid cursor: %s", err)
			}
			cc.IndexValues = append(cc.IndexValues, iv)
			b = b[n:]
		case num == cursorInclusiveField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, badRequest("invalid cursor: %s", protowire.ParseError(n))
			}
			cc.Inclusive = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, badRequest("invalid cursor: %s", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return cc, nil
}

// ParseCursor decodes the web safe form of a cursor.
func ParseCursor(s string) (*CompiledCursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, badRequest("invalid cursor: %s", err)
	}
	return DecodeCursor(b)
}

// Result is one batch of query results.
type Result struct {
	Entities       []*entity.Entity
	SkippedResults int
	MoreResults    bool
	KeysOnly       bool
	CompiledCursor *CompiledCursor
}

// ListCursor pages through the results of a query.
type ListCursor struct {
	App         string
	keysOnly    bool
	projection  []string
	cursorProps map[string]struct{}
	ev          *evaluator
	results     []*entity.Entity
	offset      int
	count       int
	lastResult  *entity.Entity
}

func newListCursor(q *Query, ev *evaluator, results []*entity.Entity) (*ListCursor, error) {
	lc := &ListCursor{
		App:         q.App,
		keysOnly:    q.KeysOnly,
		projection:  q.Projection,
		cursorProps: map[string]struct{}{},
		ev:          ev,
	}

	if len(q.GroupBy) > 0 {
		for _, p := range q.GroupBy {
			lc.cursorProps[p] = struct{}{}
		}

		distincts := map[string]struct{}{}
		var grouped []*entity.Entity
		for _, e := range results {
			gk := groupByKey(e, lc.cursorProps)
			if _, ok := distincts[gk]; !ok {
				distincts[gk] = struct{}{}
				grouped = append(grouped, e)
			}
		}
		results = grouped
	} else {
		for _, o := range ev.orders {
			lc.cursorProps[o.Property] = struct{}{}
		}
		lc.cursorProps[entity.KeyProperty] = struct{}{}
	}

	start := 0
	if !q.StartCursor.Empty() {
		ce, err := lc.decodeCursor(q.StartCursor)
		if err != nil {
			return nil, err
		}
		lc.lastResult = ce
		start = lc.cursorOffset(results, ce, q.StartCursor.Inclusive)
	}

	end := len(results)
	if q.EndCursor != nil {
		if q.EndCursor.Empty() {
			end = 0
		} else {
			ce, err := lc.decodeCursor(q.EndCursor)
			if err != nil {
				return nil, err
			}
			end = lc.cursorOffset(results, ce, q.EndCursor.Inclusive)
		}
	}

	if end < start {
		end = start
	}
	results = results[start:end]

	if q.HasLimit {
		limit := q.Limit + q.Offset
		if limit >= 0 && limit < len(results) {
			results = results[:limit]
		}
	}

	lc.results = results
	lc.count = len(results)
	return lc, nil
}

func groupByKey(e *entity.Entity, names map[string]struct{}) string {
	set := map[string]struct{}{}
	for _, p := range e.Properties {
		if _, ok := names[p.Name]; ok {
			set[fmt.Sprintf("%d:%s%s", len(p.Name), p.Name, encode.EncodeValue(p.Value))] =
				struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var gk string
	for _, k := range keys {
		gk += fmt.Sprintf("%d:%s", len(k), k)
	}
	return gk
}

// decodeCursor turns cc into an entity which compares against results.
func (lc *ListCursor) decodeCursor(cc *CompiledCursor) (*entity.Entity, error) {
	remaining := map[string]struct{}{}
	for p := range lc.cursorProps {
		remaining[p] = struct{}{}
	}

	ce := &entity.Entity{}
	if cc.Key != nil {
		if _, ok := remaining[entity.KeyProperty]; !ok {
			return nil, badRequest("Cursor does not match query: unexpected key")
		}
		ce.Key = cc.Key.Clone()
		delete(remaining, entity.KeyProperty)
	}
	for _, iv := range cc.IndexValues {
		if _, ok := lc.cursorProps[iv.Property]; !ok || iv.Property == entity.KeyProperty {
			return nil, badRequest("Cursor does not match query: unexpected property %s",
				iv.Property)
		}
		ce.Properties = append(ce.Properties,
			entity.Property{Name: iv.Property, Value: iv.Value})
		delete(remaining, iv.Property)
	}

	if len(remaining) > 0 {
		var missing []string
		for p := range remaining {
			missing = append(missing, p)
		}
		sort.Strings(missing)
		return nil, badRequest("Cursor does not match query: missing values for %v", missing)
	}
	return ce, nil
}

func (lc *ListCursor) isBeforeCursor(e, ce *entity.Entity, inclusive bool) bool {
	cmpe := &entity.Entity{}
	for _, p := range e.Properties {
		if _, ok := lc.cursorProps[p.Name]; ok {
			cmpe.Properties = append(cmpe.Properties, p)
		}
	}
	if len(ce.Key.Path) > 0 {
		cmpe.Key = e.Key
	}

	c := lc.ev.compare(cmpe, ce)
	if inclusive {
		return c < 0
	}
	return c <= 0
}

// cursorOffset returns the position of the first result not before ce, even
// when ce is no longer one of the results.
func (lc *ListCursor) cursorOffset(results []*entity.Entity, ce *entity.Entity,
	inclusive bool) int {

	lo, hi := 0, len(results)
	for lo < hi {
		mid := (lo + hi) / 2
		if lc.isBeforeCursor(results[mid], ce, inclusive) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (lc *ListCursor) encodeCursor(e *entity.Entity) *CompiledCursor {
	cc := &CompiledCursor{}
	if e == nil {
		return cc
	}

	if _, ok := lc.cursorProps[entity.KeyProperty]; ok {
		key := e.Key.Clone()
		cc.Key = &key
	}
	for _, p := range e.Properties {
		if _, ok := lc.cursorProps[p.Name]; ok {
			cc.IndexValues = append(cc.IndexValues, IndexValue{Property: p.Name, Value: p.Value})
		}
	}
	return cc
}

// Count returns the number of results up to the query's limit.
func (lc *ListCursor) Count() int {
	return lc.count
}

// PopulateResult skips up to offset results and then returns up to count
// results.
func (lc *ListCursor) PopulateResult(count, offset int, compile bool) (*Result, error) {
	if offset < 0 {
		return nil, badRequest("Offset must be >= 0")
	}

	result := &Result{
		KeysOnly: lc.keysOnly,
	}

	if offset > lc.count-lc.offset {
		offset = lc.count - lc.offset
	}
	limitedOffset := offset
	if limitedOffset > MaxQueryOffset {
		limitedOffset = MaxQueryOffset
	}
	lc.offset += limitedOffset
	result.SkippedResults = limitedOffset

	if offset == limitedOffset && count > 0 {
		if count > MaxResults {
			count = MaxResults
		}
		end := lc.offset + count
		if end > lc.count {
			end = lc.count
		}
		for _, e := range lc.results[lc.offset:end] {
			le, err := LoadEntity(e, lc.keysOnly, lc.projection)
			if err != nil {
				return nil, err
			}
			result.Entities = append(result.Entities, le)
		}
		lc.offset = end
	}

	if lc.offset > 0 {
		lc.lastResult = lc.results[lc.offset-1]
	}

	result.MoreResults = lc.offset < lc.count
	if compile {
		result.CompiledCursor = lc.encodeCursor(lc.lastResult)
	}
	return result, nil
}

// Execute runs a query with normalized filters and orders over candidates,
// a superset of its results.
func Execute(candidates []*entity.Entity, q *Query, filters []Filter,
	orders []Order) (*ListCursor, error) {

	orders = GuessOrders(filters, orders)
	if len(q.Projection) > 0 {
		props := map[string]struct{}{}
		for _, o := range orders {
			props[o.Property] = struct{}{}
		}
		candidates = createIndexOnlyResults(candidates, props)
	}

	ev := newEvaluator(q, filters, orders)
	return newListCursor(q, ev, ev.apply(candidates))
}
