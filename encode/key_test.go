package encode_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
)

func testAppendValue(t *testing.T, values []entity.Value, reverse bool,
	makeKey func(val entity.Value) []byte) {

	t.Helper()

	var prev []byte
	for _, val := range values {
		buf := makeKey(val)
		if bytes.Compare(prev, buf) >= 0 {
			t.Errorf("AppendValue(%v, %v) not greater", val, reverse)
		}
		prev = buf
	}
}

func TestAppendValue(t *testing.T) {
	ref := func(name string) entity.Value {
		return entity.NewKey("app", "", entity.NameElement("K", name)).Reference()
	}

	values := []entity.Value{
		nil,
		entity.Int64Value(-999),
		entity.Int64Value(-9),
		entity.Int64Value(0),
		entity.Int64Value(9),
		entity.Int64Value(999),
		entity.BoolValue(false),
		entity.BoolValue(true),
		entity.StringValue([]byte{0}),
		entity.StringValue([]byte{0, 0}),
		entity.StringValue([]byte{0, 0, 0}),
		entity.StringValue([]byte{0, 1}),
		entity.StringValue([]byte{1, 1}),
		entity.StringValue("A"),
		entity.StringValue("AA"),
		entity.StringValue("AAA"),
		entity.StringValue("AB"),
		entity.StringValue("BBB"),
		entity.StringValue("aaa"),
		entity.StringValue([]byte{254, 0}),
		entity.StringValue([]byte{254, 255}),
		entity.StringValue([]byte{255}),
		entity.DoubleValue(math.NaN()),
		entity.DoubleValue(-999.9),
		entity.DoubleValue(-9.9),
		entity.DoubleValue(0.0),
		entity.DoubleValue(9.9),
		entity.DoubleValue(999.9),
		entity.PointValue{X: 1, Y: 2},
		entity.PointValue{X: 1, Y: 3},
		entity.PointValue{X: 2, Y: -5},
		entity.UserValue{Email: "a@example.com"},
		entity.UserValue{Email: "a@example.com", AuthDomain: "example.com"},
		entity.UserValue{Email: "b@example.com"},
		ref("a"),
		ref("b"),
	}

	testAppendValue(t, values, false,
		func(val entity.Value) []byte {
			return encode.AppendValue(nil, val, false)
		})

	reverseValues := make([]entity.Value, len(values))
	for i, val := range values {
		reverseValues[len(values)-i-1] = val
	}
	testAppendValue(t, reverseValues, true,
		func(val entity.Value) []byte {
			return encode.AppendValue(nil, val, true)
		})

	for _, val0 := range values {
		testAppendValue(t, values, false,
			func(val1 entity.Value) []byte {
				return encode.AppendValue(encode.AppendValue(nil, val0, false), val1, false)
			})
	}

	for _, val0 := range values {
		testAppendValue(t, reverseValues, true,
			func(val1 entity.Value) []byte {
				return encode.AppendValue(encode.AppendValue(nil, val0, false), val1, true)
			})
	}

	for i := 1; i < len(values); i++ {
		if d, ok := values[i].(entity.DoubleValue); ok && math.IsNaN(float64(d)) {
			continue
		}
		if d, ok := values[i-1].(entity.DoubleValue); ok && math.IsNaN(float64(d)) {
			continue
		}
		if entity.Compare(values[i-1], values[i]) >= 0 {
			t.Errorf("Compare(%v, %v) not less", values[i-1], values[i])
		}
	}
}

func TestMakeKey(t *testing.T) {
	keys := []entity.Key{
		entity.NewKey("a", "", entity.IDElement("Person", 1)),
		entity.NewKey("a", "", entity.IDElement("Person", 1), entity.IDElement("Pet", 2)),
		entity.NewKey("a", "", entity.IDElement("Person", 1), entity.NameElement("Pet", "x")),
		entity.NewKey("a", "", entity.IDElement("Person", 2)),
		entity.NewKey("a", "", entity.IDElement("Person", 10)),
		entity.NewKey("a", "", entity.NameElement("Person", "alice")),
		entity.NewKey("a", "", entity.NameElement("Person", "alice"),
			entity.IDElement("Pet", 1)),
		entity.NewKey("a", "", entity.NameElement("Person", "bob")),
		entity.NewKey("a", "", entity.IDElement("Robot", 1)),
		entity.NewKey("a", "ns", entity.IDElement("Person", 1)),
		entity.NewKey("b", "", entity.IDElement("Person", 1)),
	}

	for i := 1; i < len(keys); i++ {
		k1 := encode.MakeKey(keys[i-1])
		k2 := encode.MakeKey(keys[i])
		if bytes.Compare(k1, k2) >= 0 {
			t.Errorf("MakeKey(%s) not less than MakeKey(%s)", keys[i-1], keys[i])
		}
		if entity.CompareKeys(keys[i-1], keys[i]) >= 0 {
			t.Errorf("CompareKeys(%s, %s) not less", keys[i-1], keys[i])
		}
	}

	group := encode.MakeKey(keys[5])
	end := encode.PrefixEnd(group)
	for i, key := range keys {
		buf := encode.MakeKey(key)
		in := bytes.Compare(group, buf) <= 0 && bytes.Compare(buf, end) < 0
		if in != (i == 5 || i == 6) {
			t.Errorf("MakeKey(%s) in group range got %v", key, in)
		}
		if key.HasAncestor(keys[5]) != bytes.HasPrefix(buf, group) {
			t.Errorf("MakeKey(%s) prefix does not match ancestry", key)
		}
	}

	if bytes.Compare(encode.SequenceKey(), encode.MakeKey(keys[0])) >= 0 {
		t.Errorf("SequenceKey() does not sort before entity keys")
	}
	if !bytes.HasPrefix(encode.MakeKey(keys[9]), encode.NamespacePrefix("a", "ns")) {
		t.Errorf("NamespacePrefix(a, ns) is not a prefix of %s", keys[9])
	}
	if bytes.HasPrefix(encode.MakeKey(keys[0]), encode.NamespacePrefix("a", "ns")) {
		t.Errorf("NamespacePrefix(a, ns) is a prefix of %s", keys[0])
	}
}
