package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/leftmike/egdb/engine"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/kv"
	"github.com/leftmike/egdb/query"
	"github.com/leftmike/egdb/store"
	"github.com/leftmike/egdb/testutil"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		line  string
		words []string
		fail  bool
	}{
		{line: "", words: nil},
		{line: "get  Person:alice", words: []string{"get", "Person:alice"}},
		{line: `put Note: text="a b  c" n=1`,
			words: []string{"put", "Note:", `text="a b  c"`, "n=1"}},
		{line: `put Note: text="say \"hi\""`,
			words: []string{"put", "Note:", `text="say \"hi\""`}},
		{line: `put Note: text="open`, fail: true},
	}

	for _, c := range cases {
		words, err := tokenize(c.line)
		if c.fail {
			if err == nil {
				t.Errorf("tokenize(%s) did not fail", c.line)
			}
			continue
		} else if err != nil {
			t.Errorf("tokenize(%s) failed with %s", c.line, err)
			continue
		}
		var trc string
		if !testutil.DeepEqual(words, c.words, &trc) {
			t.Errorf("tokenize(%s) got %v want %v\n%s", c.line, words, c.words, trc)
		}
	}
}

func TestParseKey(t *testing.T) {
	cases := []struct {
		s    string
		key  entity.Key
		fail bool
	}{
		{s: "Person:alice", key: entity.NewKey("x", "", entity.NameElement("Person", "alice"))},
		{s: "Person:12", key: entity.NewKey("x", "", entity.IDElement("Person", 12))},
		{s: `Person:"12"`, key: entity.NewKey("x", "", entity.NameElement("Person", "12"))},
		{s: "Person:alice/Pet:1", key: entity.NewKey("x", "",
			entity.NameElement("Person", "alice"), entity.IDElement("Pet", 1))},
		{s: "Note:", key: entity.NewKey("x", "", entity.PathElement{Kind: "Note"})},
		{s: "Note", key: entity.NewKey("x", "", entity.PathElement{Kind: "Note"})},
		{s: "Person/Pet:1", fail: true},
		{s: ":alice", fail: true},
		{s: "Person:-1", fail: true},
	}

	for _, c := range cases {
		key, err := parseKey("x", "", c.s)
		if c.fail {
			if err == nil {
				t.Errorf("parseKey(%s) did not fail", c.s)
			}
			continue
		} else if err != nil {
			t.Errorf("parseKey(%s) failed with %s", c.s, err)
			continue
		}
		if !key.Equal(c.key) {
			t.Errorf("parseKey(%s) got %s want %s", c.s, key, c.key)
		}
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		s    string
		v    entity.Value
		fail bool
	}{
		{s: "null", v: nil},
		{s: "true", v: entity.BoolValue(true)},
		{s: "-42", v: entity.Int64Value(-42)},
		{s: "2.5", v: entity.DoubleValue(2.5)},
		{s: `"42"`, v: entity.StringValue("42")},
		{s: "(1,2.5)", v: entity.PointValue{X: 1, Y: 2.5}},
		{s: "@Person:alice",
			v: entity.NewKey("x", "", entity.NameElement("Person", "alice")).Reference()},
		{s: "alice", fail: true},
		{s: "(1)", fail: true},
	}

	for _, c := range cases {
		v, err := parseValue("x", "", c.s)
		if c.fail {
			if err == nil {
				t.Errorf("parseValue(%s) did not fail", c.s)
			}
			continue
		} else if err != nil {
			t.Errorf("parseValue(%s) failed with %s", c.s, err)
			continue
		}
		var trc string
		if !testutil.DeepEqual(v, c.v, &trc) {
			t.Errorf("parseValue(%s) got %v want %v\n%s", c.s, v, c.v, trc)
		}
	}
}

func TestParseProperties(t *testing.T) {
	props, raw, err := parseProperties("x", "", []string{"tag=1", "age=30", "tag=2",
		`~bio="long"`})
	if err != nil {
		t.Fatalf("parseProperties() failed with %s", err)
	}
	want := []entity.Property{
		{Name: "tag", Value: entity.Int64Value(1), Multiple: true},
		{Name: "age", Value: entity.Int64Value(30)},
		{Name: "tag", Value: entity.Int64Value(2), Multiple: true},
	}
	var trc string
	if !testutil.DeepEqual(props, want, &trc) {
		t.Errorf("parseProperties() got %v want %v\n%s", props, want, trc)
	}
	wantRaw := []entity.Property{{Name: "bio", Value: entity.StringValue("long")}}
	if !testutil.DeepEqual(raw, wantRaw, &trc) {
		t.Errorf("parseProperties() raw got %v want %v\n%s", raw, wantRaw, trc)
	}

	_, _, err = parseProperties("x", "", []string{"age"})
	if err == nil {
		t.Errorf("parseProperties(age) did not fail")
	}
}

func TestParseQuery(t *testing.T) {
	q, err := parseQuery("x", "ns", strings.Fields(
		"Pet ancestor Person:alice where age >= 3 where name exists order age desc "+
			"order name limit 10 offset 2 keys"))
	if err != nil {
		t.Fatalf("parseQuery() failed with %s", err)
	}
	ancestor := entity.NewKey("x", "ns", entity.NameElement("Person", "alice"))
	want := &query.Query{
		App:       "x",
		Namespace: "ns",
		Kind:      "Pet",
		Ancestor:  &ancestor,
		Filters: []query.Filter{
			{Property: "age", Op: query.GreaterThanOrEqual, Value: entity.Int64Value(3)},
			{Property: "name", Op: query.Exists},
		},
		Orders: []query.Order{
			{Property: "age", Direction: query.Descending},
			{Property: "name", Direction: query.Ascending},
		},
		HasLimit: true,
		Limit:    10,
		Offset:   2,
		KeysOnly: true,
	}
	var trc string
	if !testutil.DeepEqual(q, want, &trc) {
		t.Errorf("parseQuery() got %+v want %+v\n%s", q, want, trc)
	}

	for _, s := range []string{"", "Pet where age", "Pet where age ~ 1", "Pet limit -1",
		"Pet sideways"} {

		_, err = parseQuery("x", "", strings.Fields(s))
		if err == nil {
			t.Errorf("parseQuery(%s) did not fail", s)
		}
	}
}

func newTestRepl(t *testing.T) (*Repl, *bytes.Buffer) {
	t.Helper()

	st, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatalf("MakeBTreeKV() failed with %s", err)
	}
	e, err := engine.New(engine.Config{Store: store.New(st)})
	if err != nil {
		t.Fatalf("engine.New() failed with %s", err)
	}
	var buf bytes.Buffer
	return New(e, "x", &buf), &buf
}

func TestRun(t *testing.T) {
	r, buf := newTestRepl(t)
	r.SetConfig(func() [][]string {
		return [][]string{{"store", "default", "memory"}}
	})

	script := `
# people and their pets
put Person:alice age=30 tag="a" tag="b"
put Person:bob age=25
put Person:alice/Pet:1 name="rex"
begin
put Person:carol age=41
get Person:carol
commit
get Person:alice Person:carol Person:nobody
query Person where age > 26 order age
query Pet ancestor Person:alice keys
index create Person age:desc
index list
begin
rollback
commit
frobnicate
stats
config
quit
put Person:dave age=1
`
	err := r.Run(context.Background(), NewScriptReader(strings.NewReader(script), nil))
	if err != nil {
		t.Fatalf("Run() failed with %s", err)
	}

	out := buf.String()
	for _, want := range []string{
		`x[Person:"alice"]`,
		"put: 1 entity writes",
		"transaction ",
		"committed: 1 entity writes",
		`tag="a"`,
		"(2 entities)",
		`x[Person:"alice", Pet:1]`,
		"index 1",
		"WRITE_ONLY",
		"rolled back",
		"no active transaction",
		"unknown command: frobnicate",
		"egdb_transactions_total",
		"memory",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Run() output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "dave") {
		t.Errorf("Run() did not stop at quit:\n%s", out)
	}
}

func TestRunPaging(t *testing.T) {
	r, buf := newTestRepl(t)
	ctx := context.Background()

	for idx := 0; idx < 5; idx += 1 {
		err := r.Exec(ctx, "put Item: n=1")
		if err != nil {
			t.Fatalf("Exec(put) failed with %s", err)
		}
	}

	buf.Reset()
	err := r.Exec(ctx, "query Item count 2")
	if err != nil {
		t.Fatalf("Exec(query) failed with %s", err)
	}
	if !strings.Contains(buf.String(), "more results") {
		t.Errorf("Exec(query) got %s want more results", buf.String())
	}

	buf.Reset()
	err = r.Exec(ctx, "next 10")
	if err != nil {
		t.Fatalf("Exec(next) failed with %s", err)
	}
	if !strings.Contains(buf.String(), "(3 entities)") {
		t.Errorf("Exec(next) got %s want 3 entities", buf.String())
	}

	err = r.Exec(ctx, "next")
	if err == nil {
		t.Errorf("Exec(next) did not fail after the last batch")
	}
}
