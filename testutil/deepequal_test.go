package testutil_test

import (
	"math"
	"testing"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/testutil"
)

func TestDeepEqual(t *testing.T) {
	alice := entity.NewKey("a", "", entity.NameElement("Person", "alice"))
	cases := []struct {
		x, y  interface{}
		equal bool
	}{
		{x: 1, y: 2},
		{x: "abc", y: "abc", equal: true},
		{x: []string{}, y: []string(nil), equal: true},
		{x: map[string]int{}, y: map[string]int(nil), equal: true},
		{x: math.NaN(), y: math.NaN(), equal: true},
		{x: alice, y: alice.Clone(), equal: true},
		{x: alice, y: alice.Child(entity.IDElement("Pet", 1))},
		{x: &entity.Entity{Key: alice},
			y: &entity.Entity{Key: alice, Properties: []entity.Property{}}, equal: true},
		{x: []entity.Value{entity.Int64Value(1)}, y: []entity.Value{entity.Int64Value(2)}},
		{x: entity.StringValue("1"), y: entity.Int64Value(1)},
	}

	for _, c := range cases {
		if testutil.DeepEqual(c.x, c.y) != c.equal {
			t.Errorf("DeepEqual(%v, %v) got %v want %v", c.x, c.y, !c.equal, c.equal)
		}

		trc := "not reset"
		eq := testutil.DeepEqual(c.x, c.y, &trc)
		if eq && trc != "" {
			t.Errorf("DeepEqual(%v, %v, &trc) got %q for trc want \"\"", c.x, c.y, trc)
		} else if !eq && (trc == "" || trc == "not reset") {
			t.Errorf("DeepEqual(%v, %v, &trc) did not describe the difference", c.x, c.y)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("DeepEqual(1, 1, &trc1, &trc2) did not panic")
		}
	}()
	var trc1, trc2 string
	testutil.DeepEqual(1, 1, &trc1, &trc2)
}
