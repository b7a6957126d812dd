package testutil

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var (
	equalOpts = []cmp.Option{
		cmpopts.EquateEmpty(),
		cmpopts.EquateNaNs(),
	}
)

// DeepEqual compares x and y treating nil and empty slices and maps as equal;
// it optionally returns a description of what was not equal.
func DeepEqual(x, y interface{}, trc ...*string) bool {
	if len(trc) > 1 {
		panic("testutil.DeepEqual: more than one optional argument")
	}

	eq := cmp.Equal(x, y, equalOpts...)
	if len(trc) == 1 && trc[0] != nil {
		if eq {
			*trc[0] = ""
		} else {
			*trc[0] = cmp.Diff(x, y, equalOpts...)
		}
	}
	return eq
}
