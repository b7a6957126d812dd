package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a property value; exactly one variant is held by construction. A
// nil Value is the null value.
type Value interface {
	fmt.Stringer
	rank() int
}

// The rank of each variant gives the cross type sort order of values.
const (
	nullRank = iota
	int64Rank
	boolRank
	stringRank
	doubleRank
	pointRank
	userRank
	referenceRank
)

type Int64Value int64

func (i Int64Value) String() string {
	return strconv.FormatInt(int64(i), 10)
}

func (Int64Value) rank() int {
	return int64Rank
}

type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (BoolValue) rank() int {
	return boolRank
}

// StringValue holds text or arbitrary bytes.
type StringValue string

func (s StringValue) String() string {
	return strconv.Quote(string(s))
}

func (StringValue) rank() int {
	return stringRank
}

type DoubleValue float64

func (d DoubleValue) String() string {
	return strconv.FormatFloat(float64(d), 'g', -1, 64)
}

func (DoubleValue) rank() int {
	return doubleRank
}

type PointValue struct {
	X, Y float64
}

func (p PointValue) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

func (PointValue) rank() int {
	return pointRank
}

type UserValue struct {
	Email             string
	AuthDomain        string
	Nickname          string
	FederatedIdentity string
	FederatedProvider string
}

func (u UserValue) String() string {
	return fmt.Sprintf("user(%s)", u.Email)
}

func (UserValue) rank() int {
	return userRank
}

// ReferenceValue is a key stored as a property value.
type ReferenceValue Key

func (r ReferenceValue) String() string {
	return Key(r).String()
}

func (ReferenceValue) rank() int {
	return referenceRank
}

func (r ReferenceValue) Key() Key {
	return Key(r).Clone()
}

func rankOf(v Value) int {
	if v == nil {
		return nullRank
	}
	return v.rank()
}

func compareFloat64(f1, f2 float64) int {
	if f1 < f2 {
		return -1
	} else if f1 > f2 {
		return 1
	}
	return 0
}

// Compare returns -1, 0, or 1 as v1 sorts before, with, or after v2; values of
// different types sort by type.
func Compare(v1, v2 Value) int {
	r1, r2 := rankOf(v1), rankOf(v2)
	if r1 < r2 {
		return -1
	} else if r1 > r2 {
		return 1
	}

	switch v1 := v1.(type) {
	case Int64Value:
		v2 := v2.(Int64Value)
		if v1 < v2 {
			return -1
		} else if v1 > v2 {
			return 1
		}
	case BoolValue:
		v2 := v2.(BoolValue)
		if !v1 && v2 {
			return -1
		} else if v1 && !v2 {
			return 1
		}
	case StringValue:
		return strings.Compare(string(v1), string(v2.(StringValue)))
	case DoubleValue:
		return compareFloat64(float64(v1), float64(v2.(DoubleValue)))
	case PointValue:
		v2 := v2.(PointValue)
		if c := compareFloat64(v1.X, v2.X); c != 0 {
			return c
		}
		return compareFloat64(v1.Y, v2.Y)
	case UserValue:
		v2 := v2.(UserValue)
		if c := strings.Compare(v1.Email, v2.Email); c != 0 {
			return c
		}
		return strings.Compare(v1.AuthDomain, v2.AuthDomain)
	case ReferenceValue:
		return CompareKeys(Key(v1), Key(v2.(ReferenceValue)))
	}
	return 0
}

func Equal(v1, v2 Value) bool {
	if rankOf(v1) != rankOf(v2) {
		return false
	}
	if u1, ok := v1.(UserValue); ok {
		return u1 == v2.(UserValue)
	}
	return Compare(v1, v2) == 0
}
