package encode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/leftmike/egdb/entity"
)

const (
	// Values are encoded as a tag followed by a binary representation of the
	// value; the tags order the value types.
	NullKeyTag              = 128
	Int64NegKeyTag          = 130
	Int64NotNegKeyTag       = 131
	BoolKeyTag              = 134
	StringKeyTag            = 140
	Float64NaNKeyTag        = 150
	Float64NegKeyTag        = 151
	Float64ZeroKeyTag       = 152
	Float64PosKeyTag        = 153
	PointKeyTag             = 160
	UserKeyTag              = 170
	ReferenceKeyTag         = 180
	PathElementIDKeyTag     = 190
	PathElementNameKeyTag   = 191
	ReservedKeyTag          = 1
	prefixEndKeyTag         = 255
	int64SignBit            = 1 << 63
	reservedSequenceKeyName = "sequence"
)

func encodeUint64(buf []byte, u uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	return append(buf, b[:]...)
}

func encodeKeyBytes(buf []byte, bytes []byte) []byte {
	for _, b := range bytes {
		if b == 0 || b == 1 {
			buf = append(buf, 1)
		}
		buf = append(buf, b)
	}
	return append(buf, 0)
}

func encodeKeyFloat64(buf []byte, f float64) []byte {
	if math.IsNaN(f) {
		return append(buf, Float64NaNKeyTag)
	} else if f == 0 {
		return append(buf, Float64ZeroKeyTag)
	}

	u := math.Float64bits(f)
	if u&(1<<63) != 0 {
		u = ^u
		buf = append(buf, Float64NegKeyTag)
	} else {
		buf = append(buf, Float64PosKeyTag)
	}
	return encodeUint64(buf, u)
}

func encodeKeyString(buf []byte, s string) []byte {
	buf = append(buf, StringKeyTag)
	return encodeKeyBytes(buf, []byte(s))
}

func encodePath(buf []byte, path []entity.PathElement) []byte {
	for _, pe := range path {
		buf = encodeKeyString(buf, pe.Kind)
		if pe.HasName() {
			buf = append(buf, PathElementNameKeyTag)
			buf = encodeKeyBytes(buf, []byte(pe.Name))
		} else {
			buf = append(buf, PathElementIDKeyTag)
			buf = encodeUint64(buf, uint64(pe.ID)^int64SignBit)
		}
	}
	return buf
}

// AppendValue appends an encoding of val to buf such that comparing the
// encodings with bytes.Compare orders them the same as entity.Compare. When
// reverse is true, the order is reversed.
func AppendValue(buf []byte, val entity.Value, reverse bool) []byte {
	n := len(buf)

	switch val := val.(type) {
	case entity.Int64Value:
		if val < 0 {
			buf = append(buf, Int64NegKeyTag)
		} else {
			buf = append(buf, Int64NotNegKeyTag)
		}
		buf = encodeUint64(buf, uint64(val))
	case entity.BoolValue:
		buf = append(buf, BoolKeyTag)
		if val {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case entity.StringValue:
		buf = encodeKeyString(buf, string(val))
	case entity.DoubleValue:
		buf = encodeKeyFloat64(buf, float64(val))
	case entity.PointValue:
		buf = append(buf, PointKeyTag)
		buf = encodeKeyFloat64(buf, val.X)
		buf = encodeKeyFloat64(buf, val.Y)
	case entity.UserValue:
		buf = append(buf, UserKeyTag)
		buf = encodeKeyBytes(buf, []byte(val.Email))
		buf = encodeKeyBytes(buf, []byte(val.AuthDomain))
	case entity.ReferenceValue:
		buf = append(buf, ReferenceKeyTag)
		buf = encodeKeyString(buf, val.App)
		buf = encodeKeyString(buf, val.Namespace)
		buf = encodePath(buf, val.Path)
		buf = append(buf, 0)
	default:
		if val != nil {
			panic(fmt.Sprintf("unexpected type for entity.Value: %T: %v", val, val))
		}
		buf = append(buf, NullKeyTag)
	}

	if reverse {
		for n < len(buf) {
			buf[n] = ^buf[n]
			n += 1
		}
	}
	return buf
}

// MakeKey encodes key such that the encodings sort in the same order as
// entity.CompareKeys, and the encoding of an ancestor is a prefix of the
// encodings of all of its descendants.
func MakeKey(key entity.Key) []byte {
	buf := encodeKeyString(nil, key.App)
	buf = encodeKeyString(buf, key.Namespace)
	return encodePath(buf, key.Path)
}

// KeyID returns a string which uniquely identifies key; it is suitable for
// use as a map key and sorts the same as the key.
func KeyID(key entity.Key) string {
	return string(MakeKey(key))
}

// PrefixEnd returns the smallest encoded key greater than every key which
// starts with prefix.
func PrefixEnd(prefix []byte) []byte {
	return append(append(make([]byte, 0, len(prefix)+1), prefix...), prefixEndKeyTag)
}

// NamespacePrefix returns the prefix shared by every key of app in namespace.
func NamespacePrefix(app, namespace string) []byte {
	buf := encodeKeyString(nil, app)
	return encodeKeyString(buf, namespace)
}

// AppPrefix returns the prefix shared by every key of app.
func AppPrefix(app string) []byte {
	return encodeKeyString(nil, app)
}

// SequenceKey is the reserved key holding the id allocation counters; it
// sorts before every entity key.
func SequenceKey() []byte {
	return append([]byte{ReservedKeyTag}, reservedSequenceKeyName...)
}
