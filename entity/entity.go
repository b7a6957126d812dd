package entity

import (
	"regexp"
)

type Meaning int

const (
	NoMeaning Meaning = iota
	Blob
	Text
	ByteString
	Link
	GDWhen
	EntityProto
	IndexValue
)

func (m Meaning) String() string {
	switch m {
	case NoMeaning:
		return ""
	case Blob:
		return "blob"
	case Text:
		return "text"
	case ByteString:
		return "bytestring"
	case Link:
		return "link"
	case GDWhen:
		return "gd:when"
	case EntityProto:
		return "entity_proto"
	case IndexValue:
		return "index_value"
	}
	return "unknown"
}

// IsBlob returns true for meanings which may only be stored unindexed.
func (m Meaning) IsBlob() bool {
	return m == Blob || m == Text || m == EntityProto
}

const (
	KeyProperty                   = "__key__"
	ScatterProperty               = "__scatter__"
	UnappliedLogTimestampProperty = "__unapplied_log_timestamp_us__"
	VersionProperty               = "__version__"
)

var (
	reservedName = regexp.MustCompile(`^__.*__$`)

	specialProperties = map[string]struct{}{
		KeyProperty:                   {},
		ScatterProperty:               {},
		UnappliedLogTimestampProperty: {},
	}
)

func IsReservedName(name string) bool {
	return reservedName.MatchString(name)
}

func IsSpecialProperty(name string) bool {
	_, ok := specialProperties[name]
	return ok
}

// Property is one named value; a name which repeats within an entity marks
// each of its properties as Multiple.
type Property struct {
	Name     string
	Value    Value
	Meaning  Meaning
	Multiple bool
}

func (p Property) Equal(p2 Property) bool {
	return p.Name == p2.Name && p.Meaning == p2.Meaning && p.Multiple == p2.Multiple &&
		Equal(p.Value, p2.Value)
}

// Entity is a key with its indexed properties and its unindexed (raw)
// properties.
type Entity struct {
	Key           Key
	Properties    []Property
	RawProperties []Property
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		Key:           e.Key.Clone(),
		Properties:    append([]Property(nil), e.Properties...),
		RawProperties: append([]Property(nil), e.RawProperties...),
	}
}

// Values returns the values of the indexed properties named name, in order.
func (e *Entity) Values(name string) []Value {
	var vals []Value
	for _, p := range e.Properties {
		if p.Name == name {
			vals = append(vals, p.Value)
		}
	}
	return vals
}

func (e *Entity) HasProperty(name string) bool {
	for _, p := range e.Properties {
		if p.Name == name {
			return true
		}
	}
	return false
}

func propertiesEqual(ps1, ps2 []Property) bool {
	if len(ps1) != len(ps2) {
		return false
	}
	for idx := range ps1 {
		if !ps1[idx].Equal(ps2[idx]) {
			return false
		}
	}
	return true
}

// SameProperties returns true if both entities have the same indexed and raw
// properties in the same order.
func SameProperties(e1, e2 *Entity) bool {
	return propertiesEqual(e1.Properties, e2.Properties) &&
		propertiesEqual(e1.RawProperties, e2.RawProperties)
}

func (e *Entity) Equal(e2 *Entity) bool {
	if e == nil || e2 == nil {
		return e == e2
	}
	return e.Key.Equal(e2.Key) && SameProperties(e, e2)
}
