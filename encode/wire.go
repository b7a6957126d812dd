package encode

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leftmike/egdb/entity"
)

// Entities, keys, and values are encoded using the protocol buffer wire
// format, so that records remain self describing and unknown fields are
// skipped.

const (
	entityKeyField         protowire.Number = 1
	entityPropertyField    protowire.Number = 2
	entityRawPropertyField protowire.Number = 3

	keyAppField       protowire.Number = 1
	keyNamespaceField protowire.Number = 2
	keyElementField   protowire.Number = 3

	elementKindField protowire.Number = 1
	elementIDField   protowire.Number = 2
	elementNameField protowire.Number = 3

	propertyNameField     protowire.Number = 1
	propertyMeaningField  protowire.Number = 2
	propertyMultipleField protowire.Number = 3
	propertyValueField    protowire.Number = 4

	valueInt64Field     protowire.Number = 1
	valueBoolField      protowire.Number = 2
	valueStringField    protowire.Number = 3
	valueDoubleField    protowire.Number = 4
	valuePointField     protowire.Number = 5
	valueUserField      protowire.Number = 6
	valueReferenceField protowire.Number = 7

	pointXField protowire.Number = 1
	pointYField protowire.Number = 2

	userEmailField             protowire.Number = 1
	userAuthDomainField        protowire.Number = 2
	userNicknameField          protowire.Number = 3
	userFederatedIdentityField protowire.Number = 4
	userFederatedProviderField protowire.Number = 5
)

func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

func appendMessage(buf []byte, num protowire.Number, msg []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func appendDouble(buf []byte, num protowire.Number, f float64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(buf, math.Float64bits(f))
}

func appendKey(buf []byte, app, namespace string, path []entity.PathElement) []byte {
	buf = appendString(buf, keyAppField, app)
	buf = appendString(buf, keyNamespaceField, namespace)
	for _, pe := range path {
		var elem []byte
		elem = appendString(elem, elementKindField, pe.Kind)
		if pe.HasID() {
			elem = appendVarint(elem, elementIDField, uint64(pe.ID))
		}
		elem = appendString(elem, elementNameField, pe.Name)
		buf = appendMessage(buf, keyElementField, elem)
	}
	return buf
}

// EncodeKey returns the wire encoding of key.
func EncodeKey(key entity.Key) []byte {
	return appendKey(nil, key.App, key.Namespace, key.Path)
}

// EncodeValue returns the wire encoding of val; the null value encodes as an
// empty message.
func EncodeValue(val entity.Value) []byte {
	var buf []byte
	switch val := val.(type) {
	case entity.Int64Value:
		buf = appendVarint(buf, valueInt64Field, uint64(val))
	case entity.BoolValue:
		buf = appendVarint(buf, valueBoolField, protowire.EncodeBool(bool(val)))
	case entity.StringValue:
		buf = protowire.AppendTag(buf, valueStringField, protowire.BytesType)
		buf = protowire.AppendString(buf, string(val))
	case entity.DoubleValue:
		buf = appendDouble(buf, valueDoubleField, float64(val))
	case entity.PointValue:
		var pt []byte
		pt = appendDouble(pt, pointXField, val.X)
		pt = appendDouble(pt, pointYField, val.Y)
		buf = appendMessage(buf, valuePointField, pt)
	case entity.UserValue:
		var u []byte
		u = appendString(u, userEmailField, val.Email)
		u = appendString(u, userAuthDomainField, val.AuthDomain)
		u = appendString(u, userNicknameField, val.Nickname)
		u = appendString(u, userFederatedIdentityField, val.FederatedIdentity)
		u = appendString(u, userFederatedProviderField, val.FederatedProvider)
		buf = appendMessage(buf, valueUserField, u)
	case entity.ReferenceValue:
		buf = appendMessage(buf, valueReferenceField,
			appendKey(nil, val.App, val.Namespace, val.Path))
	default:
		if val != nil {
			panic(fmt.Sprintf("unexpected type for entity.Value: %T: %v", val, val))
		}
	}
	return buf
}

// EncodeProperty returns the wire encoding of p.
func EncodeProperty(p entity.Property) []byte {
	var buf []byte
	buf = appendString(buf, propertyNameField, p.Name)
	if p.Meaning != entity.NoMeaning {
		buf = appendVarint(buf, propertyMeaningField, uint64(p.Meaning))
	}
	if p.Multiple {
		buf = appendVarint(buf, propertyMultipleField, 1)
	}
	return appendMessage(buf, propertyValueField, EncodeValue(p.Value))
}

// EncodeEntity returns the wire encoding of e.
func EncodeEntity(e *entity.Entity) []byte {
	buf := appendMessage(nil, entityKeyField, EncodeKey(e.Key))
	for _, p := range e.Properties {
		buf = appendMessage(buf, entityPropertyField, EncodeProperty(p))
	}
	for _, p := range e.RawProperties {
		buf = appendMessage(buf, entityRawPropertyField, EncodeProperty(p))
	}
	return buf
}

// ByteSize returns the size in bytes of the wire encoding of e.
func ByteSize(e *entity.Entity) int {
	return len(EncodeEntity(e))
}

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("encode: got wire type %d want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("encode: got wire type %d want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("encode: got wire type %d want fixed64", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}

func decodeElement(b []byte) (entity.PathElement, error) {
	var pe entity.PathElement
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case elementKindField:
				v, n, err := consumeBytes(typ, b)
				pe.Kind = string(v)
				return n, err
			case elementIDField:
				v, n, err := consumeVarint(typ, b)
				pe.ID = int64(v)
				return n, err
			case elementNameField:
				v, n, err := consumeBytes(typ, b)
				pe.Name = string(v)
				return n, err
			}
			return 0, nil
		})
	return pe, err
}

// DecodeKey decodes a key encoded by EncodeKey.
func DecodeKey(b []byte) (entity.Key, error) {
	var key entity.Key
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case keyAppField:
				v, n, err := consumeBytes(typ, b)
				key.App = string(v)
				return n, err
			case keyNamespaceField:
				v, n, err := consumeBytes(typ, b)
				key.Namespace = string(v)
				return n, err
			case keyElementField:
				v, n, err := consumeBytes(typ, b)
				if err != nil {
					return 0, err
				}
				pe, err := decodeElement(v)
				if err != nil {
					return 0, err
				}
				key.Path = append(key.Path, pe)
				return n, nil
			}
			return 0, nil
		})
	return key, err
}

func decodePoint(b []byte) (entity.PointValue, error) {
	var pt entity.PointValue
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			var n int
			var err error
			switch num {
			case pointXField:
				pt.X, n, err = consumeDouble(typ, b)
			case pointYField:
				pt.Y, n, err = consumeDouble(typ, b)
			}
			return n, err
		})
	return pt, err
}

func decodeUser(b []byte) (entity.UserValue, error) {
	var u entity.UserValue
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			var s *string
			switch num {
			case userEmailField:
				s = &u.Email
			case userAuthDomainField:
				s = &u.AuthDomain
			case userNicknameField:
				s = &u.Nickname
			case userFederatedIdentityField:
				s = &u.FederatedIdentity
			case userFederatedProviderField:
				s = &u.FederatedProvider
			default:
				return 0, nil
			}
			v, n, err := consumeBytes(typ, b)
			*s = string(v)
			return n, err
		})
	return u, err
}

// DecodeValue decodes a value encoded by EncodeValue; it fails if more than
// one variant is set.
func DecodeValue(b []byte) (entity.Value, error) {
	var val entity.Value
	var cnt int
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			var n int
			var err error
			switch num {
			case valueInt64Field:
				var u uint64
				u, n, err = consumeVarint(typ, b)
				val = entity.Int64Value(int64(u))
			case valueBoolField:
				var u uint64
				u, n, err = consumeVarint(typ, b)
				val = entity.BoolValue(protowire.DecodeBool(u))
			case valueStringField:
				var v []byte
				v, n, err = consumeBytes(typ, b)
				val = entity.StringValue(v)
			case valueDoubleField:
				var f float64
				f, n, err = consumeDouble(typ, b)
				val = entity.DoubleValue(f)
			case valuePointField:
				var v []byte
				v, n, err = consumeBytes(typ, b)
				if err == nil {
					val, err = decodePoint(v)
				}
			case valueUserField:
				var v []byte
				v, n, err = consumeBytes(typ, b)
				if err == nil {
					val, err = decodeUser(v)
				}
			case valueReferenceField:
				var v []byte
				v, n, err = consumeBytes(typ, b)
				if err == nil {
					var key entity.Key
					key, err = DecodeKey(v)
					val = entity.ReferenceValue(key)
				}
			default:
				return 0, nil
			}
			cnt += 1
			return n, err
		})
	if err != nil {
		return nil, err
	}
	if cnt > 1 {
		return nil, fmt.Errorf("encode: value has %d variants set", cnt)
	}
	return val, nil
}

func decodeProperty(b []byte) (entity.Property, error) {
	var p entity.Property
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case propertyNameField:
				v, n, err := consumeBytes(typ, b)
				p.Name = string(v)
				return n, err
			case propertyMeaningField:
				v, n, err := consumeVarint(typ, b)
				p.Meaning = entity.Meaning(v)
				return n, err
			case propertyMultipleField:
				v, n, err := consumeVarint(typ, b)
				p.Multiple = protowire.DecodeBool(v)
				return n, err
			case propertyValueField:
				v, n, err := consumeBytes(typ, b)
				if err != nil {
					return 0, err
				}
				p.Value, err = DecodeValue(v)
				return n, err
			}
			return 0, nil
		})
	return p, err
}

// DecodeEntity decodes an entity encoded by EncodeEntity.
func DecodeEntity(b []byte) (*entity.Entity, error) {
	var e entity.Entity
	err := consumeFields(b,
		func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num != entityKeyField && num != entityPropertyField &&
				num != entityRawPropertyField {

				return 0, nil
			}

			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case entityKeyField:
				e.Key, err = DecodeKey(v)
			case entityPropertyField:
				var p entity.Property
				p, err = decodeProperty(v)
				e.Properties = append(e.Properties, p)
			case entityRawPropertyField:
				var p entity.Property
				p, err = decodeProperty(v)
				e.RawProperties = append(e.RawProperties, p)
			}
			return n, err
		})
	if err != nil {
		return nil, err
	}
	return &e, nil
}
