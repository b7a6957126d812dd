package encode_test

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/testutil"
)

func TestEntityWire(t *testing.T) {
	key := entity.NewKey("app", "ns", entity.NameElement("Person", "alice"),
		entity.IDElement("Pet", -3))
	e := &entity.Entity{
		Key: key,
		Properties: []entity.Property{
			{Name: "age", Value: entity.Int64Value(30)},
			{Name: "tags", Value: entity.StringValue("a"), Multiple: true},
			{Name: "tags", Value: entity.StringValue(""), Multiple: true},
			{Name: "ok", Value: entity.BoolValue(false)},
			{Name: "score", Value: entity.DoubleValue(-1.25)},
			{Name: "home", Value: entity.PointValue{X: 37.4, Y: -122.1}},
			{Name: "owner", Value: entity.UserValue{Email: "a@example.com", Nickname: "a"}},
			{Name: "friend", Value: entity.NewKey("app", "ns",
				entity.NameElement("Person", "bob")).Reference()},
			{Name: "nothing"},
			{Name: "when", Value: entity.Int64Value(1234567), Meaning: entity.GDWhen},
		},
		RawProperties: []entity.Property{
			{Name: "bio", Value: entity.StringValue("long text"), Meaning: entity.Text},
		},
	}

	buf := encode.EncodeEntity(e)
	if encode.ByteSize(e) != len(buf) {
		t.Errorf("ByteSize() got %d want %d", encode.ByteSize(e), len(buf))
	}
	e2, err := encode.DecodeEntity(buf)
	if err != nil {
		t.Fatalf("DecodeEntity() failed with %s", err)
	}
	var trc string
	if !testutil.DeepEqual(e, e2, &trc) {
		t.Errorf("DecodeEntity(EncodeEntity()) not equal: %s", trc)
	}

	k2, err := encode.DecodeKey(encode.EncodeKey(key))
	if err != nil {
		t.Errorf("DecodeKey() failed with %s", err)
	} else if !k2.Equal(key) {
		t.Errorf("DecodeKey() got %s want %s", k2, key)
	}
}

func TestDecodeValue(t *testing.T) {
	buf := encode.EncodeValue(entity.Int64Value(7))
	buf = append(buf, encode.EncodeValue(entity.StringValue("x"))...)
	_, err := encode.DecodeValue(buf)
	if err == nil {
		t.Errorf("DecodeValue(int64 and string) did not fail")
	}

	val, err := encode.DecodeValue(nil)
	if err != nil {
		t.Errorf("DecodeValue(nil) failed with %s", err)
	} else if val != nil {
		t.Errorf("DecodeValue(nil) got %v want nil", val)
	}

	buf = protowire.AppendTag(encode.EncodeValue(entity.BoolValue(true)), 99,
		protowire.VarintType)
	buf = protowire.AppendVarint(buf, 12345)
	val, err = encode.DecodeValue(buf)
	if err != nil {
		t.Errorf("DecodeValue(unknown field) failed with %s", err)
	} else if val != entity.BoolValue(true) {
		t.Errorf("DecodeValue(unknown field) got %v want true", val)
	}

	_, err = encode.DecodeEntity([]byte{0x0a, 0x10, 0x01})
	if err == nil {
		t.Errorf("DecodeEntity(truncated) did not fail")
	}
}
