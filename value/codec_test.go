package value

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mar-db/mardb/dberr"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	enc, err := Encode(v)
	require.NoError(t, err)
	got, consumed, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), consumed)
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	cases := []Value{
		NewString("hello, world"),
		NewString(""),
		NewIntFromInt64(-123456789),
		NewIntFromInt64(0),
		NewFloat(3.14159265),
		NewBool(true),
		NewBool(false),
		NewBytes([]byte{0x00, 0xFF, 0x10}),
		NewComplex(complex(1.5, -2.25)),
		Null(),
		NewPath("/var/lib/mardb/catalog.marm"),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		require.Equal(t, c.Tag(), got.Tag())
		if diff := cmp.Diff(c.native, got.native); diff != "" {
			t.Errorf("round trip mismatch for tag %s (-want +got):\n%s", c.Tag(), diff)
		}
	}
}

func TestBigIntRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("-123456789012345678901234567890", 10)
	require.True(t, ok)
	got := roundTrip(t, NewInt(huge))
	gi, ok := got.AsInt()
	require.True(t, ok)
	require.Equal(t, 0, huge.Cmp(gi))
}

func TestUUIDRoundTrip(t *testing.T) {
	u := uuid.New()
	got := roundTrip(t, NewUUID(u))
	gu, ok := got.AsUUID()
	require.True(t, ok)
	require.Equal(t, u, gu)
}

func TestDecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("19.99")
	got := roundTrip(t, NewDecimal(d))
	gd, ok := got.AsDecimal()
	require.True(t, ok)
	require.True(t, d.Equal(gd))
}

func TestDateTimeRoundTrip(t *testing.T) {
	dt := time.Date(2026, 7, 31, 12, 30, 0, 0, time.UTC)
	got := roundTrip(t, NewDateTime(dt))
	gt, ok := got.AsTime()
	require.True(t, ok)
	require.True(t, dt.Equal(gt))
}

func TestDurationRoundTrip(t *testing.T) {
	d := 90*time.Second + 500*time.Millisecond
	got := roundTrip(t, NewDuration(d))
	gd, ok := got.AsDuration()
	require.True(t, ok)
	require.InDelta(t, d.Seconds(), gd.Seconds(), 1e-9)
}

func TestRationalRoundTrip(t *testing.T) {
	r := Rational{Num: big.NewInt(-22), Denom: big.NewInt(7)}
	got := roundTrip(t, NewRational(r))
	gr, ok := got.AsRational()
	require.True(t, ok)
	require.Equal(t, 0, r.Num.Cmp(gr.Num))
	require.Equal(t, 0, r.Denom.Cmp(gr.Denom))
}

func TestListRoundTrip(t *testing.T) {
	list := NewList([]Value{NewIntFromInt64(1), NewString("two"), NewBool(true)})
	got := roundTrip(t, list)
	items, ok := got.AsItems()
	require.True(t, ok)
	require.Len(t, items, 3)
	require.Equal(t, TagInt, items[0].Tag())
	require.Equal(t, TagString, items[1].Tag())
	require.Equal(t, TagBool, items[2].Tag())
}

func TestMapRoundTrip(t *testing.T) {
	m := NewMap([]MapEntry{
		{Key: NewString("a"), Val: NewIntFromInt64(1)},
		{Key: NewString("b"), Val: NewIntFromInt64(2)},
	})
	got := roundTrip(t, m)
	entries, ok := got.AsEntries()
	require.True(t, ok)
	require.Len(t, entries, 2)
	ks, _ := entries[0].Key.AsString()
	require.Equal(t, "a", ks)
}

func TestNestedContainerDepthThree(t *testing.T) {
	inner := NewMap([]MapEntry{{Key: NewString("k"), Val: NewIntFromInt64(7)}})
	middle := NewList([]Value{inner, NewString("sibling")})
	outer := NewTuple([]Value{middle, NewBool(false)})

	got := roundTrip(t, outer)
	outerItems, ok := got.AsItems()
	require.True(t, ok)
	require.Len(t, outerItems, 2)

	middleItems, ok := outerItems[0].AsItems()
	require.True(t, ok)
	require.Len(t, middleItems, 2)

	innerEntries, ok := middleItems[0].AsEntries()
	require.True(t, ok)
	require.Len(t, innerEntries, 1)
	iv, _ := innerEntries[0].Val.AsInt()
	require.Equal(t, int64(7), iv.Int64())
}

func TestEnumRoundTrip(t *testing.T) {
	enum := NewEnum(NewIntFromInt64(2))
	got := roundTrip(t, enum)
	inner, ok := got.AsBoxed()
	require.True(t, ok)
	require.Equal(t, TagInt, inner.Tag())
}

func TestNonPortableTagRejected(t *testing.T) {
	_, _, err := EncodeBody(Value{tag: TagRegex})
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.Unsupported))

	_, err = DecodeBody(TagFunction, []byte{})
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.Unsupported))
}

func TestUnknownTagIsMalformed(t *testing.T) {
	_, err := DecodeBody(Tag(0x7F), []byte{})
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.Malformed))
}

func TestDecodeTruncatedHeaderIsMalformed(t *testing.T) {
	_, _, err := Decode([]byte{byte(TagString), 0x00})
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.Malformed))
}

func TestEncodeWithLenWidthThree(t *testing.T) {
	v := NewString("case value")
	enc, err := EncodeWithLenWidth(v, 3)
	require.NoError(t, err)
	require.Equal(t, byte(TagString), enc[0])
	got, consumed, err := DecodeWithLenWidth(enc, 3)
	require.NoError(t, err)
	require.Equal(t, len(enc), consumed)
	gs, _ := got.AsString()
	require.Equal(t, "case value", gs)
}
