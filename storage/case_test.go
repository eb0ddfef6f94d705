package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mar-db/mardb/value"
)

func TestCaseRoundTrip(t *testing.T) {
	c := Case{Cords: []int64{123, 2, -1}, Val: value.NewString("TEST1")}
	enc, err := encodeCase(c, reservedTrailer)
	require.NoError(t, err)
	require.Equal(t, byte(caseMarker), enc[0])

	got, err := decodeCase(enc, 3)
	require.NoError(t, err)
	require.Equal(t, c.Cords, got.Cords)
	gs, ok := got.Val.AsString()
	require.True(t, ok)
	require.Equal(t, "TEST1", gs)
}

func TestCaseReservedTrailerCount(t *testing.T) {
	c := Case{Cords: []int64{1, 2}, Val: value.NewString("hi")}
	enc, err := encodeCase(c, reservedTrailer)
	require.NoError(t, err)
	n, err := reservedZeros(enc, 2)
	require.NoError(t, err)
	require.Equal(t, reservedTrailer, n)
}

func TestCaseRejectsOutOfRangeCord(t *testing.T) {
	c := Case{Cords: []int64{40000}, Val: value.Null()}
	_, err := encodeCase(c, reservedTrailer)
	require.Error(t, err)
}

func TestCaseUpsertGrowthLengthensEncoding(t *testing.T) {
	short := Case{Cords: []int64{1}, Val: value.NewString("TEST")}
	long := Case{Cords: []int64{1}, Val: value.NewString("TESTTESTTESTTESTTESTTESTTESTTESTTESTTEST")}

	shortEnc, err := encodeCase(short, reservedTrailer)
	require.NoError(t, err)
	longEnc, err := encodeCase(long, reservedTrailer)
	require.NoError(t, err)
	require.Greater(t, len(longEnc), len(shortEnc))
}
