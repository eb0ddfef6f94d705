package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mar-db/mardb/dberr"
	"github.com/mar-db/mardb/value"
)

func TestSlotFileCreateHeader(t *testing.T) {
	f := NewSlotFile(1, 3)
	require.Equal(t, uint16(1), f.TableID())
	require.Equal(t, 3, f.Arity())
	require.Equal(t, 0, f.SlotCount())
	require.Equal(t, initialSlotCapacity, f.capacity)
}

func TestSlotFileInsertAndFind(t *testing.T) {
	f := NewSlotFile(1, 3)
	require.NoError(t, f.Insert(Case{Cords: []int64{123, 2, -1}, Val: value.NewString("TEST1")}))

	got, ok, err := f.Find([]int64{123, 2, -1})
	require.NoError(t, err)
	require.True(t, ok)
	s, _ := got.Val.AsString()
	require.Equal(t, "TEST1", s)

	_, ok, err = f.Find([]int64{0, 0, 0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSlotFileUpsertIdempotence(t *testing.T) {
	f := NewSlotFile(1, 1)
	cords := []int64{7}
	require.NoError(t, f.Insert(Case{Cords: cords, Val: value.NewString("hi")}))
	require.Equal(t, 1, f.SlotCount())
	require.NoError(t, f.Insert(Case{Cords: cords, Val: value.NewString("hi")}))
	require.Equal(t, 1, f.SlotCount())
}

func TestSlotFileUpsertGrow(t *testing.T) {
	f := NewSlotFile(1, 3)
	cords := []int64{123, 2, -1}
	require.NoError(t, f.Insert(Case{Cords: cords, Val: value.NewString("TEST1")}))
	long := ""
	for i := 0; i < 10; i++ {
		long += "TEST"
	}
	require.NoError(t, f.Insert(Case{Cords: cords, Val: value.NewString(long)}))

	require.Equal(t, 1, f.SlotCount())
	records, err := f.ScanAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	s, _ := records[0].Val.AsString()
	require.Equal(t, long, s)
}

func TestSlotFileDistinctCords(t *testing.T) {
	f := NewSlotFile(1, 3)
	require.NoError(t, f.Insert(Case{Cords: []int64{123, 2, -1}, Val: value.NewString("TEST1")}))
	require.NoError(t, f.Insert(Case{Cords: []int64{128, 2, -1}, Val: value.NewString("TEST2")}))
	require.NoError(t, f.Insert(Case{Cords: []int64{123, 2, 1}, Val: value.NewString("TEST4")}))

	records, err := f.ScanAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	for _, want := range []struct {
		cords []int64
		val   string
	}{
		{[]int64{123, 2, -1}, "TEST1"},
		{[]int64{128, 2, -1}, "TEST2"},
		{[]int64{123, 2, 1}, "TEST4"},
	} {
		got, ok, err := f.Find(want.cords)
		require.NoError(t, err)
		require.True(t, ok)
		s, _ := got.Val.AsString()
		require.Equal(t, want.val, s)
	}
}

func TestSlotFileCapacityExceeded(t *testing.T) {
	f := NewSlotFile(1, 1)
	for i := 0; i < initialSlotCapacity; i++ {
		require.NoError(t, f.Insert(Case{Cords: []int64{int64(i)}, Val: value.NewIntFromInt64(int64(i))}))
	}
	err := f.Insert(Case{Cords: []int64{1000}, Val: value.Null()})
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.CapacityExceeded))
}

func TestSlotFileArityMismatchDoesNotMutate(t *testing.T) {
	f := NewSlotFile(1, 3)
	before := append([]byte(nil), f.Bytes()...)
	err := f.Insert(Case{Cords: []int64{1, 2}, Val: value.Null()})
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.Malformed))
	require.Equal(t, before, f.Bytes())
}

func TestSlotFileDefragmentPreservesContents(t *testing.T) {
	f := NewSlotFile(1, 1)
	require.NoError(t, f.Insert(Case{Cords: []int64{1}, Val: value.NewString("a")}))
	require.NoError(t, f.Insert(Case{Cords: []int64{2}, Val: value.NewString("bb")}))
	// grow record 1 repeatedly to leave vacated heap regions behind
	require.NoError(t, f.Insert(Case{Cords: []int64{1}, Val: value.NewString("aaaaaaaaaaaaaaaaaaaa")}))
	require.NoError(t, f.Insert(Case{Cords: []int64{1}, Val: value.NewString("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")}))

	before, err := f.ScanAll()
	require.NoError(t, err)

	fresh, err := f.Defragment()
	require.NoError(t, err)

	after, err := fresh.ScanAll()
	require.NoError(t, err)
	require.ElementsMatch(t, toStrings(t, before), toStrings(t, after))
	require.LessOrEqual(t, len(fresh.Bytes()), len(f.Bytes()))
}

func toStrings(t *testing.T, cases []Case) []string {
	t.Helper()
	out := make([]string, len(cases))
	for i, c := range cases {
		s, _ := c.Val.AsString()
		out[i] = s
	}
	return out
}

func TestSlotFileLoadRoundTrip(t *testing.T) {
	f := NewSlotFile(9, 2)
	require.NoError(t, f.Insert(Case{Cords: []int64{1, 2}, Val: value.NewIntFromInt64(42)}))

	loaded, err := LoadSlotFile(f.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint16(9), loaded.TableID())
	require.Equal(t, 2, loaded.Arity())
	require.Equal(t, 1, loaded.SlotCount())

	got, ok, err := loaded.Find([]int64{1, 2})
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := got.Val.AsInt()
	require.Equal(t, int64(42), i.Int64())
}
