package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/value"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(&backend.FileFactory{Basepath: t.TempDir()})
}

func TestEngineCreateDBAndTable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	id, err := e.CreateTable("main", "t1", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, uint16(1), id)

	files, err := e.TableFiles("main", "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1_1.marc"}, files)
}

func TestEnginePointWriteRead(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	_, err := e.CreateTable("main", "t1", []string{"a", "b", "c"})
	require.NoError(t, err)

	ok, err := e.Insert("main", "t1", []int64{123, 2, -1}, value.NewString("TEST1"))
	require.NoError(t, err)
	require.True(t, ok)

	rec, found, err := e.Find("main", "t1", []int64{123, 2, -1})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, value.TagString, rec.Val.Tag())
	s, _ := rec.Val.AsString()
	require.Equal(t, "TEST1", s)
}

func TestEngineUpsertGrow(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	_, err := e.CreateTable("main", "t1", []string{"a", "b", "c"})
	require.NoError(t, err)

	_, err = e.Insert("main", "t1", []int64{123, 2, -1}, value.NewString("TEST1"))
	require.NoError(t, err)
	_, err = e.Insert("main", "t1", []int64{123, 2, -1}, value.NewString(strings.Repeat("TEST", 10)))
	require.NoError(t, err)

	records, err := e.SelectAll("main", "t1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	s, _ := records[0].Val.AsString()
	require.Equal(t, strings.Repeat("TEST", 10), s)
}

func TestEngineDistinctCords(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	_, err := e.CreateTable("main", "t1", []string{"a", "b", "c"})
	require.NoError(t, err)

	_, err = e.Insert("main", "t1", []int64{123, 2, -1}, value.NewString("TEST1"))
	require.NoError(t, err)
	_, err = e.Insert("main", "t1", []int64{128, 2, -1}, value.NewString("TEST2"))
	require.NoError(t, err)
	_, err = e.Insert("main", "t1", []int64{123, 2, 1}, value.NewString("TEST4"))
	require.NoError(t, err)

	records, err := e.SelectAll("main", "t1")
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestEngineDefragmentPreservesContents(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	_, err := e.CreateTable("main", "t1", []string{"a"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = e.Insert("main", "t1", []int64{1}, value.NewString(strings.Repeat("x", i*5+1)))
		require.NoError(t, err)
	}
	_, err = e.Insert("main", "t1", []int64{2}, value.NewString("stable"))
	require.NoError(t, err)

	before, err := e.SelectAll("main", "t1")
	require.NoError(t, err)

	require.NoError(t, e.Defragment("main"))

	after, err := e.SelectAll("main", "t1")
	require.NoError(t, err)
	require.ElementsMatch(t, toStrings(t, before), toStrings(t, after))
}

func TestEngineArityMismatch(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	_, err := e.CreateTable("main", "t1", []string{"a", "b"})
	require.NoError(t, err)

	_, err = e.Insert("main", "t1", []int64{1}, value.NewString("x"))
	require.Error(t, err)
}

func TestEngineForkTable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDB("main"))
	_, err := e.CreateTable("main", "t1", []string{"a"})
	require.NoError(t, err)
	_, err = e.Insert("main", "t1", []int64{1}, value.NewString("hello"))
	require.NoError(t, err)

	_, err = e.ForkTable("main", "t1", "t1_copy")
	require.NoError(t, err)

	records, err := e.SelectAll("main", "t1_copy")
	require.NoError(t, err)
	require.Len(t, records, 1)
	s, _ := records[0].Val.AsString()
	require.Equal(t, "hello", s)
}
