package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mar-db/mardb/backend"
)

func TestCatalogCreationLiteralBytes(t *testing.T) {
	store := backend.NewFileStore(t.TempDir())
	cat, err := CreateCatalog(store, catalogFileName, dataDirPrefix)
	require.NoError(t, err)

	_, err = cat.AddTable("t1", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, cat.Save())

	raw, err := store.ReadFile(catalogFileName)
	require.NoError(t, err)

	want := []byte{0x00, 0x00, 0x01, 0xF8}
	want = append(want, []byte("cases/")...)
	want = append(want, 0xFA)
	want = append(want, make([]byte, 24)...)
	want = append(want, 0xFA)
	want = append(want, 0x00, 0x01)
	require.Equal(t, want, raw[:len(want)])
}

func TestCatalogLoadRoundTrip(t *testing.T) {
	store := backend.NewFileStore(t.TempDir())
	cat, err := CreateCatalog(store, catalogFileName, dataDirPrefix)
	require.NoError(t, err)
	_, err = cat.AddTable("t1", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NoError(t, cat.Save())

	loaded, err := LoadCatalog(store, catalogFileName)
	require.NoError(t, err)
	require.Equal(t, "cases/", loaded.PathPrefix())

	td, ok := loaded.TableByName("t1")
	require.True(t, ok)
	require.Equal(t, uint16(1), td.ID)
	require.Len(t, td.Axes, 3)
	require.Equal(t, "a", td.Axes[0].Name)
	require.Equal(t, "c", td.Axes[2].Name)
}

func TestCatalogAddTableRejectsDuplicateName(t *testing.T) {
	store := backend.NewFileStore(t.TempDir())
	cat, err := CreateCatalog(store, catalogFileName, dataDirPrefix)
	require.NoError(t, err)
	_, err = cat.AddTable("t1", []string{"a"})
	require.NoError(t, err)
	_, err = cat.AddTable("t1", []string{"b"})
	require.Error(t, err)
}
