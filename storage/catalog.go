/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/dberr"
)

const catalogVersion = 1
const catalogReservedLen = 24

const (
	markerSection byte = 0xF8 // reused as a generic section marker, not just the case marker
	markerName    byte = 0xFA
)

// Axis names one coordinate dimension of a table.
type Axis struct {
	ID   uint16
	Name string
}

// TableDescriptor is one catalog entry: a table's id, name, and axes.
type TableDescriptor struct {
	ID   uint16
	Name string
	Axes []Axis
}

// Catalog is the in-memory model of a *.marm file. Save always rebuilds the
// whole byte image from this model and writes it back atomically; this
// produces the identical bytes an in-place patch-and-append would, since
// table descriptors are kept in stable insertion order.
type Catalog struct {
	store      backend.Store
	name       string
	pathPrefix string
	tables     []TableDescriptor
	nextID     uint16
}

// CreateCatalog makes a new, empty catalog at name (e.g. "main.marm") whose
// data directory prefix is pathPrefix (e.g. "cases/").
func CreateCatalog(store backend.Store, name string, pathPrefix string) (*Catalog, error) {
	c := &Catalog{store: store, name: name, pathPrefix: pathPrefix, nextID: 1}
	if err := c.Save(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalog reads and parses an existing catalog file.
func LoadCatalog(store backend.Store, name string) (*Catalog, error) {
	raw, err := store.ReadFile(name)
	if err != nil {
		if err == backend.ErrNotExist {
			return nil, dberr.Wrap(dberr.NotFound, "storage.LoadCatalog", err)
		}
		return nil, dberr.Wrap(dberr.Io, "storage.LoadCatalog", err)
	}
	return parseCatalog(store, name, raw)
}

func parseCatalog(store backend.Store, name string, raw []byte) (*Catalog, error) {
	pos := 0
	if len(raw) < 3 {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("file shorter than version field"))
	}
	version := int(raw[0])<<16 | int(raw[1])<<8 | int(raw[2])
	if version != catalogVersion {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("unsupported catalog version %d", version))
	}
	pos = 3
	if pos >= len(raw) || raw[pos] != markerSection {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("missing section marker after version"))
	}
	pos++

	pathPrefix, pos, err := readTerminatedName(raw, pos)
	if err != nil {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", err)
	}

	if pos+catalogReservedLen+1 > len(raw) {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("truncated reserved config block"))
	}
	pos += catalogReservedLen
	if raw[pos] != markerName {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("missing terminator after reserved config block"))
	}
	pos++

	if pos+2 > len(raw) {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("truncated table_count"))
	}
	tableCount := int(binary.BigEndian.Uint16(raw[pos : pos+2]))
	pos += 2

	c := &Catalog{store: store, name: name, pathPrefix: pathPrefix, nextID: 1}
	for i := 0; i < tableCount; i++ {
		if pos+2 > len(raw) {
			return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("truncated table_id at entry %d", i))
		}
		tableID := binary.BigEndian.Uint16(raw[pos : pos+2])
		pos += 2

		tableName, next, err := readTerminatedName(raw, pos)
		if err != nil {
			return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", err)
		}
		pos = next

		if pos+2 > len(raw) {
			return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("truncated axis_count at entry %d", i))
		}
		axisCount := int(binary.BigEndian.Uint16(raw[pos : pos+2]))
		pos += 2

		axes := make([]Axis, 0, axisCount)
		for a := 0; a < axisCount; a++ {
			if pos+2 > len(raw) {
				return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", fmt.Errorf("truncated axis_id"))
			}
			axisID := binary.BigEndian.Uint16(raw[pos : pos+2])
			pos += 2
			axisName, next, err := readTerminatedName(raw, pos)
			if err != nil {
				return nil, dberr.Wrap(dberr.Malformed, "storage.parseCatalog", err)
			}
			pos = next
			axes = append(axes, Axis{ID: axisID, Name: axisName})
		}

		c.tables = append(c.tables, TableDescriptor{ID: tableID, Name: tableName, Axes: axes})
		if tableID >= c.nextID {
			c.nextID = tableID + 1
		}
	}
	return c, nil
}

// readTerminatedName reads a UTF-8 name terminated by either markerName
// (0xFA) or markerSection (0xF8) - both count as terminators, since the next
// record in the file may legitimately begin with 0xF8.
func readTerminatedName(raw []byte, pos int) (string, int, error) {
	start := pos
	for pos < len(raw) && raw[pos] != markerName && raw[pos] != markerSection {
		pos++
	}
	if pos >= len(raw) {
		return "", 0, fmt.Errorf("unterminated name field starting at byte %d", start)
	}
	name := string(raw[start:pos])
	if raw[pos] == markerName {
		pos++ // consume the explicit terminator; a 0xF8 lookahead is left for the caller
	}
	return name, pos, nil
}

// Save rebuilds the catalog's byte image and atomically replaces the file.
func (c *Catalog) Save() error {
	raw := c.encode()
	if err := c.store.Replace(c.name, raw); err != nil {
		return dberr.Wrap(dberr.Io, "storage.Catalog.Save", err)
	}
	return nil
}

func (c *Catalog) encode() []byte {
	var out []byte
	out = append(out, byte(catalogVersion>>16), byte(catalogVersion>>8), byte(catalogVersion))
	out = append(out, markerSection)
	out = append(out, []byte(c.pathPrefix)...)
	out = append(out, markerName)
	out = append(out, make([]byte, catalogReservedLen)...)
	out = append(out, markerName)
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(c.tables)))
	out = append(out, count...)
	for _, t := range c.tables {
		id := make([]byte, 2)
		binary.BigEndian.PutUint16(id, t.ID)
		out = append(out, id...)
		out = append(out, []byte(t.Name)...)
		out = append(out, markerName)
		axisCount := make([]byte, 2)
		binary.BigEndian.PutUint16(axisCount, uint16(len(t.Axes)))
		out = append(out, axisCount...)
		for _, a := range t.Axes {
			aid := make([]byte, 2)
			binary.BigEndian.PutUint16(aid, a.ID)
			out = append(out, aid...)
			out = append(out, []byte(a.Name)...)
			out = append(out, markerName)
		}
	}
	return out
}

// PathPrefix returns the data directory prefix (e.g. "cases/") that table
// file names are joined against.
func (c *Catalog) PathPrefix() string { return c.pathPrefix }

// ListTables returns every table descriptor, ordered by id.
func (c *Catalog) ListTables() []TableDescriptor {
	out := make([]TableDescriptor, len(c.tables))
	copy(out, c.tables)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TableByName looks up a table descriptor by name (NFC-normalized, matching
// how CreateTable stores names).
func (c *Catalog) TableByName(name string) (TableDescriptor, bool) {
	name = norm.NFC.String(name)
	for _, t := range c.tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDescriptor{}, false
}

// TableByID looks up a table descriptor by id.
func (c *Catalog) TableByID(id uint16) (TableDescriptor, bool) {
	for _, t := range c.tables {
		if t.ID == id {
			return t, true
		}
	}
	return TableDescriptor{}, false
}

// AddTable appends a new table descriptor with a freshly allocated id and
// normalizes the name and axis names to NFC so that lookups are stable
// regardless of the caller's Unicode normalization form.
func (c *Catalog) AddTable(name string, axisNames []string) (TableDescriptor, error) {
	name = norm.NFC.String(name)
	if _, exists := c.TableByName(name); exists {
		return TableDescriptor{}, dberr.Wrap(dberr.Malformed, "storage.Catalog.AddTable", fmt.Errorf("table %q already exists", name))
	}
	axes := make([]Axis, len(axisNames))
	for i, n := range axisNames {
		axes[i] = Axis{ID: uint16(i + 1), Name: norm.NFC.String(n)}
	}
	td := TableDescriptor{ID: c.nextID, Name: name, Axes: axes}
	c.tables = append(c.tables, td)
	c.nextID++
	return td, nil
}
