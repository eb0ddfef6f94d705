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

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/dberr"
)

// TableConfig is a table's config/<name>.mart file: the table id plus the
// ordered list of data file names backing it.
type TableConfig struct {
	TableID uint16
	Files   []string
}

func (tc *TableConfig) encode() []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, tc.TableID)
	for _, f := range tc.Files {
		out = append(out, []byte(f)...)
		out = append(out, markerName)
	}
	return out
}

func parseTableConfig(raw []byte) (*TableConfig, error) {
	if len(raw) < 2 {
		return nil, dberr.Wrap(dberr.Malformed, "storage.parseTableConfig", fmt.Errorf("file shorter than table_id"))
	}
	tc := &TableConfig{TableID: binary.BigEndian.Uint16(raw[:2])}
	pos := 2
	for pos < len(raw) {
		name, next, err := readTerminatedName(raw, pos)
		if err != nil {
			return nil, dberr.Wrap(dberr.Malformed, "storage.parseTableConfig", err)
		}
		tc.Files = append(tc.Files, name)
		pos = next
	}
	return tc, nil
}

// LoadTableConfig reads config/<name>.mart from store.
func LoadTableConfig(store backend.Store, configName string) (*TableConfig, error) {
	raw, err := store.ReadFile(configName)
	if err != nil {
		if err == backend.ErrNotExist {
			return nil, dberr.Wrap(dberr.NotFound, "storage.LoadTableConfig", err)
		}
		return nil, dberr.Wrap(dberr.Io, "storage.LoadTableConfig", err)
	}
	return parseTableConfig(raw)
}

// Save writes the config back to configName.
func (tc *TableConfig) Save(store backend.Store, configName string) error {
	if err := store.Replace(configName, tc.encode()); err != nil {
		return dberr.Wrap(dberr.Io, "storage.TableConfig.Save", err)
	}
	return nil
}
