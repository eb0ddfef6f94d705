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

// Engine orchestrates the catalog, table configs, and slot files behind the
// create-db / create-table / find / insert / select-all / defragment
// operations. Every call opens the files it needs and closes over them for
// the duration of the call; there is no long-lived open-file state at this
// layer, matching how the cache server above it owns caching instead.
package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/dberr"
	"github.com/mar-db/mardb/value"
)

const catalogFileName = "main.marm"
const dataDirPrefix = "cases/"
const configDirPrefix = "config/"

// Engine is safe to share across goroutines only to the extent backend.Store
// implementations are; callers are responsible for serializing concurrent
// access to the same database, per §5 of the design.
type Engine struct {
	factory backend.Factory
}

func NewEngine(factory backend.Factory) *Engine {
	return &Engine{factory: factory}
}

func (e *Engine) store(dbName string) backend.Store {
	return e.factory.ForDatabase(dbName)
}

// Store exposes dbName's backend.Store so callers above this layer (the
// cache server's .marl sidecar handling, in particular) can read and write
// auxiliary files the Engine itself has no notion of.
func (e *Engine) Store(dbName string) backend.Store {
	return e.store(dbName)
}

// CreateDB initializes a new, empty catalog for dbName.
func (e *Engine) CreateDB(dbName string) error {
	store := e.store(dbName)
	_, err := CreateCatalog(store, catalogFileName, dataDirPrefix)
	return err
}

func (e *Engine) loadCatalog(dbName string) (backend.Store, *Catalog, error) {
	store := e.store(dbName)
	cat, err := LoadCatalog(store, catalogFileName)
	if err != nil {
		return nil, nil, err
	}
	return store, cat, nil
}

func firstDataFile(tableName string) string {
	return fmt.Sprintf("%s_1.marc", tableName)
}

func configFileFor(tableName string) string {
	return configDirPrefix + tableName + ".mart"
}

// CreateTable adds a table descriptor to the catalog, a config/<name>.mart
// file, and an initial empty data file.
func (e *Engine) CreateTable(dbName, tableName string, axisNames []string) (uint16, error) {
	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return 0, err
	}

	td, err := cat.AddTable(tableName, axisNames)
	if err != nil {
		return 0, err
	}
	if err := cat.Save(); err != nil {
		return 0, err
	}

	dataFile := firstDataFile(td.Name)
	slot := NewSlotFile(td.ID, len(td.Axes))
	if err := store.WriteFile(dataDirPrefix+dataFile, slot.Bytes()); err != nil {
		return 0, dberr.Wrap(dberr.Io, "storage.Engine.CreateTable", err)
	}

	cfg := &TableConfig{TableID: td.ID, Files: []string{dataFile}}
	if err := cfg.Save(store, configFileFor(td.Name)); err != nil {
		return 0, err
	}

	return td.ID, nil
}

// ListTables returns every table descriptor in the catalog.
func (e *Engine) ListTables(dbName string) ([]TableDescriptor, error) {
	_, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return nil, err
	}
	return cat.ListTables(), nil
}

// TableFiles returns the data file names backing tableName.
func (e *Engine) TableFiles(dbName, tableName string) ([]string, error) {
	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return nil, err
	}
	td, ok := cat.TableByName(tableName)
	if !ok {
		return nil, dberr.Wrap(dberr.NotFound, "storage.Engine.TableFiles", fmt.Errorf("table %q not found", tableName))
	}
	cfg, err := LoadTableConfig(store, configFileFor(td.Name))
	if err != nil {
		return nil, err
	}
	return cfg.Files, nil
}

func (e *Engine) resolveTable(store backend.Store, cat *Catalog, tableName string) (TableDescriptor, *TableConfig, error) {
	td, ok := cat.TableByName(tableName)
	if !ok {
		return TableDescriptor{}, nil, dberr.Wrap(dberr.NotFound, "storage.Engine", fmt.Errorf("table %q not found", tableName))
	}
	cfg, err := LoadTableConfig(store, configFileFor(td.Name))
	if err != nil {
		return TableDescriptor{}, nil, err
	}
	return td, cfg, nil
}

func (e *Engine) loadSlotFile(store backend.Store, fileName string) (*SlotFile, error) {
	raw, err := store.ReadFile(dataDirPrefix + fileName)
	if err != nil {
		if err == backend.ErrNotExist {
			return nil, dberr.Wrap(dberr.NotFound, "storage.Engine", err)
		}
		return nil, dberr.Wrap(dberr.Io, "storage.Engine", err)
	}
	return LoadSlotFile(raw)
}

// Find looks up a single record by its exact coordinate tuple, searching the
// table's data files in config order.
func (e *Engine) Find(dbName, tableName string, cords []int64) (Case, bool, error) {
	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return Case{}, false, err
	}
	_, cfg, err := e.resolveTable(store, cat, tableName)
	if err != nil {
		return Case{}, false, err
	}
	for _, fileName := range cfg.Files {
		slot, err := e.loadSlotFile(store, fileName)
		if err != nil {
			return Case{}, false, err
		}
		c, ok, err := slot.Find(cords)
		if err != nil {
			return Case{}, false, err
		}
		if ok {
			return c, true, nil
		}
	}
	return Case{}, false, nil
}

// Insert upserts (cords, v) into tableName, growing to a new data file if
// the current one's slot directory is full.
func (e *Engine) Insert(dbName, tableName string, cords []int64, v value.Value) (bool, error) {
	if err := ensurePortableValue(v); err != nil {
		return false, err
	}

	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return false, err
	}
	td, cfg, err := e.resolveTable(store, cat, tableName)
	if err != nil {
		return false, err
	}
	if len(cords) != len(td.Axes) {
		return false, dberr.Wrap(dberr.Malformed, "storage.Engine.Insert", fmt.Errorf("cord tuple has %d elements, table %q has arity %d", len(cords), tableName, len(td.Axes)))
	}

	// An existing record may live in an earlier file; if so, upsert there.
	for _, fileName := range cfg.Files {
		slot, err := e.loadSlotFile(store, fileName)
		if err != nil {
			return false, err
		}
		if slot.findIndex(cords) >= 0 {
			if err := slot.Insert(Case{Cords: cords, Val: v}); err != nil {
				return false, err
			}
			if err := store.WriteFile(dataDirPrefix+fileName, slot.Bytes()); err != nil {
				return false, dberr.Wrap(dberr.Io, "storage.Engine.Insert", err)
			}
			return true, nil
		}
	}

	// New record: try the last file, growing to a fresh one on capacity
	// overflow.
	lastFile := cfg.Files[len(cfg.Files)-1]
	slot, err := e.loadSlotFile(store, lastFile)
	if err != nil {
		return false, err
	}
	insertErr := slot.Insert(Case{Cords: cords, Val: v})
	if insertErr == nil {
		if err := store.WriteFile(dataDirPrefix+lastFile, slot.Bytes()); err != nil {
			return false, dberr.Wrap(dberr.Io, "storage.Engine.Insert", err)
		}
		return true, nil
	}
	if !dberr.Is(insertErr, dberr.CapacityExceeded) {
		return false, insertErr
	}

	newFile := nextDataFileName(td.Name, lastFile)
	fresh := NewSlotFile(td.ID, len(td.Axes))
	if err := fresh.Insert(Case{Cords: cords, Val: v}); err != nil {
		return false, err
	}
	if err := store.WriteFile(dataDirPrefix+newFile, fresh.Bytes()); err != nil {
		return false, dberr.Wrap(dberr.Io, "storage.Engine.Insert", err)
	}
	cfg.Files = append(cfg.Files, newFile)
	if err := cfg.Save(store, configFileFor(td.Name)); err != nil {
		return false, err
	}
	return true, nil
}

// nextDataFileName picks "<table>_<n+1>.marc" following lastFile's index.
func nextDataFileName(tableName string, lastFile string) string {
	suffix := strings.TrimPrefix(lastFile, tableName+"_")
	suffix = strings.TrimSuffix(suffix, ".marc")
	n, err := strconv.Atoi(suffix)
	if err != nil {
		n = 1
	}
	return fmt.Sprintf("%s_%d.marc", tableName, n+1)
}

// SelectAll returns every record in tableName across all of its data files.
func (e *Engine) SelectAll(dbName, tableName string) ([]Case, error) {
	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return nil, err
	}
	_, cfg, err := e.resolveTable(store, cat, tableName)
	if err != nil {
		return nil, err
	}
	var out []Case
	for _, fileName := range cfg.Files {
		slot, err := e.loadSlotFile(store, fileName)
		if err != nil {
			return nil, err
		}
		records, err := slot.ScanAll()
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// Defragment rewrites every data file of every table in dbName, compacting
// away heap regions vacated by upsert-with-growth.
func (e *Engine) Defragment(dbName string) error {
	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return err
	}
	for _, td := range cat.ListTables() {
		cfg, err := LoadTableConfig(store, configFileFor(td.Name))
		if err != nil {
			return err
		}
		for _, fileName := range cfg.Files {
			slot, err := e.loadSlotFile(store, fileName)
			if err != nil {
				return err
			}
			fresh, err := slot.Defragment()
			if err != nil {
				return err
			}
			if err := store.Replace(dataDirPrefix+fileName, fresh.Bytes()); err != nil {
				return dberr.Wrap(dberr.Io, "storage.Engine.Defragment", err)
			}
		}
	}
	return nil
}

// ForkTable copies every record of an existing table into a newly created
// table of the same axes, without disturbing the source. It has no
// equivalent Engine API call in the minimal spec; it is grounded on the
// source's fork_with_cases_file helper, which seeded a new table from an
// existing one's cases in bulk rather than one insert at a time.
func (e *Engine) ForkTable(dbName, sourceTable, newTable string) (uint16, error) {
	store, cat, err := e.loadCatalog(dbName)
	if err != nil {
		return 0, err
	}
	srcTD, ok := cat.TableByName(sourceTable)
	if !ok {
		return 0, dberr.Wrap(dberr.NotFound, "storage.Engine.ForkTable", fmt.Errorf("table %q not found", sourceTable))
	}
	axisNames := make([]string, len(srcTD.Axes))
	for i, a := range srcTD.Axes {
		axisNames[i] = a.Name
	}

	newTD, err := cat.AddTable(newTable, axisNames)
	if err != nil {
		return 0, err
	}
	if err := cat.Save(); err != nil {
		return 0, err
	}

	dataFile := firstDataFile(newTD.Name)
	slot := NewSlotFile(newTD.ID, len(axisNames))

	srcCfg, err := LoadTableConfig(store, configFileFor(srcTD.Name))
	if err != nil {
		return 0, err
	}
	for _, fileName := range srcCfg.Files {
		srcSlot, err := e.loadSlotFile(store, fileName)
		if err != nil {
			return 0, err
		}
		records, err := srcSlot.ScanAll()
		if err != nil {
			return 0, err
		}
		for _, r := range records {
			if err := slot.Insert(r); err != nil {
				return 0, err
			}
		}
	}

	if err := store.WriteFile(dataDirPrefix+dataFile, slot.Bytes()); err != nil {
		return 0, dberr.Wrap(dberr.Io, "storage.Engine.ForkTable", err)
	}
	cfg := &TableConfig{TableID: newTD.ID, Files: []string{dataFile}}
	if err := cfg.Save(store, configFileFor(newTD.Name)); err != nil {
		return 0, err
	}
	return newTD.ID, nil
}
