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
package cacheserver

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/mar-db/mardb/value"
)

// cordKey turns a cord tuple into a map key; cords are small fixed-width
// integers so a joined decimal string is cheap and collision-free.
type cordKey string

func keyOf(cords []int64) cordKey {
	parts := make([]string, len(cords))
	for i, c := range cords {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return cordKey(strings.Join(parts, ","))
}

type cachedRecord struct {
	cords []int64
	val   value.Value
}

// tableCache holds the three maps the cache server's contract names:
// cached_data, modified, and accessed. select_from_table's contract is
// keyed directly off len(data): once any row is cached, select stops
// touching disk and returns only what's cached, even if that's a subset of
// the table — the documented (buggy-looking) behavior is preserved as-is.
type tableCache struct {
	data     map[cordKey]cachedRecord
	modified map[cordKey]struct{}
	accessed map[cordKey]struct{}
}

func newTableCache() *tableCache {
	return &tableCache{
		data:     make(map[cordKey]cachedRecord),
		modified: make(map[cordKey]struct{}),
		accessed: make(map[cordKey]struct{}),
	}
}

// dbCache is the per-database in-memory state: one instance per loaded
// database, guarded by a single mutex per §5's "per-database sync.Mutex"
// ordering guarantee — the lock covers the cache maps, the modified/accessed
// sets, and the engine call made on read-miss. Flush takes the modified set
// under the lock but makes its engine calls outside it.
type dbCache struct {
	mu       sync.Mutex
	name     string
	loadMode string
	tables   map[string]*tableCache

	group singleflight.Group // coalesces concurrent find_in_table misses

	watcher  *fsnotify.Watcher
	marlSeen map[string]bool // sidecar lines already applied
}

func newDBCache(name, loadMode string) *dbCache {
	return &dbCache{
		name:     name,
		loadMode: loadMode,
		tables:   make(map[string]*tableCache),
		marlSeen: make(map[string]bool),
	}
}

func (d *dbCache) table(name string) *tableCache {
	tc, ok := d.tables[name]
	if !ok {
		tc = newTableCache()
		d.tables[name] = tc
	}
	return tc
}

// snapshotModified swaps out tc's modified set under the caller's lock,
// returning the cords to flush. Per §5's flush ordering guarantee, the
// caller must perform the actual disk writes outside the lock, then requeue
// only the cords that failed.
func (tc *tableCache) snapshotModified() []cordKey {
	if len(tc.modified) == 0 {
		return nil
	}
	keys := make([]cordKey, 0, len(tc.modified))
	for k := range tc.modified {
		keys = append(keys, k)
	}
	tc.modified = make(map[cordKey]struct{})
	return keys
}

// requeue puts a cord that failed to flush back into the modified set, so
// the next flush cycle retries it. Cords that flushed successfully need no
// action: snapshotModified already removed them by swapping in a fresh map.
func (tc *tableCache) requeue(k cordKey) {
	tc.modified[k] = struct{}{}
}

func formatCords(cords []int64) string {
	parts := make([]string, len(cords))
	for i, c := range cords {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// registry tracks every loaded database by name, guarded by its own mutex
// separate from any one dbCache's lock.
type registry struct {
	mu  sync.Mutex
	dbs map[string]*dbCache
}

func newRegistry() *registry {
	return &registry{dbs: make(map[string]*dbCache)}
}

func (r *registry) get(name string) (*dbCache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.dbs[name]
	return db, ok
}

func (r *registry) put(name string, db *dbCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbs[name] = db
}

func (r *registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dbs, name)
}

func (r *registry) all() []*dbCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*dbCache, 0, len(r.dbs))
	for _, db := range r.dbs {
		out = append(out, db)
	}
	return out
}
