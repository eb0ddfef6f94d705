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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/dc0d/onexit"
	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/dberr"
	"github.com/mar-db/mardb/storage"
	"github.com/mar-db/mardb/value"
)

const (
	defaultLoadMode     = "fast"
	defaultSyncInterval = 30 * time.Second
)

// Config controls Server's network and cache-flush behavior.
type Config struct {
	Addr            string        // default ":9999"
	SyncInterval    time.Duration // default 30s
	DefaultLoadMode string        // "full", "part", or "fast"; default "fast"
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":9999"
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	if c.DefaultLoadMode == "" {
		c.DefaultLoadMode = defaultLoadMode
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server is the TCP front end described in the cache server section: a
// write-through cache sitting in front of a storage.Engine, with a
// background flush task and per-connection request handlers.
type Server struct {
	engine *storage.Engine
	cfg    Config
	reg    *registry
}

func NewServer(engine *storage.Engine, cfg Config) *Server {
	return &Server{engine: engine, cfg: cfg.withDefaults(), reg: newRegistry()}
}

// ListenAndServe binds cfg.Addr, runs the background flush task, and accepts
// connections until ctx is canceled. It always returns a non-nil error
// explaining why it stopped (ctx.Err() once ctx has been canceled).
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("cacheserver: listen %s: %w", s.cfg.Addr, err)
	}
	s.cfg.Logger.Info("cache server listening", "addr", s.cfg.Addr, "sync_interval", s.cfg.SyncInterval)

	flushCtx, cancelFlush := context.WithCancel(ctx)
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		s.flushLoop(flushCtx)
	}()

	onexit.Register(func() {
		s.cfg.Logger.Info("final flush on exit")
		s.flushAll()
	})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr = err
			break
		}
		go s.handleConn(conn)
	}

	cancelFlush()
	<-flushDone
	s.flushAll()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return acceptErr
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := readRequest(conn)
		if err != nil {
			return // disconnect or malformed stream; connection is done either way
		}
		resp := s.dispatch(req)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

// dispatch recovers from any panic in a command handler, turning it into an
// error response instead of taking down the connection goroutine, mirroring
// the teacher's recover-at-the-request-boundary pattern.
func (s *Server) dispatch(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("panic handling command", "command", req.Command, "recover", r, "stack", string(debug.Stack()))
			resp = failure(fmt.Sprintf("internal error: %v", r))
		}
	}()

	data, err := s.handle(req)
	if err != nil {
		s.logCommandError(req, err)
		return failure(err.Error())
	}
	return success(data)
}

func (s *Server) logCommandError(req Request, err error) {
	dbName, _ := req.Args["db_name"].(string)
	tableName, _ := req.Args["table_name"].(string)
	s.cfg.Logger.Error("command failed", "command", req.Command, "db", dbName, "table", tableName, "error", err)
}

func (s *Server) handle(req Request) (any, error) {
	switch req.Command {
	case "create_database":
		return s.createDatabase(req.Args)
	case "create_table":
		return s.createTable(req.Args)
	case "get_tables":
		return s.getTables(req.Args)
	case "get_table_files":
		return s.getTableFiles(req.Args)
	case "find_in_table":
		return s.findInTable(req.Args)
	case "insert_into_table":
		return s.insertIntoTable(req.Args)
	case "select_from_table":
		return s.selectFromTable(req.Args)
	case "defragment_database":
		return s.defragmentDatabase(req.Args)
	case "load_database":
		return s.loadDatabase(req.Args)
	case "unload_database":
		return s.unloadDatabase(req.Args)
	default:
		return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("unknown command %q", req.Command))
	}
}

func (s *Server) createDatabase(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	if err := s.engine.CreateDB(dbName); err != nil {
		return nil, err
	}
	return map[string]any{"db_name": dbName}, nil
}

func (s *Server) createTable(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	tableName, err := argString(args, "table_name")
	if err != nil {
		return nil, err
	}
	axes, err := argStringSlice(args, "axes")
	if err != nil {
		return nil, err
	}
	id, err := s.engine.CreateTable(dbName, tableName, axes)
	if err != nil {
		return nil, err
	}
	return map[string]any{"table_id": id}, nil
}

func (s *Server) getTables(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	tables, err := s.engine.ListTables(dbName)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(tables))
	for _, td := range tables {
		axes := make([]string, len(td.Axes))
		for i, a := range td.Axes {
			axes[i] = a.Name
		}
		out[td.Name] = map[string]any{"id": td.ID, "axes": axes}
	}
	return out, nil
}

func (s *Server) getTableFiles(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	tableName, err := argString(args, "table_name")
	if err != nil {
		return nil, err
	}
	return s.engine.TableFiles(dbName, tableName)
}

func (s *Server) findInTable(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	tableName, err := argString(args, "table_name")
	if err != nil {
		return nil, err
	}
	cords, err := argCords(args, "cords")
	if err != nil {
		return nil, err
	}

	db := s.dbOrDefault(dbName)
	key := keyOf(cords)

	db.mu.Lock()
	tc := db.table(tableName)
	if rec, ok := tc.data[key]; ok {
		tc.accessed[key] = struct{}{}
		db.mu.Unlock()
		jv, err := valueToJSON(rec.val)
		if err != nil {
			return nil, err
		}
		return map[string]any{"found": true, "value": jv}, nil
	}
	db.mu.Unlock()

	// Cache miss: coalesce concurrent misses on the same cord with
	// singleflight so a stampede issues one disk read, not N. The disk read
	// runs under the database lock, and a row cached meanwhile (by an
	// insert) wins over the on-disk copy.
	result, err, _ := db.group.Do(tableName+"\x00"+string(key), func() (any, error) {
		db.mu.Lock()
		defer db.mu.Unlock()
		tc := db.table(tableName)
		if _, ok := tc.data[key]; ok {
			tc.accessed[key] = struct{}{}
			return true, nil
		}
		rec, found, err := s.engine.Find(dbName, tableName, cords)
		if err != nil {
			return nil, err
		}
		if found {
			tc.data[key] = cachedRecord{cords: cords, val: rec.Val}
			tc.accessed[key] = struct{}{}
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	found := result.(bool)
	if !found {
		return map[string]any{"found": false}, nil
	}

	db.mu.Lock()
	rec := db.table(tableName).data[key]
	db.mu.Unlock()
	jv, err := valueToJSON(rec.val)
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": true, "value": jv}, nil
}

func (s *Server) insertIntoTable(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	tableName, err := argString(args, "table_name")
	if err != nil {
		return nil, err
	}
	cords, err := argCords(args, "cords")
	if err != nil {
		return nil, err
	}
	val, err := argValue(args, "value")
	if err != nil {
		return nil, err
	}

	db := s.dbOrDefault(dbName)
	key := keyOf(cords)

	db.mu.Lock()
	tc := db.table(tableName)
	tc.data[key] = cachedRecord{cords: cords, val: val}
	tc.modified[key] = struct{}{}
	tc.accessed[key] = struct{}{}
	db.mu.Unlock()

	return true, nil
}

func (s *Server) selectFromTable(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	tableName, err := argString(args, "table_name")
	if err != nil {
		return nil, err
	}

	db := s.dbOrDefault(dbName)

	db.mu.Lock()
	tc := db.table(tableName)
	if len(tc.data) > 0 {
		out, err := renderRows(tc)
		db.mu.Unlock()
		return out, err
	}
	db.mu.Unlock()

	records, err := s.engine.SelectAll(dbName, tableName)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	tc = db.table(tableName)
	for _, rec := range records {
		key := keyOf(rec.Cords)
		tc.data[key] = cachedRecord{cords: rec.Cords, val: rec.Val}
	}
	out, err := renderRows(tc)
	db.mu.Unlock()
	return out, err
}

func renderRows(tc *tableCache) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(tc.data))
	for _, rec := range tc.data {
		jv, err := valueToJSON(rec.val)
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"cords": rec.cords, "value": jv})
	}
	return out, nil
}

func (s *Server) defragmentDatabase(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	if db, ok := s.reg.get(dbName); ok {
		s.flushDB(dbName, db)
	}
	if err := s.engine.Defragment(dbName); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) loadDatabase(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	mode := argStringOptional(args, "load_mode", s.cfg.DefaultLoadMode)

	db := newDBCache(dbName, mode)
	s.reg.put(dbName, db)

	switch mode {
	case "full":
		if err := s.preloadFull(dbName, db); err != nil {
			return nil, err
		}
	case "part":
		if err := s.preloadPart(dbName, db); err != nil {
			return nil, err
		}
	case "fast":
		// lazy: nothing to do until first access
	default:
		return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("unknown load_mode %q", mode))
	}
	return map[string]any{"db_name": dbName, "load_mode": mode}, nil
}

// preloadFull eagerly selects every table, one goroutine per table, per
// §4.7's "tables are loaded concurrently with golang.org/x/sync/errgroup".
func (s *Server) preloadFull(dbName string, db *dbCache) error {
	tables, err := s.engine.ListTables(dbName)
	if err != nil {
		return err
	}
	g, _ := errgroup.WithContext(context.Background())
	for _, td := range tables {
		td := td
		g.Go(func() error {
			records, err := s.engine.SelectAll(dbName, td.Name)
			if err != nil {
				return err
			}
			db.mu.Lock()
			tc := db.table(td.Name)
			for _, rec := range records {
				tc.data[keyOf(rec.Cords)] = cachedRecord{cords: rec.Cords, val: rec.Val}
			}
			db.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// preloadPart reads the <db>.marl sidecar and preloads exactly the
// tables/cases it lists, then (for local filesystem backends) starts an
// fsnotify watch so lines appended later are picked up incrementally.
func (s *Server) preloadPart(dbName string, db *dbCache) error {
	store := s.engine.Store(dbName)
	sidecar := marlSidecarName(dbName)

	if err := s.applyMarl(dbName, db, store, sidecar); err != nil && !isNotFound(err) {
		return err
	}

	resolver, ok := store.(backend.LocalPathResolver)
	if !ok {
		s.cfg.Logger.Info("sidecar hot-reload unavailable for non-local backend", "db", dbName)
		return nil
	}
	path, ok := resolver.LocalPath(sidecar)
	if !ok {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.cfg.Logger.Error("fsnotify watcher init failed", "db", dbName, "error", err)
		return nil
	}
	if err := watcher.Add(path); err != nil {
		// Sidecar may not exist yet; part mode then preloads nothing, and
		// no watch is installed, so a sidecar created later is not read.
		watcher.Close()
		return nil
	}
	db.watcher = watcher
	go s.watchMarl(dbName, db, store, sidecar, watcher)
	return nil
}

func (s *Server) watchMarl(dbName string, db *dbCache, store backend.Store, sidecar string, watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.applyMarl(dbName, db, store, sidecar); err != nil {
				s.cfg.Logger.Error("sidecar reload failed", "db", dbName, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.cfg.Logger.Error("fsnotify error", "db", dbName, "error", err)
		}
	}
}

// applyMarl reads the sidecar and preloads any line not already in
// db.marlSeen, so a rewatch after an incremental edit only loads what's new.
func (s *Server) applyMarl(dbName string, db *dbCache, store backend.Store, sidecar string) error {
	raw, err := store.ReadFile(sidecar)
	if err != nil {
		return err
	}
	lines, err := parseMarl(raw)
	if err != nil {
		return err
	}
	for _, line := range lines {
		db.mu.Lock()
		seen := db.marlSeen[line.raw]
		db.mu.Unlock()
		if seen {
			continue
		}
		if line.wholeTable {
			records, err := s.engine.SelectAll(dbName, line.table)
			if err != nil {
				s.cfg.Logger.Error("sidecar load_table failed", "db", dbName, "table", line.table, "error", err)
				continue
			}
			db.mu.Lock()
			tc := db.table(line.table)
			for _, rec := range records {
				tc.data[keyOf(rec.Cords)] = cachedRecord{cords: rec.Cords, val: rec.Val}
			}
			db.mu.Unlock()
		} else {
			rec, found, err := s.engine.Find(dbName, line.table, line.cords)
			if err != nil {
				s.cfg.Logger.Error("sidecar load_case failed", "db", dbName, "table", line.table, "cords", formatCords(line.cords), "error", err)
				continue
			}
			if found {
				db.mu.Lock()
				tc := db.table(line.table)
				tc.data[keyOf(rec.Cords)] = cachedRecord{cords: rec.Cords, val: rec.Val}
				db.mu.Unlock()
			}
		}
		db.mu.Lock()
		db.marlSeen[line.raw] = true
		db.mu.Unlock()
	}
	return nil
}

func (s *Server) unloadDatabase(args map[string]any) (any, error) {
	dbName, err := argString(args, "db_name")
	if err != nil {
		return nil, err
	}
	db, ok := s.reg.get(dbName)
	if !ok {
		return true, nil
	}
	s.flushDB(dbName, db)
	if db.watcher != nil {
		db.watcher.Close()
	}
	s.reg.remove(dbName)
	return true, nil
}

// dbOrDefault returns the registered cache state for dbName, lazily
// installing one in "fast" mode if the client never called load_database.
func (s *Server) dbOrDefault(dbName string) *dbCache {
	if db, ok := s.reg.get(dbName); ok {
		return db
	}
	db := newDBCache(dbName, s.cfg.DefaultLoadMode)
	s.reg.put(dbName, db)
	return db
}

// flushLoop wakes every SyncInterval and flushes every loaded database.
func (s *Server) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushAll()
		}
	}
}

func (s *Server) flushAll() {
	for _, db := range s.reg.all() {
		s.flushDB(db.name, db)
	}
}

// flushDB writes every modified cord of every table back through the
// engine. It follows §5's ordering guarantee: the modified set is swapped
// under the lock, the engine calls happen outside it, and only cords that
// fail to flush are requeued under the lock afterward.
func (s *Server) flushDB(dbName string, db *dbCache) {
	type pending struct {
		table string
		key   cordKey
		rec   cachedRecord
	}

	db.mu.Lock()
	var toFlush []pending
	for tableName, tc := range db.tables {
		for _, key := range tc.snapshotModified() {
			toFlush = append(toFlush, pending{table: tableName, key: key, rec: tc.data[key]})
		}
	}
	db.mu.Unlock()

	if len(toFlush) == 0 {
		return
	}

	var written int64
	failed := make([]pending, 0)
	for _, p := range toFlush {
		if _, err := s.engine.Insert(dbName, p.table, p.rec.cords, p.rec.val); err != nil {
			s.cfg.Logger.Error("flush failed", "db", dbName, "table", p.table, "cords", formatCords(p.rec.cords), "error", err)
			failed = append(failed, p)
			continue
		}
		if _, body, err := value.EncodeBody(p.rec.val); err == nil {
			written += int64(len(body))
		}
	}

	if len(failed) > 0 {
		db.mu.Lock()
		for _, p := range failed {
			db.table(p.table).requeue(p.key)
		}
		db.mu.Unlock()
	}

	s.cfg.Logger.Info("flush complete", "db", dbName, "records", len(toFlush)-len(failed), "failed", len(failed), "bytes", units.BytesSize(float64(written)))
}

func isNotFound(err error) bool {
	return dberr.Is(err, dberr.NotFound) || errors.Is(err, backend.ErrNotExist)
}
