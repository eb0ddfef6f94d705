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
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/storage"
	"github.com/mar-db/mardb/value"
)

// testServer starts a Server on a loopback listener and returns it along with
// a teardown func. ListenAndServe runs in its own goroutine until ctx is
// canceled by the returned cancel.
func testServer(t *testing.T, cfg Config) (addr string, engine *storage.Engine, shutdown func()) {
	t.Helper()
	engine = storage.NewEngine(&backend.FileFactory{Basepath: t.TempDir()})
	cfg.Addr = "127.0.0.1:0"
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	srv := NewServer(engine, cfg)

	ln, err := net.Listen("tcp", cfg.Addr)
	require.NoError(t, err)
	srv.cfg.Addr = ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()

	// Give the listener a moment to bind before the caller dials it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := net.Dial("tcp", srv.cfg.Addr); err == nil {
			c.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return srv.cfg.Addr, engine, func() {
		cancel()
		<-done
	}
}

// testClient is a minimal synchronous client for the framed-JSON protocol.
type testClient struct {
	conn net.Conn
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return &testClient{conn: conn}
}

func (c *testClient) call(t *testing.T, command string, args map[string]any) Response {
	t.Helper()
	require.NoError(t, writeFrame(c.conn, Request{Command: command, Args: args}))
	body, err := readFrame(c.conn)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func (c *testClient) close() { c.conn.Close() }

func TestCacheServerCreateAndInsertRoundTrip(t *testing.T) {
	addr, _, shutdown := testServer(t, Config{SyncInterval: time.Hour})
	defer shutdown()

	c := dial(t, addr)
	defer c.close()

	resp := c.call(t, "create_database", map[string]any{"db_name": "main"})
	require.Equal(t, "success", resp.Status)

	resp = c.call(t, "create_table", map[string]any{
		"db_name": "main", "table_name": "t1", "axes": []any{"a", "b"},
	})
	require.Equal(t, "success", resp.Status)

	resp = c.call(t, "insert_into_table", map[string]any{
		"db_name": "main", "table_name": "t1",
		"cords": []any{1, 2}, "value": "hello",
	})
	require.Equal(t, "success", resp.Status)

	resp = c.call(t, "find_in_table", map[string]any{
		"db_name": "main", "table_name": "t1", "cords": []any{1, 2},
	})
	require.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]any)
	require.Equal(t, true, data["found"])
	require.Equal(t, "hello", data["value"])
}

func TestCacheServerFindMissUnknownCord(t *testing.T) {
	addr, _, shutdown := testServer(t, Config{SyncInterval: time.Hour})
	defer shutdown()

	c := dial(t, addr)
	defer c.close()

	c.call(t, "create_database", map[string]any{"db_name": "main"})
	c.call(t, "create_table", map[string]any{
		"db_name": "main", "table_name": "t1", "axes": []any{"a"},
	})

	resp := c.call(t, "find_in_table", map[string]any{
		"db_name": "main", "table_name": "t1", "cords": []any{99},
	})
	require.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]any)
	require.Equal(t, false, data["found"])
}

func TestCacheServerUnknownCommand(t *testing.T) {
	addr, _, shutdown := testServer(t, Config{SyncInterval: time.Hour})
	defer shutdown()

	c := dial(t, addr)
	defer c.close()

	resp := c.call(t, "not_a_real_command", map[string]any{})
	require.Equal(t, "error", resp.Status)
	require.NotEmpty(t, resp.Message)
}

// TestCacheServerSyncIntervalFlushesToDisk exercises the background flush
// task directly: insert_into_table only touches the in-memory cache, and the
// write only reaches the engine's backend once the sync interval ticks.
func TestCacheServerSyncIntervalFlushesToDisk(t *testing.T) {
	addr, engine, shutdown := testServer(t, Config{SyncInterval: 50 * time.Millisecond, DefaultLoadMode: "fast"})
	defer shutdown()

	c := dial(t, addr)
	defer c.close()

	c.call(t, "create_database", map[string]any{"db_name": "main"})
	c.call(t, "create_table", map[string]any{
		"db_name": "main", "table_name": "u", "axes": []any{"id"},
	})
	resp := c.call(t, "insert_into_table", map[string]any{
		"db_name": "main", "table_name": "u",
		"cords": []any{7}, "value": "hi",
	})
	require.Equal(t, "success", resp.Status)

	// Immediately after insert, nothing has reached the engine's backend yet.
	_, found, err := engine.Find("main", "u", []int64{7})
	require.NoError(t, err)
	require.False(t, found)

	time.Sleep(300 * time.Millisecond)

	rec, found, err := engine.Find("main", "u", []int64{7})
	require.NoError(t, err)
	require.True(t, found)
	s, _ := rec.Val.AsString()
	require.Equal(t, "hi", s)
}

func TestCacheServerSelectFromTableStickyCache(t *testing.T) {
	addr, engine, shutdown := testServer(t, Config{SyncInterval: time.Hour})
	defer shutdown()

	c := dial(t, addr)
	defer c.close()

	c.call(t, "create_database", map[string]any{"db_name": "main"})
	c.call(t, "create_table", map[string]any{
		"db_name": "main", "table_name": "u", "axes": []any{"id"},
	})
	_, err := engine.Insert("main", "u", []int64{1}, value.NewString("a"))
	require.NoError(t, err)
	_, err = engine.Insert("main", "u", []int64{2}, value.NewString("b"))
	require.NoError(t, err)

	// First select populates the cache from disk with both rows.
	resp := c.call(t, "select_from_table", map[string]any{"db_name": "main", "table_name": "u"})
	require.Equal(t, "success", resp.Status)
	rows := resp.Data.([]any)
	require.Len(t, rows, 2)

	// A third row written directly through the engine, bypassing the cache,
	// is invisible to subsequent selects: once any row is cached, select
	// only returns cached rows.
	_, err = engine.Insert("main", "u", []int64{3}, value.NewString("c"))
	require.NoError(t, err)

	resp = c.call(t, "select_from_table", map[string]any{"db_name": "main", "table_name": "u"})
	require.Equal(t, "success", resp.Status)
	rows = resp.Data.([]any)
	require.Len(t, rows, 2)
}

func TestParseMarl(t *testing.T) {
	raw := []byte("# comment\n\nload_table: users\nload_case: orders, 1, 2\n")
	lines, err := parseMarl(raw)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "users", lines[0].table)
	require.True(t, lines[0].wholeTable)
	require.Equal(t, "orders", lines[1].table)
	require.Equal(t, []int64{1, 2}, lines[1].cords)
}

func TestCacheServerLoadDatabasePartMode(t *testing.T) {
	dir := t.TempDir()
	engine := storage.NewEngine(&backend.FileFactory{Basepath: dir})
	require.NoError(t, engine.CreateDB("main"))
	_, err := engine.CreateTable("main", "u", []string{"id"})
	require.NoError(t, err)
	_, err = engine.Insert("main", "u", []int64{7}, value.NewString("hi"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main", "main.marl"), []byte("load_table: u\n"), 0o644))

	cfg := Config{Addr: "127.0.0.1:0", SyncInterval: time.Hour}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := NewServer(engine, cfg)

	ln, err := net.Listen("tcp", cfg.Addr)
	require.NoError(t, err)
	srv.cfg.Addr = ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()
	defer func() { cancel(); <-done }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := net.Dial("tcp", srv.cfg.Addr); err == nil {
			c.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	c := dial(t, srv.cfg.Addr)
	defer c.close()

	resp := c.call(t, "load_database", map[string]any{"db_name": "main", "load_mode": "part"})
	require.Equal(t, "success", resp.Status)

	resp = c.call(t, "find_in_table", map[string]any{
		"db_name": "main", "table_name": "u", "cords": []any{7},
	})
	require.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]any)
	require.Equal(t, true, data["found"])
	require.Equal(t, "hi", data["value"])
}
