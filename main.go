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
/*
	mardbd: a multidimensional key/value store with a binary on-disk
	format and a TCP cache server in front of it.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/mar-db/mardb/backend"
	"github.com/mar-db/mardb/cacheserver"
	"github.com/mar-db/mardb/storage"
)

// fileDefaults is the optional --config file's shape. Flags are defined
// with these as their defaults, so anything the operator passes on the
// command line still wins.
type fileDefaults struct {
	Addr         string   `json:"addr"`
	BaseDir      string   `json:"base_dir"`
	SyncInterval string   `json:"sync_interval"`
	LoadMode     string   `json:"load_mode"`
	LogFormat    string   `json:"log_format"`
	LogLevel     string   `json:"log_level"`
	Preload      []string `json:"preload"`
}

func main() {
	defaults := fileDefaults{
		Addr:         ":9999",
		BaseDir:      "./data",
		SyncInterval: "30s",
		LoadMode:     "fast",
		LogFormat:    "text",
		LogLevel:     "info",
	}
	if path := peekConfigFlag(os.Args[1:]); path != "" {
		if err := loadConfigFile(path, &defaults); err != nil {
			fmt.Fprintln(os.Stderr, "mardbd:", err)
			os.Exit(1)
		}
	}

	var (
		addr         = pflag.String("addr", defaults.Addr, "bind address for the cache server")
		baseDir      = pflag.String("base-dir", defaults.BaseDir, "root directory for database files")
		syncInterval = pflag.String("sync-interval", defaults.SyncInterval, "cache flush interval")
		loadMode     = pflag.String("load-mode", defaults.LoadMode, "default load mode: full, part, or fast")
		logFormat    = pflag.String("log-format", defaults.LogFormat, "log output format: text or json")
		logLevel     = pflag.String("log-level", defaults.LogLevel, "log level: debug, info, warn, error")
		preload      = pflag.StringArray("preload", defaults.Preload, "database names to create at startup (not loaded into the cache)")
	)
	pflag.String("config", "", "path to an optional JSON-with-comments config file")
	pflag.Parse()

	logger := newLogger(*logFormat, *logLevel)
	slog.SetDefault(logger)

	interval, err := time.ParseDuration(*syncInterval)
	if err != nil {
		logger.Error("invalid sync-interval", "value", *syncInterval, "error", err)
		os.Exit(1)
	}

	engine := storage.NewEngine(&backend.FileFactory{Basepath: *baseDir})
	srv := cacheserver.NewServer(engine, cacheserver.Config{
		Addr:            *addr,
		SyncInterval:    interval,
		DefaultLoadMode: *loadMode,
		Logger:          logger,
	})

	fmt.Fprint(os.Stdout, `mardbd Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)
	logger.Info("starting mardbd", "addr", *addr, "base_dir", *baseDir, "load_mode", *loadMode, "sync_interval", interval, "preload", *preload)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, name := range *preload {
		if err := engine.CreateDB(name); err != nil {
			logger.Warn("preload: create_database skipped (likely already exists)", "db", name, "error", err)
		}
	}

	if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("mardbd shut down cleanly")
}

// peekConfigFlag scans raw args for --config without engaging pflag, so
// the config file's values can seed flag defaults before pflag.Parse runs.
func peekConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case len(a) > len("--config=") && a[:len("--config=")] == "--config=":
			return a[len("--config="):]
		}
	}
	return ""
}

func loadConfigFile(path string, defaults *fileDefaults) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := json.Unmarshal(standardized, defaults); err != nil {
		return fmt.Errorf("decoding config %q: %w", path, err)
	}
	return nil
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
