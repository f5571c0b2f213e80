// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	stdlog "log"

	"github.com/pkg/errors"
	"github.com/sessionlite/sessionlite"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

const usage = `Usage: sessionlite <command> [flags]

Commands:
  exec    run a statement:        sessionlite exec  --db app.db "DELETE FROM t WHERE id=1"
  query   run a query:            sessionlite query --db app.db "SELECT * FROM t"
  tables  list user tables:       sessionlite tables --db app.db
  backup  online copy to a file:  sessionlite backup --db app.db --to copy.db
`

type config struct {
	Path          string   `yaml:"path"`
	WAL           bool     `yaml:"wal"`
	PoolSize      int      `yaml:"pool_size"`
	BusyTimeoutMs int      `yaml:"busy_timeout_ms"`
	CacheKB       int      `yaml:"cache_kb"`
	Pragmas       []pragma `yaml:"pragmas"`
}

type pragma struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

func main() {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	if err := run(logger); err != nil {
		_ = logger.Log("err", err)
		os.Exit(1)
	}
}

func run(logger kitlog.Logger) error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("command required")
	}
	cmd := os.Args[1]

	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	var (
		dbPath       = fs.StringP("db", "d", "", "database file path")
		cfgPath      = fs.StringP("config", "c", "", "yaml config file")
		timeout      = fs.Duration("timeout", time.Minute, "whole-operation timeout")
		wal          = fs.Bool("wal", false, "open in WAL mode")
		backupTo     = fs.String("to", "", "backup destination file")
		pagesPerStep = fs.Int("pages-per-step", 0, "backup pages copied per step, 0 copies all at once")
		stepDelay    = fs.Duration("step-delay", 250*time.Millisecond, "pause between backup steps")
	)
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	cfg := config{WAL: *wal}
	if *cfgPath != "" {
		data, err := os.ReadFile(*cfgPath)
		if err != nil {
			return errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return errors.Wrap(err, "parse config")
		}
	}
	if *dbPath != "" {
		cfg.Path = *dbPath
	}
	if cfg.Path == "" {
		return errors.New("database path required (--db or config)")
	}

	opt := sessionlite.Options{
		Path:        cfg.Path,
		WAL:         cfg.WAL,
		PoolSize:    cfg.PoolSize,
		BusyTimeout: time.Duration(cfg.BusyTimeoutMs) * time.Millisecond,
		CacheKB:     cfg.CacheKB,
		Logger:      stdlog.New(os.Stderr, "sessionlite: ", stdlog.LstdFlags),
	}
	for _, p := range cfg.Pragmas {
		opt.Pragmas = append(opt.Pragmas, sessionlite.Pragma{Name: p.Name, Value: p.Value})
	}

	s, err := sessionlite.Open(opt)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			_ = logger.Log("msg", "close failed", "err", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "exec":
		if fs.NArg() != 1 {
			return errors.New("exec takes exactly one statement")
		}
		res, err := s.Execute(ctx, "cli_exec", fs.Arg(0))
		if err != nil {
			return err
		}
		return logger.Log("rows_affected", res.RowsAffected, "last_insert_id", res.LastInsertID)
	case "query":
		if fs.NArg() != 1 {
			return errors.New("query takes exactly one statement")
		}
		rows, err := s.FetchAll(ctx, "cli_query", fs.Arg(0))
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Println(formatRow(row))
		}
		return nil
	case "tables":
		tables, err := s.Tables(ctx)
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Println(t)
		}
		return nil
	case "backup":
		if *backupTo == "" {
			return errors.New("backup requires --to")
		}
		dst, err := sessionlite.Open(sessionlite.Options{Path: *backupTo, Logger: opt.Logger})
		if err != nil {
			return err
		}
		defer func() {
			if err := dst.Close(); err != nil {
				_ = logger.Log("msg", "close of destination failed", "err", err)
			}
		}()
		return s.Backup(ctx, dst, sessionlite.BackupOptions{
			PagesPerStep: *pagesPerStep,
			StepDelay:    *stepDelay,
			Progress: func(remaining, total int) {
				_ = logger.Log("msg", "backup progress", "remaining", remaining, "total", total)
			},
		})
	default:
		fmt.Fprint(os.Stderr, usage)
		return errors.Errorf("unknown command %q", cmd)
	}
}

func formatRow(row []any) string {
	var sb strings.Builder
	for i, v := range row {
		if i > 0 {
			sb.WriteByte('\t')
		}
		switch v := v.(type) {
		case nil:
			sb.WriteString("NULL")
		case []byte:
			fmt.Fprintf(&sb, "x'%x'", v)
		default:
			fmt.Fprintf(&sb, "%v", v)
		}
	}
	return sb.String()
}
