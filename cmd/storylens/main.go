/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"storylens/internal/config"
	"storylens/internal/crash"
	applog "storylens/internal/log"
	"storylens/internal/storage"
	"storylens/internal/telemetry"
	"storylens/internal/version"
)

func usage() {
	fmt.Println("StoryLens - macro aware story tooling")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  storylens version|-v|--version               Show version")
	fmt.Println("  storylens init <dir> <name>                   Create a new story at <dir>")
	fmt.Println("  storylens open <dir>                          Open story at <dir> and print summary")
	fmt.Println("  storylens scan <dir> <passage> <offset>       Show commands and evidence at a cursor offset")
	fmt.Println("  storylens evidence <dir>                      List evidence names referenced by the story")
	fmt.Println("  storylens where-used <dir> <name|$command>     List references to an evidence item or command type")
	fmt.Println("  storylens search <dir> <text>                 Full-text search over passages")
	fmt.Println("  storylens import <dir> <file.twee>            Replace the story with a twee file")
	fmt.Println("  storylens export-twee <dir> <out>             Write the story as twee source")
	fmt.Println("  storylens export-pdf <dir> <out>              Write a proof PDF")
	fmt.Println("  storylens startup <dir> <evidence.json>       Regenerate Startup, Footer and Evidence data")
	fmt.Println("  storylens attach <dir> <passage>              Edit a passage connected to the authoring service")
	fmt.Println("  storylens save-as <dir> <newdir>              Copy the story to a new folder")
	fmt.Println("  storylens snapshots <dir> <passage>           List saved texts of a passage")
	fmt.Println("  storylens restore <dir> <passage>             Restore the latest saved text of a passage")
	fmt.Println("  storylens push <dir>                          Upload the story to the repository server")
	fmt.Println("  storylens pull <dir> <id>                     Replace the story with one from the repository")
	fmt.Println("  storylens backend                             Run the repository server (Postgres)")
}

// current is the story a command works on; crash handling autosaves it.
var current *storage.StoryHandle

func main() {
	cfg, cfgPath, cfgErr := config.Load()
	applog.Init(logOptions(cfg))
	defer func() { _ = applog.Close() }()
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config load failed, using defaults", slog.String("path", cfgPath), slog.Any("err", cfgErr))
	}

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	tc := telemetry.New(tcfg)
	telemetry.SetDefault(tc)
	defer tc.Close()

	defer crash.RecoverWith(func() *storage.StoryHandle { return current })

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := args[1]
	err := run(ctx, cfg, cmd, args[2:])
	if errors.Is(err, errUsage) {
		fmt.Println(err)
		usage()
		tc.Close()
		os.Exit(2)
	}
	if err != nil {
		l.Error("command failed", slog.String("cmd", cmd), slog.Any("err", err))
		fmt.Println("Error:", err)
		tc.Close()
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func need(args []string, n int, what string) error {
	if len(args) < n {
		return fmt.Errorf("%w: requires %s", errUsage, what)
	}
	return nil
}

func run(ctx context.Context, cfg config.AppConfig, cmd string, args []string) error {
	switch cmd {
	case "version", "--version", "-v":
		fmt.Println("StoryLens")
		fmt.Println(version.String())
		return nil
	case "init":
		if err := need(args, 2, "<dir> and <name>"); err != nil {
			return err
		}
		return cmdInit(args[0], args[1])
	case "open":
		if err := need(args, 1, "<dir>"); err != nil {
			return err
		}
		return cmdOpen(ctx, args[0])
	case "scan":
		if err := need(args, 3, "<dir> <passage> <offset>"); err != nil {
			return err
		}
		off, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("%w: offset must be a number", errUsage)
		}
		return cmdScan(args[0], args[1], off)
	case "evidence":
		if err := need(args, 1, "<dir>"); err != nil {
			return err
		}
		return cmdEvidence(ctx, args[0])
	case "where-used":
		if err := need(args, 2, "<dir> and <name>"); err != nil {
			return err
		}
		return cmdWhereUsed(ctx, args[0], args[1])
	case "search":
		if err := need(args, 2, "<dir> and <text>"); err != nil {
			return err
		}
		return cmdSearch(ctx, args[0], args[1])
	case "import":
		if err := need(args, 2, "<dir> and <file.twee>"); err != nil {
			return err
		}
		return cmdImport(args[0], args[1])
	case "export-twee":
		if err := need(args, 2, "<dir> and <out>"); err != nil {
			return err
		}
		return cmdExportTwee(args[0], args[1])
	case "export-pdf":
		if err := need(args, 2, "<dir> and <out>"); err != nil {
			return err
		}
		return cmdExportPDF(args[0], args[1])
	case "startup":
		if err := need(args, 2, "<dir> and <evidence.json>"); err != nil {
			return err
		}
		return cmdStartup(args[0], args[1])
	case "attach":
		if err := need(args, 2, "<dir> and <passage>"); err != nil {
			return err
		}
		return cmdAttach(ctx, cfg, args[0], args[1], os.Stdin, os.Stdout)
	case "save-as":
		if err := need(args, 2, "<dir> and <newdir>"); err != nil {
			return err
		}
		return cmdSaveAs(args[0], args[1])
	case "snapshots":
		if err := need(args, 2, "<dir> and <passage>"); err != nil {
			return err
		}
		return cmdSnapshots(ctx, args[0], args[1])
	case "restore":
		if err := need(args, 2, "<dir> and <passage>"); err != nil {
			return err
		}
		return cmdRestore(ctx, args[0], args[1])
	case "push":
		if err := need(args, 1, "<dir>"); err != nil {
			return err
		}
		return cmdPush(ctx, cfg, args[0])
	case "pull":
		if err := need(args, 2, "<dir> and <id>"); err != nil {
			return err
		}
		return cmdPull(ctx, cfg, args[0], args[1])
	case "backend":
		return cmdBackend(ctx, cfg)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// logOptions builds logger options from the loaded config, which already
// carries the SLS_LOG_* overrides.
func logOptions(cfg config.AppConfig) applog.Options {
	opts := applog.FromEnv()
	if cfg.Logging.Level != "" {
		opts.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		opts.Format = cfg.Logging.Format
	}
	if cfg.Logging.File != "" {
		opts.File = cfg.Logging.File
	}
	opts.AddSource = opts.AddSource || cfg.Logging.Source
	return opts
}

func openStory(dir string) (*storage.StoryHandle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	h, err := storage.Open(abs)
	if err != nil {
		return nil, err
	}
	current = h
	return h, nil
}
