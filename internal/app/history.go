// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/relabs-tech/cane_logger/internal/config"
	"github.com/relabs-tech/cane_logger/internal/logsink"
	"github.com/relabs-tech/cane_logger/internal/settings"
	"github.com/relabs-tech/cane_logger/internal/upload"
)

const historyUsage = "usage: history [list | delete <file>... | upload]"

// RunHistory lists, deletes or uploads persisted session files.
func RunHistory(args []string) error {
	cfg := config.Get()

	store, err := settings.OpenSQLite(cfg.SettingsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := logsink.New(cfg.WorkDir, cfg.HistoryDir, store)
	if err != nil {
		return err
	}
	return runHistory(context.Background(), cfg, sink, args, os.Stdout)
}

func runHistory(ctx context.Context, cfg *config.Config, history upload.History, args []string, out io.Writer) error {
	cmd := "list"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "list":
		files, err := history.History()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprintln(out, "history is empty")
			return nil
		}
		for _, f := range files {
			fmt.Fprintf(out, "%-6s %s\n", upload.Kind(f), f)
		}
		return nil

	case "delete":
		if len(args) == 0 {
			return fmt.Errorf("%s", historyUsage)
		}
		for _, f := range args {
			if err := history.Delete(f); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %s\n", f)
		}
		return nil

	case "upload":
		res, err := uploadHistory(ctx, cfg, history)
		for _, f := range res.Uploaded {
			fmt.Fprintf(out, "uploaded %s\n", f)
		}
		failed := make([]string, 0, len(res.Failed))
		for f := range res.Failed {
			failed = append(failed, f)
		}
		sort.Strings(failed)
		for _, f := range failed {
			fmt.Fprintf(out, "FAILED   %s: %v\n", f, res.Failed[f])
		}
		return err

	default:
		return fmt.Errorf("unknown command %q; %s", cmd, historyUsage)
	}
}
