// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command history lists, deletes and uploads persisted session files.
package main

import (
	"log"
	"os"

	"github.com/relabs-tech/cane_logger/internal/app"
	"github.com/relabs-tech/cane_logger/internal/config"
)

func main() {
	if err := config.InitGlobal("cane_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunHistory(os.Args[1:]); err != nil {
		log.Fatalf("history: %v", err)
	}
}
