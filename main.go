// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for pgkeeper.
//
// Usage:
//
//	go run . [flags]
//	./pgkeeper [flags]
//
// This launches the pgkeeper CLI. See --help for options.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/pgkeeper/pgkeeper/internal/cli"
)

// version is set at build time using -ldflags, e.g.:
// go build -ldflags "-X main.version=1.2.3"
var version = "dev"

// main is the entrypoint for the pgkeeper CLI.
func main() {
	if os.Getenv("PGKEEPER_SHOW_VERSION") == "1" {
		fmt.Fprintf(os.Stderr, "pgkeeper version: %s\n", version)
	}

	if err := cli.Execute(); err != nil {
		log.Printf("pgkeeper CLI error: %v", err)
		os.Exit(1)
	}
}
