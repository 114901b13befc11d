// migrate applies the local state database migrations from embedded SQL; go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alanmathew190/EventManagementSystem/internal/config"
	"github.com/alanmathew190/EventManagementSystem/internal/db"
	"github.com/alanmathew190/EventManagementSystem/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	path := cfg.DatabasePath()
	if err := db.EnsureDir(path); err != nil {
		fmt.Fprintln(os.Stderr, "state dir:", err)
		os.Exit(1)
	}

	if err := migrate.Run(path, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("migrate: %s %s\n", path, *direction)
}
