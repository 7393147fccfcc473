/*
main.go - Application entry point

PURPOSE:
  Runs the tracker CLI. See cli/root.go for commands and flags.

EXAMPLES:
  # Serve with a config file
  ./tracker serve --config ./tracker.yaml

  # Serve against Postgres, keep going while it is down
  TRACKER_REMOTE_DRIVER=postgres \
  TRACKER_REMOTE_DSN="postgres://tracker@localhost/tracker?sslmode=disable" \
  TRACKER_STARTUP_MODE=best-effort ./tracker serve

  # CSV export of January
  ./tracker export --format csv --from 2024-01-01 --to 2024-01-31 -o jan.csv
*/
package main

import (
	"os"

	"github.com/warp/delivery-tracker/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
