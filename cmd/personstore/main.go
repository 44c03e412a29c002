// Command personstore is the thin bootstrap harness around the
// personstore library: it loads configuration from the environment,
// connects to Postgres, runs pending migrations, and exits. It exists so
// the schema can be brought up-to-date (e.g. in a deploy init step)
// without a caller writing Go — everything else in this module is a
// library consumed by embedding, not a network service (spec.md §1
// excludes the banking business services this store backs).
package main

import (
	"context"
	"fmt"
	"os"

	personstore "github.com/LerianStudio/person-data-store"
	"github.com/LerianStudio/person-data-store/internal/config"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
)

func main() {
	logger, err := log.NewZap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	defer func() { _ = logger.Sync() }()

	cfg := config.FromEnv()

	ctx := context.Background()

	store, err := personstore.Open(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("failed to open person data store: %v", err)
		os.Exit(1)
	}

	_ = store

	logger.Info("person data store migrated and reachable")
}
