package main

import (
	"fmt"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/ethpandaops/runkeeper/pkg/notify"
	"github.com/spf13/cobra"
)

// engine bundles the pieces offline commands work with.
type engine struct {
	cfg        *config.Config
	store      store.Store
	service    *execution.Service
	dispatcher *notify.Dispatcher
}

// openEngine loads the configuration and opens the database for commands
// that work without the API server.
func openEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := applyConfigLogLevel(cmd, cfg); err != nil {
		return nil, err
	}

	if err := cfg.API.Database.Validate(); err != nil {
		return nil, fmt.Errorf("validating database config: %w", err)
	}

	st := store.NewStore(log, &cfg.API.Database)
	if err := st.Start(cmd.Context()); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	dispatcher := notify.NewFromConfig(log, &cfg.API.Notifications, st, nil)

	return &engine{
		cfg:        cfg,
		store:      st,
		dispatcher: dispatcher,
		service: execution.NewService(log, st, cfg.API.Engine,
			execution.WithNotifier(dispatcher),
		),
	}, nil
}

func (e *engine) close() {
	if err := e.store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}
