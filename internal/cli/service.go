package cli

import (
	"context"
	"fmt"

	"github.com/asteroid-belt/fieldsync/internal/config"
	"github.com/asteroid-belt/fieldsync/internal/connectivity"
	"github.com/asteroid-belt/fieldsync/internal/log"
	"github.com/asteroid-belt/fieldsync/internal/offline"
)

// openService loads configuration, starts file logging and initializes the
// offline service. The caller must call the returned close func.
func openService(ctx context.Context) (*offline.Service, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	paths := config.GetPaths(cfg)
	if err := log.Init(paths.Logs, cfg.LogLevel); err != nil {
		return nil, nil, nil, fmt.Errorf("initialize logging: %w", err)
	}

	opts := offline.OptionsFromConfig(cfg, log.L())
	if forceOffline {
		opts.Signal = connectivity.NewManualSignal(false)
	}

	svc := offline.New(opts)
	if err := svc.Init(ctx); err != nil {
		_ = log.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		if err := svc.Close(); err != nil {
			log.Errorf("close offline service: %v", err)
		}
		_ = log.Close()
	}
	return svc, cfg, closeFn, nil
}
