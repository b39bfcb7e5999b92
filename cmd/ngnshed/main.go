package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/ngnshed/internal/api"
	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/backend/echo"
	"github.com/seantiz/ngnshed/internal/backend/remote"
	"github.com/seantiz/ngnshed/internal/config"
	"github.com/seantiz/ngnshed/internal/engine"
	"github.com/seantiz/ngnshed/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("ngnshed failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath, listenAddr string

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		return cfg, nil
	}

	root := &cobra.Command{
		Use:           "ngnshed",
		Short:         "HTTP server that hands connection requests to per-connection engines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default $NGNSHED_CONFIG or ./ngnshed.yaml)")
	root.PersistentFlags().StringVar(&listenAddr, "listen", "", "override the listen address")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return root
}

func serve(cfg *config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.Level())
	slog.SetDefault(logger)

	logger.Info("ngnshed: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engine_capacity", cfg.Engine.Capacity,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reg := backend.NewRegistry()
	reg.Register(config.BuiltinEngineType, echo.New())
	for _, rc := range cfg.Remotes {
		reg.Register(rc.EngineType, remote.New(rc.Network, rc.Address,
			remote.WithName("remote-"+rc.EngineType),
			remote.WithMaxConcurrency(rc.MaxConcurrency),
		))
		logger.Info("registered remote engine type",
			"engine_type", rc.EngineType, "network", rc.Network, "address", rc.Address)
	}

	broker := engine.NewEventBroker()
	disp := engine.NewDispatcher(reg, db, broker, logger, engine.Options{
		Capacity:    cfg.Engine.Capacity,
		IdleTimeout: cfg.Engine.IdleTimeout,
		PollRate:    rate.Limit(cfg.Engine.PollRate),
		PollBurst:   cfg.Engine.PollBurst,
	})

	srv := api.NewServer(cfg.ListenAddr, db, disp, broker, cfg.Shed.RequestBufferSize, logger)
	if err := srv.Run(); err != nil {
		return err
	}

	// Closed connections abort their sheds; let the runners record their exits.
	disp.Wait()
	return nil
}
