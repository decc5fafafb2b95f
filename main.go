package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"twin-chat/internal/config"
	"twin-chat/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "twin",
		Short:        "TWIN stock forecast chat",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: twin.yaml in . or $HOME/.twin)")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(loadConfig), newAskCmd(loadConfig), newPredictionsCmd(loadConfig))
	return root
}

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().
				Str("database", cfg.Database.Path).
				Str("forecast", cfg.Forecast.BaseURL).
				Int("port", cfg.Server.Port).
				Msg("Starting TWIN chat server")

			server, err := NewWebServer(cfg, !noScheduler)
			if err != nil {
				return err
			}
			defer server.Close()

			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "disable timed snapshots and idle eviction")
	return cmd
}
