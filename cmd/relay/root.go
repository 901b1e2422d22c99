package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/relay"
	"github.com/hyp3rd/relay/pkg/supervisor"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Telemetry ingestion and fan-out pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newCheckCmd())

	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := relay.Init(ctx, relay.WithLoaders(
				config.FileLoader{Path: configPath},
				config.EnvLoader{},
			))
			if err != nil {
				return err
			}

			err = client.Run(ctx)
			if errors.Is(err, supervisor.ErrDrainDeadline) {
				// Telemetry was lost; make the exit status say so.
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	return cmd
}

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context(),
				config.FileLoader{Path: configPath},
				config.EnvLoader{},
			)
			if err != nil {
				return err
			}

			fmt.Printf("configuration valid: %d sink(s), %d processor(s)\n",
				len(cfg.Sinks), len(cfg.Processors))

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	}
}
