// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veristat/veristat/internal/config"
	"github.com/veristat/veristat/internal/daemon"
	"github.com/veristat/veristat/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "veristat",
		Short: "Veristat - dataset analysis runs",
		Long: `Veristat submits datasets to a running veristatd daemon and
inspects the resulting analysis runs.

Run 'veristat serve' to start an all-in-one daemon in the foreground.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8384", "Daemon API address")

	root.AddCommand(newSubmitCommand(&addr))
	root.AddCommand(newStatusCommand(&addr))
	root.AddCommand(newArtifactCommand(&addr))
	root.AddCommand(newReportCommand(&addr))
	root.AddCommand(newListCommand(&addr))
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "veristat: %v\n", err)
		os.Exit(1)
	}
}

func newSubmitCommand(addr *string) *cobra.Command {
	var (
		target string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "submit <dataset.csv>",
		Short: "Submit a dataset for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			client := newClient(*addr)
			runConfig := map[string]any{}
			if target != "" {
				runConfig["target_column"] = target
			}
			runID, err := client.Submit(cmd.Context(), path, runConfig)
			if err != nil {
				return err
			}
			fmt.Println(runID)
			if !wait {
				return nil
			}
			status, err := client.WaitTerminal(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s\n", runID, status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target column for regression analysis")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the run reaches a terminal status")
	return cmd
}

func newStatusCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status and step progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(*addr).PrintJSON(cmd.Context(), "/v1/runs/"+args[0]+"/state", cmd.OutOrStdout())
		},
	}
}

func newArtifactCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact <run-id> <name>",
		Short: "Fetch a promoted artifact as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(*addr).PrintJSON(cmd.Context(),
				"/v1/runs/"+args[0]+"/artifacts/"+args[1], cmd.OutOrStdout())
		},
	}
}

func newReportCommand(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report <run-id>",
		Short: "Fetch the Markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(*addr).PrintRaw(cmd.Context(),
				"/v1/runs/"+args[0]+"/report", cmd.OutOrStdout())
		},
	}
}

func newListCommand(addr *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(*addr).PrintJSON(cmd.Context(),
				fmt.Sprintf("/v1/runs?limit=%d", limit), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

// newServeCommand runs the daemon in the foreground, for development and
// single-host deployments that don't want a separate veristatd unit.
func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return daemon.New(cfg, logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("veristat %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
