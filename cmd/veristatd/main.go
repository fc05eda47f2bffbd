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
	var (
		configPath  string
		redisURL    string
		dataDir     string
		listenAddr  string
		workers     int
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "veristatd",
		Short: "Veristat analysis daemon",
		Long: `veristatd runs the Veristat analysis engine: the HTTP API, the
worker pool that drains the job queue, and the stuck-job sweeper.

Configuration is read from the config file (default:
~/.config/veristat/config.yaml), overridden by VERISTAT_* environment
variables, overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("veristatd %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}

			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if redisURL != "" {
				cfg.RedisURL = redisURL
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if workers > 0 {
				cfg.Workers = workers
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
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis connection URL")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Root directory for run artifacts")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent workers")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "veristatd: %v\n", err)
		os.Exit(1)
	}
}
