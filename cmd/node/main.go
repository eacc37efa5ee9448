// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	votemesh "github.com/luxfi/votemesh"
	"github.com/luxfi/votemesh/api/metrics"
	"github.com/luxfi/votemesh/cli"
	"github.com/luxfi/votemesh/config"
	"github.com/luxfi/votemesh/log"
	"github.com/luxfi/votemesh/telemetry"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "node <nodeId> <port> [peer1:port1 ...]",
	Short: "Run a votemesh peer: LAN discovery, anonymous ballots, cross-node consensus",
	Long: `node joins (or starts) a LAN voting mesh: it broadcasts a discovery beacon,
opens bidirectional links to every peer it finds, and runs rounds of hidden-ballot
voting with deterministic tallying and cross-node consensus agreement.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runNode,
}

func init() {
	rootCmd.Flags().Bool("no-gui", false, "disable the GUI observer fan-out")
	rootCmd.Flags().Bool("gui-only", false, "skip the interactive command prompt; serve GUI observers only")
	rootCmd.Flags().String("log-file", "", "write rotating JSON logs to this path instead of stdout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultNodeConfig()
	cfg.NodeID = args[0]

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}
	cfg.ListenPort = port
	cfg.Seeds = args[2:]

	cfg.NoGUI, _ = cmd.Flags().GetBool("no-gui")
	cfg.GUIOnly, _ = cmd.Flags().GetBool("gui-only")

	logFile, _ := cmd.Flags().GetString("log-file")

	var logger log.Logger
	if logFile != "" {
		logger = log.NewRotatingFile(cfg.NodeID, logFile)
	} else {
		logger, err = log.NewProduction(cfg.NodeID)
		if err != nil {
			return fmt.Errorf("construct logger: %w", err)
		}
	}

	registry := metrics.NewRegistry()
	nodeMetrics, err := telemetry.NewNodeMetrics("votemesh", registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	n, err := votemesh.New(cfg, logger, nodeMetrics)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- n.Run(ctx) }()

	if !cfg.GUIOnly {
		repl := cli.NewREPL(os.Stdin, os.Stdout, n, logger)
		repl.Run()
		cancel()
	}

	if err := <-runErrCh; err != nil {
		return fmt.Errorf("node run: %w", err)
	}
	return nil
}
