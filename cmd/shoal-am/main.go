package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/warren/pkg/appmaster"
	"github.com/cuemby/warren/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shoal-am",
	Short: "shoal-am runs an Application Master for one distributed application",
	Long: `shoal-am is the per-application controller that negotiates containers
from the cluster resource manager, launches and supervises a declared set of
runnables, and mediates scaling, shutdown, and credential rotation for them.

It is meant to run as the process inside the first container the resource
manager grants an application, reading its configuration entirely from the
environment and the staged application spec (see README for the variables
consumed).`,
	Version: Version,
	RunE:    runAppMaster,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"shoal-am version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runAppMaster(cmd *cobra.Command, args []string) error {
	cfg, err := appmaster.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	am, err := appmaster.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize application master: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, draining")
		am.Stop()
	}()

	return am.Run(ctx)
}
