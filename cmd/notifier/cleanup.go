package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitloop/notifier/internal/config"
	"github.com/habitloop/notifier/internal/logstore"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old delivery log entries",
	RunE:  runCleanup,
}

var cleanupDays int

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 90, "Delete delivery log entries older than N days")
	cleanupCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/notifier/config.yaml", "Path to configuration file")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logs, err := logstore.Open(cfg.LogStore.Path)
	if err != nil {
		return err
	}
	defer logs.Close()

	deleted, err := logs.Cleanup(context.Background(), time.Duration(cleanupDays)*24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d delivery log entries older than %d days\n", deleted, cleanupDays)
	return nil
}
