package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitloop/notifier/internal/app"
	"github.com/habitloop/notifier/internal/config"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a one-shot batch over due notifications (for cron)",
	RunE:  runProcess,
}

var (
	processID      string
	processOverdue bool
)

func init() {
	processCmd.Flags().StringVar(&processID, "id", "", "Process a single notification by id")
	processCmd.Flags().BoolVar(&processOverdue, "overdue", false, "List overdue notifications without processing")
	processCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/notifier/config.yaml", "Path to configuration file")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	// one-shot runs never need the ticker loop
	cfg.Worker.Enabled = false

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	now := time.Now()

	if processOverdue {
		overdue, err := a.Scanner().FindOverdue(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("Overdue notifications: %d\n", len(overdue))
		for _, n := range overdue {
			fmt.Printf("  %s  %q  scheduled %s  status %s\n",
				n.ID, n.Title, n.ScheduledAt.Format(time.RFC3339), n.Status)
		}
		return nil
	}

	if processID != "" {
		res, err := a.Dispatcher().Process(ctx, processID)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %s: targeted %d, sent %d, failed %d\n",
			res.NotificationID, res.TotalTargeted, res.SuccessfulDeliveries, res.FailedDeliveries)
		return nil
	}

	run, err := a.Dispatcher().ProcessAll(ctx, now)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d notifications\n", run.ProcessedCount)
	for _, r := range run.Results {
		fmt.Printf("  %s: targeted %d, sent %d, failed %d\n",
			r.NotificationID, r.TotalTargeted, r.SuccessfulDeliveries, r.FailedDeliveries)
	}
	for _, e := range run.Errors {
		fmt.Printf("  %s: ERROR %s\n", e.NotificationID, e.Error)
	}
	return nil
}
