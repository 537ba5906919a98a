package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run detection on a fixed interval",
	Long: `Run the detection pipeline periodically, refreshing the filtered
configuration as subscriptions change. Runs once immediately, then on every
interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		precise, _ := cmd.Flags().GetBool("precise")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := runOptions{precise: precise}

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if err := runPipeline(ctx, opts); err != nil {
					log.Errorf("scheduled run failed: %v", err)
				}
			}),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule runs: %w", err)
		}

		scheduler.Start()
		log.WithField("interval", interval.String()).Info("watching")

		<-ctx.Done()
		return scheduler.Shutdown()
	},
}

func init() {
	watchCmd.Flags().Duration("interval", 6*time.Hour, "time between runs")
	watchCmd.Flags().BoolP("precise", "p", false, "probe real egress IPs on each run")

	rootCmd.AddCommand(watchCmd)
}
