package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nutriplan/src/infrastructure/job"
)

var runJobsMax int

// runJobsCmd executes one runner pass and exits. Intended for cron-style
// scheduling and for draining queues by hand.
var runJobsCmd = &cobra.Command{
	Use:   "runjobs",
	Short: "Execute one batch of queued plan-generation jobs",
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(runJobsCmd)
	runJobsCmd.Flags().IntVar(&runJobsMax, "max", 5, "maximum jobs to claim in this pass")

	settingDefaultConfig()
}

func runJobs(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	p, err := buildPipeline(db)
	if err != nil {
		return err
	}
	defer p.close()

	summary, err := p.jobs.RunBatch(context.Background(), runJobsMax)
	if err != nil {
		return fmt.Errorf("runner pass failed: %v", err)
	}

	fmt.Printf("claimed=%d completed=%d retried=%d failed=%d\n",
		summary.Claimed, summary.Completed, summary.Retried, summary.Failed)

	if job.MaxBatchSize < runJobsMax {
		fmt.Printf("note: batch size capped at %d\n", job.MaxBatchSize)
	}
	return nil
}
