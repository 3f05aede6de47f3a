package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nutriplan/src/infrastructure/integrations/gamma"
	"nutriplan/src/storage/postgres/gammactrl"
)

var (
	exportWaitPlanID  int64
	exportWaitTimeout time.Duration
)

// exportWaitCmd polls the Gamma API until a plan's document export
// finishes, for operators verifying an export by hand.
var exportWaitCmd = &cobra.Command{
	Use:   "exportwait",
	Short: "Wait for a plan's document export to finish",
	RunE:  runExportWait,
}

func init() {
	rootCmd.AddCommand(exportWaitCmd)
	exportWaitCmd.Flags().Int64Var(&exportWaitPlanID, "plan", 0, "plan id to wait for")
	exportWaitCmd.MarkFlagRequired("plan")
	exportWaitCmd.Flags().DurationVar(&exportWaitTimeout, "timeout", 10*time.Minute, "give up after this long")

	settingDefaultConfig()
}

func runExportWait(cmd *cobra.Command, args []string) error {
	apiKey := viper.GetString("gamma.api_key")
	if apiKey == "" {
		return fmt.Errorf("gamma api key is not configured")
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	exports, err := gammactrl.NewGammaService(db)
	if err != nil {
		return err
	}

	record, err := exports.GetByPlanID(context.Background(), exportWaitPlanID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("no export record for plan %d", exportWaitPlanID)
	}
	if record.GenerationID == "" {
		return fmt.Errorf("export for plan %d has not started", exportWaitPlanID)
	}

	client := gamma.NewClient(viper.GetString("gamma.base_url"), apiKey, &http.Client{
		Timeout: 30 * time.Second,
	})

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("waiting for export of plan %d", exportWaitPlanID)),
		progressbar.OptionSpinnerType(14),
	)

	ctx, cancel := context.WithTimeout(context.Background(), exportWaitTimeout)
	defer cancel()

	for {
		result, err := client.PollStatus(ctx, record.GenerationID)
		if err != nil {
			return fmt.Errorf("failed to poll export status: %v", err)
		}

		update := gammactrl.PollUpdate{
			Status:       gammactrl.ExportStatus(result.Status),
			GenerationID: result.GenerationID,
			GammaURL:     result.GammaURL,
		}
		if result.Status == "failed" && result.Error != "" {
			update.Error = &result.Error
		}
		if err := exports.Update(ctx, exportWaitPlanID, update); err != nil {
			return fmt.Errorf("failed to record export status: %v", err)
		}

		switch result.Status {
		case "completed":
			bar.Finish()
			fmt.Printf("\nexport completed: %s\n", result.GammaURL)
			if result.ExportURL != "" {
				fmt.Printf("download: %s\n", result.ExportURL)
			}
			return nil
		case "failed":
			bar.Finish()
			return fmt.Errorf("export failed: %s", result.Error)
		}

		bar.Add(1)
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for export of plan %d", exportWaitPlanID)
		case <-time.After(5 * time.Second):
		}
	}
}
