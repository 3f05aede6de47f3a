/*
Copyright © 2024 Dean
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nutriplan",
	Short: "Nutrition plan generation service",
	Long: `nutriplan serves the questionnaire and plan API and runs the
asynchronous plan-generation pipeline.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
