/*
Copyright © 2024 Dean
*/
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpHdlr "nutriplan/handler/http"
	"nutriplan/src/infrastructure/log"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nutrition plan API server",
	Long: `The serve command starts the HTTP API and an in-process runner
loop that executes queued plan-generation jobs.`,
	Run: RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	settingDefaultConfig()
}

func RunServer(cmd *cobra.Command, args []string) {
	db, err := openDatabase()
	if err != nil {
		log.Error(err, "Failed to connect to database")
		return
	}

	p, err := buildPipeline(db)
	if err != nil {
		log.Error(err, "Failed to build application")
		return
	}
	defer p.close()

	handler := httpHdlr.NewHandler(
		p.questionnaires,
		p.plans,
		p.exports,
		p.rateLimits,
		p.jobs,
		p.gammaClient,
		p.tracker,
		viper.GetString("jobs.internal_secret"),
	)

	// Setup gin router
	r := gin.Default()
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			return
		}
	}()

	// Start the runner loop
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	go runnerLoop(runnerCtx, p)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")
	stopRunner()

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Get underlying *sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		log.Error(err, "Failed to get underlying *sql.DB")
	} else {
		// Close database connection
		if err := sqlDB.Close(); err != nil {
			log.Error(err, "Error closing database connection")
		}
	}

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
}

// runnerLoop periodically claims and executes due jobs until ctx is
// cancelled. A pass that fills its batch immediately runs another one so a
// backlog drains faster than the tick interval.
func runnerLoop(ctx context.Context, p *pipeline) {
	interval, err := time.ParseDuration(viper.GetString("jobs.poll_interval"))
	if err != nil || interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	const batchSize = 5
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				summary, err := p.jobs.RunBatch(ctx, batchSize)
				if err != nil {
					log.Error(err, "runner pass failed")
					break
				}
				if summary.Claimed > 0 {
					log.Info("runner pass finished",
						"claimed", summary.Claimed,
						"completed", summary.Completed,
						"retried", summary.Retried,
						"failed", summary.Failed,
					)
				}
				if summary.Claimed < batchSize {
					break
				}
			}
		}
	}
}
