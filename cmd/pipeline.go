package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nutriplan/src/infrastructure/analytics"
	"nutriplan/src/infrastructure/backoff"
	"nutriplan/src/infrastructure/integrations/gamma"
	"nutriplan/src/infrastructure/integrations/llm"
	"nutriplan/src/infrastructure/job"
	"nutriplan/src/infrastructure/log"
	"nutriplan/src/jobctrl"
	"nutriplan/src/planflow"
	"nutriplan/src/storage/minioctrl"
	"nutriplan/src/storage/postgres/gammactrl"
	"nutriplan/src/storage/postgres/planctrl"
	"nutriplan/src/storage/postgres/questionnairectrl"
	"nutriplan/src/storage/postgres/ratelimitctrl"
)

// pipeline is the wired application graph shared by the serve and runjobs
// commands.
type pipeline struct {
	db             *gorm.DB
	questionnaires *questionnairectrl.QuestionnaireService
	plans          *planctrl.PlanService
	exports        *gammactrl.GammaService
	rateLimits     *ratelimitctrl.RateLimitService
	jobs           *job.Service
	gammaClient    *gamma.Client
	tracker        *analytics.Tracker
	closers        []func()
}

func (p *pipeline) close() {
	for _, closeFn := range p.closers {
		closeFn()
	}
}

func openDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&questionnairectrl.Questionnaire{},
		&planctrl.NutritionPlan{},
		&gammactrl.GammaGeneration{},
		&ratelimitctrl.RateLimitEntry{},
		&job.Job{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return db, nil
}

// buildPipeline wires every service from viper configuration. Optional
// integrations (AMQP analytics, MinIO archival, Gamma export) degrade to
// nil when unconfigured or unreachable; the LLM provider is required.
func buildPipeline(db *gorm.DB) (*pipeline, error) {
	p := &pipeline{db: db}

	var err error
	p.questionnaires, err = questionnairectrl.NewQuestionnaireService(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize questionnaire service: %v", err)
	}
	p.plans, err = planctrl.NewPlanService(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize plan service: %v", err)
	}
	p.exports, err = gammactrl.NewGammaService(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gamma service: %v", err)
	}
	p.rateLimits, err = ratelimitctrl.NewRateLimitService(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limit service: %v", err)
	}

	// Analytics publisher is best-effort: without AMQP events are log-only.
	amqpPublisher, err := wamqp.NewPublisher(
		wamqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		log.Error(err, "analytics publisher unavailable, events are log-only")
		p.tracker = analytics.NewTracker(nil)
	} else {
		p.tracker = analytics.NewTracker(amqpPublisher)
		p.closers = append(p.closers, func() { amqpPublisher.Close() })
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider:    viper.GetString("llm.provider"),
		GLMAPIKey:   viper.GetString("glm.api_key"),
		GLMEndpoint: viper.GetString("glm.endpoint"),
		GLMModel:    viper.GetString("glm.model"),
		OllamaURL:   viper.GetString("ollama.url"),
		OllamaModel: viper.GetString("ollama.model"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm provider: %v", err)
	}

	var exporter jobctrl.Exporter
	if apiKey := viper.GetString("gamma.api_key"); apiKey != "" {
		p.gammaClient = gamma.NewClient(viper.GetString("gamma.base_url"), apiKey, &http.Client{
			Timeout: 30 * time.Second,
		})
		exporter = p.gammaClient
	} else {
		log.Info("gamma api key not configured, plan export disabled")
	}

	var archiver jobctrl.Archiver
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
	if err != nil {
		log.Error(err, "minio unavailable, plan archival disabled")
	} else if err := minioService.EnsureBucketExists(context.Background(), minioctrl.PlanArchiveBucket); err != nil {
		log.Error(err, "minio bucket check failed, plan archival disabled")
	} else {
		archiver = minioService
	}

	task := jobctrl.NewPlanGenerationTask(
		p.plans,
		p.questionnaires,
		p.exports,
		planflow.NewFlow(provider),
		exporter,
		archiver,
		p.tracker,
		llmModelName(),
	)

	jobRepo, err := job.NewPostgresJobRepository(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job repository: %v", err)
	}

	lease, err := time.ParseDuration(viper.GetString("jobs.lease"))
	if err != nil {
		lease = job.DefaultLeaseDuration
	}

	p.jobs = job.NewService(jobRepo, task, p.plans, job.Config{
		Enabled:       viper.GetBool("features.async_plan_pipeline"),
		MaxAttempts:   viper.GetInt("jobs.max_attempts"),
		LeaseDuration: lease,
		Backoff:       backoff.DefaultStrategy(),
	})

	return p, nil
}

func llmModelName() string {
	if viper.GetString("llm.provider") == "ollama" {
		return viper.GetString("ollama.model")
	}
	return viper.GetString("glm.model")
}
