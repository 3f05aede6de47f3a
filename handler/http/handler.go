package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nutriplan/src/infrastructure/analytics"
	"nutriplan/src/infrastructure/integrations/gamma"
	"nutriplan/src/infrastructure/job"
	"nutriplan/src/storage/postgres/gammactrl"
	"nutriplan/src/storage/postgres/planctrl"
	"nutriplan/src/storage/postgres/questionnairectrl"
	"nutriplan/src/storage/postgres/ratelimitctrl"
)

// Handler carries every service the public API touches.
type Handler struct {
	questionnaires *questionnairectrl.QuestionnaireService
	plans          *planctrl.PlanService
	exports        *gammactrl.GammaService
	rateLimits     *ratelimitctrl.RateLimitService
	jobs           *job.Service
	gammaClient    *gamma.Client
	tracker        *analytics.Tracker

	// internalJobSecret protects the runner endpoint; empty disables it.
	internalJobSecret string
}

func NewHandler(
	questionnaires *questionnairectrl.QuestionnaireService,
	plans *planctrl.PlanService,
	exports *gammactrl.GammaService,
	rateLimits *ratelimitctrl.RateLimitService,
	jobs *job.Service,
	gammaClient *gamma.Client,
	tracker *analytics.Tracker,
	internalJobSecret string,
) *Handler {
	return &Handler{
		questionnaires:    questionnaires,
		plans:             plans,
		exports:           exports,
		rateLimits:        rateLimits,
		jobs:              jobs,
		gammaClient:       gammaClient,
		tracker:           tracker,
		internalJobSecret: internalJobSecret,
	}
}

// RegisterRoutes registers the public API and the internal runner endpoint.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(RequestID(), RequestLogger())

	api := r.Group("/api/v1")
	api.GET("/health", h.CheckHealth)

	api.POST("/questionnaire/complete", h.CompleteQuestionnaire)

	api.GET("/plans/latest", h.GetLatestPlan)
	api.GET("/plans/:id/status", h.GetPlanStatus)
	api.POST("/plans/:id/regenerate",
		h.rateLimit("plan.regenerate", 3, 3600),
		h.RegeneratePlan,
	)

	internal := r.Group("/internal")
	internal.POST("/jobs/run", h.requireJobSecret(), h.RunJobs)
}

func (h *Handler) CheckHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}
