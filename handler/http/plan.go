package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nutriplan/src/infrastructure/analytics"
	"nutriplan/src/infrastructure/job"
	"nutriplan/src/infrastructure/log"
	"nutriplan/src/storage/postgres/gammactrl"
	"nutriplan/src/storage/postgres/planctrl"
)

// GetLatestPlan returns the caller's newest plan with its export state.
func (h *Handler) GetLatestPlan(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	plan, err := h.plans.GetLatestByUser(c.Request.Context(), uid)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to load plan"))
		return
	}
	if plan == nil {
		sendError(c, http.StatusNotFound, "NOT_FOUND", fmt.Errorf("no plan found"))
		return
	}

	export, err := h.exports.GetByPlanID(c.Request.Context(), plan.ID)
	if err != nil {
		log.Error(err, "failed to load export record", "planID", plan.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":   plan,
		"export": export,
	})
}

// GetPlanStatus is the polling endpoint the questionnaire flow uses while
// generation runs. While an export is pending it also refreshes the export
// state from the Gamma API.
func (h *Handler) GetPlanStatus(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	planID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Errorf("invalid plan id"))
		return
	}

	ctx := c.Request.Context()
	plan, err := h.plans.GetByID(ctx, planID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to load plan"))
		return
	}
	if plan == nil || plan.UserID != uid {
		sendError(c, http.StatusNotFound, "NOT_FOUND", fmt.Errorf("plan not found"))
		return
	}

	export, err := h.exports.GetByPlanID(ctx, plan.ID)
	if err != nil {
		log.Error(err, "failed to load export record", "planID", plan.ID)
	}
	if export != nil && export.Status == gammactrl.StatusPending {
		export = h.refreshExport(c, export)
	}

	response := gin.H{
		"planId":     strconv.FormatInt(plan.ID, 10),
		"planStatus": plan.Status,
	}
	if plan.Status == planctrl.PlanStatusFailed && plan.Error != nil {
		response["error"] = *plan.Error
	}
	if export != nil {
		response["export"] = gin.H{
			"status":   export.Status,
			"gammaUrl": export.GammaURL,
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) refreshExport(c *gin.Context, export *gammactrl.GammaGeneration) *gammactrl.GammaGeneration {
	if h.gammaClient == nil || export.GenerationID == "" {
		return export
	}

	ctx := c.Request.Context()
	polled, err := h.gammaClient.PollStatus(ctx, export.GenerationID)
	if err != nil {
		log.Error(err, "failed to poll export status", "planID", export.NutritionPlanID)
		return export
	}

	update := gammactrl.PollUpdate{
		Status:       gammactrl.ExportStatus(polled.Status),
		GenerationID: polled.GenerationID,
		GammaURL:     polled.GammaURL,
	}
	if polled.Status == "failed" {
		msg := polled.Error
		if msg == "" {
			msg = "export failed"
		}
		update.Error = &msg
	}

	if err := h.exports.Update(ctx, export.NutritionPlanID, update); err != nil {
		log.Error(err, "failed to record polled export state", "planID", export.NutritionPlanID)
		return export
	}

	refreshed, err := h.exports.GetByPlanID(ctx, export.NutritionPlanID)
	if err != nil || refreshed == nil {
		return export
	}
	return refreshed
}

// RegeneratePlan creates a new plan version from the caller's active
// questionnaire and queues generation for it. The idempotency key covers
// (user, questionnaire version, plan), so each regeneration gets a fresh
// plan row rather than colliding with the finished one.
func (h *Handler) RegeneratePlan(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	previousID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", fmt.Errorf("invalid plan id"))
		return
	}

	ctx := c.Request.Context()
	previous, err := h.plans.GetByID(ctx, previousID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to load plan"))
		return
	}
	if previous == nil || previous.UserID != uid {
		sendError(c, http.StatusNotFound, "NOT_FOUND", fmt.Errorf("plan not found"))
		return
	}

	q, err := h.questionnaires.GetActiveByUser(ctx, uid)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to load questionnaire"))
		return
	}
	if q == nil {
		sendError(c, http.StatusConflict, "NO_QUESTIONNAIRE", fmt.Errorf("no active questionnaire to regenerate from"))
		return
	}

	plan, err := h.plans.Create(ctx, uid, q.ID, previous.Title)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to create plan"))
		return
	}

	queued, err := h.jobs.Enqueue(ctx, job.EnqueueInput{
		UserID:               uid,
		PlanID:               plan.ID,
		QuestionnaireID:      q.ID,
		QuestionnaireVersion: q.Version,
		Trigger:              job.TriggerRegenerate,
	})
	if err != nil {
		if errors.Is(err, job.ErrPipelineDisabled) {
			sendError(c, http.StatusConflict, "PIPELINE_DISABLED", err)
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to queue plan generation"))
		return
	}

	if h.tracker != nil {
		h.tracker.Track(analytics.EventPlanQueued, map[string]interface{}{
			"userID":  uid,
			"planID":  plan.ID,
			"trigger": job.TriggerRegenerate,
		})
	}

	c.JSON(http.StatusAccepted, gin.H{
		"planId":     strconv.FormatInt(plan.ID, 10),
		"planStatus": plan.Status,
		"jobId":      strconv.FormatInt(queued.ID, 10),
		"jobStatus":  queued.Status,
	})
}
