package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nutriplan/src/infrastructure/analytics"
	"nutriplan/src/infrastructure/job"
	"nutriplan/src/questionnaire"
)

type completeQuestionnaireRequest struct {
	Answers json.RawMessage `json:"answers" binding:"required"`
}

// CompleteQuestionnaire accepts a finished questionnaire, versions it,
// creates the plan shell and queues generation. The response is 202: the
// plan body is produced asynchronously and polled via the status endpoint.
func (h *Handler) CompleteQuestionnaire(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req completeQuestionnaireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	answers, err := questionnaire.ParseAnswers(req.Answers)
	if err != nil {
		sendError(c, http.StatusBadRequest, "INVALID_ANSWERS", err)
		return
	}

	ctx := c.Request.Context()

	q, err := h.questionnaires.Create(ctx, uid, req.Answers)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to save questionnaire"))
		return
	}

	plan, err := h.plans.Create(ctx, uid, q.ID, fmt.Sprintf("%s's Nutrition Plan", answers.FirstName))
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("failed to create plan"))
		return
	}

	queued, err := h.jobs.Enqueue(ctx, job.EnqueueInput{
		UserID:               uid,
		PlanID:               plan.ID,
		QuestionnaireID:      q.ID,
		QuestionnaireVersion: q.Version,
		Trigger:              job.TriggerQuestionnaireComplete,
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
		h.tracker.Track(analytics.EventQuestionnaireCompleted, map[string]interface{}{
			"userID":  uid,
			"version": q.Version,
		})
		h.tracker.Track(analytics.EventPlanQueued, map[string]interface{}{
			"userID": uid,
			"planID": plan.ID,
		})
	}

	c.JSON(http.StatusAccepted, gin.H{
		"questionnaireId":      strconv.FormatInt(q.ID, 10),
		"questionnaireVersion": q.Version,
		"planId":               strconv.FormatInt(plan.ID, 10),
		"planStatus":           plan.Status,
		"jobId":                strconv.FormatInt(queued.ID, 10),
		"jobStatus":            queued.Status,
	})
}
