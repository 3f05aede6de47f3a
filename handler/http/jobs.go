package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type runJobsRequest struct {
	MaxJobs int `json:"maxJobs"`
}

// RunJobs executes one runner pass. It is invoked by the scheduler (cron
// or an operator) rather than end users, hence the secret guard.
func (h *Handler) RunJobs(c *gin.Context) {
	var req runJobsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
			return
		}
	}
	if req.MaxJobs <= 0 {
		req.MaxJobs = 5
	}

	summary, err := h.jobs.RunBatch(c.Request.Context(), req.MaxJobs)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Errorf("runner pass failed"))
		return
	}

	c.JSON(http.StatusOK, summary)
}
