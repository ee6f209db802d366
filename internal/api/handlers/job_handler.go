package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

// JobSubmitter is the dispatcher as seen from the HTTP and WS surfaces.
type JobSubmitter interface {
	Submit(ctx context.Context, callID, userID int64, modality models.Modality, payload []byte) (string, error)
	Status(ctx context.Context, jobID string) (*models.JobRecord, error)
}

type JobHandler struct {
	jobs JobSubmitter
}

func NewJobHandler(jobs JobSubmitter) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type submitJobReq struct {
	CallID   int64  `json:"call_id" binding:"required,gt=0"`
	Modality string `json:"modality" binding:"required,oneof=audio video text"`
	Payload  []byte `json:"payload"` // base64 in JSON
}

func (h *JobHandler) Submit(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req submitJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "JobHandler.Submit", "invalid request body", err))
		return
	}

	id, err := h.jobs.Submit(c.Request.Context(), req.CallID, userID, models.Modality(req.Modality), req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

type jobStatusResp struct {
	JobID    string             `json:"job_id"`
	Status   models.JobStatus   `json:"status"`
	Progress int                `json:"progress"`
	Result   *models.RawVerdict `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (h *JobHandler) Status(c *gin.Context) {
	const op = "JobHandler.Status"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	rec, err := h.jobs.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	// someone else's job looks the same as a missing one
	if rec.UserID != userID {
		writeError(c, utils.E(utils.CodeNotFound, op, "job not found", nil))
		return
	}

	c.JSON(http.StatusOK, jobStatusResp{
		JobID:    rec.JobID,
		Status:   rec.Status,
		Progress: rec.Progress,
		Result:   rec.Result,
		Error:    rec.Error,
	})
}
