package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/service"
	"github.com/noah-isme/sma-marks-engine/pkg/response"
)

type marksWorkflow interface {
	SubmitAttempt(ctx context.Context, req service.SubmitAttemptRequest) (*models.InternalMarkRecord, error)
	Transition(ctx context.Context, req service.TransitionRequest) (*models.InternalMarkRecord, error)
	Override(ctx context.Context, req service.OverrideRequest) (*models.InternalMarkRecord, error)
	Get(ctx context.Context, recordID string) (*models.InternalMarkRecord, error)
	History(ctx context.Context, recordID string) ([]models.AuditEntry, error)
	ScheduleFreeze(ctx context.Context, recordIDs []string) (string, error)
}

type freezeJobRequest struct {
	RecordIDs []string `json:"record_ids" binding:"required,min=1,dive,required"`
}

// MarksHandler exposes the internal marks workflow.
type MarksHandler struct {
	workflow marksWorkflow
}

// NewMarksHandler constructs the handler.
func NewMarksHandler(workflow marksWorkflow) *MarksHandler {
	return &MarksHandler{workflow: workflow}
}

// SubmitAttempt godoc
// @Summary Record an assessment attempt
// @Description Creates the student's DRAFT record on first use, otherwise replaces the attempt while editing is open.
// @Tags Marks
// @Accept json
// @Produce json
// @Param payload body service.SubmitAttemptRequest true "Attempt scores"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /marks/attempts [post]
func (h *MarksHandler) SubmitAttempt(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	req.Actor = actor
	record, err := h.workflow.SubmitAttempt(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Get godoc
// @Summary Get an internal marks record
// @Tags Marks
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /marks/{id} [get]
func (h *MarksHandler) Get(c *gin.Context) {
	record, err := h.workflow.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// History godoc
// @Summary List the audit trail of a record
// @Tags Marks
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /marks/{id}/history [get]
func (h *MarksHandler) History(c *gin.Context) {
	entries, err := h.workflow.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

// Transition godoc
// @Summary Fire a workflow event
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.TransitionRequest true "Event"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /marks/{id}/transitions [post]
func (h *MarksHandler) Transition(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	req.RecordID = c.Param("id")
	req.Actor = actor
	record, err := h.workflow.Transition(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// Override godoc
// @Summary Re-open a record with a justification
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body service.OverrideRequest true "Override"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /marks/{id}/override [post]
func (h *MarksHandler) Override(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	req.RecordID = c.Param("id")
	req.Actor = actor
	record, err := h.workflow.Override(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// ScheduleFreeze godoc
// @Summary Queue a freeze of approved records
// @Tags Marks
// @Accept json
// @Produce json
// @Param payload body freezeJobRequest true "Records to freeze"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /marks/freeze-jobs [post]
func (h *MarksHandler) ScheduleFreeze(c *gin.Context) {
	var req freezeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	jobID, err := h.workflow.ScheduleFreeze(c.Request.Context(), req.RecordIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"job_id": jobID, "records": len(req.RecordIDs)})
}
