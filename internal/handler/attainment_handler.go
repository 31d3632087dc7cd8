package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-marks-engine/internal/middleware"
	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/service"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
	"github.com/noah-isme/sma-marks-engine/pkg/response"
)

type attainmentCalculator interface {
	ComputeCOAttainmentCached(ctx context.Context, cohortID, coID string) (*models.COAttainment, bool, error)
	ComputePOAttainmentCached(ctx context.Context, cohortID, poID string, opts service.POAttainmentOptions) (*models.POAttainment, bool, error)
}

// AttainmentHandler exposes cohort outcome attainment.
type AttainmentHandler struct {
	attainment attainmentCalculator
}

// NewAttainmentHandler constructs the handler.
func NewAttainmentHandler(attainment attainmentCalculator) *AttainmentHandler {
	return &AttainmentHandler{attainment: attainment}
}

// CO godoc
// @Summary Course outcome attainment for a cohort
// @Tags Attainment
// @Produce json
// @Param id path string true "Cohort ID"
// @Param coId path string true "Course outcome ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /cohorts/{id}/co/{coId} [get]
func (h *AttainmentHandler) CO(c *gin.Context) {
	result, cacheHit, err := h.attainment.ComputeCOAttainmentCached(c.Request.Context(), c.Param("id"), c.Param("coId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, result, middleware.ExtractMeta(c))
}

// PO godoc
// @Summary Program outcome attainment for a cohort
// @Tags Attainment
// @Produce json
// @Param id path string true "Cohort ID"
// @Param poId path string true "Program outcome ID"
// @Param partial query bool false "Aggregate over available course outcomes only"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /cohorts/{id}/po/{poId} [get]
func (h *AttainmentHandler) PO(c *gin.Context) {
	opts := service.POAttainmentOptions{}
	if raw := c.Query("partial"); raw != "" {
		partial, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "partial must be a boolean"))
			return
		}
		opts.AllowPartial = partial
	}
	result, cacheHit, err := h.attainment.ComputePOAttainmentCached(c.Request.Context(), c.Param("id"), c.Param("poId"), opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, result, middleware.ExtractMeta(c))
}
