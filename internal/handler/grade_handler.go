package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
	"github.com/noah-isme/sma-marks-engine/pkg/response"
)

type gradeCalculator interface {
	ComputeGrade(ctx context.Context, total float64, subjectID string) (*models.GradeRecord, error)
	ComputeSGPA(ctx context.Context, studentID, semesterID string) (*models.GPAResult, error)
	ComputeCGPA(ctx context.Context, studentID string) (*models.GPAResult, error)
}

// GradeHandler exposes grade and GPA endpoints.
type GradeHandler struct {
	grades gradeCalculator
}

// NewGradeHandler constructs handler.
func NewGradeHandler(grades gradeCalculator) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// Compute godoc
// @Summary Grade a total against the subject's current table
// @Tags Grades
// @Produce json
// @Param subjectId query string true "Subject ID"
// @Param total query number true "Total marks"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /grades/compute [get]
func (h *GradeHandler) Compute(c *gin.Context) {
	subjectID, err := requiredQuery(c, "subjectId")
	if err != nil {
		response.Error(c, err)
		return
	}
	raw, err := requiredQuery(c, "total")
	if err != nil {
		response.Error(c, err)
		return
	}
	total, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "total must be a number"))
		return
	}
	grade, err := h.grades.ComputeGrade(c.Request.Context(), total, subjectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade)
}

// SGPA godoc
// @Summary Semester grade point average
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Param semesterId query string true "Semester ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/sgpa [get]
func (h *GradeHandler) SGPA(c *gin.Context) {
	semesterID, err := requiredQuery(c, "semesterId")
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.grades.ComputeSGPA(c.Request.Context(), c.Param("id"), semesterID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// CGPA godoc
// @Summary Cumulative grade point average over completed semesters
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/cgpa [get]
func (h *GradeHandler) CGPA(c *gin.Context) {
	result, err := h.grades.ComputeCGPA(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
