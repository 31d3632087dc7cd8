package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/service"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

type fakeWorkflow struct {
	submitted  service.SubmitAttemptRequest
	transition service.TransitionRequest
	override   service.OverrideRequest
	frozen     []string
	err        error
	record     *models.InternalMarkRecord
	history    []models.AuditEntry
}

func (f *fakeWorkflow) SubmitAttempt(_ context.Context, req service.SubmitAttemptRequest) (*models.InternalMarkRecord, error) {
	f.submitted = req
	return f.record, f.err
}

func (f *fakeWorkflow) Transition(_ context.Context, req service.TransitionRequest) (*models.InternalMarkRecord, error) {
	f.transition = req
	return f.record, f.err
}

func (f *fakeWorkflow) Override(_ context.Context, req service.OverrideRequest) (*models.InternalMarkRecord, error) {
	f.override = req
	return f.record, f.err
}

func (f *fakeWorkflow) Get(_ context.Context, recordID string) (*models.InternalMarkRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.InternalMarkRecord{ID: recordID, State: models.StateDraft}, nil
}

func (f *fakeWorkflow) History(context.Context, string) ([]models.AuditEntry, error) {
	return f.history, f.err
}

func (f *fakeWorkflow) ScheduleFreeze(_ context.Context, ids []string) (string, error) {
	f.frozen = ids
	return "job-1", f.err
}

func marksRouter(workflow *fakeWorkflow, actor *models.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMarksHandler(workflow)
	r := gin.New()
	r.Use(withActor(actor))
	r.POST("/marks/attempts", h.SubmitAttempt)
	r.GET("/marks/:id", h.Get)
	r.GET("/marks/:id/history", h.History)
	r.POST("/marks/:id/transitions", h.Transition)
	r.POST("/marks/:id/override", h.Override)
	r.POST("/marks/freeze-jobs", h.ScheduleFreeze)
	return r
}

var handlerTeacher = models.Actor{ID: "teacher-1", Role: models.RoleTeacher}

func TestMarksHandlerSubmitAttempt(t *testing.T) {
	workflow := &fakeWorkflow{record: &models.InternalMarkRecord{ID: "rec-1", State: models.StateDraft, BestInternal: 18}}
	rec := perform(marksRouter(workflow, &handlerTeacher), http.MethodPost, "/marks/attempts", map[string]interface{}{
		"student_id":            "student-1",
		"subject_assignment_id": "sa-1",
		"exam_id":               "exam-1",
		"entries":               []map[string]interface{}{{"question_id": "q1", "obtained": 8}},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, handlerTeacher, workflow.submitted.Actor)
	assert.Equal(t, "exam-1", workflow.submitted.ExamID)
	require.Len(t, workflow.submitted.Entries, 1)
	assert.Equal(t, 8.0, workflow.submitted.Entries[0].Obtained)

	var record models.InternalMarkRecord
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &record))
	assert.Equal(t, "rec-1", record.ID)
}

func TestMarksHandlerRequiresActor(t *testing.T) {
	rec := perform(marksRouter(&fakeWorkflow{}, nil), http.MethodPost, "/marks/attempts", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMarksHandlerInvalidPayload(t *testing.T) {
	rec := perform(marksRouter(&fakeWorkflow{}, &handlerTeacher), http.MethodPost, "/marks/rec-1/transitions", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decode(t, rec).Error.Code)
}

func TestMarksHandlerTransitionMapsErrors(t *testing.T) {
	workflow := &fakeWorkflow{err: appErrors.Clone(appErrors.ErrInvalidTransition, "APPROVE not allowed from DRAFT")}
	rec := perform(marksRouter(workflow, &handlerTeacher), http.MethodPost, "/marks/rec-9/transitions", map[string]string{"event": "APPROVE"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, decode(t, rec).Error.Code)
	assert.Equal(t, "rec-9", workflow.transition.RecordID)
	assert.Equal(t, models.EventApprove, workflow.transition.Event)
}

func TestMarksHandlerOverride(t *testing.T) {
	workflow := &fakeWorkflow{record: &models.InternalMarkRecord{ID: "rec-1", State: models.StateDraft, Revision: 1}}
	rec := perform(marksRouter(workflow, &handlerTeacher), http.MethodPost, "/marks/rec-1/override", map[string]interface{}{
		"justification": "re-evaluation",
		"exam_id":       "exam-1",
		"entries":       []map[string]interface{}{{"question_id": "q1", "obtained": 9}},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rec-1", workflow.override.RecordID)
	assert.Equal(t, "re-evaluation", workflow.override.Justification)
	assert.Equal(t, handlerTeacher, workflow.override.Actor)
}

func TestMarksHandlerReads(t *testing.T) {
	workflow := &fakeWorkflow{history: []models.AuditEntry{{Sequence: 1}, {Sequence: 2}}}
	r := marksRouter(workflow, &handlerTeacher)

	rec := perform(r, http.MethodGet, "/marks/rec-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = perform(r, http.MethodGet, "/marks/rec-1/history", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec).Meta["count"])

	workflow.err = appErrors.ErrNotFound
	rec = perform(r, http.MethodGet, "/marks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarksHandlerScheduleFreeze(t *testing.T) {
	workflow := &fakeWorkflow{}
	r := marksRouter(workflow, &handlerTeacher)

	rec := perform(r, http.MethodPost, "/marks/freeze-jobs", map[string][]string{"record_ids": {"rec-1", "rec-2"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"rec-1", "rec-2"}, workflow.frozen)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &body))
	assert.Equal(t, "job-1", body["job_id"])

	rec = perform(r, http.MethodPost, "/marks/freeze-jobs", map[string][]string{"record_ids": {}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
