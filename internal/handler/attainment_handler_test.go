package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-marks-engine/internal/middleware"
	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/service"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

type fakeAttainment struct {
	hit  bool
	opts service.POAttainmentOptions
	err  error
}

func (f *fakeAttainment) ComputeCOAttainmentCached(_ context.Context, cohortID, coID string) (*models.COAttainment, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.COAttainment{CohortID: cohortID, COID: coID, AttainedLevel: models.LevelL3}, f.hit, nil
}

func (f *fakeAttainment) ComputePOAttainmentCached(_ context.Context, cohortID, poID string, opts service.POAttainmentOptions) (*models.POAttainment, bool, error) {
	f.opts = opts
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.POAttainment{CohortID: cohortID, POID: poID, Partial: opts.AllowPartial}, f.hit, nil
}

func attainmentRouter(svc *fakeAttainment) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAttainmentHandler(svc)
	r := gin.New()
	r.Use(middleware.ResponseMeta())
	r.GET("/cohorts/:id/co/:coId", h.CO)
	r.GET("/cohorts/:id/po/:poId", h.PO)
	return r
}

func TestAttainmentHandlerCO(t *testing.T) {
	rec := perform(attainmentRouter(&fakeAttainment{hit: true}), http.MethodGet, "/cohorts/cohort-a/co/co-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, env.Meta, "processing_time_ms")
	assert.Contains(t, string(env.Data), `"co_id":"co-1"`)
}

func TestAttainmentHandlerPOPartial(t *testing.T) {
	svc := &fakeAttainment{}
	r := attainmentRouter(svc)

	rec := perform(r, http.MethodGet, "/cohorts/cohort-a/po/po-1?partial=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.opts.AllowPartial)
	assert.Equal(t, false, decode(t, rec).Meta["cache_hit"])

	rec = perform(r, http.MethodGet, "/cohorts/cohort-a/po/po-1?partial=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttainmentHandlerIncompleteData(t *testing.T) {
	svc := &fakeAttainment{err: appErrors.ErrIncompleteCOData.WithDetail("missing_cos", "co-2")}
	rec := perform(attainmentRouter(svc), http.MethodGet, "/cohorts/cohort-a/po/po-1", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, appErrors.ErrIncompleteCOData.Code, env.Error.Code)
	assert.Equal(t, "co-2", env.Error.Details["missing_cos"])
	assert.False(t, svc.opts.AllowPartial)
}
