package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var marksRecordColumnNames = []string{"id", "student_id", "subject_assignment_id", "subject_id", "semester_id", "cohort_id",
	"best_internal", "external", "total", "state", "version", "revision", "originated_by",
	"first_submitted_at", "frozen_at", "published_at", "created_at", "updated_at", "policy", "attempts"}

func sampleMarksRecord() *models.InternalMarkRecord {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &models.InternalMarkRecord{
		ID:                  "record-1",
		StudentID:           "student-1",
		SubjectAssignmentID: "sa-1",
		SubjectID:           "math",
		SemesterID:          "sem-1",
		CohortID:            "cohort-a",
		BestInternal:        17,
		Total:               17,
		State:               models.StateDraft,
		Version:             1,
		Revision:            1,
		OriginatedBy:        "teacher-1",
		CreatedAt:           now,
		UpdatedAt:           now,
		Policy:              models.CalculationPolicy{Strategy: models.StrategyMax, GradingTableVersion: 2},
		Attempts: []models.AssessmentAttempt{{
			ID:       "attempt-1",
			ExamID:   "exam-1",
			Kind:     models.AttemptInternal1,
			Scoreset: models.NormalizedScoreset{TotalObtained: 17, TotalMax: 20},
		}},
	}
}

func TestMarksRecordRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO internal_mark_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO marks_audit_log")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry := &models.AuditEntry{ID: "audit-1", RecordID: "record-1", Sequence: 1, Action: models.AuditActionAttemptRecorded, ToState: models.StateDraft}
	require.NoError(t, repo.Create(context.Background(), sampleMarksRecord(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarksRecordRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO internal_mark_records")).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleMarksRecord(), nil)
	require.ErrorIs(t, err, ErrDuplicateRecord)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarksRecordRepositorySave(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	record := sampleMarksRecord()
	record.State = models.StateSubmitted
	record.Version = 2
	reason := "submitted for review"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE internal_mark_records SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO marks_transitions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO marks_submissions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO marks_audit_log")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Save(context.Background(), SaveMarksParams{
		Record:          record,
		ExpectedVersion: 1,
		ExpectedState:   models.StateDraft,
		Transition:      &models.MarksTransition{RecordID: record.ID, Sequence: 1, From: models.StateDraft, To: models.StateSubmitted, Event: models.EventSubmit, ActorID: "teacher-1", Reason: &reason},
		Submission:      &models.Submission{ID: "sub-1", RecordID: record.ID, Revision: 1, Total: 17, Attempts: record.Attempts, SubmittedBy: "teacher-1"},
		Audit:           &models.AuditEntry{ID: "audit-2", RecordID: record.ID, Sequence: 2, Action: models.AuditActionTransition, ToState: models.StateSubmitted},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarksRecordRepositorySaveStaleVersion(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE internal_mark_records SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), SaveMarksParams{Record: sampleMarksRecord(), ExpectedVersion: 4, ExpectedState: models.StateSubmitted})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarksRecordRepositorySaveRollsBackOnHistoryFailure(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE internal_mark_records SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO marks_transitions")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), SaveMarksParams{
		Record:          sampleMarksRecord(),
		ExpectedVersion: 1,
		ExpectedState:   models.StateDraft,
		Transition:      &models.MarksTransition{RecordID: "record-1", Sequence: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert marks transition")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarksRecordRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(marksRecordColumnNames).
		AddRow("record-1", "student-1", "sa-1", "math", "sem-1", "cohort-a", 17.0, 0.0, 17.0, "SUBMITTED", 2, 1, "teacher-1",
			now, nil, nil, now, now,
			`{"strategy":"MAX","grading_table_version":2}`,
			`[{"id":"attempt-1","kind":"INTERNAL_1","exam_id":"exam-1","scoreset":{"total_obtained":17,"total_max":20}}]`)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, subject_assignment_id")).
		WithArgs("record-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM marks_submissions WHERE record_id = $1")).
		WithArgs("record-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "record_id", "revision", "best_internal", "external", "total", "attempts", "submitted_by", "justification", "created_at"}).
			AddRow("sub-1", "record-1", 1, 17.0, 0.0, 17.0, `[]`, "teacher-1", nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM marks_transitions WHERE record_id = $1")).
		WithArgs("record-1").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "sequence", "from_state", "to_state", "event", "actor_id", "reason", "created_at"}).
			AddRow("record-1", 1, "DRAFT", "SUBMITTED", "SUBMIT", "teacher-1", nil, now))

	record, err := repo.GetByID(context.Background(), "record-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSubmitted, record.State)
	assert.Equal(t, models.StrategyMax, record.Policy.Strategy)
	assert.Equal(t, 2, record.Policy.GradingTableVersion)
	require.Len(t, record.Attempts, 1)
	assert.Equal(t, 17.0, record.Attempts[0].Scoreset.TotalObtained)
	require.Len(t, record.Submissions, 1)
	require.Len(t, record.History, 1)
	assert.Equal(t, models.EventSubmit, record.History[0].Event)
	require.NotNil(t, record.FirstSubmittedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarksRecordRepositoryFindByKeyNotFound(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()

	repo := NewMarksRecordRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND subject_assignment_id = $2 AND semester_id = $3")).
		WithArgs("student-1", "sa-1", "sem-1").
		WillReturnRows(sqlmock.NewRows(marksRecordColumnNames))

	_, err := repo.FindByKey(context.Background(), models.MarksRecordKey{StudentID: "student-1", SubjectAssignmentID: "sa-1", SemesterID: "sem-1"})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
