package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Marks Engine",
        "description": "Internal marks workflow, grading and outcome attainment",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Marks", "description": "Internal marks entry and approval workflow"},
        {"name": "Grades", "description": "Letter grades, SGPA and CGPA"},
        {"name": "Attainment", "description": "Course and program outcome attainment"}
    ],
    "paths": {
        "/marks/attempts": {
            "post": {
                "tags": ["Marks"],
                "summary": "Record an assessment attempt",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitAttemptRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid scores", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Edit window closed or record not editable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/marks/{id}": {
            "get": {
                "tags": ["Marks"],
                "summary": "Get an internal marks record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/marks/{id}/history": {
            "get": {
                "tags": ["Marks"],
                "summary": "List the audit trail of a record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/marks/{id}/transitions": {
            "post": {
                "tags": ["Marks"],
                "summary": "Fire a workflow event",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Actor not permitted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/marks/{id}/override": {
            "post": {
                "tags": ["Marks"],
                "summary": "Re-open a record with a justification",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OverrideRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Actor not permitted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/marks/freeze-jobs": {
            "post": {
                "tags": ["Marks"],
                "summary": "Queue a freeze of approved records",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FreezeJobRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grades/compute": {
            "get": {
                "tags": ["Grades"],
                "summary": "Grade a total against the subject's current table",
                "parameters": [
                    {"name": "subjectId", "in": "query", "required": true, "type": "string"},
                    {"name": "total", "in": "query", "required": true, "type": "number"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Ungradable score", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/sgpa": {
            "get": {
                "tags": ["Grades"],
                "summary": "Semester grade point average",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "semesterId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No finalized subjects", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/cgpa": {
            "get": {
                "tags": ["Grades"],
                "summary": "Cumulative grade point average",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No completed semesters", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts/{id}/co/{coId}": {
            "get": {
                "tags": ["Attainment"],
                "summary": "Course outcome attainment for a cohort",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "coId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Insufficient data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cohorts/{id}/po/{poId}": {
            "get": {
                "tags": ["Attainment"],
                "summary": "Program outcome attainment for a cohort",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "poId", "in": "path", "required": true, "type": "string"},
                    {"name": "partial", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Course outcome data missing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ScoreEntry": {
            "type": "object",
            "properties": {
                "question_id": {"type": "string"},
                "obtained": {"type": "number"}
            }
        },
        "SubmitAttemptRequest": {
            "type": "object",
            "required": ["student_id", "subject_assignment_id", "exam_id", "entries"],
            "properties": {
                "student_id": {"type": "string"},
                "subject_assignment_id": {"type": "string"},
                "exam_id": {"type": "string"},
                "entries": {"type": "array", "items": {"$ref": "#/definitions/ScoreEntry"}},
                "external": {"type": "number"}
            }
        },
        "TransitionRequest": {
            "type": "object",
            "required": ["event"],
            "properties": {
                "event": {"type": "string", "enum": ["SUBMIT", "APPROVE", "REJECT", "RESUBMIT", "FREEZE", "PUBLISH"]},
                "reason": {"type": "string"}
            }
        },
        "OverrideRequest": {
            "type": "object",
            "required": ["justification"],
            "properties": {
                "justification": {"type": "string"},
                "exam_id": {"type": "string"},
                "entries": {"type": "array", "items": {"$ref": "#/definitions/ScoreEntry"}},
                "external": {"type": "number"}
            }
        },
        "FreezeJobRequest": {
            "type": "object",
            "required": ["record_ids"],
            "properties": {
                "record_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
