package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-assessment/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
	Setup()
}

const validAssessment = `{
	"kind": "QUIZ",
	"name": "Weekly quiz",
	"start": "2025-01-11T08:00:00Z",
	"end": "2025-01-12T08:00:00Z",
	"questions": [
		{"text": "2+2", "per_question_seconds": 30, "options": [
			{"text": "4", "is_correct": true},
			{"text": "5"}
		]}
	]
}`

func bind(body string) map[string]string {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	var req model.CreateAssessmentRequest
	return Bind(c, &req)
}

func TestBindCreateAssessment(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "valid", body: validAssessment},
		{
			name:      "end before start",
			body:      strings.Replace(validAssessment, "2025-01-12T08:00:00Z", "2025-01-10T08:00:00Z", 1),
			wantField: "end",
		},
		{
			name:      "no correct option",
			body:      strings.Replace(validAssessment, `"is_correct": true`, `"is_correct": false`, 1),
			wantField: "questions[0].options",
		},
		{
			name:      "two correct options",
			body:      strings.Replace(validAssessment, `{"text": "5"}`, `{"text": "5", "is_correct": true}`, 1),
			wantField: "questions[0].options",
		},
		{
			name:      "question budget too small",
			body:      strings.Replace(validAssessment, `"per_question_seconds": 30`, `"per_question_seconds": 5`, 1),
			wantField: "questions[0].per_question_seconds",
		},
		{
			name:      "unknown kind",
			body:      strings.Replace(validAssessment, `"QUIZ"`, `"EXAM"`, 1),
			wantField: "kind",
		},
		{name: "malformed json", body: `{"kind":`, wantField: "detail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := bind(tt.body)
			if tt.wantField == "" {
				assert.Nil(t, fields)
				return
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestOneCorrectMessage(t *testing.T) {
	fields := bind(strings.Replace(validAssessment, `"is_correct": true`, `"is_correct": false`, 1))
	assert.Equal(t, "options must contain exactly one correct option", fields["questions[0].options"])
}
