package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AssessmentDefinitionKey returns the cache key for an assessment's full definition, including
// the grading key. It is never sent to students as-is.
func (r *CacheKeyStruct) AssessmentDefinitionKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:definition", assessmentID)
}

// AssessmentStudentPayloadKey returns the cache key for the student-facing definition
func (r *CacheKeyStruct) AssessmentStudentPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:student_payload", assessmentID)
}

// AttemptStartKey returns the cache key holding an attempt's started_at (unix seconds)
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// AttemptAnswersKey returns the hash of question_id -> option_id for an attempt
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptAnswerSeqKey returns the hash of question_id -> last applied sequence number
func (r *CacheKeyStruct) AttemptAnswerSeqKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answer_seq", attemptID)
}

// AttemptTimeTakenKey returns the hash of question_id -> seconds spent
func (r *CacheKeyStruct) AttemptTimeTakenKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:time_taken", attemptID)
}

// AnswerRateKey returns the per-minute answer counter for a student
func (r *CacheKeyStruct) AnswerRateKey(studentID int, minute int64) string {
	return fmt.Sprintf("ratelimit:answer:%d:%d", studentID, minute)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an assessment monitor
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
