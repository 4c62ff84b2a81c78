// Package client drives the assessment engine against a remote backend over the student HTTP
// API, translating response envelopes into the engine's error taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// APIError is a non-2xx response that does not map onto an engine error.
type APIError struct {
	Op         string
	StatusCode int
	Code       response.ErrCode
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
}

// HTTPBackend implements assess.Backend for one assessment kind against the student API.
type HTTPBackend struct {
	baseURL string
	kind    model.AssessmentKind
	token   string
	http    *http.Client
	log     zerolog.Logger
}

var _ assess.Backend = (*HTTPBackend)(nil)

// New creates a backend for baseURL (scheme and host, no trailing slash). httpClient may be nil.
func New(baseURL string, kind model.AssessmentKind, httpClient *http.Client, log zerolog.Logger) *HTTPBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPBackend{
		baseURL: baseURL,
		kind:    kind,
		http:    httpClient,
		log:     log.With().Str("component", "http_backend").Logger(),
	}
}

// SetToken sets the bearer token sent with every request.
func (b *HTTPBackend) SetToken(token string) {
	b.token = token
}

// Login authenticates a student, stores the token and returns the student.
func (b *HTTPBackend) Login(ctx context.Context, nisn, password string) (*model.Student, error) {
	var out model.StudentLoginResponse
	req := model.StudentLoginRequest{NISN: nisn, Password: password}
	if err := b.do(ctx, "login", http.MethodPost, "/api/v1/auth/student/login", req, &out); err != nil {
		return nil, err
	}
	b.token = out.Token
	return out.Student, nil
}

// Availability asks the server for the student's current access state.
func (b *HTTPBackend) Availability(ctx context.Context, assessmentID uuid.UUID) (availability.Result, error) {
	var out availability.Result
	path := fmt.Sprintf("/api/v1/student/%s/%s/availability", b.kind.Slug(), assessmentID)
	err := b.do(ctx, "availability", http.MethodGet, path, nil, &out)
	return out, err
}

func (b *HTTPBackend) FetchDefinition(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentDefinition, error) {
	var out model.AssessmentDefinition
	path := fmt.Sprintf("/api/v1/student/%s/%s", b.kind.Slug(), assessmentID)
	if err := b.do(ctx, "fetch definition", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) CheckAccess(ctx context.Context, assessmentID uuid.UUID, _ int) (*model.AccessCheckResponse, error) {
	var out model.AccessCheckResponse
	req := model.AccessCheckRequest{AssessmentID: assessmentID}
	if err := b.do(ctx, "check access", http.MethodPost, "/api/v1/student/access/check", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) Start(ctx context.Context, assessmentID uuid.UUID, _ int) (*model.StartAttemptResponse, error) {
	var out model.StartAttemptResponse
	req := model.StartAttemptRequest{AssessmentID: assessmentID, Kind: b.kind}
	if err := b.do(ctx, "start", http.MethodPost, "/api/v1/student/attempt/start", req, &out); err != nil {
		return nil, err
	}
	if out.AlreadyCompleted {
		return nil, &assess.ConflictError{AttemptID: out.AttemptID, Summary: out.Summary, Reason: "attempt already completed"}
	}
	return &out, nil
}

func (b *HTTPBackend) Answer(ctx context.Context, req model.SubmitAnswerRequest) error {
	return b.do(ctx, "answer", http.MethodPost, "/api/v1/student/attempt/answer", req, nil)
}

func (b *HTTPBackend) Finalize(ctx context.Context, attemptID uuid.UUID) (*model.ResultSummary, error) {
	var out model.FinalizeAttemptResponse
	req := model.FinalizeAttemptRequest{AttemptID: attemptID}
	if err := b.do(ctx, "finalize", http.MethodPost, "/api/v1/student/attempt/finalize", req, &out); err != nil {
		return nil, err
	}
	return out.Summary, nil
}

func (b *HTTPBackend) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &assess.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &assess.NetworkError{Op: op, Err: err}
	}

	var env response.RawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 500 {
			return &assess.NetworkError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
		}
		return fmt.Errorf("%s: decode envelope (http %d): %w", op, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b.classify(op, path, resp.StatusCode, &env)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// classify maps an error response onto the engine taxonomy. Server-side failures and rate
// limiting are transient; the engine retries them.
func (b *HTTPBackend) classify(op, path string, status int, env *response.RawEnvelope) error {
	apiErr := &APIError{Op: op, StatusCode: status}
	if env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}

	switch {
	case apiErr.Code == response.ErrAttemptCompleted:
		var data struct {
			AttemptID uuid.UUID            `json:"attempt_id"`
			Summary   *model.ResultSummary `json:"summary"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			b.log.Warn().Err(err).Str("op", op).Msg("Conflict response without summary")
		}
		return &assess.ConflictError{AttemptID: data.AttemptID, Summary: data.Summary, Reason: "attempt already completed"}
	case apiErr.Code == response.ErrAssessmentNotAvailable:
		return errors.Join(assess.ErrNotStartable, apiErr)
	case status == http.StatusNotFound:
		resource := "assessment"
		if apiErr.Code == response.ErrAttemptNotFound {
			resource = "attempt"
		}
		return &assess.NotFoundError{Resource: resource, ID: path}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &assess.ValidationError{Reason: apiErr.Message}
	case status == http.StatusTooManyRequests || status >= 500:
		return &assess.NetworkError{Op: op, Err: apiErr}
	}
	return apiErr
}
