package response

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every API response is wrapped in.
type Response = Envelope[any]

// Envelope is the wire shape of a response. Servers write Envelope[any]; clients decode into
// Envelope[json.RawMessage] and unmarshal Data once the status is known.
type Envelope[T any] struct {
	Data       T           `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// RawEnvelope defers decoding of the data payload.
type RawEnvelope = Envelope[json.RawMessage]

// ErrorBody is the error half of the envelope. Fields is set for validation failures.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes one page of an instructor listing.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes the page count for total items.
func NewPagination(page, perPage, total int) *Pagination {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return &Pagination{Page: page, PerPage: perPage, TotalItems: total, TotalPages: pages}
}

// Metadata ties a response to its request log lines.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success sends data with the given status code.
func Success(c *gin.Context, statusCode int, data any) {
	write(c, statusCode, Response{Data: data}, false)
}

// SuccessWithPagination sends one page of a listing.
func SuccessWithPagination(c *gin.Context, statusCode int, data any, pagination *Pagination) {
	write(c, statusCode, Response{Data: data, Pagination: pagination}, false)
}

// Fail sends an error with the code's default message.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	write(c, statusCode, Response{Error: errorBody(code, nil)}, false)
}

// FailWithFields sends a validation error with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	write(c, statusCode, Response{Error: errorBody(code, fields)}, false)
}

// FailWithData sends an error that still carries a payload, such as the stored summary that
// accompanies ATTEMPT_COMPLETED.
func FailWithData(c *gin.Context, statusCode int, code ErrCode, data any) {
	write(c, statusCode, Response{Data: data, Error: errorBody(code, nil)}, false)
}

// AbortFail stops the middleware chain with an error.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	write(c, statusCode, Response{Error: errorBody(code, nil)}, true)
}

func errorBody(code ErrCode, fields map[string]string) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}
}

func write(c *gin.Context, statusCode int, res Response, abort bool) {
	res.Metadata = Metadata{
		RequestID: RequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if abort {
		c.AbortWithStatusJSON(statusCode, res)
		return
	}
	c.JSON(statusCode, res)
}
