package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionSelect   Action = "select"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionFinish   Action = "finish"
	ActionRetry    Action = "retry"
	ActionPing     Action = "ping"
)

// Request is every client frame. QuestionID and OptionID are only read for "select".
type Request struct {
	Action     Action    `json:"action"`
	QuestionID uuid.UUID `json:"question_id,omitempty"`
	OptionID   uuid.UUID `json:"option_id,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventLoaded   Event = "loaded"
	EventAccess   Event = "access"
	EventSnapshot Event = "snapshot"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// LoadedResponse is sent once after the upgrade. The definition carries no correct flags.
type LoadedResponse struct {
	Event      Event                       `json:"event"`
	Assessment *model.AssessmentDefinition `json:"assessment"`
	Access     availability.Result         `json:"access"`
}

// AccessResponse is pushed every second while the student waits for the window to open.
type AccessResponse struct {
	Event  Event               `json:"event"`
	Access availability.Result `json:"access"`
}

// SnapshotResponse mirrors the session state after every tick or action.
type SnapshotResponse struct {
	Event    Event           `json:"event"`
	Snapshot assess.Snapshot `json:"snapshot"`
}

type ErrorResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action,omitempty"`
	Error  string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
