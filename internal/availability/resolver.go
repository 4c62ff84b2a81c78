// Package availability decides whether an assessment can be started by a given student.
//
// The rules are evaluated in a fixed order; changing the order changes which of two
// contradictory signals (for example "expired" and "reactivated by the instructor") wins.
package availability

import (
	"math"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// State is the access state shown to the student.
type State string

const (
	StateNotYetOpen    State = "NOT_YET_OPEN"
	StateOpen          State = "OPEN"
	StateClosedExpired State = "CLOSED_EXPIRED"
	StateOpenOverride  State = "OPEN_OVERRIDE"
	StateDisabled      State = "DISABLED"
	// StateCompleted is terminal and comes from the completed-attempt gate, not from Resolve.
	StateCompleted State = "COMPLETED"
)

// Schedule is the window during which an assessment is open. The closing day is inclusive.
type Schedule struct {
	Start time.Time
	End   time.Time
}

// FromModel converts a stored schedule; nil bounds become zero times, which Resolve rejects.
// loc, when non-nil, is the location whose calendar day closes the window.
func FromModel(s model.Schedule, loc *time.Location) Schedule {
	var out Schedule
	if s.Start != nil {
		out.Start = *s.Start
	}
	if s.End != nil {
		out.End = *s.End
		if loc != nil {
			out.End = out.End.In(loc)
		}
	}
	return out
}

// Result is what the resolver emits.
type Result struct {
	State            State  `json:"state"`
	SecondsUntilOpen int64  `json:"seconds_until_open"`
	Diagnostic       string `json:"diagnostic,omitempty"`
}

// CanStart reports whether "start" may be offered.
func (r Result) CanStart() bool {
	return r.State == StateOpen || r.State == StateOpenOverride
}

// EndOfWindow pushes end to 23:59:59.999 of its calendar day in end's location.
func EndOfWindow(end time.Time) time.Time {
	y, m, d := end.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), end.Location())
}

// Resolve is pure: identical inputs always yield an identical Result.
//
//  1. effective activation = override if present, else globalActive; false is DISABLED.
//  2. before start is NOT_YET_OPEN with the remaining seconds.
//  3. after the end of the closing day is OPEN_OVERRIDE when the instructor explicitly
//     re-enabled the student, CLOSED_EXPIRED otherwise.
//  4. anything else is OPEN.
func Resolve(now time.Time, sched Schedule, globalActive bool, override *bool) Result {
	active := globalActive
	if override != nil {
		active = *override
	}
	if !active {
		return Result{State: StateDisabled}
	}

	if sched.Start.IsZero() || sched.End.IsZero() {
		return Result{State: StateDisabled, Diagnostic: "schedule is missing a start or end timestamp"}
	}
	endOfWindow := EndOfWindow(sched.End)
	if endOfWindow.Before(sched.Start) {
		return Result{State: StateDisabled, Diagnostic: "schedule ends before it starts"}
	}

	if now.Before(sched.Start) {
		remaining := int64(math.Ceil(sched.Start.Sub(now).Seconds()))
		if remaining < 0 {
			remaining = 0
		}
		return Result{State: StateNotYetOpen, SecondsUntilOpen: remaining}
	}

	if now.After(endOfWindow) {
		if override != nil && *override {
			return Result{State: StateOpenOverride}
		}
		return Result{State: StateClosedExpired}
	}

	return Result{State: StateOpen}
}

// Input bundles everything needed to compute the student-facing state.
type Input struct {
	Now          time.Time
	Schedule     Schedule
	GlobalActive bool
	Override     *bool
	// Completed is true when the student's attempt has already been finalized.
	Completed bool
}

// Evaluate applies the completed-attempt gate before consulting Resolve.
func Evaluate(in Input) Result {
	if in.Completed {
		return Result{State: StateCompleted}
	}
	return Resolve(in.Now, in.Schedule, in.GlobalActive, in.Override)
}
