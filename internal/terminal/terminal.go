// Package terminal draws an attempt session on a line-oriented terminal and turns typed input
// into session actions.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// ErrBadInput is returned by Dispatch for a line that is not a command.
var ErrBadInput = errors.New("enter an option number, n, p, f or r")

// Actions is the part of assess.Session that input drives.
type Actions interface {
	Select(ctx context.Context, questionID, optionID uuid.UUID) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Finish(ctx context.Context) error
	Retry(ctx context.Context) error
}

var _ Actions = (*assess.Session)(nil)

// Dispatch applies one input line: an option number for the current question, or n (next),
// p (previous), f (finish), r (retry). Blank lines are ignored.
func Dispatch(ctx context.Context, sess Actions, q *model.Question, line string) error {
	line = strings.ToLower(strings.TrimSpace(line))
	switch line {
	case "":
		return nil
	case "n":
		return sess.Next(ctx)
	case "p":
		return sess.Previous(ctx)
	case "f":
		return sess.Finish(ctx)
	case "r":
		return sess.Retry(ctx)
	}
	n, err := strconv.Atoi(line)
	if err != nil || q == nil || n < 1 || n > len(q.Options) {
		return ErrBadInput
	}
	return sess.Select(ctx, q.ID, q.Options[n-1].ID)
}

// Renderer prints the question when it changes and rewrites a status line on every tick.
type Renderer struct {
	w         io.Writer
	def       *model.AssessmentDefinition
	current   *model.Question
	lastIndex int
	lastPhase assess.Phase
}

// NewRenderer creates a renderer for def writing to w.
func NewRenderer(w io.Writer, def *model.AssessmentDefinition) *Renderer {
	return &Renderer{w: w, def: def, lastIndex: -1}
}

// Current is the question on screen, nil before the attempt is in progress.
func (r *Renderer) Current() *model.Question {
	return r.current
}

// Render draws one snapshot.
func (r *Renderer) Render(s assess.Snapshot) {
	if s.Phase != r.lastPhase {
		r.lastPhase = s.Phase
		switch s.Phase {
		case assess.PhaseFinalizing:
			fmt.Fprintln(r.w, "\nSubmitting...")
		case assess.PhaseErrored:
			fmt.Fprintf(r.w, "\n! %s (r to retry)\n", s.Error)
		}
	}
	if s.Phase != assess.PhaseInProgress {
		return
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(r.def.Questions) {
		return
	}

	if s.CurrentQuestionIndex != r.lastIndex {
		r.lastIndex = s.CurrentQuestionIndex
		r.current = &r.def.Questions[s.CurrentQuestionIndex]
		fmt.Fprintf(r.w, "\n\nQuestion %d/%d\n%s\n", s.CurrentQuestionIndex+1, s.QuestionCount, r.current.Text)
		for i, o := range r.current.Options {
			fmt.Fprintf(r.w, "  %d) %s\n", i+1, o.Text)
		}
	}

	fmt.Fprintf(r.w, "\r[total %s | question %s | answer %s] > ",
		Clock(s.GlobalSecondsRemaining), Clock(s.QuestionSecondsRemaining), r.selected(s.Answers))
}

// selected is the 1-based number of the chosen option for the current question, or "-".
func (r *Renderer) selected(answers []model.AnswerRecord) string {
	for _, a := range answers {
		if a.QuestionID != r.current.ID || a.SelectedOptionID == nil {
			continue
		}
		for i, o := range r.current.Options {
			if o.ID == *a.SelectedOptionID {
				return strconv.Itoa(i + 1)
			}
		}
	}
	return "-"
}

// Clock formats seconds as mm:ss.
func Clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
