package assess

import (
	"fmt"
	"io"
	"strings"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// Headline is the message shown above a result summary.
func Headline(reason CompletionReason) string {
	switch reason {
	case ReasonTimedOut:
		return "Time is up. Your answers have been submitted."
	case ReasonAlreadyCompleted:
		return "You have already completed this assessment."
	default:
		return "Assessment submitted."
	}
}

// RenderSummary writes the plain-text result view. Finishing, timing out and re-opening a
// completed attempt all render through here; only the headline differs.
func RenderSummary(w io.Writer, sum *model.ResultSummary, reason CompletionReason) error {
	if sum == nil {
		return fmt.Errorf("no summary to render")
	}

	var b strings.Builder
	fmt.Fprintln(&b, Headline(reason))
	fmt.Fprintf(&b, "Score: %.2f (%d/%d correct)\n", sum.Score, sum.Correct, sum.Total)
	fmt.Fprintf(&b, "Completed at: %s\n", sum.CompletedAt.Format("2006-01-02 15:04:05 MST"))

	for i, item := range sum.Items {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, item.QuestionText)
		fmt.Fprintf(&b, "   Your answer: %s\n", answerText(item.StudentAnswer))
		writeExplanation(&b, item.StudentAnswer)
		if item.IsCorrect {
			fmt.Fprintln(&b, "   Correct")
			continue
		}
		fmt.Fprintln(&b, "   Incorrect")
		if item.CorrectAnswer != nil {
			fmt.Fprintf(&b, "   Correct answer: %s\n", answerText(*item.CorrectAnswer))
			writeExplanation(&b, *item.CorrectAnswer)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func answerText(v model.AnswerView) string {
	if v.Unanswered || v.OptionID == nil {
		return "(no answer)"
	}
	return v.Text
}

func writeExplanation(b *strings.Builder, v model.AnswerView) {
	if v.Unanswered || v.Explanation == nil || *v.Explanation == "" {
		return
	}
	fmt.Fprintf(b, "   Explanation: %s\n", *v.Explanation)
}
