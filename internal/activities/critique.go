package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/state"
)

// DefaultRevisionNote is used when an evaluator asks for a revision without
// saying why.
const DefaultRevisionNote = "The report does not fully answer the topic; add missing details and supporting sources."

// Verdict is an evaluator's judgement of a draft.
type Verdict struct {
	Accept bool
	Note   string
}

// Evaluator judges whether a draft answers the topic.
type Evaluator interface {
	Evaluate(ctx context.Context, topic, draft string) (Verdict, error)
}

// RevisionController bounds the critique -> search -> write loop. Once the
// revision number passes Max the draft is accepted without evaluation.
type RevisionController struct {
	Max       int
	Evaluator Evaluator
}

// Review returns the next revision number and the critique note; an empty
// note means accept.
func (c *RevisionController) Review(ctx context.Context, topic, draft string, revision int) (int, string, error) {
	next := revision + 1
	if next > c.Max {
		return next, "", nil
	}
	v, err := c.Evaluator.Evaluate(ctx, topic, draft)
	if err != nil {
		return revision, "", err
	}
	if v.Accept {
		return next, "", nil
	}
	note := strings.TrimSpace(v.Note)
	if note == "" {
		note = DefaultRevisionNote
	}
	return next, note, nil
}

// Critique reviews the current draft.
type Critique struct {
	Controller *RevisionController
	Logger     *zap.Logger
}

func (a *Critique) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	next, note, err := a.Controller.Review(ctx, st.Topic, st.FinalReport, st.RevisionNumber)
	if err != nil {
		return state.Partial{}, err
	}
	logger(a.Logger).Info("Draft reviewed",
		zap.String("thread_id", st.ThreadID),
		zap.Int("revision", next),
		zap.Bool("accepted", note == ""),
	)
	return state.Partial{
		RevisionNumber:   state.Ptr(next),
		CritiqueComments: state.Ptr(note),
	}, nil
}

// LLMEvaluator asks a chat model to act as editor.
type LLMEvaluator struct {
	LLM Completer
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, topic, draft string) (Verdict, error) {
	prompt := fmt.Sprintf(`You are a critical editor.
User Topic: %s

Draft Report:
%s

Does this report comprehensively answer the topic?
If YES, return "ACCEPT".
If NO, briefly describe what information is missing or needs improvement. Start with "REVISE: ".`, topic, draft)

	out, err := e.LLM.Complete(ctx, "", prompt)
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(out), nil
}

// ParseVerdict reads an editor reply: any ACCEPT accepts, otherwise the text
// minus the REVISE: marker is the note.
func ParseVerdict(reply string) Verdict {
	reply = strings.TrimSpace(reply)
	if strings.Contains(reply, "ACCEPT") {
		return Verdict{Accept: true}
	}
	return Verdict{Note: strings.TrimSpace(strings.ReplaceAll(reply, "REVISE:", ""))}
}
