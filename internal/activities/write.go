package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srujansrutha/amri/internal/state"
)

const writerSystemPrompt = "You are a helpful research assistant."

// ErrEmptyDraft is returned when the writer produces no text.
var ErrEmptyDraft = errors.New("writer returned an empty report")

// DraftInput is everything the writer sees.
type DraftInput struct {
	Topic         string
	SearchResults []string
	RAGData       []string
	VisualData    []string
	Critique      string
	HumanFeedback string
}

// Drafter writes a report from gathered material.
type Drafter interface {
	Draft(ctx context.Context, in DraftInput) (string, error)
}

// Write produces the draft report.
type Write struct {
	Drafter Drafter
}

func (a *Write) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	report, err := a.Drafter.Draft(ctx, DraftInput{
		Topic:         st.Topic,
		SearchResults: st.SearchResults,
		RAGData:       st.RAGData,
		VisualData:    st.VisualData,
		Critique:      st.CritiqueComments,
		HumanFeedback: st.HumanFeedback,
	})
	if err != nil {
		return state.Partial{}, err
	}
	if strings.TrimSpace(report) == "" {
		return state.Partial{}, ErrEmptyDraft
	}
	return state.Partial{FinalReport: state.Ptr(report)}, nil
}

// LLMWriter drafts reports with a chat model.
type LLMWriter struct {
	LLM Completer
}

func (w *LLMWriter) Draft(ctx context.Context, in DraftInput) (string, error) {
	return w.LLM.Complete(ctx, writerSystemPrompt, BuildDraftPrompt(in))
}

// BuildDraftPrompt renders the writer prompt.
func BuildDraftPrompt(in DraftInput) string {
	var b strings.Builder
	b.WriteString("You are a research assistant.\n")
	fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	if in.Critique != "" {
		fmt.Fprintf(&b, "\nIMPORTANT: Previous version was critiqued. Please address this feedback: %s\n", in.Critique)
	}
	if in.HumanFeedback != "" {
		fmt.Fprintf(&b, "\nREVIEWER GUIDANCE: A human reviewer asked for the following: %s\n", in.HumanFeedback)
	}
	b.WriteString("\nUsing the following data, write a comprehensive Markdown report.\n")
	b.WriteString("\n--- WEB SEARCH DATA ---\n")
	b.WriteString(strings.Join(in.SearchResults, "\n\n"))
	b.WriteString("\n\n--- INTERNAL DOCUMENTS (RAG) ---\n")
	b.WriteString(strings.Join(in.RAGData, "\n\n"))
	b.WriteString("\n\n--- VISUAL ANALYSIS (Charts/Images) ---\n")
	b.WriteString(strings.Join(in.VisualData, "\n\n"))
	b.WriteString("\n\nReport:")
	return b.String()
}
