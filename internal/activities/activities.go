// Package activities holds the research steps. Each step reads a snapshot of
// the thread state and returns a Partial; the engine merges it.
package activities

import (
	"context"
	"fmt"

	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/vectordb"
	"github.com/srujansrutha/amri/internal/websearch"
)

// Activity is one step of the research graph. Implementations must not
// mutate the state they are given.
type Activity interface {
	Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error)
}

// ActivityFunc adapts a plain function to Activity.
type ActivityFunc func(ctx context.Context, st *state.ThreadState) (state.Partial, error)

func (f ActivityFunc) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	return f(ctx, st)
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) (websearch.Response, error)
}

// ImageDescriber describes one image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL, instruction string) (string, error)
}

// Retriever looks up stored documents.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]vectordb.Document, error)
}

// Completer is a single-turn chat completion.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Steps is the step registry: one activity per graph node.
type Steps struct {
	CheckCache  Activity
	SearchWeb   Activity
	Vision      Activity
	RAG         Activity
	HumanReview Activity
	Write       Activity
	Critique    Activity
	Guardrails  Activity
}

// Get returns the activity bound to step.
func (s *Steps) Get(step state.Step) (Activity, bool) {
	var a Activity
	switch step {
	case state.StepCheckCache:
		a = s.CheckCache
	case state.StepSearchWeb:
		a = s.SearchWeb
	case state.StepVision:
		a = s.Vision
	case state.StepRAG:
		a = s.RAG
	case state.StepHumanReview:
		a = s.HumanReview
	case state.StepWrite:
		a = s.Write
	case state.StepCritique:
		a = s.Critique
	case state.StepGuardrails:
		a = s.Guardrails
	}
	return a, a != nil
}

// Validate checks every graph node has an activity.
func (s *Steps) Validate() error {
	for _, step := range state.Steps {
		if _, ok := s.Get(step); !ok {
			return fmt.Errorf("no activity registered for step %s", step)
		}
	}
	return nil
}

func formatSource(content, source string) string {
	return fmt.Sprintf("Content: %s\nSource: %s", content, source)
}
