package activities

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/vectordb"
	"github.com/srujansrutha/amri/internal/websearch"
)

type fakeCache struct {
	report string
	hit    bool
	err    error
}

func (f *fakeCache) Lookup(context.Context, string) (string, bool, error) {
	return f.report, f.hit, f.err
}
func (f *fakeCache) Save(context.Context, string, string) error { return nil }

type fakeSearcher struct {
	queries []string
	resp    websearch.Response
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q string) (websearch.Response, error) {
	f.queries = append(f.queries, q)
	return f.resp, f.err
}

type fakeDescriber struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (f *fakeDescriber) DescribeImage(_ context.Context, url, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, url)
	if f.fail[url] {
		return "", errors.New("vision model unavailable")
	}
	return "chart of " + url, nil
}

type fakeRetriever struct {
	k    int
	docs []vectordb.Document
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]vectordb.Document, error) {
	f.k = k
	return f.docs, nil
}

type fakeCompleter struct {
	replies []string
	prompts []string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

type staticEvaluator struct {
	verdict Verdict
	calls   int
}

func (s *staticEvaluator) Evaluate(context.Context, string, string) (Verdict, error) {
	s.calls++
	return s.verdict, nil
}

func TestStepsValidate(t *testing.T) {
	noop := ActivityFunc(func(context.Context, *state.ThreadState) (state.Partial, error) { return state.Partial{}, nil })
	steps := &Steps{
		CheckCache: noop, SearchWeb: noop, Vision: noop, RAG: noop,
		HumanReview: noop, Write: noop, Critique: noop,
	}
	err := steps.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guardrails")

	steps.Guardrails = noop
	assert.NoError(t, steps.Validate())
	_, ok := steps.Get(state.StepEnd)
	assert.False(t, ok)
}

func TestCheckCache(t *testing.T) {
	ctx := context.Background()
	st := state.New("t1", "quantum computing", false)

	p, err := (&CheckCache{Cache: &fakeCache{report: "CACHED", hit: true}}).Execute(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, state.SourceCache, *p.Source)
	assert.Equal(t, "CACHED", *p.FinalReport)

	p, err = (&CheckCache{Cache: &fakeCache{}}).Execute(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, state.SourceLive, *p.Source)
	assert.Nil(t, p.FinalReport)

	_, err = (&CheckCache{Cache: &fakeCache{err: errors.New("redis down")}}).Execute(ctx, st)
	assert.Error(t, err)

	p, err = (&CheckCache{Cache: &fakeCache{err: errors.New("redis down")}, FailOpen: true, Logger: zaptest.NewLogger(t)}).Execute(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, state.SourceLive, *p.Source)
}

func TestSearchWeb(t *testing.T) {
	ctx := context.Background()
	s := &fakeSearcher{resp: websearch.Response{
		Results: []websearch.Result{{Content: "qubits", URL: "https://a.example.com"}},
		Images:  []string{"https://img/1.png"},
	}}
	a := &SearchWeb{Searcher: s}

	st := state.New("t1", "quantum computing", false)
	p, err := a.Execute(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, []string{"Content: qubits\nSource: https://a.example.com"}, p.SearchResults)
	assert.Equal(t, []string{"https://img/1.png"}, p.Images)

	st.CritiqueComments = "missing error correction"
	_, err = a.Execute(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"quantum computing",
		"quantum computing related to: missing error correction",
	}, s.queries)
}

func TestVisionNoImagesIsNoop(t *testing.T) {
	d := &fakeDescriber{}
	p, err := (&Vision{Describer: d}).Execute(context.Background(), state.New("t1", "topic", false))
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
	assert.Empty(t, d.seen)
}

func TestVisionLimitsAndSkipsFailures(t *testing.T) {
	d := &fakeDescriber{fail: map[string]bool{"https://img/2.png": true}}
	st := state.New("t1", "topic", false)
	st.Merge(state.Partial{Images: []string{"https://img/1.png", "https://img/2.png", "https://img/3.png"}})

	p, err := (&Vision{Describer: d, Logger: zaptest.NewLogger(t)}).Execute(context.Background(), st)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://img/1.png", "https://img/2.png"}, d.seen)
	require.Len(t, p.VisualData, 1)
	assert.True(t, strings.HasPrefix(p.VisualData[0], "Image Source: https://img/1.png\nAnalysis: "))
}

func TestVisionSkipsDescribedImages(t *testing.T) {
	d := &fakeDescriber{}
	st := state.New("t1", "topic", false)
	st.Merge(state.Partial{
		Images:     []string{"https://img/1.png", "https://img/1.png", "https://img/2.png"},
		VisualData: []string{"Image Source: https://img/1.png\nAnalysis: old"},
	})

	p, err := (&Vision{Describer: d}).Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img/2.png"}, d.seen)
	assert.Len(t, p.VisualData, 1)
}

func TestRAG(t *testing.T) {
	r := &fakeRetriever{docs: []vectordb.Document{
		{Content: "R1", Source: "paper.pdf"},
		{Content: "R2"},
	}}
	p, err := (&RAG{Retriever: r}).Execute(context.Background(), state.New("t1", "topic", false))
	require.NoError(t, err)
	assert.Equal(t, 3, r.k)
	assert.Equal(t, []string{"Content: R1\nSource: paper.pdf", "Content: R2\nSource: Unknown"}, p.RAGData)
}

func TestHumanReviewMarksReviewed(t *testing.T) {
	st := state.New("t1", "topic", true)
	st.HumanFeedback = "focus on hardware"
	p, err := (&HumanReview{Logger: zaptest.NewLogger(t)}).Execute(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, p.HumanReviewed)
	assert.True(t, *p.HumanReviewed)
}

func TestWritePromptCarriesContext(t *testing.T) {
	llm := &fakeCompleter{replies: []string{"# Report"}}
	st := state.New("t1", "quantum computing", true)
	st.Merge(state.Partial{SearchResults: []string{"Q1"}, RAGData: []string{"R1"}, VisualData: []string{"V1"}})
	st.CritiqueComments = "add sources"
	st.HumanFeedback = "focus on hardware"

	p, err := (&Write{Drafter: &LLMWriter{LLM: llm}}).Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "# Report", *p.FinalReport)

	prompt := llm.prompts[0]
	for _, want := range []string{"quantum computing", "Q1", "R1", "V1", "add sources", "focus on hardware"} {
		assert.Contains(t, prompt, want)
	}
}

func TestWriteRejectsEmptyDraft(t *testing.T) {
	_, err := (&Write{Drafter: &LLMWriter{LLM: &fakeCompleter{replies: []string{"  "}}}}).
		Execute(context.Background(), state.New("t1", "topic", false))
	assert.ErrorIs(t, err, ErrEmptyDraft)
}

func TestParseVerdict(t *testing.T) {
	assert.Equal(t, Verdict{Accept: true}, ParseVerdict("ACCEPT"))
	assert.Equal(t, Verdict{Accept: true}, ParseVerdict("  I ACCEPT this.  "))
	assert.Equal(t, Verdict{Note: "needs more on error correction"}, ParseVerdict("REVISE: needs more on error correction"))
	assert.Equal(t, Verdict{Note: ""}, ParseVerdict("REVISE:"))
}

func TestRevisionControllerBoundsLoop(t *testing.T) {
	ctx := context.Background()
	eval := &staticEvaluator{verdict: Verdict{Note: "more"}}
	rc := &RevisionController{Max: state.MaxRevisions, Evaluator: eval}

	next, note, err := rc.Review(ctx, "topic", "draft", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
	assert.Equal(t, "more", note)

	next, note, err = rc.Review(ctx, "topic", "draft", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	assert.Empty(t, note, "forced acceptance past the bound")
	assert.Equal(t, 1, eval.calls, "evaluator is not consulted once the bound is passed")
}

func TestRevisionControllerDefaultNote(t *testing.T) {
	rc := &RevisionController{Max: 1, Evaluator: &staticEvaluator{verdict: Verdict{Note: "  "}}}
	_, note, err := rc.Review(context.Background(), "topic", "draft", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRevisionNote, note)
}

func TestCritiqueStep(t *testing.T) {
	llm := &fakeCompleter{replies: []string{"ACCEPT"}}
	a := &Critique{Controller: &RevisionController{Max: 1, Evaluator: &LLMEvaluator{LLM: llm}}}
	st := state.New("t1", "topic", false)
	st.FinalReport = "draft"
	st.CritiqueComments = "old note"

	p, err := a.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, *p.RevisionNumber)
	assert.Equal(t, "", *p.CritiqueComments, "acceptance clears the note")
	assert.Contains(t, llm.prompts[0], "draft")

	_, err = (&Critique{Controller: &RevisionController{Max: 1, Evaluator: &LLMEvaluator{LLM: &fakeCompleter{err: errors.New("boom")}}}}).
		Execute(context.Background(), st)
	assert.Error(t, err)
}

func TestGuardrails(t *testing.T) {
	ctx := context.Background()
	st := state.New("t1", "topic", false)

	p, err := (&Guardrails{Checker: &LLMSafetyChecker{LLM: &fakeCompleter{replies: []string{"UNSAFE"}}}}).Execute(ctx, st)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty(), "empty report is not screened")

	st.FinalReport = "a report"
	p, err = (&Guardrails{Checker: &LLMSafetyChecker{LLM: &fakeCompleter{replies: []string{"SAFE"}}}}).Execute(ctx, st)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())

	p, err = (&Guardrails{
		Checker: &LLMSafetyChecker{LLM: &fakeCompleter{replies: []string{"UNSAFE: contains PII"}}},
		Logger:  zaptest.NewLogger(t),
	}).Execute(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, SafetyAlert("UNSAFE: contains PII"), *p.FinalReport)
	assert.Equal(t, state.SafetySentinel, *p.CritiqueComments)
}
