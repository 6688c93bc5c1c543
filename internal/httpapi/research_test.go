package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/vectordb"
	"github.com/srujansrutha/amri/internal/workflows"
)

type fakeEngine struct {
	startTopic string
	startHITL  bool
	feedback   string

	st  *state.ThreadState
	err error
}

func (f *fakeEngine) Start(_ context.Context, topic string, hitl bool) (*state.ThreadState, error) {
	f.startTopic, f.startHITL = topic, hitl
	return f.st, f.err
}

func (f *fakeEngine) Resume(_ context.Context, _ string, feedback string) (*state.ThreadState, error) {
	f.feedback = feedback
	return f.st, f.err
}

func (f *fakeEngine) Get(context.Context, string) (*state.ThreadState, error) {
	return f.st, f.err
}

type fakeIngester struct {
	docs []vectordb.Document
	err  error
}

func (f *fakeIngester) AddDocuments(_ context.Context, docs []vectordb.Document) (int, error) {
	f.docs = docs
	return len(docs), f.err
}

func newServer(t *testing.T, eng Researcher, docs DocumentIngester) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewResearchHandler(eng, docs, zaptest.NewLogger(t)).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, ResearchResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out ResearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func completed() *state.ThreadState {
	st := state.New("t1", "quantum computing", false)
	st.Status = state.StatusCompleted
	st.Source = state.SourceLive
	st.FinalReport = "DRAFT"
	st.RevisionNumber = 1
	return st
}

func TestStartResearch(t *testing.T) {
	eng := &fakeEngine{st: completed()}
	srv := newServer(t, eng, nil)

	resp, out := post(t, srv.URL+"/research", `{"topic":"  quantum computing ","enable_hitl":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "quantum computing", eng.startTopic)
	assert.True(t, eng.startHITL)

	assert.Equal(t, ResearchResponse{
		Report:         "DRAFT",
		Source:         state.SourceLive,
		ThreadID:       "t1",
		Status:         state.StatusCompleted,
		RevisionNumber: 1,
	}, out)
}

func TestStartResearchPausedListsPendingSteps(t *testing.T) {
	st := state.New("t2", "quantum computing", true)
	st.Status = state.StatusPaused
	st.Source = state.SourceLive
	st.PendingSteps = []state.Step{state.StepHumanReview}
	srv := newServer(t, &fakeEngine{st: st}, nil)

	_, out := post(t, srv.URL+"/research", `{"topic":"quantum computing","enable_hitl":true}`)
	assert.Equal(t, state.StatusPaused, out.Status)
	assert.Equal(t, []state.Step{state.StepHumanReview}, out.PendingSteps)
	assert.Empty(t, out.Report)
}

func TestStartResearchRejectsBadInput(t *testing.T) {
	srv := newServer(t, &fakeEngine{st: completed()}, nil)

	for name, body := range map[string]string{
		"malformed":     `{"topic":`,
		"missing topic": `{"enable_hitl":true}`,
		"blank topic":   `{"topic":"   "}`,
		"unknown field": `{"topic":"x","extra":1}`,
		"too long":      `{"topic":"` + strings.Repeat("a", 2001) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/research", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, state.StatusError, out.Status)
			assert.NotEmpty(t, out.Report)
		})
	}
}

func TestResumeMapsBusinessErrors(t *testing.T) {
	paused := completed()
	tests := []struct {
		name     string
		st       *state.ThreadState
		err      error
		code     int
		contains string
	}{
		{"unknown", nil, &workflows.Error{Kind: workflows.ErrNotFound, ThreadID: "t1"}, http.StatusOK, "not found"},
		{"not paused", paused, &workflows.Error{Kind: workflows.ErrInvalidState, ThreadID: "t1"}, http.StatusOK, "not paused"},
		{"busy", nil, &workflows.Error{Kind: workflows.ErrInvalidState, Err: workflows.ErrThreadBusy}, http.StatusOK, "already running"},
		{"store down", nil, &workflows.Error{Kind: workflows.ErrPersistence, Err: errors.New("dial tcp")}, http.StatusServiceUnavailable, "unavailable"},
		{"unexpected", nil, errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &fakeEngine{st: tt.st, err: tt.err}, nil)
			resp, out := post(t, srv.URL+"/research/resume/t1", `{"feedback":"more detail"}`)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, state.StatusError, out.Status)
			assert.Equal(t, state.SourceError, out.Source)
			assert.Equal(t, "t1", out.ThreadID)
			assert.Contains(t, out.Report, tt.contains)
		})
	}
}

func TestResumePassesFeedback(t *testing.T) {
	eng := &fakeEngine{st: completed()}
	srv := newServer(t, eng, nil)

	resp, out := post(t, srv.URL+"/research/resume/t1", `{"feedback":"focus on qubits"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "focus on qubits", eng.feedback)
	assert.Equal(t, state.StatusCompleted, out.Status)
}

func TestGetResearch(t *testing.T) {
	srv := newServer(t, &fakeEngine{st: completed()}, nil)

	resp, err := http.Get(srv.URL + "/research/t1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out ResearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "DRAFT", out.Report)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t, &fakeEngine{st: completed()}, nil)

	resp, err := http.Get(srv.URL + "/research")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDocumentsEndpoint(t *testing.T) {
	ing := &fakeIngester{}
	srv := newServer(t, &fakeEngine{}, ing)

	resp, err := http.Post(srv.URL+"/documents", "application/json",
		strings.NewReader(`{"documents":[{"content":"qubits decohere","source":"notes.pdf"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out["ingested"])
	require.Len(t, ing.docs, 1)
	assert.Equal(t, "notes.pdf", ing.docs[0].Source)

	bad, err := http.Post(srv.URL+"/documents", "application/json", strings.NewReader(`{"documents":[{"source":"x"}]}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestDocumentsEndpointAbsentWithoutIngester(t *testing.T) {
	srv := newServer(t, &fakeEngine{}, nil)

	resp, err := http.Post(srv.URL+"/documents", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(rate.NewLimiter(rate.Limit(0.001), 2), ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestBearerAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := BearerAuth("s3cret", ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/research/t1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/research/t1", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.NotNil(t, BearerAuth("", ok))
}

func TestRequestTimeout(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	h := RequestTimeout(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, hasDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", nil))
	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	h = RequestTimeout(0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/research", nil))
	assert.False(t, hasDeadline)
}
