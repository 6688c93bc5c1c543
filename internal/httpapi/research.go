// Package httpapi exposes the research engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/vectordb"
	"github.com/srujansrutha/amri/internal/workflows"
)

const maxBodyBytes = 1 << 20

// Researcher is the engine surface the handler needs.
type Researcher interface {
	Start(ctx context.Context, topic string, enableHITL bool) (*state.ThreadState, error)
	Resume(ctx context.Context, threadID, feedback string) (*state.ThreadState, error)
	Get(ctx context.Context, threadID string) (*state.ThreadState, error)
}

// DocumentIngester stores documents for retrieval.
type DocumentIngester interface {
	AddDocuments(ctx context.Context, docs []vectordb.Document) (int, error)
}

// ResearchHandler serves the research endpoints.
//
//	POST /research
//	POST /research/resume/{thread_id}
//	GET  /research/{thread_id}
//	POST /documents (when an ingester is configured)
type ResearchHandler struct {
	engine Researcher
	docs   DocumentIngester
	logger *zap.Logger
}

// NewResearchHandler creates a handler. docs may be nil.
func NewResearchHandler(engine Researcher, docs DocumentIngester, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{engine: engine, docs: docs, logger: logger}
}

// RegisterRoutes registers research routes on the provided mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /research", Instrument("/research", h.logger, http.HandlerFunc(h.handleStart)))
	mux.Handle("POST /research/resume/{thread_id}", Instrument("/research/resume", h.logger, http.HandlerFunc(h.handleResume)))
	mux.Handle("GET /research/{thread_id}", Instrument("/research/get", h.logger, http.HandlerFunc(h.handleGet)))
	if h.docs != nil {
		mux.Handle("POST /documents", Instrument("/documents", h.logger, http.HandlerFunc(h.handleDocuments)))
	}
}

// ResearchRequest starts a thread.
type ResearchRequest struct {
	Topic      string `json:"topic" validate:"required,max=2000"`
	EnableHITL bool   `json:"enable_hitl"`
}

// ResumeRequest carries reviewer feedback.
type ResumeRequest struct {
	Feedback string `json:"feedback" validate:"max=20000"`
}

// DocumentsRequest uploads text documents for retrieval.
type DocumentsRequest struct {
	Documents []vectordb.Document `json:"documents" validate:"required,min=1,dive"`
}

// ResearchResponse is returned by every research endpoint, errors included.
type ResearchResponse struct {
	Report         string       `json:"report"`
	Source         state.Source `json:"source"`
	ThreadID       string       `json:"thread_id"`
	Status         state.Status `json:"status"`
	RevisionNumber int          `json:"revision_number"`
	PendingSteps   []state.Step `json:"pending_steps,omitempty"`
}

// FromState builds the response for a thread.
func FromState(st *state.ThreadState) ResearchResponse {
	return ResearchResponse{
		Report:         st.FinalReport,
		Source:         st.Source,
		ThreadID:       st.ThreadID,
		Status:         st.Status,
		RevisionNumber: st.RevisionNumber,
		PendingSteps:   st.PendingSteps,
	}
}

func errorResponse(threadID, msg string) ResearchResponse {
	return ResearchResponse{
		Report:   msg,
		Source:   state.SourceError,
		ThreadID: threadID,
		Status:   state.StatusError,
	}
}

func (h *ResearchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req ResearchRequest
	if !decode(w, r, &req, "") {
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", validationMessage(err)))
		return
	}

	st, err := h.engine.Start(r.Context(), req.Topic, req.EnableHITL)
	h.respond(w, "", st, err)
}

func (h *ResearchHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	var req ResumeRequest
	if !decode(w, r, &req, threadID) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(threadID, validationMessage(err)))
		return
	}

	st, err := h.engine.Resume(r.Context(), threadID, req.Feedback)
	h.respond(w, threadID, st, err)
}

func (h *ResearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	st, err := h.engine.Get(r.Context(), threadID)
	h.respond(w, threadID, st, err)
}

func (h *ResearchHandler) handleDocuments(w http.ResponseWriter, r *http.Request) {
	var req DocumentsRequest
	if !decode(w, r, &req, "") {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return
	}
	n, err := h.docs.AddDocuments(r.Context(), req.Documents)
	if err != nil {
		h.logger.Error("Document ingestion failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "document ingestion failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ingested": n})
}

// respond maps engine outcomes onto HTTP. Unknown and non-paused threads are
// business errors (200, status=error); storage failures are 503.
func (h *ResearchHandler) respond(w http.ResponseWriter, threadID string, st *state.ThreadState, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, FromState(st))
	case errors.Is(err, workflows.ErrPersistence):
		h.logger.Error("Research request failed", zap.String("thread_id", threadID), zap.Error(err))
		resp := errorResponse(threadID, "Checkpoint store unavailable")
		if st != nil {
			resp.ThreadID = st.ThreadID
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, workflows.ErrThreadBusy):
		writeJSON(w, http.StatusOK, errorResponse(threadID, "Thread is already running"))
	case errors.Is(err, workflows.ErrNotFound):
		writeJSON(w, http.StatusOK, errorResponse(threadID, "Thread not found"))
	case errors.Is(err, workflows.ErrInvalidState):
		msg := "Thread is not paused"
		if st == nil {
			msg = err.Error()
		}
		writeJSON(w, http.StatusOK, errorResponse(threadID, msg))
	default:
		h.logger.Error("Research request failed", zap.String("thread_id", threadID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse(threadID, "internal error"))
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any, threadID string) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(threadID, "invalid JSON"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
