package state

import (
	"fmt"
	"time"
)

// MaxRevisions bounds the critique -> search -> write cycle.
const MaxRevisions = 1

// SafetySentinel is written to CritiqueComments when the guardrail rewrites a
// report. No router reads it.
const SafetySentinel = "Safety Violation Triggered"

// Step names a node in the fixed research graph.
type Step string

const (
	StepCheckCache  Step = "check_cache"
	StepSearchWeb   Step = "search_web"
	StepVision      Step = "vision"
	StepRAG         Step = "rag"
	StepHumanReview Step = "human_review"
	StepWrite       Step = "write"
	StepCritique    Step = "critique"
	StepGuardrails  Step = "guardrails"
	StepEnd         Step = "__end__"
)

// Steps lists every executable step in graph order.
var Steps = []Step{
	StepCheckCache,
	StepSearchWeb,
	StepVision,
	StepRAG,
	StepHumanReview,
	StepWrite,
	StepCritique,
	StepGuardrails,
}

func (s Step) String() string { return string(s) }

// ParseStep validates a step name loaded from storage.
func ParseStep(name string) (Step, error) {
	if Step(name) == StepEnd {
		return StepEnd, nil
	}
	for _, s := range Steps {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", name)
}

// Status is the lifecycle of a thread.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Source records where the final report came from.
type Source string

const (
	SourceUnset Source = ""
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceError Source = "error"
)

// ThreadState is the unit of persistence and mutation for one research run.
type ThreadState struct {
	ThreadID   string `json:"thread_id"`
	Topic      string `json:"topic"`
	EnableHITL bool   `json:"enable_hitl"`

	SearchResults []string `json:"search_results"`
	RAGData       []string `json:"rag_data"`
	VisualData    []string `json:"visual_data"`
	Images        []string `json:"images"`

	FinalReport      string `json:"final_report,omitempty"`
	Source           Source `json:"source,omitempty"`
	CritiqueComments string `json:"critique_comments,omitempty"`
	RevisionNumber   int    `json:"revision_number"`
	HumanFeedback    string `json:"human_feedback,omitempty"`
	HumanReviewed    bool   `json:"human_reviewed"`

	Status       Status `json:"status"`
	PendingSteps []Step `json:"pending_steps,omitempty"`
	Error        string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh running state for a topic.
func New(threadID, topic string, enableHITL bool) *ThreadState {
	now := time.Now().UTC()
	return &ThreadState{
		ThreadID:      threadID,
		Topic:         topic,
		EnableHITL:    enableHITL,
		SearchResults: []string{},
		RAGData:       []string{},
		VisualData:    []string{},
		Images:        []string{},
		Status:        StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Partial is the increment a step returns. Nil scalar pointers leave the
// current value alone; accumulator slices are appended.
type Partial struct {
	SearchResults []string
	RAGData       []string
	VisualData    []string
	Images        []string

	FinalReport      *string
	Source           *Source
	CritiqueComments *string
	RevisionNumber   *int
	HumanReviewed    *bool
}

// Ptr returns a pointer to v, for building Partial values.
func Ptr[T any](v T) *T { return &v }

// IsEmpty reports whether the partial changes nothing.
func (p Partial) IsEmpty() bool {
	return len(p.SearchResults) == 0 && len(p.RAGData) == 0 && len(p.VisualData) == 0 &&
		len(p.Images) == 0 && p.FinalReport == nil && p.Source == nil &&
		p.CritiqueComments == nil && p.RevisionNumber == nil && p.HumanReviewed == nil
}

// Merge folds a partial into the state. Scalars overwrite, accumulators
// concatenate. RevisionNumber never moves backwards and Source is only set
// while unset.
func (s *ThreadState) Merge(p Partial) {
	s.SearchResults = appendCopy(s.SearchResults, p.SearchResults)
	s.RAGData = appendCopy(s.RAGData, p.RAGData)
	s.VisualData = appendCopy(s.VisualData, p.VisualData)
	s.Images = appendCopy(s.Images, p.Images)

	if p.FinalReport != nil {
		s.FinalReport = *p.FinalReport
	}
	if p.Source != nil && s.Source == SourceUnset {
		s.Source = *p.Source
	}
	if p.CritiqueComments != nil {
		s.CritiqueComments = *p.CritiqueComments
	}
	if p.RevisionNumber != nil && *p.RevisionNumber > s.RevisionNumber {
		s.RevisionNumber = *p.RevisionNumber
	}
	if p.HumanReviewed != nil {
		s.HumanReviewed = *p.HumanReviewed
	}
	s.UpdatedAt = time.Now().UTC()
}

func appendCopy(dst, src []string) []string {
	if dst == nil {
		dst = []string{}
	}
	if len(src) == 0 {
		return dst
	}
	out := make([]string, 0, len(dst)+len(src))
	out = append(out, dst...)
	return append(out, src...)
}

// Clone returns a deep copy so steps cannot alias the engine's slices.
func (s *ThreadState) Clone() *ThreadState {
	if s == nil {
		return nil
	}
	c := *s
	c.SearchResults = append([]string{}, s.SearchResults...)
	c.RAGData = append([]string{}, s.RAGData...)
	c.VisualData = append([]string{}, s.VisualData...)
	c.Images = append([]string{}, s.Images...)
	if s.PendingSteps != nil {
		c.PendingSteps = append([]Step{}, s.PendingSteps...)
	}
	return &c
}

// IsTerminal reports whether the thread can no longer make progress.
func (s *ThreadState) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}
