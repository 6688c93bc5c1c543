package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/state"
)

// HumanReview runs after a paused thread is resumed. The feedback is already
// on the state; the step only records that review happened.
type HumanReview struct {
	Logger *zap.Logger
}

func (a *HumanReview) Execute(_ context.Context, st *state.ThreadState) (state.Partial, error) {
	fields := []zap.Field{zap.String("thread_id", st.ThreadID)}
	if st.HumanFeedback != "" {
		fields = append(fields, zap.String("feedback", st.HumanFeedback))
	}
	logger(a.Logger).Info("Human review completed", fields...)
	return state.Partial{HumanReviewed: state.Ptr(true)}, nil
}
