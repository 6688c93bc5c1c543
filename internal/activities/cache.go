package activities

import (
	"context"

	"go.uber.org/zap"

	ometrics "github.com/srujansrutha/amri/internal/metrics"
	"github.com/srujansrutha/amri/internal/semcache"
	"github.com/srujansrutha/amri/internal/state"
)

// CheckCache decides whether a cached report answers the topic. A hit sets
// source=cache and the report; a miss sets source=live.
type CheckCache struct {
	Cache semcache.Cache
	// FailOpen treats lookup errors as a miss instead of failing the run.
	FailOpen bool
	Logger   *zap.Logger
}

func (a *CheckCache) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	report, hit, err := a.Cache.Lookup(ctx, st.Topic)
	if err != nil {
		ometrics.CacheLookups.WithLabelValues("error").Inc()
		if !a.FailOpen {
			return state.Partial{}, err
		}
		logger(a.Logger).Warn("Semantic cache lookup failed, treating as miss",
			zap.String("thread_id", st.ThreadID),
			zap.Error(err),
		)
		hit = false
	}

	if hit {
		ometrics.CacheLookups.WithLabelValues("hit").Inc()
		return state.Partial{
			Source:      state.Ptr(state.SourceCache),
			FinalReport: state.Ptr(report),
		}, nil
	}
	if err == nil {
		ometrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return state.Partial{Source: state.Ptr(state.SourceLive)}, nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
