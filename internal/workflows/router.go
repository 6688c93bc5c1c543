package workflows

import "github.com/srujansrutha/amri/internal/state"

// RouteAfterCache ends the run on a cache hit.
func RouteAfterCache(st *state.ThreadState) state.Step {
	if st.Source == state.SourceCache {
		return state.StepEnd
	}
	return state.StepSearchWeb
}

// RouteAfterRAG sends HITL threads to human review once. Revision passes go
// straight to the writer.
func RouteAfterRAG(st *state.ThreadState) state.Step {
	if st.EnableHITL && !st.HumanReviewed {
		return state.StepHumanReview
	}
	return state.StepWrite
}

// RouteAfterCritique loops back to search while a critique note is pending.
func RouteAfterCritique(st *state.ThreadState) state.Step {
	if st.CritiqueComments != "" {
		return state.StepSearchWeb
	}
	return state.StepGuardrails
}

// Next is the fixed research graph. It is total: unknown steps end the run.
func Next(step state.Step, st *state.ThreadState) state.Step {
	switch step {
	case state.StepCheckCache:
		return RouteAfterCache(st)
	case state.StepSearchWeb:
		return state.StepVision
	case state.StepVision:
		return state.StepRAG
	case state.StepRAG:
		return RouteAfterRAG(st)
	case state.StepHumanReview:
		return state.StepWrite
	case state.StepWrite:
		return state.StepCritique
	case state.StepCritique:
		return RouteAfterCritique(st)
	default:
		return state.StepEnd
	}
}
