package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/state"
)

// SafetyVerdict is a safety screen result.
type SafetyVerdict struct {
	Safe   bool
	Reason string
}

// SafetyChecker screens a report.
type SafetyChecker interface {
	Check(ctx context.Context, report string) (SafetyVerdict, error)
}

// Guardrails screens the final report. An unsafe report is replaced with an
// alert and the safety sentinel is written to the critique comments.
type Guardrails struct {
	Checker SafetyChecker
	Logger  *zap.Logger
}

// SafetyAlert is the report that replaces a flagged one.
func SafetyAlert(reason string) string {
	return "**Safety Alert**: The generated report was flagged by our safety guardrails.\n\nReason: " + reason
}

func (a *Guardrails) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	if strings.TrimSpace(st.FinalReport) == "" {
		return state.Partial{}, nil
	}
	v, err := a.Checker.Check(ctx, st.FinalReport)
	if err != nil {
		return state.Partial{}, err
	}
	if v.Safe {
		logger(a.Logger).Debug("Guardrail passed", zap.String("thread_id", st.ThreadID))
		return state.Partial{}, nil
	}
	logger(a.Logger).Warn("Guardrail triggered",
		zap.String("thread_id", st.ThreadID),
		zap.String("reason", v.Reason),
	)
	return state.Partial{
		FinalReport:      state.Ptr(SafetyAlert(v.Reason)),
		CritiqueComments: state.Ptr(state.SafetySentinel),
	}, nil
}

// LLMSafetyChecker asks a chat model to act as compliance officer.
type LLMSafetyChecker struct {
	LLM Completer
}

func (c *LLMSafetyChecker) Check(ctx context.Context, report string) (SafetyVerdict, error) {
	prompt := fmt.Sprintf(`You are a Safety & Compliance Officer. Review the following report for:
1. Toxicity/Harmful Content
2. PII (Personally Identifiable Information) leaks
3. Severe Hallucinations (making up facts not likely in a research context)

Report:
%s

If SAFE, return "SAFE".
If UNSAFE, return "UNSAFE: <reason>".`, report)

	out, err := c.LLM.Complete(ctx, "", prompt)
	if err != nil {
		return SafetyVerdict{}, err
	}
	out = strings.TrimSpace(out)
	if strings.Contains(out, "UNSAFE") {
		return SafetyVerdict{Reason: out}, nil
	}
	return SafetyVerdict{Safe: true}, nil
}
