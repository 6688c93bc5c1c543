package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/srujansrutha/amri/internal/state"
)

const (
	defaultMaxImages  = 2
	visionInstruction = "Describe this image in detail, focusing on any charts, data, or key visual information relevant to a research report."
	imageSourcePrefix = "Image Source: "
)

// Vision describes images found by search. Images already described on an
// earlier pass are skipped; a failed image is logged and dropped.
type Vision struct {
	Describer ImageDescriber
	MaxImages int
	Logger    *zap.Logger
}

func (a *Vision) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	targets := pendingImages(st, a.maxImages())
	if len(targets) == 0 {
		return state.Partial{}, nil
	}
	log := logger(a.Logger)
	log.Info("Analyzing images", zap.String("thread_id", st.ThreadID), zap.Int("count", len(targets)))

	out := make([]string, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range targets {
		i, url := i, url
		g.Go(func() error {
			desc, err := a.Describer.DescribeImage(gctx, url, visionInstruction)
			if err != nil {
				log.Warn("Vision analysis failed",
					zap.String("thread_id", st.ThreadID),
					zap.String("image", url),
					zap.Error(err),
				)
				return nil
			}
			out[i] = fmt.Sprintf("%s%s\nAnalysis: %s", imageSourcePrefix, url, desc)
			return nil
		})
	}
	_ = g.Wait()

	descriptions := make([]string, 0, len(out))
	for _, d := range out {
		if d != "" {
			descriptions = append(descriptions, d)
		}
	}
	return state.Partial{VisualData: descriptions}, nil
}

func (a *Vision) maxImages() int {
	if a.MaxImages <= 0 {
		return defaultMaxImages
	}
	return a.MaxImages
}

// pendingImages returns up to max distinct image URLs with no description yet.
func pendingImages(st *state.ThreadState, max int) []string {
	seen := make(map[string]bool, len(st.VisualData))
	for _, d := range st.VisualData {
		if rest, ok := strings.CutPrefix(d, imageSourcePrefix); ok {
			url, _, _ := strings.Cut(rest, "\n")
			seen[url] = true
		}
	}
	var out []string
	for _, url := range st.Images {
		if len(out) == max {
			break
		}
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	return out
}
