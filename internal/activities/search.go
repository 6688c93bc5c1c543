package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/state"
)

// SearchWeb queries the web for the topic. On a revision pass the critique
// note narrows the query.
type SearchWeb struct {
	Searcher Searcher
	Logger   *zap.Logger
}

// SearchQuery builds the query for the current pass.
func SearchQuery(st *state.ThreadState) string {
	if st.CritiqueComments != "" {
		return fmt.Sprintf("%s related to: %s", st.Topic, st.CritiqueComments)
	}
	return st.Topic
}

func (a *SearchWeb) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	query := SearchQuery(st)
	if st.CritiqueComments != "" {
		logger(a.Logger).Info("Re-searching with critique",
			zap.String("thread_id", st.ThreadID),
			zap.String("query", query),
		)
	}

	resp, err := a.Searcher.Search(ctx, query)
	if err != nil {
		return state.Partial{}, err
	}
	results := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, formatSource(r.Content, r.URL))
	}
	return state.Partial{SearchResults: results, Images: resp.Images}, nil
}
