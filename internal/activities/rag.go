package activities

import (
	"context"

	"github.com/srujansrutha/amri/internal/state"
)

const defaultRAGK = 3

// RAG retrieves passages from the document store.
type RAG struct {
	Retriever Retriever
	K         int
}

func (a *RAG) Execute(ctx context.Context, st *state.ThreadState) (state.Partial, error) {
	k := a.K
	if k <= 0 {
		k = defaultRAGK
	}
	docs, err := a.Retriever.Retrieve(ctx, st.Topic, k)
	if err != nil {
		return state.Partial{}, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		src := d.Source
		if src == "" {
			src = "Unknown"
		}
		out = append(out, formatSource(d.Content, src))
	}
	return state.Partial{RAGData: out}, nil
}
