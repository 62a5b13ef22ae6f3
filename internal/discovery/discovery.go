package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/llm"
)

// Searcher finds candidate papers for a query. Implemented by the PubMed
// client; results keep the source's ranking order.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.CandidatePaper, error)
}

// TextAcquirer resolves a DOI to plain full text. Implemented by the
// fulltext acquirer; failures are typed so the pipeline can tell skippable
// candidates from fatal conditions.
type TextAcquirer interface {
	Acquire(ctx context.Context, doi string) (*domain.FullText, error)
}

// EventEmitter records job lifecycle events for asynchronous publication
// through the outbox.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.OutboxEvent) error
}

// QueryComposer produces one new PubMed search query per call.
type QueryComposer interface {
	Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error)
}

// RelevanceClassifier judges whether a candidate paper is worth downloading
// based on its title and abstract.
type RelevanceClassifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)
}

// InteractionExtractor mines a paper's full text for causal interactions,
// delivering each accepted interaction to the sink as it is validated.
type InteractionExtractor interface {
	Extract(ctx context.Context, req ExtractRequest, sink InteractionSink) (*ExtractResult, error)
}

// InteractionSink receives accepted interactions while an extraction loop is
// still running, so persistence, job logs and counters advance live rather
// than after the loop ends.
type InteractionSink interface {
	AcceptInteraction(ctx context.Context, interaction *domain.Interaction) error
}

// errorType classifies an error for metrics labeling.
// Uses errors.As to correctly unwrap wrapped errors.
func errorType(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Type != "" {
			return apiErr.Type
		}
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	}
	return "unknown"
}
