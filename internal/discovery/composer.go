package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/llm"
	"github.com/helixir/interaction-discovery-service/internal/observability"
)

const composerSystemPrompt = "You are an expert at crafting PubMed search queries. " +
	"Your aim is to create queries that uncover human intervention studies about the effects of a given variable of interest."

const composerFirstPromptFormat = `Variable of interest: %s

Create a concise PubMed search query for finding intervention studies on human substrate about this variable. Include relevant keywords and filters.`

const composerRetryPromptFormat = `Variable of interest: %s

Previously tried queries:
%s

These queries have been exhausted. Create a NEW, CREATIVE query that approaches the topic differently to uncover papers not yet found.

Be creative:
- Use synonyms and related terms
- Try different medical terminology
- Include related conditions or mechanisms
- Use different publication types or filters
- Think laterally about the research question
- Be more broad in the query

Create a concise PubMed search query for intervention studies on human substrate.`

// ComposeRequest asks for one new search query.
type ComposeRequest struct {
	// TargetVariable is the variable of interest driving the run.
	TargetVariable string

	// TriedQueries are the queries already composed for this job, oldest
	// first. A non-empty list switches the prompt to demand a materially
	// different query.
	TriedQueries []string
}

// ComposeResult is one composed query plus the usage that produced it.
type ComposeResult struct {
	Query string
	Model string
	Usage llm.Usage
}

// Composer composes PubMed search queries with an LLM. No mechanical
// deduplication is applied to the output; novelty is achieved by showing the
// model everything already tried.
type Composer struct {
	client  llm.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ QueryComposer = (*Composer)(nil)

// NewComposer creates a Composer backed by the given chat client.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewComposer(client llm.Client, logger zerolog.Logger, metrics *observability.Metrics) *Composer {
	return &Composer{
		client:  client,
		logger:  logger.With().Str("component", "composer").Logger(),
		metrics: metrics,
	}
}

// Compose produces one new query for the target variable. Failure here is
// fatal to the job: without a query the pipeline has nothing left to do.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	prompt := fmt.Sprintf(composerFirstPromptFormat, req.TargetVariable)
	if len(req.TriedQueries) > 0 {
		numbered := make([]string, len(req.TriedQueries))
		for i, q := range req.TriedQueries {
			numbered[i] = fmt.Sprintf("  %d. %s", i+1, q)
		}
		prompt = fmt.Sprintf(composerRetryPromptFormat, req.TargetVariable, strings.Join(numbered, "\n"))
	}

	start := time.Now()
	resp, err := c.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage(composerSystemPrompt),
			llm.UserMessage(prompt),
		},
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLLMRequestFailed("compose_query", c.client.Model(), errorType(err))
		}
		return nil, fmt.Errorf("compose query: %w", err)
	}

	query := strings.TrimSpace(resp.Content)
	if query == "" {
		if c.metrics != nil {
			c.metrics.RecordLLMRequestFailed("compose_query", resp.Model, "empty_response")
		}
		return nil, fmt.Errorf("compose query: model returned an empty query")
	}

	if c.metrics != nil {
		c.metrics.RecordLLMRequest("compose_query", resp.Model, duration, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		c.metrics.RecordQueryComposed()
	}

	c.logger.Debug().
		Str("target_variable", req.TargetVariable).
		Int("tried_queries", len(req.TriedQueries)).
		Str("query", query).
		Msg("query composed")

	return &ComposeResult{Query: query, Model: resp.Model, Usage: resp.Usage}, nil
}
