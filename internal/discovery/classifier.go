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

const classifierSystemPromptFormat = "You are evaluating if this paper is relevant to: %s. " +
	"Check if it's an intervention study on human substrate and contains causal relationships. " +
	"Reply with 'yes' if relevant, 'no' if not."

const classifierUserPromptFormat = "Title: %s\n\nAbstract: %s"

// ClassifyRequest asks whether one candidate is worth acquiring.
type ClassifyRequest struct {
	TargetVariable string
	Title          string
	Abstract       string
}

// ClassifyResult is the relevance verdict plus the usage that produced it.
type ClassifyResult struct {
	Relevant bool
	Model    string
	Usage    llm.Usage
}

// Classifier judges candidate relevance from title and abstract with an LLM.
// Anything other than an affirmative answer counts as not relevant, so a
// rambling model response fails closed.
type Classifier struct {
	client  llm.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ RelevanceClassifier = (*Classifier)(nil)

// NewClassifier creates a Classifier backed by the given chat client.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewClassifier(client llm.Client, logger zerolog.Logger, metrics *observability.Metrics) *Classifier {
	return &Classifier{
		client:  client,
		logger:  logger.With().Str("component", "classifier").Logger(),
		metrics: metrics,
	}
}

// Classify returns whether the candidate looks like a relevant human
// intervention study. Errors are per-candidate: the caller skips the paper
// and moves on rather than failing the job.
func (c *Classifier) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	start := time.Now()
	resp, err := c.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage(fmt.Sprintf(classifierSystemPromptFormat, req.TargetVariable)),
			llm.UserMessage(fmt.Sprintf(classifierUserPromptFormat, req.Title, req.Abstract)),
		},
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLLMRequestFailed("classify_relevance", c.client.Model(), errorType(err))
		}
		return nil, fmt.Errorf("classify relevance: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	relevant := answer == "yes" || answer == "y"

	if c.metrics != nil {
		c.metrics.RecordLLMRequest("classify_relevance", resp.Model, duration, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	c.logger.Debug().
		Str("title", req.Title).
		Bool("relevant", relevant).
		Msg("abstract classified")

	return &ClassifyResult{Relevant: relevant, Model: resp.Model, Usage: resp.Usage}, nil
}
