package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/llm"
	"github.com/helixir/interaction-discovery-service/internal/observability"
)

// Extraction loop bounds.
const (
	// defaultMaxIterations caps model turns per paper. Hitting the cap is a
	// soft failure for that paper only; the pipeline moves on.
	defaultMaxIterations = 20

	// defaultTextBudget is the maximum number of full-text characters sent
	// to the model per paper.
	defaultTextBudget = 400000
)

// truncationMarker is appended whenever paper text is cut at the budget.
const truncationMarker = "\n\n[TRUNCATED]"

// Tool names the extraction model may invoke.
const (
	toolSubmitInteractions = "submit_interactions"
	toolFinishExtraction   = "finish_extraction"
)

const extractorSystemPrompt = "You are a scientific paper analyzer. " +
	"Extract ALL causal relationships by calling submit_interactions. " +
	"When completely done, call finish_extraction."

const extractorInitialPromptFormat = `Analyze this paper and extract ALL intervention studies on human substrate.

Variable of interest: %s

For each experiment that shows a causal relationship:
- Identify the independent variable (IV) - what was manipulated
- Identify the dependent variable (DV) - what was measured
- Determine the effect:
  * '+' if IV increases DV, or if decreasing IV decreases DV
  * '-' if IV decreases DV, or if decreasing IV increases DV

IMPORTANT:
1. Call the submit_interactions tool with the interactions you find. Don't just provide them in the chat!
2. One side of every interaction must be the variable of interest, written exactly as given above.
3. When you have extracted ALL interactions (or if there are none), call finish_extraction
4. You MUST call finish_extraction when done

Paper content:
%s`

// extractorNudge is sent when an assistant turn produces no tool call.
const extractorNudge = "Continue extracting interactions, or call finish_extraction if you are done."

// extractionTools is the fixed tool set offered on every extraction turn.
var extractionTools = []llm.Tool{
	{
		Name: toolSubmitInteractions,
		Description: "Submit one or more extracted interactions from the paper in a single call. " +
			"Each interaction names the manipulated independent variable, the measured dependent variable, " +
			"and the direction of the effect.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"interactions": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"independent_variable": {
								"type": "string",
								"description": "The variable that was manipulated or changed (IV)."
							},
							"dependent_variable": {
								"type": "string",
								"description": "The variable that was measured or affected (DV)."
							},
							"effect": {
								"type": "string",
								"description": "'+' if the IV increases the DV (or an IV decrease causes a DV decrease); '-' if the IV decreases the DV (or an IV decrease causes a DV increase)."
							}
						},
						"required": ["independent_variable", "dependent_variable", "effect"]
					}
				}
			},
			"required": ["interactions"]
		}`),
	},
	{
		Name: toolFinishExtraction,
		Description: "Call this tool when you have finished extracting ALL relevant interactions from the paper, " +
			"or if there are no relevant interactions to extract.",
		Parameters: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
}

// submitArgs is the wire shape of submit_interactions arguments.
type submitArgs struct {
	Interactions []submittedInteraction `json:"interactions"`
}

type submittedInteraction struct {
	IndependentVariable string `json:"independent_variable"`
	DependentVariable   string `json:"dependent_variable"`
	Effect              string `json:"effect"`
}

// ExtractRequest carries one paper's text into the extraction loop.
type ExtractRequest struct {
	JobID           uuid.UUID
	WorkspaceID     string
	TargetVariable  string
	DOI             string
	PublicationDate string
	Text            string

	// Remaining is how many more accepted interactions the job needs. The
	// loop stops early once it has accepted that many; zero or negative
	// disables the early stop.
	Remaining int
}

// ExtractResult summarizes one extraction loop.
type ExtractResult struct {
	Accepted   int
	Rejected   int
	Iterations int

	// Finished reports whether the model called finish_extraction, as
	// opposed to the loop ending on the iteration cap or the target.
	Finished bool

	Model string
	Usage llm.Usage
}

// ExtractorConfig bounds the extraction loop.
type ExtractorConfig struct {
	// MaxIterations is the per-paper cap on model turns.
	MaxIterations int

	// TextBudget is the maximum number of text characters sent per paper.
	TextBudget int
}

// applyDefaults fills in zero values.
func (c *ExtractorConfig) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.TextBudget <= 0 {
		c.TextBudget = defaultTextBudget
	}
}

// Extractor drives the tool-calling extraction loop against an LLM and
// validates every submitted candidate before it reaches the sink.
type Extractor struct {
	client  llm.Client
	config  ExtractorConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ InteractionExtractor = (*Extractor)(nil)

// NewExtractor creates an Extractor backed by the given chat client.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewExtractor(client llm.Client, config ExtractorConfig, logger zerolog.Logger, metrics *observability.Metrics) *Extractor {
	config.applyDefaults()
	return &Extractor{
		client:  client,
		config:  config,
		logger:  logger.With().Str("component", "extractor").Logger(),
		metrics: metrics,
	}
}

// Extract runs the extraction loop over one paper's text. Accepted
// interactions are handed to the sink one by one as they validate; rejected
// candidates are answered with a reason string in the tool result so the
// model can correct and resubmit. The returned error is fatal to the job;
// running out of iterations is not an error.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest, sink InteractionSink) (*ExtractResult, error) {
	text, truncated := truncateText(req.Text, e.config.TextBudget)
	if truncated {
		e.logger.Debug().
			Str("doi", req.DOI).
			Int("text_budget", e.config.TextBudget).
			Int("original_length", len(req.Text)).
			Msg("paper text truncated")
	}

	messages := []llm.Message{
		llm.SystemMessage(extractorSystemPrompt),
		llm.UserMessage(fmt.Sprintf(extractorInitialPromptFormat, req.TargetVariable, text)),
	}

	result := &ExtractResult{Model: e.client.Model()}
	done := false

	for !done && result.Iterations < e.config.MaxIterations {
		result.Iterations++

		start := time.Now()
		resp, err := e.client.Chat(ctx, llm.ChatRequest{Messages: messages, Tools: extractionTools})
		duration := time.Since(start).Seconds()
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordLLMRequestFailed("extract_interactions", e.client.Model(), errorType(err))
			}
			return nil, fmt.Errorf("extraction iteration %d: %w", result.Iterations, err)
		}

		if e.metrics != nil {
			e.metrics.RecordLLMRequest("extract_interactions", resp.Model, duration, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		result.Model = resp.Model
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens

		messages = append(messages, llm.AssistantMessage(resp))

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, llm.UserMessage(extractorNudge))
			continue
		}

		for _, call := range resp.ToolCalls {
			switch call.Name {
			case toolSubmitInteractions:
				content, err := e.handleSubmit(ctx, req, call.Arguments, sink, result)
				if err != nil {
					return nil, err
				}
				messages = append(messages, llm.ToolResultMessage(call.ID, content))

			case toolFinishExtraction:
				done = true
				result.Finished = true
				messages = append(messages, llm.ToolResultMessage(call.ID, "Extraction complete."))

			default:
				messages = append(messages, llm.ToolResultMessage(call.ID, fmt.Sprintf("Error: unknown tool %q.", call.Name)))
			}
		}

		if req.Remaining > 0 && result.Accepted >= req.Remaining {
			break
		}
	}

	if e.metrics != nil {
		e.metrics.RecordExtractionIterations(result.Iterations)
	}

	e.logger.Debug().
		Str("doi", req.DOI).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Int("iterations", result.Iterations).
		Bool("finished", result.Finished).
		Msg("extraction loop ended")

	return result, nil
}

// handleSubmit validates one submit_interactions batch and returns the tool
// result text. Candidates are validated independently: one bad entry never
// blocks its batchmates. A non-nil error means persistence failed, which is
// fatal to the job.
func (e *Extractor) handleSubmit(ctx context.Context, req ExtractRequest, rawArgs json.RawMessage, sink InteractionSink, result *ExtractResult) (string, error) {
	var args submitArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		if e.metrics != nil {
			e.metrics.RecordInteractionRejected("malformed_arguments")
		}
		return fmt.Sprintf("Error: invalid arguments: %v. Provide an 'interactions' array of objects with independent_variable, dependent_variable and effect.", err), nil
	}

	var (
		lines    []string
		accepted int
	)
	for _, cand := range args.Interactions {
		iv := strings.TrimSpace(cand.IndependentVariable)
		dv := strings.TrimSpace(cand.DependentVariable)

		if iv == "" || dv == "" {
			result.Rejected++
			if e.metrics != nil {
				e.metrics.RecordInteractionRejected("missing_variable")
			}
			lines = append(lines, fmt.Sprintf("Rejected: %q -> %q: both independent_variable and dependent_variable must be non-empty.",
				cand.IndependentVariable, cand.DependentVariable))
			continue
		}

		effect, ok := domain.NormalizeEffect(cand.Effect)
		if !ok {
			result.Rejected++
			if e.metrics != nil {
				e.metrics.RecordInteractionRejected("invalid_effect")
			}
			lines = append(lines, fmt.Sprintf("Rejected: %s -> %s: effect %q is not recognized; use '+' or '-'.",
				iv, dv, cand.Effect))
			continue
		}

		if !domain.MatchesTarget(iv, dv, req.TargetVariable) {
			result.Rejected++
			if e.metrics != nil {
				e.metrics.RecordInteractionRejected("variable_mismatch")
			}
			lines = append(lines, fmt.Sprintf("Rejected: %s -> %s: neither variable matches the target variable %q exactly.",
				iv, dv, req.TargetVariable))
			continue
		}

		interaction := &domain.Interaction{
			ID:                  uuid.New(),
			JobID:               req.JobID,
			WorkspaceID:         req.WorkspaceID,
			IndependentVariable: iv,
			DependentVariable:   dv,
			Effect:              effect,
			Reference:           req.DOI,
			DatePublished:       req.PublicationDate,
			CreatedAt:           time.Now().UTC(),
		}
		if err := sink.AcceptInteraction(ctx, interaction); err != nil {
			return "", fmt.Errorf("persist interaction: %w", err)
		}

		result.Accepted++
		accepted++
		if e.metrics != nil {
			e.metrics.RecordInteractionAccepted()
		}
		lines = append(lines, fmt.Sprintf("Stored: %s -> %s (%s)", iv, dv, effect))
	}

	lines = append(lines, fmt.Sprintf("%d of %d interaction(s) accepted. Continue extracting or call finish_extraction when done.",
		accepted, len(args.Interactions)))
	return strings.Join(lines, "\n"), nil
}

// truncateText enforces the character budget on paper text, backing up to a
// rune boundary so the cut never splits a UTF-8 sequence. A budget of zero
// or less means unlimited.
func truncateText(text string, budget int) (string, bool) {
	if budget <= 0 || len(text) <= budget {
		return text, false
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMarker, true
}
