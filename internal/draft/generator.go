// Package draft classifies comment intent and suggests a reply using a
// retrieval-augmented completion call. Drafting is best-effort by contract:
// every failure path degrades to a fallback result so a sync can never be
// aborted by the AI layer.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/replydesk/internal/retry"
)

// Result is the outcome of drafting one comment.
type Result struct {
	Intent          string `json:"intent"`
	Reply           string `json:"reply"`
	NeedsAssistance bool   `json:"needs_assistance"`
}

// Sentinel intents for the two non-AI outcomes.
const (
	IntentNoContent = "No Content"
	IntentUnknown   = "Unknown"
)

const fallbackReply = "We're sorry for the trouble. Our team will look into this and get back to you shortly."

// Retriever performs a best-effort similarity search against the knowledge
// base. The vector store itself is an external collaborator.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Generator drafts replies through an llms.Model.
type Generator struct {
	llm         llms.Model
	retriever   Retriever
	retryConfig retry.Config
	contextDocs int
}

// NewGenerator builds a Generator. retriever may be nil, in which case
// drafting proceeds without knowledge-base context.
func NewGenerator(llm llms.Model, retriever Retriever) *Generator {
	return &Generator{
		llm:         llm,
		retriever:   retriever,
		retryConfig: retry.RateLimitConfig(),
		contextDocs: 3,
	}
}

// Draft classifies text and suggests a reply. Empty text short-circuits with
// a no-content sentinel; all failures return the fallback result.
func (g *Generator) Draft(ctx context.Context, text, platformName string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Intent: IntentNoContent, NeedsAssistance: true}
	}

	kbContext := g.retrieveContext(ctx, text)

	var result Result
	outcome := retry.Do(ctx, g.retryConfig, func() error {
		parsed, err := g.complete(ctx, text, platformName, kbContext)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})

	if !outcome.Success {
		log.Warn().
			Err(outcome.LastError).
			Int("attempts", outcome.Attempts).
			Str("platform", platformName).
			Msg("Draft generation failed, using fallback result")
		return Result{
			Intent:          IntentUnknown,
			Reply:           fallbackReply,
			NeedsAssistance: true,
		}
	}
	return result
}

// retrieveContext is best-effort: a retrieval failure only costs context,
// never the draft.
func (g *Generator) retrieveContext(ctx context.Context, query string) []string {
	if g.retriever == nil {
		return nil
	}
	docs, err := g.retriever.Search(ctx, query, g.contextDocs)
	if err != nil {
		log.Warn().Err(err).Msg("Knowledge base retrieval failed, drafting without context")
		return nil
	}
	return docs
}

func (g *Generator) complete(ctx context.Context, text, platformName string, kbContext []string) (Result, error) {
	prompt := buildPrompt(text, platformName, kbContext)

	raw, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(0.2),
		llms.WithJSONMode(),
	)
	if err != nil {
		return Result{}, fmt.Errorf("completion call failed: %w", err)
	}

	result, err := parseResult(raw)
	if err != nil {
		return Result{}, fmt.Errorf("parse completion output: %w", err)
	}
	return result, nil
}

func buildPrompt(text, platformName string, kbContext []string) string {
	var b strings.Builder
	b.WriteString("You are a support agent drafting replies to social media comments.\n")
	fmt.Fprintf(&b, "Platform: %s\n\n", platformName)

	if len(kbContext) > 0 {
		b.WriteString("Relevant knowledge base excerpts:\n")
		for _, doc := range kbContext {
			fmt.Fprintf(&b, "- %s\n", doc)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Comment:\n%s\n\n", text)
	b.WriteString(`Classify the comment and draft a short, friendly reply. Respond with ONLY a JSON object:
{"intent": "<one of: Complaint, Question, Praise, Spam, Other>", "reply": "<suggested reply>", "needs_assistance": <true if a human should review before posting>}`)
	return b.String()
}

// parseResult decodes the structured output, running it through jsonrepair
// first since models routinely wrap JSON in fences or emit trailing commas.
func parseResult(raw string) (Result, error) {
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return Result{}, fmt.Errorf("repair JSON: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return Result{}, fmt.Errorf("unmarshal result: %w", err)
	}
	if result.Intent == "" {
		return Result{}, fmt.Errorf("completion returned no intent")
	}
	return result, nil
}
