package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mailquote/mailquote/internal/config"
)

const classifySystemPrompt = `You classify inbound emails for a quoting system.
Respond with JSON only: {"intent": "...", "confidence": 0.0, "reason": "..."}.
Valid intents:
- new_request: a fresh request for a price quote
- follow_up_with_info: a reply supplying details we previously asked for
- follow_up_question: a reply asking a question rather than supplying details
- duplicate: a re-send or nudge about a request we already answered
Confidence is between 0 and 1.`

const extractSystemPrompt = `You extract structured quote requests from emails.
Respond with JSON only:
{"product_name": "...", "length_inches": 0, "width_inches": 0, "quantity": 1,
 "missing_fields": [], "confidence": 0.0}
Dimensions must be in inches; convert when the email uses feet or cm.
List any field you could not determine in missing_fields
(valid names: product, dimensions). Confidence is between 0 and 1.`

// Classifier analyses inbound email. With no API key configured it
// runs entirely on the heuristic fallbacks.
type Classifier struct {
	client *openai.Client
	cfg    config.LLMConfig
	logger zerolog.Logger
}

// NewClassifier creates a classifier. A nil LLM client is valid and
// means heuristics only.
func NewClassifier(cfg config.LLMConfig, logger zerolog.Logger) *Classifier {
	c := &Classifier{
		cfg:    cfg,
		logger: logger.With().Str("component", "intent").Logger(),
	}
	if cfg.APIKey != "" {
		c.client = openai.NewClient(cfg.APIKey)
	}
	return c
}

// Classify determines what the email wants. LLM failures are logged
// and degrade to the heuristic path so a provider outage never stalls
// the pipeline.
func (c *Classifier) Classify(ctx context.Context, subject, body string, isReplyToUs bool) Classification {
	if c.client == nil {
		return fallbackClassify(body, isReplyToUs)
	}

	prompt := fmt.Sprintf("Subject: %s\nIs a reply to our previous message: %t\n\n%s",
		subject, isReplyToUs, body)

	content, err := c.complete(ctx, classifySystemPrompt, prompt)
	if err != nil {
		c.logger.Warn().Err(err).Msg("LLM classification failed, using heuristics")
		return fallbackClassify(body, isReplyToUs)
	}

	var cl Classification
	if err := json.Unmarshal([]byte(stripFences(content)), &cl); err != nil {
		c.logger.Warn().Err(err).Str("content", content).Msg("Unparseable classification, using heuristics")
		return fallbackClassify(body, isReplyToUs)
	}
	if !validIntent(cl.Intent) {
		c.logger.Warn().Str("intent", string(cl.Intent)).Msg("Unknown intent from LLM, using heuristics")
		return fallbackClassify(body, isReplyToUs)
	}
	return cl
}

// Extract pulls the structured quote request out of the email body.
func (c *Classifier) Extract(ctx context.Context, subject, body string) Extraction {
	if c.client == nil {
		return fallbackExtract(subject, body)
	}

	prompt := fmt.Sprintf("Subject: %s\n\n%s", subject, body)

	content, err := c.complete(ctx, extractSystemPrompt, prompt)
	if err != nil {
		c.logger.Warn().Err(err).Msg("LLM extraction failed, using heuristics")
		return fallbackExtract(subject, body)
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(stripFences(content)), &ex); err != nil {
		c.logger.Warn().Err(err).Str("content", content).Msg("Unparseable extraction, using heuristics")
		return fallbackExtract(subject, body)
	}
	if ex.Quantity <= 0 {
		ex.Quantity = 1
	}
	if ex.LengthIn <= 0 || ex.WidthIn <= 0 {
		ex.addMissing("dimensions")
	}
	if ex.ProductName == "" {
		ex.addMissing("product")
	}
	return ex
}

func (c *Classifier) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *Extraction) addMissing(field string) {
	for _, f := range e.MissingFields {
		if f == field {
			return
		}
	}
	e.MissingFields = append(e.MissingFields, field)
}

func validIntent(i Intent) bool {
	switch i {
	case IntentNewRequest, IntentFollowUpWithInfo, IntentFollowUpQuestion,
		IntentDuplicate:
		return true
	}
	return false
}

// stripFences removes a markdown code fence wrapper from LLM output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
