package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/resilience"
	"github.com/sells-group/docflow-cli/pkg/anthropic"
)

// Input is one document handed to the extraction client.
type Input struct {
	Filename  string
	MediaType string
	Bytes     []byte
}

// Verdict is the outcome of a successful extraction.
type Verdict struct {
	Fields     *model.Fields
	Confidence float64
	Status     model.DocumentStatus
	Method     string
}

// UnprocessableError is the distinguished failure for documents the service
// definitively refused: oversize payloads, corrupt files, rejected content.
// It carries whatever partial fields were recovered before the refusal.
type UnprocessableError struct {
	Category model.RejectionCategory
	Reason   string
	Fields   *model.Fields
}

func (e *UnprocessableError) Error() string {
	return fmt.Sprintf("unprocessable (%s): %s", e.Category, e.Reason)
}

// AsUnprocessable extracts an UnprocessableError from an error chain.
func AsUnprocessable(err error) (*UnprocessableError, bool) {
	var ue *UnprocessableError
	ok := eris.As(err, &ue)
	return ue, ok
}

// Extractor turns document bytes into a field-value verdict.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*Verdict, error)
}

// Options configures the Anthropic-backed extractor.
type Options struct {
	Model               string
	MaxTokens           int64
	ConfidenceThreshold float64
	RateQPS             float64
	Prompt              string
	SchemaFields        string
	MaxRetries          int
}

const extractSystemText = `You are a data-entry specialist extracting structured fields from scanned case documents. Return only a valid JSON object, no prose.

Response schema:
{"fields": {<field name>: <value>, ...}, "confidence": <0.0-1.0>, "status": "valid"|"needs_review", "unprocessable": {"category": "<category>", "reason": "<reason>"} | null}

Rules:
- Extract every requested field; use null for fields not present in the document.
- Preserve nested structure where the schema calls for it.
- If the document is illegible, incomplete, or not the expected kind, set "unprocessable" with category one of: missing-reference, illegible, incomplete, invalid-format, and still report any fields you could read.`

// Client is the Anthropic-backed Extractor.
type Client struct {
	api     anthropic.Client
	opts    Options
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// New builds an extraction client. A zero RateQPS disables throttling.
func New(api anthropic.Client, opts Options) *Client {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateQPS), 1)
	}

	retry := resilience.DefaultRetryConfig()
	if opts.MaxRetries > 0 {
		retry.MaxAttempts = opts.MaxRetries
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")

	return &Client{api: api, opts: opts, limiter: limiter, retry: retry}
}

// Extract drives one document through the service. Structured-data files
// parse locally without a service call.
func (c *Client) Extract(ctx context.Context, in Input) (*Verdict, error) {
	if isStructured(in.Filename) {
		return parseDirect(in)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.api.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.opts.Model,
			MaxTokens: c.opts.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(extractSystemText),
			Messages: []anthropic.Message{
				anthropic.UserMessage(
					anthropic.DocumentPart(in.MediaType, in.Bytes),
					anthropic.TextPart(c.userPrompt(in.Filename)),
				),
			},
		})
		if err != nil {
			// Refusals are final even when the transport layer looks retryable.
			if _, ok := refusalCategory(err); ok {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if cat, ok := refusalCategory(err); ok {
			return nil, &UnprocessableError{Category: cat, Reason: err.Error()}
		}
		return nil, eris.Wrapf(err, "extract: %s", in.Filename)
	}

	resp.Usage.LogCost(c.opts.Model, "extract")

	verdict, err := c.parseVerdict(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s", in.Filename)
	}
	return verdict, nil
}

func (c *Client) userPrompt(filename string) string {
	var b strings.Builder
	if c.opts.Prompt != "" {
		b.WriteString(c.opts.Prompt)
		b.WriteString("\n\n")
	}
	if c.opts.SchemaFields != "" {
		b.WriteString("Fields to extract:\n")
		b.WriteString(c.opts.SchemaFields)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Document filename: %s\nExtract the fields as JSON.", filename)
	return b.String()
}

// serviceVerdict mirrors the response schema the system prompt demands.
type serviceVerdict struct {
	Fields        *model.Fields `json:"fields"`
	Confidence    float64       `json:"confidence"`
	Status        string        `json:"status"`
	Unprocessable *struct {
		Category string `json:"category"`
		Reason   string `json:"reason"`
	} `json:"unprocessable"`
}

func (c *Client) parseVerdict(text string) (*Verdict, error) {
	var sv serviceVerdict
	if err := json.Unmarshal([]byte(cleanJSON(text)), &sv); err != nil {
		return nil, eris.Wrap(err, "parse verdict JSON")
	}

	if sv.Unprocessable != nil && sv.Unprocessable.Category != "" {
		return nil, &UnprocessableError{
			Category: rejectionCategory(sv.Unprocessable.Category),
			Reason:   sv.Unprocessable.Reason,
			Fields:   sv.Fields,
		}
	}

	fields := sv.Fields
	if fields == nil {
		fields = model.NewFields()
	}

	status := model.DocumentStatus(sv.Status)
	switch status {
	case model.StatusValid, model.StatusNeedsReview:
		// explicit hint from the service
	default:
		if sv.Confidence >= c.opts.ConfidenceThreshold {
			status = model.StatusValid
		} else {
			status = model.StatusNeedsReview
		}
	}

	return &Verdict{
		Fields:     fields,
		Confidence: sv.Confidence,
		Status:     status,
		Method:     c.opts.Model,
	}, nil
}

// rejectionCategory maps a service-reported category onto the registry
// taxonomy, defaulting to critical-error for anything unknown.
func rejectionCategory(s string) model.RejectionCategory {
	switch cat := model.RejectionCategory(s); cat {
	case model.CategoryMissingReference, model.CategoryIllegible,
		model.CategoryIncomplete, model.CategoryDuplicate,
		model.CategoryInvalidFormat:
		return cat
	}
	return model.CategoryCriticalError
}

// refusalCategory classifies API-level rejections that mean the document
// itself can never succeed, as opposed to transient service trouble.
func refusalCategory(err error) (model.RejectionCategory, bool) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "request_too_large"),
		strings.Contains(msg, "payload too large"),
		strings.Contains(msg, "413"):
		return model.CategoryInvalidFormat, true
	case strings.Contains(msg, "could not process"),
		strings.Contains(msg, "invalid_request_error") && strings.Contains(msg, "document"):
		return model.CategoryInvalidFormat, true
	}
	return "", false
}

// isStructured reports whether the file parses locally instead of going to
// the service.
func isStructured(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".json")
}

// parseDirect handles structured-data files without a service call.
func parseDirect(in Input) (*Verdict, error) {
	fields := model.NewFields()
	if err := fields.UnmarshalJSON(in.Bytes); err != nil {
		zap.L().Warn("extract: direct parse failed",
			zap.String("filename", in.Filename),
			zap.Error(err),
		)
		return nil, &UnprocessableError{
			Category: model.CategoryInvalidFormat,
			Reason:   "structured file is not a JSON object",
		}
	}
	return &Verdict{
		Fields:     fields,
		Confidence: 1.0,
		Status:     model.StatusValid,
		Method:     "direct-parse",
	}, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
