package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/resilience"
	"github.com/sells-group/docflow-cli/pkg/anthropic"
)

// mockAPI returns canned responses in order, then repeats the last one.
type mockAPI struct {
	responses []string
	errs      []error
	calls     int
	lastReq   anthropic.MessageRequest
}

func (m *mockAPI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	i := m.calls
	m.calls++
	m.lastReq = req
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if len(m.responses) > 0 {
		if i >= len(m.responses) {
			i = len(m.responses) - 1
		}
		text = m.responses[i]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func testOptions() Options {
	return Options{
		Model:               "claude-sonnet-4-5-20250929",
		ConfidenceThreshold: 0.5,
		SchemaFields:        "expediente, monto, fecha",
	}
}

func TestExtract_ValidVerdict(t *testing.T) {
	api := &mockAPI{responses: []string{
		"```json\n" + `{"fields":{"expediente":"EXP-1","monto":120.5},"confidence":0.91,"status":"valid","unprocessable":null}` + "\n```",
	}}
	c := New(api, testOptions())

	v, err := c.Extract(context.Background(), Input{
		Filename:  "scan.pdf",
		MediaType: "application/pdf",
		Bytes:     []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, v.Status)
	assert.InDelta(t, 0.91, v.Confidence, 1e-9)
	assert.Equal(t, "claude-sonnet-4-5-20250929", v.Method)
	assert.Equal(t, []string{"expediente", "monto"}, v.Fields.Keys())

	// document travelled with the request
	require.Len(t, api.lastReq.Messages, 1)
	require.NotNil(t, api.lastReq.Messages[0].Parts[0].Document)
	assert.NotEmpty(t, api.lastReq.System)
}

func TestExtract_ConfidenceThresholdDecides(t *testing.T) {
	api := &mockAPI{responses: []string{
		`{"fields":{"expediente":"EXP-2"},"confidence":0.31}`,
	}}
	c := New(api, testOptions())

	v, err := c.Extract(context.Background(), Input{Filename: "low.pdf", MediaType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, v.Status)
}

func TestExtract_HighConfidenceWithoutHint(t *testing.T) {
	api := &mockAPI{responses: []string{
		`{"fields":{"expediente":"EXP-3"},"confidence":0.75}`,
	}}
	c := New(api, testOptions())

	v, err := c.Extract(context.Background(), Input{Filename: "ok.pdf", MediaType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, v.Status)
}

func TestExtract_UnprocessableVerdict(t *testing.T) {
	api := &mockAPI{responses: []string{
		`{"fields":{"expediente":"EXP-9"},"confidence":0.1,"unprocessable":{"category":"illegible","reason":"scan too dark"}}`,
	}}
	c := New(api, testOptions())

	_, err := c.Extract(context.Background(), Input{Filename: "dark.pdf", MediaType: "application/pdf"})
	require.Error(t, err)
	ue, ok := AsUnprocessable(err)
	require.True(t, ok)
	assert.Equal(t, model.CategoryIllegible, ue.Category)
	assert.Equal(t, "scan too dark", ue.Reason)
	// partial fields survive the refusal
	require.NotNil(t, ue.Fields)
	_, found := ue.Fields.Get("expediente")
	assert.True(t, found)
}

func TestExtract_UnknownCategoryBecomesCritical(t *testing.T) {
	api := &mockAPI{responses: []string{
		`{"unprocessable":{"category":"weird","reason":"?"}}`,
	}}
	c := New(api, testOptions())

	_, err := c.Extract(context.Background(), Input{Filename: "x.pdf", MediaType: "application/pdf"})
	ue, ok := AsUnprocessable(err)
	require.True(t, ok)
	assert.Equal(t, model.CategoryCriticalError, ue.Category)
}

func TestExtract_OversizeAPIErrorMapsToInvalidFormat(t *testing.T) {
	api := &mockAPI{errs: []error{errors.New("api error 413: request_too_large")}}
	c := New(api, testOptions())

	_, err := c.Extract(context.Background(), Input{Filename: "big.pdf", MediaType: "application/pdf"})
	ue, ok := AsUnprocessable(err)
	require.True(t, ok)
	assert.Equal(t, model.CategoryInvalidFormat, ue.Category)
}

func TestExtract_RetriesTransientThenSucceeds(t *testing.T) {
	api := &mockAPI{
		errs:      []error{resilience.NewTransientError(errors.New("overloaded_error"), 529), nil},
		responses: []string{"", `{"fields":{},"confidence":0.9}`},
	}
	opts := testOptions()
	opts.MaxRetries = 3
	c := New(api, opts)
	c.retry.InitialBackoff = 1 // keep the test fast

	v, err := c.Extract(context.Background(), Input{Filename: "flaky.pdf", MediaType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, v.Status)
	assert.Equal(t, 2, api.calls)
}

func TestExtract_RefusalNotRetried(t *testing.T) {
	refusal := resilience.NewTransientError(errors.New("api error 413: request_too_large"), 413)
	api := &mockAPI{errs: []error{refusal, refusal, refusal}}
	opts := testOptions()
	opts.MaxRetries = 3
	c := New(api, opts)
	c.retry.InitialBackoff = 1

	_, err := c.Extract(context.Background(), Input{Filename: "big.pdf", MediaType: "application/pdf"})
	ue, ok := AsUnprocessable(err)
	require.True(t, ok)
	assert.Equal(t, model.CategoryInvalidFormat, ue.Category)
	// a definitive refusal burns exactly one attempt
	assert.Equal(t, 1, api.calls)
}

func TestExtract_GarbageResponse(t *testing.T) {
	api := &mockAPI{responses: []string{"sorry, I cannot help with that"}}
	c := New(api, testOptions())

	_, err := c.Extract(context.Background(), Input{Filename: "x.pdf", MediaType: "application/pdf"})
	require.Error(t, err)
	_, ok := AsUnprocessable(err)
	assert.False(t, ok)
}

func TestExtract_DirectParseJSON(t *testing.T) {
	c := New(&mockAPI{}, testOptions())

	v, err := c.Extract(context.Background(), Input{
		Filename:  "payload.JSON",
		MediaType: "application/json",
		Bytes:     []byte(`{"expediente":"EXP-7","detalle":{"grupo":"G1"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "direct-parse", v.Method)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, model.StatusValid, v.Status)
	assert.Equal(t, []string{"expediente", "detalle"}, v.Fields.Keys())
}

func TestExtract_DirectParseMalformed(t *testing.T) {
	c := New(&mockAPI{}, testOptions())

	_, err := c.Extract(context.Background(), Input{
		Filename: "bad.json",
		Bytes:    []byte(`[1,2,3]`),
	})
	ue, ok := AsUnprocessable(err)
	require.True(t, ok)
	assert.Equal(t, model.CategoryInvalidFormat, ue.Category)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"code fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose wrapped", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
