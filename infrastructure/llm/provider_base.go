package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

// maxResponseBody bounds how much of a provider response is read.
const maxResponseBody = 8 << 20

// baseProvider carries the plumbing shared by the provider executors.
type baseProvider struct {
	name      string
	client    *http.Client
	estimator TokenEstimator
	logger    *slog.Logger
}

func newBaseProvider(name string, config ExecutorConfig) baseProvider {
	return baseProvider{
		name:      name,
		client:    config.HTTPClient,
		estimator: config.TokenEstimator,
		logger:    config.Logger,
	}
}

// postJSON sends body as JSON and returns the response with its body fully
// read and closed. Errors raised before a response arrives are returned as
// transport failures; the caller interprets the status code.
func (p *baseProvider) postJSON(ctx context.Context, endpoint string, body any, header http.Header) (*http.Response, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: encoding request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, domain.NewTransportFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, domain.NewTransportFailure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp, nil, domain.NewTransportFailure(err)
	}
	return resp, raw, nil
}

// usage returns the provider-reported counts, estimating whatever is
// missing. The total is always at least prompt plus completion.
func (p *baseProvider) usage(reported domain.Usage, req domain.InvocationRequest, content string) domain.Usage {
	u := reported
	if u.PromptTokens <= 0 {
		u.PromptTokens = p.estimator.EstimateTokens(promptText(req.Messages))
	}
	if u.CompletionTokens <= 0 {
		u.CompletionTokens = p.estimator.EstimateTokens(content)
	}
	if sum := u.PromptTokens + u.CompletionTokens; u.TotalTokens < sum {
		u.TotalTokens = sum
	}
	return u
}

func promptText(messages []domain.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// snippet shortens a response body for failure messages.
func snippet(body []byte) string {
	const limit = 200
	s := []rune(strings.TrimSpace(string(body)))
	if len(s) > limit {
		return string(s[:limit]) + "..."
	}
	return string(s)
}
