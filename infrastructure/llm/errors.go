package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

// Common errors returned by the executors.
var (
	// ErrEmptyResponse indicates a 2xx response without completion text.
	ErrEmptyResponse = errors.New("empty response from provider")
	// ErrNoResponseChoice indicates a chat completion without choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrMissingCredential indicates a cloud call without an API key.
	ErrMissingCredential = errors.New("API key cannot be empty")
)

// localFailure converts a non-2xx answer from a local model server. Servers
// that speak the chat-completions format wrap errors in {"error": {...}}.
func localFailure(status int, body []byte) *domain.RawFailure {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return domain.NewHTTPFailure(status, envelope.Error.Message)
	}
	return domain.NewHTTPFailure(status, statusMessage(status, body))
}

// cloudFailure converts a non-2xx answer from the cloud API. The machine
// readable reasons carried in the error details are appended to the message,
// since they are more stable than the prose.
func cloudFailure(resp *http.Response, body []byte) *domain.RawFailure {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	err := googleapi.CheckResponse(resp)

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return domain.NewHTTPFailure(resp.StatusCode, statusMessage(resp.StatusCode, body))
	}

	message := apiErr.Message
	if message == "" && len(apiErr.Errors) > 0 {
		message = apiErr.Errors[0].Message
	}
	if message == "" {
		message = statusMessage(resp.StatusCode, body)
	}
	if reasons := errorReasons(apiErr); len(reasons) > 0 {
		message += " [" + strings.Join(reasons, ", ") + "]"
	}

	code := apiErr.Code
	if code == 0 {
		code = resp.StatusCode
	}
	return domain.NewHTTPFailure(code, message)
}

func errorReasons(apiErr *googleapi.Error) []string {
	var reasons []string
	for _, item := range apiErr.Errors {
		if item.Reason != "" {
			reasons = append(reasons, item.Reason)
		}
	}
	for _, d := range apiErr.Details {
		if m, ok := d.(map[string]any); ok {
			if r, ok := m["reason"].(string); ok && r != "" {
				reasons = append(reasons, r)
			}
		}
	}
	return reasons
}

func statusMessage(status int, body []byte) string {
	if s := snippet(body); s != "" {
		return s
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}
