package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// DefaultAlternatePath is tried once when a local server answers 404 on
// the configured completion URL. Some servers only mount the versioned
// chat-completions route.
const DefaultAlternatePath = "/v1/chat/completions"

func init() {
	RegisterExecutorFactory(domain.ProviderLocal, newLocalExecutor)
}

// localExecutor calls a self-hosted model server that speaks the
// chat-completions wire format. The target's BaseURL is the full
// completion URL.
type localExecutor struct {
	baseProvider
	alternatePath string
}

func newLocalExecutor(config ExecutorConfig) (ports.Executor, error) {
	return &localExecutor{
		baseProvider:  newBaseProvider("local", config),
		alternatePath: config.AlternatePath,
	}, nil
}

// Invoke sends one chat completion. If the primary URL answers 404, the
// alternate path is tried exactly once within the same budget; no other
// status triggers it.
func (e *localExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	body := e.buildRequest(call)

	result, err := e.complete(ctx, call.Target.BaseURL, call, body)
	if !isNotFound(err) {
		return result, err
	}

	alt, ok := alternateURL(call.Target.BaseURL, e.alternatePath)
	if !ok {
		return result, err
	}
	e.logger.DebugContext(ctx, "local provider answered 404; trying alternate path",
		"alternate_path", e.alternatePath,
		"model", call.Candidate.ModelName,
	)
	return e.complete(ctx, alt, call, body)
}

func (e *localExecutor) complete(
	ctx context.Context,
	endpoint string,
	call ports.ExecutorCall,
	body openai.ChatCompletionRequest,
) (domain.InvocationResult, error) {
	var header http.Header
	if call.Target.Credential != "" {
		header = http.Header{"Authorization": {"Bearer " + call.Target.Credential}}
	}

	resp, raw, err := e.postJSON(ctx, endpoint, body, header)
	if err != nil {
		return domain.InvocationResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.InvocationResult{}, localFailure(resp.StatusCode, raw)
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return domain.InvocationResult{}, domain.NewMalformedFailure("decoding completion: " + err.Error())
	}
	if len(completion.Choices) == 0 {
		return domain.InvocationResult{}, domain.NewMalformedFailure(ErrNoResponseChoice.Error())
	}
	content := completion.Choices[0].Message.Content
	if content == "" {
		return domain.InvocationResult{}, domain.NewMalformedFailure(ErrEmptyResponse.Error())
	}

	model := completion.Model
	if model == "" {
		model = call.Candidate.ModelName
	}
	return domain.InvocationResult{
		Content:   content,
		ModelUsed: model,
		Usage: e.usage(domain.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}, call.Request, content),
	}, nil
}

func (e *localExecutor) buildRequest(call ports.ExecutorCall) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       call.Candidate.ModelName,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(call.Request.Messages)),
		Temperature: float32(ClampFloat64(call.Request.Temperature, MinTemperature, MaxTemperature)),
	}
	for _, m := range call.Request.Messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    localRole(m.Role),
			Content: m.Content,
		})
	}
	if call.Request.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

func localRole(role domain.Role) string {
	switch role {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// endpointTails are completion routes local servers mount under their
// base path. Longest first.
var endpointTails = []string{
	"/v1/chat/completions",
	"/chat/completions",
	"/v1/completions",
	"/api/generate",
	"/api/chat",
	"/completions",
}

// alternateURL resolves alt against the mount prefix of primary: a known
// endpoint tail is removed from the primary path, otherwise its last
// segment is. It reports false when the result would address the same URL
// again.
func alternateURL(primary, alt string) (string, bool) {
	u, err := url.Parse(primary)
	if err != nil || alt == "" {
		return "", false
	}
	current := strings.TrimSuffix(u.Path, "/")
	prefix := ""
	matched := false
	for _, tail := range endpointTails {
		if strings.HasSuffix(current, tail) {
			prefix, matched = strings.TrimSuffix(current, tail), true
			break
		}
	}
	if !matched {
		prefix = strings.TrimSuffix(path.Dir(current), "/")
		if prefix == "." {
			prefix = ""
		}
	}
	next := prefix + "/" + strings.TrimPrefix(alt, "/")
	if next == current {
		return "", false
	}
	u.Path = next
	u.RawPath = ""
	return u.String(), true
}

func isNotFound(err error) bool {
	f := domain.AsRawFailure(err)
	return f != nil && f.Kind == domain.FailureHTTP && f.StatusCode == http.StatusNotFound
}
