package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// DefaultCloudAPIVersion addresses candidates that carry no API version.
const DefaultCloudAPIVersion = "v1beta"

func init() {
	RegisterExecutorFactory(domain.ProviderCloud, newCloudExecutor)
}

// cloudExecutor calls the hosted generateContent endpoint. The model and
// API version come from the candidate, so one executor serves every
// candidate the planner produces; this is why the REST surface is used
// directly instead of a client bound to one version.
type cloudExecutor struct {
	baseProvider
}

func newCloudExecutor(config ExecutorConfig) (ports.Executor, error) {
	return &cloudExecutor{baseProvider: newBaseProvider("cloud", config)}, nil
}

type generateContentRequest struct {
	Contents          []*genai.Content  `json:"contents"`
	SystemInstruction *genai.Content    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

// Invoke sends one generateContent call for the candidate.
func (e *cloudExecutor) Invoke(ctx context.Context, call ports.ExecutorCall) (domain.InvocationResult, error) {
	if call.Target.Credential == "" {
		return domain.InvocationResult{}, &domain.RawFailure{
			Kind:    domain.FailureUnknown,
			Message: ErrMissingCredential.Error(),
			Err:     ErrMissingCredential,
		}
	}

	resp, raw, err := e.postJSON(ctx, e.endpoint(call), e.buildRequest(call.Request), nil)
	if err != nil {
		return domain.InvocationResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.InvocationResult{}, cloudFailure(resp, raw)
	}

	var generated genai.GenerateContentResponse
	if err := json.Unmarshal(raw, &generated); err != nil {
		return domain.InvocationResult{}, domain.NewMalformedFailure("decoding response: " + err.Error())
	}

	content := generated.Text()
	if content == "" {
		if pf := generated.PromptFeedback; pf != nil && pf.BlockReason != "" {
			return domain.InvocationResult{}, domain.NewMalformedFailure(fmt.Sprintf("prompt blocked: %s", pf.BlockReason))
		}
		return domain.InvocationResult{}, domain.NewMalformedFailure(ErrEmptyResponse.Error())
	}

	var reported domain.Usage
	if um := generated.UsageMetadata; um != nil {
		reported = domain.Usage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}
	}

	return domain.InvocationResult{
		Content:   content,
		ModelUsed: call.Candidate.ModelName,
		Usage:     e.usage(reported, call.Request, content),
	}, nil
}

// endpoint builds <host>/<version>/models/<model>:generateContent?key=<key>.
// The URL carries the key and must never be logged.
func (e *cloudExecutor) endpoint(call ports.ExecutorCall) string {
	version := call.Candidate.APIVersion
	if version == "" {
		version = DefaultCloudAPIVersion
	}
	return fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		strings.TrimRight(call.Target.BaseURL, "/"),
		url.PathEscape(version),
		url.PathEscape(call.Candidate.ModelName),
		url.QueryEscape(call.Target.Credential),
	)
}

func (e *cloudExecutor) buildRequest(req domain.InvocationRequest) generateContentRequest {
	body := generateContentRequest{
		Contents: make([]*genai.Content, 0, len(req.Messages)),
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			body.Contents = append(body.Contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			body.Contents = append(body.Contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}

	temp := float32(ClampFloat64(req.Temperature, MinTemperature, MaxTemperature))
	body.GenerationConfig = &generationConfig{Temperature: &temp}
	if req.JSONMode {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}
	return body
}
