package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
	"github.com/xalo2100/alfatechflow-sub001/internal/testutils"
)

const primaryPath = "/api/chat"

func newLocalTestExecutor(t *testing.T) ports.Executor {
	t.Helper()
	exec, err := NewExecutor(domain.ProviderLocal, ExecutorConfig{})
	require.NoError(t, err, "local executor should build")
	return exec
}

func localCall(srv *testutils.LocalServer) ports.ExecutorCall {
	call := testCall(domain.ProviderLocal, srv.URL+primaryPath, "local-model")
	call.Candidate = domain.ModelCandidate{ModelName: "local-model", Origin: domain.OriginFixed}
	return call
}

func TestLocalExecutor_Success(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	srv.Route(primaryPath, testutils.LocalSuccess("report body"))

	call := localCall(srv)
	call.Request.Messages = []domain.Message{
		{Role: domain.RoleSystem, Content: "You write service reports."},
		{Role: domain.RoleUser, Content: "Pump replaced."},
	}
	call.Request.JSONMode = true

	result, err := newLocalTestExecutor(t).Invoke(context.Background(), call)

	require.NoError(t, err, "call should succeed")
	assert.Equal(t, "report body", result.Content)
	assert.Equal(t, "local-model", result.ModelUsed)
	assert.Equal(t, domain.Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13}, result.Usage,
		"reported usage should be used as is")

	reqs := srv.Requests()
	require.Len(t, reqs, 1, "exactly one HTTP call")
	assert.Equal(t, "Bearer secret-key", reqs[0].Header.Get("Authorization"))

	var sent openai.ChatCompletionRequest
	require.NoError(t, json.Unmarshal(reqs[0].Body, &sent), "request body should be a chat completion")
	assert.Equal(t, "local-model", sent.Model)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, sent.Messages[0].Role)
	assert.Equal(t, "Pump replaced.", sent.Messages[1].Content)
	assert.InDelta(t, 0.2, sent.Temperature, 1e-6)
	require.NotNil(t, sent.ResponseFormat, "JSON mode should request a JSON object")
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, sent.ResponseFormat.Type)
}

func TestLocalExecutor_NoCredentialSendsNoAuthorization(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	srv.Route(primaryPath, testutils.LocalSuccess("ok"))

	call := localCall(srv)
	call.Target.Credential = ""
	_, err := newLocalTestExecutor(t).Invoke(context.Background(), call)

	require.NoError(t, err)
	assert.Empty(t, srv.Requests()[0].Header.Get("Authorization"))
}

func TestLocalExecutor_AlternatePath(t *testing.T) {
	tests := []struct {
		name        string
		primary     *testutils.Response
		alternate   *testutils.Response
		wantPaths   []string
		wantErr     bool
		wantStatus  int
		wantContent string
	}{
		{
			name:        "404 on primary tries alternate once",
			alternate:   ptr(testutils.LocalSuccess("from alternate")),
			wantPaths:   []string{primaryPath, DefaultAlternatePath},
			wantContent: "from alternate",
		},
		{
			name:       "404 on both reports the alternate failure",
			wantPaths:  []string{primaryPath, DefaultAlternatePath},
			wantErr:    true,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "alternate failing with 500 is not retried",
			alternate:  ptr(testutils.LocalError(http.StatusInternalServerError, "model crashed")),
			wantPaths:  []string{primaryPath, DefaultAlternatePath},
			wantErr:    true,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "non-404 on primary never tries alternate",
			primary:    ptr(testutils.LocalError(http.StatusInternalServerError, "model crashed")),
			alternate:  ptr(testutils.LocalSuccess("unused")),
			wantPaths:  []string{primaryPath},
			wantErr:    true,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "401 on primary never tries alternate",
			primary:    ptr(testutils.LocalError(http.StatusUnauthorized, "bad token")),
			alternate:  ptr(testutils.LocalSuccess("unused")),
			wantPaths:  []string{primaryPath},
			wantErr:    true,
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutils.NewLocalServer(t)
			if tt.primary != nil {
				srv.Route(primaryPath, *tt.primary)
			}
			if tt.alternate != nil {
				srv.Route(DefaultAlternatePath, *tt.alternate)
			}

			result, err := newLocalTestExecutor(t).Invoke(context.Background(), localCall(srv))

			assert.Equal(t, tt.wantPaths, srv.Paths(), "paths called")
			if tt.wantErr {
				require.Error(t, err)
				f := domain.AsRawFailure(err)
				assert.Equal(t, domain.FailureHTTP, f.Kind)
				assert.Equal(t, tt.wantStatus, f.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, result.Content)
		})
	}
}

func TestLocalExecutor_AlternateEqualToPrimaryIsSkipped(t *testing.T) {
	srv := testutils.NewLocalServer(t)

	call := localCall(srv)
	call.Target.BaseURL = srv.URL + DefaultAlternatePath
	_, err := newLocalTestExecutor(t).Invoke(context.Background(), call)

	require.Error(t, err)
	assert.Equal(t, []string{DefaultAlternatePath}, srv.Paths(), "the same URL is never called twice")
}

func TestLocalExecutor_ErrorMessageFromEnvelope(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	srv.Route(primaryPath, testutils.LocalError(http.StatusServiceUnavailable, "model is loading"))

	_, err := newLocalTestExecutor(t).Invoke(context.Background(), localCall(srv))

	require.Error(t, err)
	f := domain.AsRawFailure(err)
	assert.Equal(t, "model is loading", f.Message)
	assert.Equal(t, http.StatusServiceUnavailable, f.StatusCode)
}

func TestLocalExecutor_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>ok</html>`},
		{"no choices", `{"choices":[]}`},
		{"empty content", `{"choices":[{"message":{"role":"assistant","content":""}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutils.NewLocalServer(t)
			srv.Route(primaryPath, testutils.Response{Status: http.StatusOK, Body: tt.body})

			_, err := newLocalTestExecutor(t).Invoke(context.Background(), localCall(srv))

			require.Error(t, err)
			assert.Equal(t, domain.FailureMalformed, domain.AsRawFailure(err).Kind,
				"a 2xx without text is a malformed response")
		})
	}
}

func TestLocalExecutor_EstimatesMissingUsage(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	srv.Route(primaryPath, testutils.Response{
		Status: http.StatusOK,
		Body:   `{"choices":[{"message":{"role":"assistant","content":"12345678"}}]}`,
	})

	call := localCall(srv)
	call.Request.Messages = []domain.Message{{Role: domain.RoleUser, Content: "abcdefghijkl"}}
	result, err := newLocalTestExecutor(t).Invoke(context.Background(), call)

	require.NoError(t, err)
	assert.Equal(t, domain.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, result.Usage,
		"usage should be estimated at four characters per token")
}

func TestLocalExecutor_BudgetExpiry(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	resp := testutils.LocalSuccess("late")
	resp.Delay = 2 * time.Second
	srv.Route(primaryPath, resp)

	call := localCall(srv)
	call.Budget = 50 * time.Millisecond

	start := time.Now()
	_, err := newLocalTestExecutor(t).Invoke(context.Background(), call)

	require.Error(t, err)
	assert.Equal(t, domain.FailureTimeout, domain.AsRawFailure(err).Kind)
	assert.Less(t, time.Since(start), time.Second, "the call should be cancelled at the budget")
	assert.Len(t, srv.Paths(), 1, "a timeout is not retried")
}

func TestLocalExecutor_CallerCancellation(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	srv.Route(primaryPath, testutils.LocalSuccess("unused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLocalTestExecutor(t).Invoke(ctx, localCall(srv))

	require.Error(t, err)
	assert.Equal(t, domain.FailureCanceled, domain.AsRawFailure(err).Kind)
}

func TestLocalExecutor_AlternatePathKeepsMountPrefix(t *testing.T) {
	srv := testutils.NewLocalServer(t)
	srv.Route("/proxy/ollama/v1/chat/completions", testutils.LocalSuccess("through the proxy"))

	call := localCall(srv)
	call.Target.BaseURL = srv.URL + "/proxy/ollama/api/chat"
	result, err := newLocalTestExecutor(t).Invoke(context.Background(), call)

	require.NoError(t, err)
	assert.Equal(t, "through the proxy", result.Content)
	assert.Equal(t, []string{"/proxy/ollama/api/chat", "/proxy/ollama/v1/chat/completions"}, srv.Paths(),
		"the alternate path is resolved under the configured prefix")
}

func TestAlternateURL(t *testing.T) {
	tests := []struct {
		primary string
		path    string
		want    string
		ok      bool
	}{
		{"http://localhost:1234/api/chat", "/v1/chat/completions", "http://localhost:1234/v1/chat/completions", true},
		{"http://localhost:1234/v1/chat/completions", "/v1/chat/completions", "", false},
		{"http://h/proxy/ollama/api/chat", "/v1/chat/completions", "http://h/proxy/ollama/v1/chat/completions", true},
		{"http://h/proxy/ollama/v1/chat/completions/", "/v1/chat/completions", "", false},
		{"http://h/lm/custom-route?tenant=a", "v1/chat/completions", "http://h/lm/v1/chat/completions?tenant=a", true},
		{"http://localhost:1234", "/v1/chat/completions", "http://localhost:1234/v1/chat/completions", true},
		{"http://localhost:1234/api/chat", "", "", false},
		{"://bad", "/v1/chat/completions", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.primary, func(t *testing.T) {
			got, ok := alternateURL(tt.primary, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func ptr[T any](v T) *T { return &v }
