// Package testutils provides httptest fakes of the cloud and local AI
// providers for package tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Response is a scripted HTTP answer.
type Response struct {
	Status int
	Body   string
	// Delay holds the response back unless the request is cancelled first.
	Delay time.Duration
}

// RecordedRequest is a request seen by a fake server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// CloudSuccess is a generateContent answer with text and usage metadata.
func CloudSuccess(text string) Response {
	body, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     7,
			"candidatesTokenCount": 5,
			"totalTokenCount":      12,
		},
	})
	return Response{Status: http.StatusOK, Body: string(body)}
}

// CloudError is an error envelope as returned by the cloud API.
func CloudError(status int, state, message string) Response {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"status":  state,
		},
	})
	return Response{Status: status, Body: string(body)}
}

// LocalSuccess is a chat completion answer with usage.
func LocalSuccess(text string) Response {
	body, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "local-model",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 9, "completion_tokens": 4, "total_tokens": 13},
	})
	return Response{Status: http.StatusOK, Body: string(body)}
}

// LocalError is an error envelope in the chat-completions format.
func LocalError(status int, message string) Response {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": message, "type": "server_error"},
	})
	return Response{Status: status, Body: string(body)}
}

type recorder struct {
	mu       sync.Mutex
	requests []RecordedRequest
}

func (r *recorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, RecordedRequest{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Header: req.Header.Clone(),
		Body:   body,
	})
}

// Requests returns every request received so far.
func (r *recorder) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

func write(w http.ResponseWriter, req *http.Request, resp Response) {
	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

// CloudServer emulates the list-models and generateContent endpoints.
type CloudServer struct {
	*httptest.Server
	recorder

	mu sync.Mutex
	// models lists model names per API version for GET /<version>/models.
	models map[string][]string
	// listStatus overrides the list-models status per version.
	listStatus map[string]int
	// responses scripts generateContent per model name.
	responses map[string]Response
	fallback  Response
}

// NewCloudServer starts a cloud fake closed with t. Unscripted models
// answer 404 and every version lists no models.
func NewCloudServer(t testing.TB) *CloudServer {
	s := &CloudServer{
		models:     make(map[string][]string),
		listStatus: make(map[string]int),
		responses:  make(map[string]Response),
		fallback:   CloudError(http.StatusNotFound, "NOT_FOUND", "model is not found for this API version"),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// SetModels makes GET /<version>/models list names, prefixed with "models/".
func (s *CloudServer) SetModels(version string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[version] = names
}

// FailList makes GET /<version>/models answer status.
func (s *CloudServer) FailList(version string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus[version] = status
}

// Respond scripts generateContent for model.
func (s *CloudServer) Respond(model string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[model] = resp
}

// RespondAll scripts generateContent for every model without its own script.
func (s *CloudServer) RespondAll(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = resp
}

// GenerateCalls returns the models addressed by generateContent calls, as
// "version/model", in order.
func (s *CloudServer) GenerateCalls() []string {
	var out []string
	for _, r := range s.Requests() {
		if version, model, ok := parseGeneratePath(r.Path); ok {
			out = append(out, version+"/"+model)
		}
	}
	return out
}

func (s *CloudServer) handle(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	if r.URL.Query().Get("key") == "" {
		write(w, r, CloudError(http.StatusForbidden, "PERMISSION_DENIED", "Method doesn't allow unregistered callers"))
		return
	}

	if _, model, ok := parseGeneratePath(r.URL.Path); ok && r.Method == http.MethodPost {
		s.mu.Lock()
		resp, scripted := s.responses[model]
		if !scripted {
			resp = s.fallback
		}
		s.mu.Unlock()
		write(w, r, resp)
		return
	}

	if version, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/models"); ok && r.Method == http.MethodGet {
		s.mu.Lock()
		status, failed := s.listStatus[version]
		names := s.models[version]
		s.mu.Unlock()
		if failed {
			write(w, r, CloudError(status, "UNAVAILABLE", "list failed"))
			return
		}
		models := make([]any, 0, len(names))
		for _, n := range names {
			models = append(models, map[string]any{"name": "models/" + n})
		}
		body, _ := json.Marshal(map[string]any{"models": models})
		write(w, r, Response{Status: http.StatusOK, Body: string(body)})
		return
	}

	write(w, r, CloudError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)))
}

func parseGeneratePath(path string) (version, model string, ok bool) {
	rest, ok := strings.CutSuffix(strings.TrimPrefix(path, "/"), ":generateContent")
	if !ok {
		return "", "", false
	}
	version, model, ok = strings.Cut(rest, "/models/")
	return version, model, ok && version != "" && model != ""
}

// LocalServer emulates a self-hosted chat-completions server. Only scripted
// paths answer; every other path returns 404.
type LocalServer struct {
	*httptest.Server
	recorder

	mu     sync.Mutex
	routes map[string]Response
}

// NewLocalServer starts a local fake closed with t.
func NewLocalServer(t testing.TB) *LocalServer {
	s := &LocalServer{routes: make(map[string]Response)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Route scripts the answer for POSTs to path.
func (s *LocalServer) Route(path string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = resp
}

// Paths returns the request paths in order.
func (s *LocalServer) Paths() []string {
	reqs := s.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Path
	}
	return out
}

func (s *LocalServer) handle(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	resp, ok := s.routes[r.URL.Path]
	s.mu.Unlock()
	if !ok || r.Method != http.MethodPost {
		write(w, r, LocalError(http.StatusNotFound, "Unexpected endpoint or method. ("+r.Method+" "+r.URL.Path+")"))
		return
	}
	write(w, r, resp)
}
