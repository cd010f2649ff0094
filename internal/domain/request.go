package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered conversation sent to a provider.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// InvocationRequest is the caller-facing input of the gateway.
type InvocationRequest struct {
	Provider ProviderKind `json:"provider" validate:"required,oneof=local cloud"`
	Messages []Message    `json:"messages" validate:"required,min=1,dive"`
	// Temperature is the sampling temperature in [0, 1].
	Temperature float64 `json:"temperature" validate:"gte=0,lte=1"`
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool `json:"json_mode"`
	// Model, when set, bypasses discovery and fallback: exactly one
	// candidate is tried.
	Model string `json:"model,omitempty" validate:"omitempty,max=200,printascii,excludesall=?#"`
}

var requestValidator = validator.New()

// Validate checks the request before any network activity. It returns a
// *ValidationError listing every violated constraint.
func (r InvocationRequest) Validate() error {
	err := requestValidator.Struct(r)
	if err == nil {
		return nil
	}

	verr := NewValidationError("InvocationRequest")
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.AddError(err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.AddError(describeFieldError(fe))
	}
	return verr
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s must be between 0 and 1, got %v", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

// HasExplicitModel reports whether the caller pinned a model.
func (r InvocationRequest) HasExplicitModel() bool { return r.Model != "" }

// Usage holds token accounting for one successful invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InvocationResult is the normalized output of a successful invocation.
// Content is never empty.
type InvocationResult struct {
	Content   string `json:"content"`
	ModelUsed string `json:"model_used"`
	Usage     Usage  `json:"usage"`
}
