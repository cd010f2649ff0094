package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

func newInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke [prompt]",
		Short: "Send a single prompt through the gateway",
		Long: `Send a single prompt through the gateway and print the answer.
The prompt is read from stdin when no argument is given or when it is "-".

Examples:
  gatewayctl invoke "What does error E42 mean?"
  echo "Summarize this" | gatewayctl invoke --provider local
  gatewayctl invoke --model gemini-1.5-pro --output json "Hello"`,
		Args: cobra.ArbitraryArgs,
		RunE: runInvoke,
	}

	cmd.Flags().StringP("provider", "p", string(domain.ProviderCloud), "provider kind (cloud, local)")
	cmd.Flags().StringP("model", "m", "", "pin a model and skip discovery and fallback")
	cmd.Flags().Float64P("temperature", "t", 0.7, "sampling temperature in [0, 1]")
	cmd.Flags().Bool("json", false, "ask the provider for a JSON object response")
	cmd.Flags().StringP("system", "s", "", "system instruction sent before the prompt")
	cmd.Flags().StringP("output", "o", "text", "output format (text, json)")
	return cmd
}

func runInvoke(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	provider, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	temperature, _ := cmd.Flags().GetFloat64("temperature")
	jsonMode, _ := cmd.Flags().GetBool("json")
	system, _ := cmd.Flags().GetString("system")
	output, _ := cmd.Flags().GetString("output")

	req := domain.InvocationRequest{
		Provider:    domain.ProviderKind(provider),
		Temperature: temperature,
		JSONMode:    jsonMode,
		Model:       model,
	}
	if system != "" {
		req.Messages = append(req.Messages, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, domain.Message{Role: domain.RoleUser, Content: prompt})

	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.Gateway.Invoke(ctx, req)
	if err != nil {
		var cerr *domain.ClassifiedError
		if errors.As(err, &cerr) {
			return fmt.Errorf("%s: %s", cerr.Kind, cerr.Message)
		}
		return err
	}

	out := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		fmt.Fprintln(out, result.Content)
		fmt.Fprintf(cmd.ErrOrStderr(), "model=%s tokens=%d (prompt %d, completion %d)\n",
			result.ModelUsed, result.Usage.TotalTokens, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		return nil
	}
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}
