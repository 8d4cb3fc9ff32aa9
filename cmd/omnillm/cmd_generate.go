package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// genFlags are shared by every command that sends a prompt.
type genFlags struct {
	provider    string
	system      string
	model       string
	temperature float64
	maxTokens   int
}

func (g *genFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.provider, "provider", "p", "", "configured provider name (default provider when empty)")
	fs.StringVarP(&g.system, "system", "s", "", "system prompt")
	fs.StringVarP(&g.model, "model", "m", "", "override the provider's model")
	fs.Float64VarP(&g.temperature, "temperature", "t", 0, "sampling temperature")
	fs.IntVar(&g.maxTokens, "max-tokens", 0, "cap on generated tokens")
}

// options builds generation options. Temperature is only set when the flag
// was given so the configured default applies otherwise.
func (g *genFlags) options(cmd *cobra.Command) llm.GenerationOptions {
	opts := llm.GenerationOptions{Model: g.model, MaxTokens: g.maxTokens}
	if cmd.Flags().Changed("temperature") {
		opts.Temperature = llm.Float(g.temperature)
	}
	return opts
}

// readPrompt joins args, or reads stdin when there are none or the only
// argument is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

var (
	completeFlags   genFlags
	completeUsage   bool
	streamFlags     genFlags
	structuredFlags genFlags
	structuredPath  string
)

var completeCmd = &cobra.Command{
	Use:   "complete [prompt...]",
	Short: "Send one prompt and print the reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := readPrompt(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		p, err := a.Provider(completeFlags.provider)
		if err != nil {
			return err
		}
		resp, err := p.GenerateCompletion(cmd.Context(), prompt, completeFlags.system, a.ApplyDefaults(completeFlags.options(cmd)))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, resp.Text)
		if completeUsage {
			fmt.Fprintf(cmd.ErrOrStderr(), "model=%s input=%d output=%d finish=%s\n",
				resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.FinishReason)
		}
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream [prompt...]",
	Short: "Stream the reply to a prompt as it is generated",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := readPrompt(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		p, err := a.Provider(streamFlags.provider)
		if err != nil {
			return err
		}
		chunks, err := p.StreamCompletion(cmd.Context(), prompt, streamFlags.system, a.ApplyDefaults(streamFlags.options(cmd)))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		var streamErr error
		for ch := range chunks {
			if ch.Err != nil {
				streamErr = ch.Err
				continue
			}
			fmt.Fprint(out, ch.Text)
		}
		fmt.Fprintln(out)
		return streamErr
	},
}

var structuredCmd = &cobra.Command{
	Use:   "structured --schema FILE [prompt...]",
	Short: "Generate JSON that conforms to a JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := os.ReadFile(structuredPath)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		if !json.Valid(schema) {
			return fmt.Errorf("schema %s is not valid JSON", structuredPath)
		}
		prompt, err := readPrompt(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		p, err := a.Provider(structuredFlags.provider)
		if err != nil {
			return err
		}
		raw, err := p.GenerateStructuredOutput(cmd.Context(), prompt, structuredFlags.system, schema, a.ApplyDefaults(structuredFlags.options(cmd)))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("provider returned invalid JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), buf.String())
		return nil
	},
}

func init() {
	completeFlags.register(completeCmd.Flags())
	completeCmd.Flags().BoolVar(&completeUsage, "usage", false, "print token usage to stderr")

	streamFlags.register(streamCmd.Flags())

	structuredFlags.register(structuredCmd.Flags())
	structuredCmd.Flags().StringVar(&structuredPath, "schema", "", "path to a JSON Schema file")
	_ = structuredCmd.MarkFlagRequired("schema")

	rootCmd.AddCommand(completeCmd, streamCmd, structuredCmd)
}
