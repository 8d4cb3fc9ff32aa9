package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/omnillm/internal/agent"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

var (
	chatFlags     genFlags
	chatMaxRounds int
	chatNoTools   bool
	chatVerbose   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Chat with tool access through the MCP tool host",
	Long: `Run a tool-calling conversation. With a prompt argument, one turn is
answered and the command exits; otherwise lines are read from stdin until EOF
and each one continues the same conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		var tools []llm.Tool
		if !chatNoTools {
			tools = a.Tools().Tools()
		}
		out := cmd.OutOrStdout()
		runner, err := a.Runner(chatFlags.provider, agent.Config{
			Options:   a.ApplyDefaults(chatFlags.options(cmd)),
			MaxRounds: chatMaxRounds,
			OnStep: func(s agent.Step) {
				if !chatVerbose {
					return
				}
				for _, c := range s.Response.ToolCalls {
					fmt.Fprintf(cmd.ErrOrStderr(), "[round %d] %s(%s)\n", s.Round, c.Name, c.Arguments)
				}
			},
		})
		if err != nil {
			return err
		}

		var conv *llm.SafeConversation
		turn := func(prompt string) error {
			if conv == nil {
				conv = llm.NewSafeConversation(llm.NewConversation(prompt,
					llm.WithSystemPrompt(chatFlags.system), llm.WithTools(tools...)))
			} else {
				conv.AddUserMessage(prompt)
			}
			res, err := runner.Run(cmd.Context(), conv, llm.ChooseAuto())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Response.Text)
			return nil
		}

		if len(args) > 0 {
			return turn(strings.Join(args, " "))
		}
		return chatLoop(cmd.InOrStdin(), out, turn)
	},
}

// chatLoop feeds each non-empty input line to turn. Turn errors are printed
// and the loop continues.
func chatLoop(in io.Reader, out io.Writer, turn func(string) error) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			if err := turn(line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return sc.Err()
}

func init() {
	chatFlags.register(chatCmd.Flags())
	chatCmd.Flags().IntVar(&chatMaxRounds, "max-rounds", agent.DefaultMaxRounds, "tool rounds per turn before giving up")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "do not offer tools to the model")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "print tool calls to stderr")
	rootCmd.AddCommand(chatCmd)
}
