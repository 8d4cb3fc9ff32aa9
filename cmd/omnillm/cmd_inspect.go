package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/omnillm/internal/usage"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tTYPE\tMODEL\tCONTEXT\tTOOLS\tSTRUCTURED\tDEFAULT")
		for _, p := range a.Providers() {
			c := p.Capabilities
			def := ""
			if p.Default {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%t\t%s\n",
				p.Name, p.Type, p.Model, c.MaxContextTokens, c.SupportsToolCalling, c.SupportsStructuredOutput, def)
		}
		return tw.Flush()
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools exposed by the configured MCP servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		tools := a.Tools().Tools()
		if len(tools) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no tools registered")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDESCRIPTION")
		for _, t := range tools {
			fmt.Fprintf(tw, "%s\t%s\n", t.Name(), t.Description())
		}
		return tw.Flush()
	},
}

var (
	usageProvider string
	usageSince    time.Duration
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarise recorded token usage and cost",
	Long: `Summarise the usage ledger. Only a PostgreSQL ledger (usage.postgres_dsn)
outlives the process, so this is mostly useful with one configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, closeApp, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		f := usage.Filter{Provider: usageProvider}
		if usageSince > 0 {
			f.Since = time.Now().Add(-usageSince)
		}
		sums, err := a.Ledger().Summary(cmd.Context(), f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(sums) == 0 {
			fmt.Fprintln(out, "no usage recorded")
			return nil
		}
		for _, s := range sums {
			fmt.Fprintln(out, s.String())
		}
		return nil
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageProvider, "provider", "", "only this provider")
	usageCmd.Flags().DurationVar(&usageSince, "since", 0, "only calls within this window, e.g. 24h")
	rootCmd.AddCommand(providersCmd, toolsCmd, usageCmd)
}
