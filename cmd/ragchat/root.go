package main

import (
	"github.com/shaharia-lab/ragchat/config"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	traceStdout bool
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ragchat",
		Short: "Conversational question answering over your own documents",
		Long: `ragchat answers support questions from a document knowledge base.
It keeps per-session history, rewrites follow-up questions into standalone
ones, retrieves matching passages and answers only from them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file (environment variables override it)")
	cmd.PersistentFlags().BoolVar(&opts.traceStdout, "trace-stdout", false, "Print OpenTelemetry spans to stderr")

	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newIngestCmd(opts),
		newConfigCmd(),
	)
	return cmd
}
