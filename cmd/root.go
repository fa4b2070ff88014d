package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. A fresh tree per call keeps flag
// state from leaking between invocations in tests.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "botfile-proxy",
		Short: "File-serving proxy for a local Telegram Bot API server",
		Long: `botfile-proxy sits in front of a Telegram Bot API server running in
--local mode and makes it behave like the hosted API for file access:

  - GET /file/bot<token>/<path> is served straight from the server's
    working directory
  - getFile responses get their absolute file_path rewritten to a path
    relative to the bot directory
  - every other request is forwarded unchanged`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func Execute() error {
	return NewRootCmd().Execute()
}
