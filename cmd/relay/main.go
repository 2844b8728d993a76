// Package main is the entry point for the relay CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "WhatsApp to OpenAI conversation relay",
		Long: `relay receives WhatsApp messages from the Infobip webhook, keeps a short
per-sender conversation history in memory and answers through OpenAI.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
