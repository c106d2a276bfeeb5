package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemantics/agentflow/internal/cli"
)

var rootCmd = &cobra.Command{Use: "agentflow"}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (overrides config)")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
