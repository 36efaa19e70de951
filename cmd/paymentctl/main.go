package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "paymentctl",
		Short:   "Operator tooling for DR7 payments",
		Version: Version,
	}

	rootCmd.AddCommand(macCmd())
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
