package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "certward",
	Short: "certward is an appliance PKI lifecycle manager",
	Long: `Manage certificates and certificate authorities for an appliance:
internal CA hierarchies, imported material, CSR workflows and ACME DNS-01
issuance with automatic renewal.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
