package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/numlink/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(cmd.OutOrStdout(), meta.GetInfo())
		return nil
	},
}
