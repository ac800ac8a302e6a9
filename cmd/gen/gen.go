package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for numlink",
	Long:  `Generate documentation for numlink`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd, MarkdownCmd)
}
