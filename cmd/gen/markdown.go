package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsDir string

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown reference docs for numlink",
	Long: `Generate one markdown page per numlink command, linked together, in
	the "docs" directory under the current directory by default.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(docsDir, 0750); err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(cmd.OutOrStdout(), "Generating numlink markdown docs in", docsDir, "...")

		if err := doc.GenMarkdownTree(cmd.Root(), docsDir); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Done.")

		return nil
	},
}

func init() {
	flags := MarkdownCmd.PersistentFlags()

	flags.StringVar(&docsDir, "dir", "docs/", "the directory to write the markdown pages.")

	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
