package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/panes/internal/compose"
	"github.com/conneroisu/panes/internal/types"
	"github.com/conneroisu/panes/internal/watcher"
)

var composeCmd = &cobra.Command{
	Use:   "compose [dir]",
	Short: "Print the composed preview document",
	Long: `Compose index.html, style.css and script.js from a project directory
into the document the preview renders.

By default the document carries the diagnostic shim. With --bundle the
standalone export document is written instead.

Examples:
  panes compose ./demo                  # Print the preview document
  panes compose ./demo --bundle -o out.html`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompose,
}

var (
	composeBundle bool
	composeOutput string
)

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().BoolVar(&composeBundle, "bundle", false, "Write the standalone document without the diagnostic shim")
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "", "Write to a file instead of stdout")
}

func runCompose(cmd *cobra.Command, args []string) error {
	sources, err := watcher.ReadSources(projectDir(args))
	if err != nil {
		return err
	}
	markup, style, script := sources[types.SlotMarkup], sources[types.SlotStyle], sources[types.SlotScript]

	var document string
	if composeBundle {
		document = compose.Bundle(markup, style, script)
	} else {
		document = compose.Compose(markup, style, script).Document
	}

	if composeOutput == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), document)
		return err
	}
	if err := os.WriteFile(composeOutput, []byte(document), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", composeOutput, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", composeOutput)
	return nil
}
