package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conneroisu/panes/internal/types"
	"github.com/conneroisu/panes/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Run a project headlessly and print its console",
	Long: `Compose index.html, style.css and script.js from a project directory,
run the result in the headless sandbox and print the console.

The line of script.js that raised the last uncaught error is shown below
the console.

Examples:
  panes run                     # Run the project in the current directory
  panes run ./demo --watch      # Re-run whenever a source file changes
  panes run ./demo --fail-on-error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runWatch       bool
	runFailOnError bool
	runNoColor     bool
	runDOM         bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Re-run when a source file changes")
	runCmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false, "Exit non-zero if the console holds errors")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored output")
	runCmd.Flags().BoolVar(&runDOM, "dom", false, "Print the document as it was when it finished running")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runNoColor {
		color.NoColor = true
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	dir := projectDir(args)
	sources, err := watcher.ReadSources(dir)
	if err != nil {
		return err
	}

	h, err := startHeadless(ctx, cfg, sources, quietLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer h.close()

	if err := h.settle(ctx); err != nil {
		return err
	}
	errorCount, err := h.print(ctx, cmd)
	if err != nil {
		return err
	}

	if !runWatch {
		if runFailOnError && errorCount > 0 {
			return fmt.Errorf("script reported %d error(s)", errorCount)
		}
		return nil
	}

	fw, err := watcher.NewFileWatcher(dir, cfg.Render.Debounce)
	if err != nil {
		return err
	}
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		sources, err := watcher.ReadSources(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s %s\n", color.New(color.Faint).Sprint(time.Now().Format(time.TimeOnly)), changedFiles(events))
		if err := h.edit(ctx, sources); err != nil {
			return err
		}
		_, err = h.print(ctx, cmd)
		return err
	})
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	fmt.Fprintf(out, "\nWatching %s for changes (Ctrl+C to stop)\n", fw.Dir())
	<-ctx.Done()
	return nil
}

// print writes the console and, with --dom, the final document.
func (h *headless) print(ctx context.Context, cmd *cobra.Command) (int, error) {
	errorCount, err := h.report(ctx, cmd.OutOrStdout())
	if err != nil {
		return 0, err
	}
	if runDOM {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", h.sandbox.HTML())
	}
	return errorCount, nil
}

func projectDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func changedFiles(events []watcher.ChangeEvent) string {
	seen := make(map[types.Slot]bool)
	var names string
	for _, event := range events {
		if seen[event.Slot] {
			continue
		}
		seen[event.Slot] = true
		if names != "" {
			names += ", "
		}
		names += event.Slot.FileName() + " " + event.Type.String()
	}
	return names
}
