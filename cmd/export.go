package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/export"
	"github.com/conneroisu/panes/internal/types"
	"github.com/conneroisu/panes/internal/watcher"
)

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Write the export files",
	Long: `Write the export files: the three buffers verbatim and a standalone
document bundling them.

With a project directory the buffers are read from its index.html,
style.css and script.js. Without one they are read from the configured
storage, i.e. what the playground last saved.

Examples:
  panes export --out dist               # Export the saved buffers
  panes export ./demo --out dist        # Export a project directory
  panes export --file proiect.html      # Export only the bundle`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

var (
	exportOut   string
	exportFiles []string
	exportForce bool
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "export", "Output directory")
	exportCmd.Flags().StringSliceVarP(&exportFiles, "file", "f", nil, "Export only the named files")
	exportCmd.Flags().BoolVar(&exportForce, "force", false, "Overwrite existing files")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var src export.Sources
	if len(args) > 0 {
		sources, err := watcher.ReadSources(args[0])
		if err != nil {
			return err
		}
		src = export.Sources{
			Markup: sources[types.SlotMarkup],
			Style:  sources[types.SlotStyle],
			Script: sources[types.SlotScript],
		}
	} else {
		kv, closeKV, err := openStorage(cfg.Storage)
		if err != nil {
			return err
		}
		defer closeKV()
		store := buffer.NewStore(kv, cfg.Storage.Namespace, quietLogger(cfg, cmd.ErrOrStderr()))
		store.LoadAll(ctx)
		src = export.FromBuffers(store.Snapshot())
	}

	d := &export.DirDownloader{Dir: exportOut, Overwrite: exportForce}
	if len(exportFiles) == 0 {
		err = export.All(d, src)
	} else {
		for _, name := range exportFiles {
			if err = export.Export(d, name, src); err != nil {
				break
			}
		}
	}
	for _, path := range d.Written {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return err
}
