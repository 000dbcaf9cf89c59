package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/panes/internal/buffer"
	"github.com/conneroisu/panes/internal/config"
	"github.com/conneroisu/panes/internal/console"
	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/monitoring"
	"github.com/conneroisu/panes/internal/server"
	"github.com/conneroisu/panes/internal/session"
	"github.com/conneroisu/panes/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playground server",
	Long: `Start the playground server and serve the editor page.

The buffers are persisted to the configured storage and restored the next
time the playground is opened.

Examples:
  panes serve                       # Serve on localhost:8080
  panes serve -p 3000 --open        # Serve on port 3000 and open a browser
  panes serve --storage memory      # Keep the buffers in memory only`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Bool("open", false, "Open the playground in a browser")
	serveCmd.Flags().String("storage", config.DriverSQLite, "Storage driver (sqlite, memory)")
	serveCmd.Flags().String("db", ".panes/panes.db", "SQLite database path")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.open", serveCmd.Flags().Lookup("open"))
	_ = viper.BindPFlag("storage.driver", serveCmd.Flags().Lookup("storage"))
	_ = viper.BindPFlag("storage.path", serveCmd.Flags().Lookup("db"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	kv, closeKV, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeKV()

	info := version.Get()
	metrics := monitoring.NewMetrics()
	health := monitoring.NewHealthMonitor(logger, info.Short())

	store := buffer.NewStore(kv, cfg.Storage.Namespace, logger)
	sess := session.New(session.Config{
		Store:          store,
		KV:             kv,
		Namespace:      cfg.Storage.Namespace,
		Frame:          server.NewFrame(),
		Console:        console.New(console.WithMaxEntries(cfg.Console.MaxEntries)),
		Delay:          cfg.Render.Debounce,
		TrustedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
		Metrics:        metrics,
	})
	registerHealthChecks(health, kv, sess)

	srv := server.New(server.Options{
		Config:  cfg,
		Session: sess,
		Metrics: metrics,
		Health:  health,
		Logger:  logger,
		Version: info.Short(),
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Starting panes at http://%s\n", cfg.Server.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.Start(ctx); err != nil {
			return errors.NewEnhancedError(
				fmt.Sprintf("Failed to start server on port %d", cfg.Server.Port),
				err,
				errors.ServerStartError(err, cfg.Server.Port),
			)
		}
		return nil
	})
	return g.Wait()
}

// openStorage opens the configured key-value store. The returned close
// function is always safe to call.
func openStorage(cfg config.StorageConfig) (buffer.KV, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return buffer.NewMemoryKV(int(cfg.QuotaBytes)), func() {}, nil
	default:
		kv, err := buffer.OpenSQLite(cfg.Path, cfg.QuotaBytes)
		if err != nil {
			return nil, nil, errors.NewEnhancedError("Failed to open storage", err, errors.StorageError(err, cfg.Path))
		}
		return kv, func() { _ = kv.Close() }, nil
	}
}

func registerHealthChecks(health *monitoring.HealthMonitor, kv buffer.KV, sess *session.Session) {
	if pinger, ok := kv.(interface{ Ping(context.Context) error }); ok {
		health.Register("storage", false, pinger.Ping)
	}
	health.Register("session", true, func(ctx context.Context) error {
		select {
		case <-sess.Done():
			return session.ErrClosed
		default:
			return sess.Sync(ctx)
		}
	})
}

// quietLogger is used by the one-shot commands, which print their own
// results and only log problems.
func quietLogger(cfg *config.Config, out io.Writer) logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil || level < logging.LevelWarn {
		level = logging.LevelWarn
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	})
}
