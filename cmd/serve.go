package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devloop-dev/devloop/internal/build"
	"github.com/devloop-dev/devloop/internal/config"
	"github.com/devloop-dev/devloop/internal/dispatch"
	"github.com/devloop-dev/devloop/internal/hmr"
	"github.com/devloop-dev/devloop/internal/logging"
	"github.com/devloop-dev/devloop/internal/server"
	"github.com/devloop-dev/devloop/internal/validation"
	"github.com/devloop-dev/devloop/internal/watcher"
)

const watchDebounce = 100 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "dev"},
	Short:   "Start the development server",
	Long: `Serve builds the project, then watches sources and rebuilds on change.
A live-reload endpoint runs on the serving port plus ` + fmt.Sprint(config.HMRPortOffset) + `; connected
browsers receive "reload-css" for stylesheet changes and "reload-js" for
code changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "port to serve on (default 3000)")
	serveCmd.Flags().String("host", "", "host to bind to (default localhost)")
	serveCmd.Flags().BoolP("open", "o", false, "open browser after the server starts")
	serveCmd.Flags().Bool("no-hmr", false, "disable the live-reload endpoint")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.open", serveCmd.Flags().Lookup("open"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if noHMR, _ := cmd.Flags().GetBool("no-hmr"); noHMR {
		cfg.Build.HMR = false
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := build.NewMetrics(registry)

	hub := hmr.NewHub(registry, logger)

	banner := ""
	if cfg.Build.HMR {
		banner = hmr.ClientScript(cfg.Server.Host, cfg.HMRPort(), cfg.Secure())
	}

	bundler := build.NewExecBundler(cfg.Build.Command, ".")
	orchestrator := build.NewOrchestrator(cfg, bundler, banner, metrics, logger)

	selfPath, err := os.Executable()
	if err != nil {
		// Without a resolvable binary path the self-change valve is off.
		selfPath = ""
	}

	// The hub's fan-out loop only runs when its listener does; with live
	// reload off the dispatcher must not block on it.
	var notifier dispatch.Broadcaster = hub
	if !cfg.Build.HMR {
		notifier = hmr.NopBroadcaster{}
	}
	dispatcher, err := dispatch.New(cfg, orchestrator, notifier, selfPath, logger)
	if err != nil {
		return err
	}

	w, err := watcher.New(cfg.Watch.Root, dispatcher.IgnorePath, watchDebounce, logger)
	if err != nil {
		return err
	}

	// The output directory must be populated before the first request; a
	// failed initial build still serves, with errors on /api/build/status.
	logger.Info(ctx, "running initial build", "command", cfg.Build.Command)
	if err := orchestrator.Trigger(ctx); err != nil {
		logger.Error(ctx, err, "initial build failed")
	}

	if cfg.Build.HMR {
		if err := hub.Start(ctx, cfg.Server.Host, cfg.HMRPort(), cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil {
			return err
		}
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	go dispatcher.Run(ctx, w.Events())

	srv := server.New(cfg, orchestrator, hub, registry, logger)

	url := serveURL(cfg)
	logger.Info(ctx, "development server ready", "url", url, "hmr", cfg.Build.HMR)
	if cfg.Server.Open {
		go openBrowser(ctx, logger, url)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start(ctx)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, err, "server shutdown")
	}
	if cfg.Build.HMR {
		if err := hub.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, err, "hmr shutdown")
		}
	}
	if err := w.Stop(); err != nil {
		logger.Error(shutdownCtx, err, "watcher stop")
	}
	return nil
}

func serveURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.Secure() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Server.Host, cfg.Server.Port)
}

// openBrowser launches the platform browser for url after validating it.
func openBrowser(ctx context.Context, logger logging.Logger, url string) {
	if err := validation.ValidateURL(url); err != nil {
		logger.Warn(ctx, err, "refusing to open browser", "url", url)
		return
	}

	// Let the listener come up first.
	time.Sleep(200 * time.Millisecond)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.Warn(ctx, err, "opening browser", "url", url)
	}
}
