// Package dispatch turns raw filesystem notifications into build and notify
// decisions. A single dispatcher goroutine consumes events one at a time in
// arrival order; the consequences (builds) are serialized and coalesced by
// the orchestrator, never run concurrently.
package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/devloop-dev/devloop/internal/config"
	"github.com/devloop-dev/devloop/internal/hmr"
	"github.com/devloop-dev/devloop/internal/logging"
	"github.com/devloop-dev/devloop/internal/watcher"
)

// Triggerer requests a rebuild and returns when it has finished.
type Triggerer interface {
	Trigger(ctx context.Context) error
}

// Broadcaster notifies connected live-reload clients.
type Broadcaster interface {
	Broadcast(msg string)
}

// extension classes
var (
	styleExts = map[string]bool{".css": true, ".scss": true, ".svg": true}
	codeExts  = map[string]bool{".html": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true}
)

// Dispatcher classifies watch events and drives the orchestrator and hub.
type Dispatcher struct {
	builder Triggerer
	hub     Broadcaster
	logger  logging.Logger

	outDir      string
	ignoreNames []string
	copySources []string
	selfPath    string

	exit func(int)
}

// New creates a dispatcher. selfPath is the absolute path of the running
// binary; a change to it terminates the process (self-modification safety
// valve).
func New(cfg *config.Config, builder Triggerer, hub Broadcaster, selfPath string, logger logging.Logger) (*Dispatcher, error) {
	outDir, err := filepath.Abs(cfg.Build.OutDir)
	if err != nil {
		return nil, err
	}

	copySources := make([]string, 0, len(cfg.Build.Copy))
	for _, rule := range cfg.Build.Copy {
		src, err := filepath.Abs(rule.From)
		if err != nil {
			return nil, err
		}
		copySources = append(copySources, src)
	}

	return &Dispatcher{
		builder:     builder,
		hub:         hub,
		logger:      logger.WithComponent("dispatch"),
		outDir:      outDir,
		ignoreNames: cfg.Watch.Ignore,
		copySources: copySources,
		selfPath:    selfPath,
		exit:        os.Exit,
	}, nil
}

// IgnorePath is the ignore predicate handed to the watch collaborator: the
// output directory and dependency caches never produce events. This keeps
// the orchestrator's own writes from feeding back into new builds.
func (d *Dispatcher) IgnorePath(path string) bool {
	if path == d.outDir || strings.HasPrefix(path, d.outDir+string(os.PathSeparator)) {
		return true
	}
	for _, name := range d.ignoreNames {
		for _, segment := range strings.Split(path, string(os.PathSeparator)) {
			if segment == name {
				return true
			}
		}
	}
	return false
}

// Run consumes events until the channel closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.OnEvent(ctx, event)
		}
	}
}

// OnEvent classifies a single filesystem event and performs its
// consequences. It returns when those consequences, including any build,
// have completed, so broadcasts always follow the build they report on.
func (d *Dispatcher) OnEvent(ctx context.Context, event watcher.Event) {
	// The watcher already applies IgnorePath; re-checking keeps the rule
	// authoritative here rather than a property of the collaborator.
	if d.IgnorePath(event.Path) {
		return
	}

	if event.Path == d.selfPath {
		d.logger.Info(ctx, "devloop itself changed, exiting", "path", event.Path)
		d.exit(0)
		return
	}

	// Deletions are not classified into any rebuild action.
	if event.Kind == watcher.EventRemoved {
		d.logger.Debug(ctx, "ignoring removal", "path", event.Path)
		return
	}

	// Copy-rule sources are not bundler inputs, so content hashing cannot
	// detect them; any change under one forces a rebuild.
	for _, src := range d.copySources {
		if event.Path == src || strings.HasPrefix(event.Path, src+string(os.PathSeparator)) {
			d.logger.Info(ctx, "copied asset changed", "path", event.Path)
			d.triggerBuild(ctx)
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(event.Path))
	switch {
	case styleExts[ext]:
		d.logger.Info(ctx, "style changed", "path", event.Path)
		d.triggerBuild(ctx)
		d.hub.Broadcast(hmr.MessageReloadCSS)

	case codeExts[ext]:
		d.logger.Info(ctx, "source changed", "path", event.Path)
		d.triggerBuild(ctx)
		d.hub.Broadcast(hmr.MessageReloadJS)

	case filepath.Base(event.Path) == config.ManifestName:
		d.logger.Info(ctx, "manifest changed", "path", event.Path)
		d.triggerBuild(ctx)

	default:
		d.logger.Debug(ctx, "no action for change", "path", event.Path)
	}
}

func (d *Dispatcher) triggerBuild(ctx context.Context) {
	// Build failures are already logged and recorded by the orchestrator;
	// the dispatcher stays alive for the next event either way.
	_ = d.builder.Trigger(ctx)
}
