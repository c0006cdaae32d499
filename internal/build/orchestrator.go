package build

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devloop-dev/devloop/internal/config"
	"github.com/devloop-dev/devloop/internal/errors"
	"github.com/devloop-dev/devloop/internal/logging"
)

// ErrBuildFailed is returned by Trigger when the bundler reported
// diagnostics. It is informational for the caller; the failure has already
// been logged and recorded, and the orchestrator is ready for the next
// trigger.
type ErrBuildFailed struct {
	Count int
}

func (e *ErrBuildFailed) Error() string {
	return fmt.Sprintf("build failed with %d error(s)", e.Count)
}

// Orchestrator is the single point of truth for "a build is happening". At
// most one bundler invocation executes at any instant; triggers arriving
// while a build is in flight coalesce into one follow-up build.
type Orchestrator struct {
	cfg     *config.Config
	bundler Bundler
	banner  string
	logger  logging.Logger
	metrics *Metrics

	lastErrors *errors.ErrorCollector

	mu       sync.Mutex
	counter  uint64
	inFlight bool
	waiters  []chan error
}

// NewOrchestrator creates a build orchestrator. banner is injected at the
// top of each entry bundle when non-empty (the live-reload client snippet).
func NewOrchestrator(cfg *config.Config, bundler Bundler, banner string, metrics *Metrics, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		bundler:    bundler,
		banner:     banner,
		logger:     logger.WithComponent("build"),
		metrics:    metrics,
		lastErrors: errors.NewErrorCollector(),
	}
}

// Counter returns the number of Trigger calls so far.
func (o *Orchestrator) Counter() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counter
}

// LastErrors returns the diagnostics of the most recent failed build, empty
// after a success.
func (o *Orchestrator) LastErrors() []errors.BuildError {
	return o.lastErrors.GetErrors()
}

// Trigger runs a build, or queues behind the one in flight. The call returns
// only after a bundler invocation started at or after the call has finished,
// including copy rules. A failed build returns *ErrBuildFailed; it is never
// fatal.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	o.mu.Lock()
	o.counter++
	if o.inFlight {
		// Coalesce: wait for the follow-up build the current runner will
		// start once it finishes.
		done := make(chan error, 1)
		o.waiters = append(o.waiters, done)
		o.mu.Unlock()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.inFlight = true
	o.mu.Unlock()

	err := o.runOnce(ctx)

	for {
		o.mu.Lock()
		waiters := o.waiters
		o.waiters = nil
		if len(waiters) == 0 {
			o.inFlight = false
			o.mu.Unlock()
			return err
		}
		o.mu.Unlock()

		// One more build picks up everything the coalesced triggers saw.
		rerun := o.runOnce(ctx)
		for _, done := range waiters {
			done <- rerun
		}
	}
}

// runOnce performs a single bundler invocation plus copy rules. Bundler
// failures are recorded and logged, not raised.
func (o *Orchestrator) runOnce(ctx context.Context) error {
	start := time.Now()
	result, err := o.bundler.Bundle(ctx, o.DeriveBundleConfig())
	o.metrics.observeBuild(time.Since(start))

	if err != nil {
		o.metrics.buildFailed()
		o.lastErrors.Replace([]errors.BuildError{{
			Message:  err.Error(),
			Severity: errors.ErrorSeverityFatal,
		}})
		o.logger.Error(ctx, err, "bundler invocation failed")
		return err
	}

	if len(result.Errors) > 0 {
		o.metrics.buildFailed()
		collected := make([]errors.BuildError, 0, len(result.Errors))
		for _, msg := range result.Errors {
			collected = append(collected, errors.BuildError{
				File:     msg.File,
				Line:     msg.Line,
				Column:   msg.Column,
				Message:  msg.Text,
				Severity: errors.ErrorSeverityError,
			})
		}
		o.lastErrors.Replace(collected)
		o.logger.Error(ctx, nil, "build failed",
			"errors", len(result.Errors),
			"first", result.Errors[0].Text,
		)
		return &ErrBuildFailed{Count: len(result.Errors)}
	}

	o.lastErrors.Clear()

	if err := o.runCopyRules(ctx); err != nil {
		o.logger.Error(ctx, err, "copy rules failed")
		return err
	}

	o.logger.Info(ctx, "build finished", "duration", time.Since(start).String())
	return nil
}

// DeriveBundleConfig maps the project settings onto the bundler's
// configuration contract.
func (o *Orchestrator) DeriveBundleConfig() BundleConfig {
	bc := BundleConfig{
		Entries:  o.cfg.Build.Entries,
		OutDir:   o.cfg.Build.OutDir,
		Platform: "browser",
		Format:   o.cfg.Build.Format,
		Minify:   o.cfg.Build.Release,
		Defines: map[string]string{
			"DEBUG": fmt.Sprintf("%t", !o.cfg.Build.Release),
		},
		Loaders: map[string]string{
			".png":   "file",
			".jpg":   "file",
			".svg":   "file",
			".woff":  "file",
			".woff2": "file",
		},
		External: o.cfg.Build.External,
	}
	if !o.cfg.Build.Release {
		bc.Sourcemap = "inline"
	}
	if o.cfg.Build.HMR {
		bc.Banner = o.banner
	}
	return bc
}
