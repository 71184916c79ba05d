// Package warden wires the review lifecycle to gateway events, interactions and the
// periodic reconciliation loop.
package warden

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/warden/internal/config"
	"github.com/dyluth/warden/internal/debounce"
	"github.com/dyluth/warden/internal/guard"
	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/metrics"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/dyluth/warden/internal/summary"
	"github.com/dyluth/warden/pkg/ledger"
	"golang.org/x/time/rate"
)

// Deps are the collaborators an Engine drives.
type Deps struct {
	Platform   platform.Platform
	Registry   *registry.Memory
	Controller *lifecycle.Controller
	Reconciler *reconcile.Reconciler
	Summaries  *summary.Publisher // optional
	Ledger     *ledger.Client     // optional
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Retry      retry.Policy
}

// Engine reacts to platform events and keeps reviews converged with the role model.
// It implements platform.EventHandler.
type Engine struct {
	cfg        *config.WardenConfig
	platform   platform.Platform
	registry   *registry.Memory
	ctl        *lifecycle.Controller
	classifier *roles.Classifier
	reconciler *reconcile.Reconciler
	summaries  *summary.Publisher
	mirror     *mirror
	metrics    *metrics.Metrics
	logger     *slog.Logger
	retry      retry.Policy

	locks        *guard.KeyedMutex // user id; serialises role-driven access changes
	ownerChanges *debounce.Keyed
	refreshes    *debounce.Keyed
	sweepLimiter *rate.Limiter

	ctxMu sync.RWMutex
	ctx   context.Context // base context for debounced work

	cycleMu      sync.Mutex
	cycleID      uint64
	cycleRunning bool
	cycleStarted time.Time

	ready   atomic.Bool
	started atomic.Bool
	now     func() time.Time
}

var _ platform.EventHandler = (*Engine)(nil)

// NewEngine creates an Engine. cfg must already be validated.
func NewEngine(cfg *config.WardenConfig, d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := cfg.Timings

	e := &Engine{
		cfg:          cfg,
		platform:     d.Platform,
		registry:     d.Registry,
		ctl:          d.Controller,
		classifier:   d.Controller.Classifier(),
		reconciler:   d.Reconciler,
		summaries:    d.Summaries,
		metrics:      d.Metrics,
		logger:       logger.With("component", "engine"),
		retry:        d.Retry,
		locks:        guard.NewKeyedMutex(),
		sweepLimiter: rate.NewLimiter(rate.Every(t.SweepDelay), 1),
		ctx:          context.Background(),
		now:          time.Now,
	}
	e.ownerChanges = debounce.New(t.DebounceMin, t.DebounceMax, e.handleOwnerChange)
	e.refreshes = debounce.New(t.DebounceMin, t.DebounceMax, e.refreshSummary)
	if d.Ledger != nil {
		e.mirror = newMirror(d.Ledger, logger)
	}

	d.Registry.OnChange(e.onRegistryChange)
	return e
}

// Run performs the startup pass and then runs the periodic reconciliation loop until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.setContext(ctx)
	defer e.ownerChanges.Stop()
	defer e.refreshes.Stop()

	if e.mirror != nil {
		go e.mirror.run(ctx)
	}

	if err := e.Startup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.Timings.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine_stopping")
			return nil
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// Ready reports whether the gateway session is up.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// OnReady implements platform.EventHandler.
func (e *Engine) OnReady(ctx context.Context) {
	e.ready.Store(true)
	e.logger.Info("gateway_ready")
}

// SetDisconnected marks the gateway session as down.
func (e *Engine) SetDisconnected() {
	e.ready.Store(false)
	e.logger.Warn("gateway_disconnected")
}

func (e *Engine) setContext(ctx context.Context) {
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()
	e.ctx = ctx
}

func (e *Engine) baseContext() context.Context {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.ctx
}

// onRegistryChange runs after every registry write: it mirrors the change to the ledger
// and schedules summary refreshes for the affected categories.
func (e *Engine) onRegistryChange(c registry.Change) {
	if e.mirror != nil {
		e.mirror.push(c)
	}
	for _, cat := range c.Categories() {
		e.refreshes.Trigger(cat)
	}
}

func (e *Engine) refreshSummary(category string) {
	if e.summaries == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.baseContext(), time.Minute)
	defer cancel()
	if _, err := e.summaries.Refresh(ctx, category); err != nil {
		e.logger.Warn("summary_refresh_failed", "category", category, "error", err)
	}
}

// refreshAll schedules a refresh of every category summary.
func (e *Engine) refreshAll() {
	for _, cat := range e.classifier.Categories() {
		e.refreshes.Trigger(cat.Name)
	}
}
