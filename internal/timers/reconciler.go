// Package timers advances locally tracked elapsed-time counters between
// server updates and decides when a drift reminder is due.
package timers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/focus-coach/companion/internal/clock"
	"github.com/focus-coach/companion/internal/model"
	"github.com/focus-coach/companion/internal/repository"
)

const (
	DefaultTimeUpdateInterval        = 30 * time.Second
	DefaultInteractionUpdateInterval = 60 * time.Second

	// storeTimeout bounds the store round trips of one cycle.
	storeTimeout = 5 * time.Second
)

// Store is the persisted state the reconciler reads and advances.
type Store interface {
	Get(ctx context.Context, keys ...repository.Key) (repository.Values, error)
	Set(ctx context.Context, values repository.Values) error
}

// Policy decides when the user is present but drifting.
type Policy struct {
	// UnfocusedFor is how long since the last focus change before reminding.
	UnfocusedFor time.Duration
	// ActiveWithin is how recent the last interaction must be.
	ActiveWithin time.Duration
	// Cooldown is the minimum gap between two reminders.
	Cooldown time.Duration
}

// DefaultPolicy reminds after two unfocused hours, if the user interacted in
// the last five minutes and no reminder went out in the last two hours.
func DefaultPolicy() Policy {
	return Policy{
		UnfocusedFor: 2 * time.Hour,
		ActiveWithin: 5 * time.Minute,
		Cooldown:     2 * time.Hour,
	}
}

// ShouldRemind evaluates the reminder policy. sinceLastChange and
// lastInteraction are in seconds, lastSent in epoch milliseconds.
func (p Policy) ShouldRemind(focusing bool, sinceLastChange, lastInteraction float64, lastSent int64, now time.Time) bool {
	return !focusing &&
		sinceLastChange > p.UnfocusedFor.Seconds() &&
		lastInteraction < p.ActiveWithin.Seconds() &&
		now.UnixMilli()-lastSent > p.Cooldown.Milliseconds()
}

// Config holds configuration for the reconciler.
type Config struct {
	TimeUpdateInterval        time.Duration
	InteractionUpdateInterval time.Duration
	Policy                    Policy
}

// DefaultConfig returns the standard intervals and policy.
func DefaultConfig() Config {
	return Config{
		TimeUpdateInterval:        DefaultTimeUpdateInterval,
		InteractionUpdateInterval: DefaultInteractionUpdateInterval,
		Policy:                    DefaultPolicy(),
	}
}

// Reconciler runs the time-update and interaction-update tasks.
type Reconciler struct {
	store  Store
	clock  clock.Clock
	remind func(ctx context.Context)
	policy Policy

	mu          sync.Mutex
	ctx         context.Context
	stopped     bool
	timeTask    *task
	interaction *task
}

// NewReconciler creates a reconciler. remind is invoked when the reminder
// policy fires; it may be nil.
func NewReconciler(cfg Config, store Store, clk clock.Clock, remind func(ctx context.Context)) *Reconciler {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.TimeUpdateInterval <= 0 {
		cfg.TimeUpdateInterval = DefaultTimeUpdateInterval
	}
	if cfg.InteractionUpdateInterval <= 0 {
		cfg.InteractionUpdateInterval = DefaultInteractionUpdateInterval
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}

	r := &Reconciler{
		store:  store,
		clock:  clk,
		remind: remind,
		policy: cfg.Policy,
		ctx:    context.Background(),
	}
	r.timeTask = newTask("time update", cfg.TimeUpdateInterval, clk, r.updateTime)
	r.interaction = newTask("interaction update", cfg.InteractionUpdateInterval, clk, r.updateInteraction)
	return r
}

// Start begins both tasks. Store calls are made under ctx.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.stopped = false
	r.mu.Unlock()

	r.timeTask.restart()
	r.interaction.restart()
}

// RestartTimeUpdate resets the time-update interval. It is called whenever
// a fresh focus update arrives from the server. It does nothing after Stop.
func (r *Reconciler) RestartTimeUpdate() {
	r.restartTask(r.timeTask)
}

// RestartInteractionUpdate resets the interaction-update interval.
func (r *Reconciler) RestartInteractionUpdate() {
	r.restartTask(r.interaction)
}

func (r *Reconciler) restartTask(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	t.restart()
}

// Stop cancels both tasks until the next Start. An invocation already
// running completes.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.timeTask.stop()
	r.interaction.stop()
}

func (r *Reconciler) cycleContext() (context.Context, context.CancelFunc) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	return context.WithTimeout(ctx, storeTimeout)
}

func (r *Reconciler) updateTime() {
	ctx, cancel := r.cycleContext()
	defer cancel()

	values, err := r.store.Get(ctx,
		repository.KeyFocusing,
		repository.KeySinceLastChange,
		repository.KeyLastUpdateTimestamp,
		repository.KeyLastInteraction,
		repository.KeyLastNotificationSent,
	)
	if err != nil {
		log.Printf("timers: failed to read focus state: %v", err)
		return
	}

	lastUpdate := values.Millis(repository.KeyLastUpdateTimestamp)
	if !values.Has(repository.KeyFocusing) || !values.Has(repository.KeySinceLastChange) || lastUpdate == 0 {
		return
	}

	now := r.clock.Now()
	since := values.Number(repository.KeySinceLastChange) + model.ElapsedSeconds(lastUpdate, now)

	if err := r.store.Set(ctx, repository.Values{
		repository.KeySinceLastChange:     since,
		repository.KeyLastUpdateTimestamp: now.UnixMilli(),
	}); err != nil {
		log.Printf("timers: failed to advance focus state: %v", err)
		return
	}

	remind := r.policy.ShouldRemind(
		values.Bool(repository.KeyFocusing),
		since,
		values.Number(repository.KeyLastInteraction),
		values.Millis(repository.KeyLastNotificationSent),
		now,
	)
	if !remind {
		return
	}

	log.Printf("timers: unfocused for %s, sending reminder", model.FormatSeconds(since, true))
	if r.remind != nil {
		r.remind(ctx)
	}
	if err := r.store.Set(ctx, repository.Values{
		repository.KeyLastNotificationSent: now.UnixMilli(),
	}); err != nil {
		log.Printf("timers: failed to record reminder: %v", err)
	}
}

func (r *Reconciler) updateInteraction() {
	ctx, cancel := r.cycleContext()
	defer cancel()

	values, err := r.store.Get(ctx,
		repository.KeyLastInteraction,
		repository.KeyLastInteractionTimestamp,
	)
	if err != nil {
		log.Printf("timers: failed to read interaction state: %v", err)
		return
	}

	lastUpdate := values.Millis(repository.KeyLastInteractionTimestamp)
	if !values.Has(repository.KeyLastInteraction) || lastUpdate == 0 {
		return
	}

	now := r.clock.Now()
	if err := r.store.Set(ctx, repository.Values{
		repository.KeyLastInteraction:          values.Number(repository.KeyLastInteraction) + model.ElapsedSeconds(lastUpdate, now),
		repository.KeyLastInteractionTimestamp: now.UnixMilli(),
	}); err != nil {
		log.Printf("timers: failed to advance interaction state: %v", err)
	}
}
