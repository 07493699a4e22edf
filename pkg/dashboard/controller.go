// Package dashboard owns the request lifecycle of one dashboard session:
// it validates committed ranges, drives the fetch, and publishes the derived
// metrics and chart.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vjranagit/bouncedash/pkg/chart"
	"github.com/vjranagit/bouncedash/pkg/client"
	"github.com/vjranagit/bouncedash/pkg/events"
	"github.com/vjranagit/bouncedash/pkg/metrics"
	"github.com/vjranagit/bouncedash/pkg/storage"
	"github.com/vjranagit/bouncedash/pkg/types"
	"github.com/vjranagit/bouncedash/pkg/validation"
)

// NotificationKey is shared by every request notification so each one
// replaces the previous
const NotificationKey = "REQUEST"

const (
	textLoading = "Requesting..."
	textSuccess = "Request succeeded!"
	textFailure = "Request failed, check the logs for details!"
)

// Config holds controller configuration
type Config struct {
	// CapacityBaseline is the static provisioning baseline for the savings rate
	CapacityBaseline float64
	// FetchTimeout bounds one fetch; zero waits indefinitely
	FetchTimeout time.Duration
	// NotificationDuration is how long success/error notifications stay up
	NotificationDuration time.Duration
	// SessionIdleTimeout reaps sessions untouched for this long; zero never
	// reaps. A session with a fetch in flight is never idle.
	SessionIdleTimeout time.Duration
}

// Status is the observable request state of a session
type Status struct {
	Session      string             `json:"session"`
	State        types.RequestState `json:"state"`
	Busy         bool               `json:"busy"`
	Notification types.Notification `json:"notification"`
}

// Controller runs the request lifecycle for one session.
// It is safe for concurrent use; at most one fetch is outstanding.
type Controller struct {
	session string
	cfg     Config
	fetcher client.Fetcher
	store   storage.SnapshotStore
	bus     *events.Bus
	log     zerolog.Logger

	ctx      context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	// pubMu orders publication: events leave in the order state changed.
	// Bus handlers must not call Submit synchronously.
	pubMu sync.Mutex

	mu           sync.Mutex
	state        types.RequestState
	busy         bool
	notification types.Notification
	notifySeq    uint64
	clearTimer   *time.Timer
	cancelFetch  context.CancelFunc
	lastActive   time.Time
}

// NewController creates a controller for session
func NewController(session string, cfg Config, fetcher client.Fetcher, store storage.SnapshotStore, bus *events.Bus, log zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		session:    session,
		cfg:        cfg,
		fetcher:    fetcher,
		store:      store,
		bus:        bus,
		log:        log.With().Str("component", "dashboard").Str("session", session).Logger(),
		ctx:        ctx,
		shutdown:   cancel,
		state:      types.StateIdle,
		lastActive: time.Now(),
		notification: types.Notification{
			Key:  NotificationKey,
			Kind: types.NotificationNone,
		},
	}
}

// Session returns the session key
func (c *Controller) Session() string {
	return c.session
}

// Submit starts a fetch for r. It returns false, without any state change or
// outbound request, when the range is incomplete or a fetch is in flight.
func (c *Controller) Submit(r types.TimeRange) bool {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.lastActive = time.Now()
	if validation.Validate(r, c.busy) == validation.Rejected {
		busy := c.busy
		c.mu.Unlock()
		c.log.Debug().Bool("busy", busy).Bool("complete", r.Complete()).Msg("Range selection ignored")
		return false
	}

	q, err := validation.ToQuery(r)
	if err != nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		c.log.Debug().Err(err).Msg("Range selection ignored")
		return false
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.cfg.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}

	c.busy = true
	c.state = types.StatePending
	c.cancelFetch = cancel
	note := c.setNotificationLocked(types.NotificationLoading, textLoading, 0)
	status := c.statusLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info().Str("start", q.Start).Str("end", q.End).Msg("Range submitted")
	c.publish(events.StateChanged, status)
	c.publish(events.NotificationChanged, note)

	go c.run(ctx, cancel, q)
	return true
}

// run performs one fetch and resolves it
func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, q types.Query) {
	defer c.wg.Done()
	defer cancel()

	pair, err := c.fetcher.Fetch(ctx, q)
	if err == nil && pair == nil {
		err = fmt.Errorf("fetcher returned no series")
	}
	if err != nil {
		c.fail(q, err)
		return
	}

	snap := &types.Snapshot{
		Metrics:   metrics.Compute(pair, c.cfg.CapacityBaseline),
		Chart:     chart.Project(pair),
		UpdatedAt: time.Now(),
	}

	// Store before clearing busy so a Succeeded state always has its snapshot
	if err := c.store.Put(context.WithoutCancel(ctx), c.session, snap); err != nil {
		c.fail(q, fmt.Errorf("failed to store snapshot: %w", err))
		return
	}

	c.succeed(q, snap)
}

func (c *Controller) succeed(q types.Query, snap *types.Snapshot) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.busy = false
	c.state = types.StateSucceeded
	c.cancelFetch = nil
	c.lastActive = time.Now()
	note := c.setNotificationLocked(types.NotificationSuccess, textSuccess, c.cfg.NotificationDuration)
	status := c.statusLocked()
	c.mu.Unlock()

	c.log.Info().
		Str("start", q.Start).
		Str("end", q.End).
		Int("points", len(snap.Chart.Categories)).
		Float64("adequacy_rate", snap.Metrics.AdequacyRate).
		Float64("savings_rate", snap.Metrics.SavingsRate).
		Msg("Bounce rate request succeeded")

	c.publish(events.StateChanged, status)
	c.publish(events.NotificationChanged, note)
	c.publish(events.SnapshotPublished, snap)
}

// fail ends the request; the previous snapshot stays in place
func (c *Controller) fail(q types.Query, err error) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	c.busy = false
	c.state = types.StateFailed
	c.cancelFetch = nil
	c.lastActive = time.Now()
	note := c.setNotificationLocked(types.NotificationError, textFailure, c.cfg.NotificationDuration)
	status := c.statusLocked()
	c.mu.Unlock()

	evt := c.log.Error().Err(err).Str("start", q.Start).Str("end", q.End)
	var fetchErr *client.FetchError
	if errors.As(err, &fetchErr) {
		evt = evt.Str("request_id", fetchErr.RequestID).Int("status", fetchErr.Status)
	}
	evt.Msg("Bounce rate request failed")

	c.publish(events.StateChanged, status)
	c.publish(events.NotificationChanged, note)
}

// Cancel aborts the in-flight fetch, which then resolves as failed.
// It reports whether there was anything to cancel.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelFetch == nil {
		return false
	}
	c.cancelFetch()
	return true
}

// Wait blocks until no fetch is outstanding
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels any in-flight fetch and stops pending notification timers
func (c *Controller) Close() {
	// Submit holds pubMu across its wg.Add, so no fetch starts after this
	c.pubMu.Lock()
	c.shutdown()
	c.pubMu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	c.mu.Unlock()
}

// Done is closed once the controller is closed
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Touch marks the session as in use
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// idleAt reports whether the session has been unused for at least timeout
// at now
func (c *Controller) idleAt(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy && now.Sub(c.lastActive) >= timeout
}

// State returns the current status
func (c *Controller) State() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Snapshot returns the latest published snapshot, or nil before the first
// successful fetch
func (c *Controller) Snapshot(ctx context.Context) (*types.Snapshot, error) {
	snap, err := c.store.Get(ctx, c.session)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return snap, err
}

func (c *Controller) statusLocked() Status {
	return Status{
		Session:      c.session,
		State:        c.state,
		Busy:         c.busy,
		Notification: c.notification,
	}
}

// setNotificationLocked replaces the notification and arms its auto-clear.
// Must hold c.mu.
func (c *Controller) setNotificationLocked(kind types.NotificationKind, text string, ttl time.Duration) types.Notification {
	c.notifySeq++
	seq := c.notifySeq

	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}

	c.notification = types.Notification{Key: NotificationKey, Kind: kind, Text: text}
	if ttl > 0 {
		c.clearTimer = time.AfterFunc(ttl, func() { c.clearNotification(seq) })
	}
	return c.notification
}

// clearNotification hides the notification armed as seq, unless a newer
// one replaced it
func (c *Controller) clearNotification(seq uint64) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.notifySeq != seq {
		c.mu.Unlock()
		return
	}
	c.notification = types.Notification{Key: NotificationKey, Kind: types.NotificationNone}
	c.clearTimer = nil
	note := c.notification
	c.mu.Unlock()

	c.publish(events.NotificationChanged, note)
}

func (c *Controller) publish(eventType events.EventType, data interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(&events.Event{
		Type:    eventType,
		Session: c.session,
		Data:    data,
	})
}
