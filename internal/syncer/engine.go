// Package syncer implements the polling synchronization engine: it keeps a
// local Datastore consistent with a remote copy via periodic pulls and
// change-triggered pushes, under a global limit of one in-flight request.
//
// All engine state is read and written exclusively from Zone callbacks
// (observers and actions), so the engine carries no locking of its own; the
// Zone's cooperative single-threading is the concurrency model. Transport
// completions re-enter through ScheduleAction.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/vk/cellsync/internal/ctxlog"
	"github.com/vk/cellsync/internal/datastore"
	"github.com/vk/cellsync/internal/ref"
	"github.com/vk/cellsync/internal/transport"
	"github.com/vk/cellsync/internal/zone"
)

// Transport abstracts the wire client. Implementations must invoke exactly
// one of the two callbacks, exactly once per call.
type Transport interface {
	StartRequest(ctx context.Context, kind transport.Kind, payload string, onSuccess func(body []byte), onError func(err error))
}

// Engine drives one Datastore against a remote copy.
type Engine struct {
	ctx          context.Context
	zone         *zone.Zone
	store        *datastore.Datastore
	transport    Transport
	active       ref.Ref
	pollInterval time.Duration

	// Protocol state, touched only from Zone callbacks.
	isPullEnabled       bool
	isRequestPending    bool
	isRequestInProgress bool
	shouldPush          bool

	activeObs *zone.Observer
}

// New creates an engine for the given store. The active cell (boolean)
// gates all requests: while it is false the engine goes quiet and only the
// active-cell observer can wake it again.
func New(ctx context.Context, z *zone.Zone, store *datastore.Datastore, tr Transport, active ref.Ref, pollInterval time.Duration) *Engine {
	e := &Engine{
		ctx:           ctx,
		zone:          z,
		store:         store,
		transport:     tr,
		active:        active,
		pollInterval:  pollInterval,
		isPullEnabled: true,
	}
	e.activeObs = zone.NewObserver(store.Name()+":syncActive", e.onActiveChanged)
	return e
}

// Start wires the engine to its store and active cell and schedules the
// first sync attempt. Registrations live for the duration of ls.
func (e *Engine) Start(ls *zone.Lifespan) {
	e.store.OnRequestSync(e.onDataChanged)
	e.active.Observe(ls, e.activeObs)
	e.zone.ScheduleAction(e.startSyncRequest)
}

func (e *Engine) isActive() bool {
	return e.active.Value().True()
}

// startSyncRequest decides what, if anything, to do next. Invoked once at
// start and again after every completed or scheduled cycle. When sync is
// inactive it does nothing and does not reschedule; reactivation is driven
// solely by the active-cell observer.
func (e *Engine) startSyncRequest() {
	if e.isRequestInProgress {
		return
	}
	if !e.isActive() {
		return
	}
	switch {
	case e.shouldPush:
		e.startPush()
	case e.isPullEnabled:
		e.startPull()
	default:
		e.scheduleRetry()
	}
}

// onDataChanged is the store's sync trigger: a serializable field changed
// locally. The change is pushed eagerly, preempting the poll cadence; only
// an in-flight request defers it, and that request's completion runs
// startSyncRequest again.
func (e *Engine) onDataChanged(ls *zone.Lifespan) {
	e.shouldPush = true
	if e.isRequestInProgress {
		return
	}
	e.zone.ScheduleAction(e.startSyncRequest)
}

// onActiveChanged wakes the engine when the active cell flips to true while
// it is idle, instead of waiting for a poll tick that was never scheduled.
func (e *Engine) onActiveChanged() {
	if !e.isActive() {
		return
	}
	if e.isRequestInProgress || e.isRequestPending {
		return
	}
	e.isRequestPending = true
	e.zone.ScheduleAction(func() {
		e.isRequestPending = false
		e.startSyncRequest()
	})
}

// scheduleNext runs after a completed cycle: an owed push preempts the poll
// cadence, otherwise the next pull waits out the poll interval.
func (e *Engine) scheduleNext() {
	if e.shouldPush {
		e.zone.ScheduleAction(e.startSyncRequest)
		return
	}
	e.scheduleRetry()
}

func (e *Engine) scheduleRetry() {
	if e.isRequestPending {
		return
	}
	e.isRequestPending = true
	e.zone.ScheduleDelayedAction(e.pollInterval, func() {
		e.isRequestPending = false
		e.startSyncRequest()
	})
}

func (e *Engine) startPull() {
	e.isRequestInProgress = true
	e.transport.StartRequest(e.ctx, transport.KindPull, "",
		func(body []byte) {
			e.zone.ScheduleAction(func() { e.finishPull(body) })
		},
		func(err error) {
			e.zone.ScheduleAction(func() { e.failRequest(err, false) })
		})
}

// finishPull applies the server snapshot with the store's change observer
// suppressed, so applying the pull does not re-trigger a push.
func (e *Engine) finishPull(body []byte) {
	e.isRequestInProgress = false

	changed := e.store.ChangedObserver()
	e.zone.SuppressObserver(changed)
	err := e.store.ApplyJSON(e.ctx, body)
	e.zone.UnsuppressObserver(changed)

	if err != nil {
		ctxlog.FromContext(e.ctx).Warn("Pulled snapshot could not be applied.", "store", e.store.Name(), "error", err)
		e.store.SetConnState(datastore.ConnOffline)
		e.scheduleRetry()
		return
	}

	e.store.SetConnState(datastore.ConnOnline)
	e.scheduleNext()
}

func (e *Engine) startPush() {
	payload, err := e.store.ToJSON()
	if err != nil {
		ctxlog.FromContext(e.ctx).Error("Local state could not be serialized; push skipped.", "store", e.store.Name(), "error", err)
		e.scheduleRetry()
		return
	}
	e.shouldPush = false
	e.isRequestInProgress = true
	e.transport.StartRequest(e.ctx, transport.KindPush, string(payload),
		func([]byte) {
			e.zone.ScheduleAction(e.finishPush)
		},
		func(err error) {
			e.zone.ScheduleAction(func() { e.failRequest(err, true) })
		})
}

func (e *Engine) finishPush() {
	e.isRequestInProgress = false
	e.store.SetConnState(datastore.ConnOnline)
	e.zone.ScheduleAction(e.startSyncRequest)
}

// failRequest handles transient failures, including client-side timeouts.
// A failed push re-arms shouldPush so the change is retried next cycle.
func (e *Engine) failRequest(err error, wasPush bool) {
	e.isRequestInProgress = false
	if wasPush {
		e.shouldPush = true
	}
	if errors.Is(err, transport.ErrNotAuthenticated) {
		e.store.SetConnState(datastore.ConnNotAuthenticated)
	} else {
		e.store.SetConnState(datastore.ConnOffline)
	}
	e.scheduleRetry()
}
