// Package zone implements the cooperative scheduler at the center of the
// runtime, together with the Lifespan resource scopes that own observer
// registrations.
//
// A Zone owns two queues. The observer queue holds notification callbacks
// scheduled by cells whose value changed; membership is tracked in a set so
// that scheduling an already-queued observer collapses into the existing
// entry. The action queue holds deferred work in FIFO order. Draining always
// favors observers: the observer queue is emptied completely before each
// action runs, and because running an observer may enqueue further observers,
// the drain loop re-checks both queues until they are empty.
//
// There is no preemption. All callbacks execute on whichever goroutine drives
// the drain, one at a time, so the queues and the single suppression slot are
// the only shared state and are guarded by a plain mutex around enqueue and
// dequeue only.
package zone
