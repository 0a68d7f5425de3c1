package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/datastore"
	"github.com/vk/cellsync/internal/ref"
	"github.com/vk/cellsync/internal/transport"
	"github.com/vk/cellsync/internal/zone"
)

type fakeRequest struct {
	kind    transport.Kind
	payload string
	succeed func(body []byte)
	fail    func(err error)
}

// fakeTransport records requests for the test to complete by hand.
type fakeTransport struct {
	mu       sync.Mutex
	requests []*fakeRequest
}

func (f *fakeTransport) StartRequest(ctx context.Context, kind transport.Kind, payload string, onSuccess func([]byte), onError func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, &fakeRequest{kind: kind, payload: payload, succeed: onSuccess, fail: onError})
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) take(t *testing.T) *fakeRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "expected a request to have been started")
	req := f.requests[0]
	f.requests = f.requests[1:]
	return req
}

type fixture struct {
	zone   *zone.Zone
	store  *datastore.Datastore
	active *ref.Boxed
	trans  *fakeTransport
	engine *Engine
}

func newFixture(t *testing.T, activeAtStart bool, pollInterval time.Duration) *fixture {
	t.Helper()
	z := zone.New()
	store := datastore.New(z, "mail")
	store.AddField("state", cty.Number, cty.Zero)
	active := ref.NewBoxed(z, "syncActive", cty.Bool, cty.BoolVal(activeAtStart))
	trans := &fakeTransport{}
	engine := New(context.Background(), z, store, trans, active, pollInterval)
	engine.Start(z.Forever())
	z.Drain()
	return &fixture{zone: z, store: store, active: active, trans: trans, engine: engine}
}

func TestInitialPull(t *testing.T) {
	f := newFixture(t, true, time.Hour)

	// Exactly one PULL, no payload.
	req := f.trans.take(t)
	assert.Equal(t, transport.KindPull, req.kind)
	assert.Empty(t, req.payload)
	assert.Equal(t, 0, f.trans.count())

	// A successful response updates the store and goes ONLINE without
	// re-triggering a push.
	req.succeed([]byte(`{"state": 5}`))
	f.zone.Drain()

	state, _ := f.store.Field("state")
	assert.True(t, cty.NumberIntVal(5).RawEquals(state.Value()))
	assert.Equal(t, datastore.ConnOnline, f.store.ConnState())
	assert.Equal(t, 0, f.trans.count())
}

func TestInactiveEngineStaysQuiet(t *testing.T) {
	f := newFixture(t, false, 20*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	f.zone.Drain()
	assert.Equal(t, 0, f.trans.count())
}

func TestReactivationTriggersImmediateSync(t *testing.T) {
	f := newFixture(t, false, time.Hour)
	require.Equal(t, 0, f.trans.count())

	f.active.Set(cty.True)
	f.zone.Drain()

	req := f.trans.take(t)
	assert.Equal(t, transport.KindPull, req.kind)
}

func TestLocalWritePushesEagerly(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.trans.take(t).succeed([]byte(`{}`))
	f.zone.Drain()

	// The poll timer is an hour out; the write must not wait for it.
	state, _ := f.store.Field("state")
	state.Set(cty.NumberIntVal(7))
	f.zone.Drain()

	req := f.trans.take(t)
	assert.Equal(t, transport.KindPush, req.kind)
	assert.Contains(t, req.payload, `"state"`)
	assert.Contains(t, req.payload, "7")

	req.succeed([]byte(`ok`))
	f.zone.Drain()
	assert.Equal(t, datastore.ConnOnline, f.store.ConnState())
}

func TestFailedPushGoesOfflineAndRetriesPush(t *testing.T) {
	f := newFixture(t, true, 20*time.Millisecond)
	f.trans.take(t).succeed([]byte(`{}`))
	f.zone.Drain()

	state, _ := f.store.Field("state")
	state.Set(cty.NumberIntVal(3))
	f.zone.Drain()

	push := f.trans.take(t)
	require.Equal(t, transport.KindPush, push.kind)
	push.fail(errors.New("transport: PUSH request: client timeout"))
	f.zone.Drain()
	assert.Equal(t, datastore.ConnOffline, f.store.ConnState())

	// shouldPush was re-armed: the next cycle retries a PUSH, not a PULL.
	require.Eventually(t, func() bool {
		f.zone.Drain()
		return f.trans.count() > 0
	}, time.Second, 5*time.Millisecond)
	retry := f.trans.take(t)
	assert.Equal(t, transport.KindPush, retry.kind)
}

func TestPullAppliesWithoutEchoingAPush(t *testing.T) {
	f := newFixture(t, true, time.Hour)

	// The pulled snapshot differs from local state; applying it must not be
	// mistaken for a local change.
	f.trans.take(t).succeed([]byte(`{"state": 42}`))
	f.zone.Drain()

	state, _ := f.store.Field("state")
	assert.True(t, cty.NumberIntVal(42).RawEquals(state.Value()))
	assert.Equal(t, 0, f.trans.count())
}

func TestBadTokenGoesNotAuthenticated(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.trans.take(t).fail(transport.ErrNotAuthenticated)
	f.zone.Drain()
	assert.Equal(t, datastore.ConnNotAuthenticated, f.store.ConnState())
}

func TestCorruptPullGoesOffline(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	f.trans.take(t).succeed([]byte(`not json`))
	f.zone.Drain()
	assert.Equal(t, datastore.ConnOffline, f.store.ConnState())
}

func TestSingleRequestInFlight(t *testing.T) {
	f := newFixture(t, true, time.Hour)
	pull := f.trans.take(t)

	// A local write while the pull is outstanding must not start a second
	// request; the push happens after the pull completes.
	state, _ := f.store.Field("state")
	state.Set(cty.NumberIntVal(1))
	f.zone.Drain()
	assert.Equal(t, 0, f.trans.count())

	pull.succeed([]byte(`{}`))
	f.zone.Drain()

	req := f.trans.take(t)
	assert.Equal(t, transport.KindPush, req.kind)
}
