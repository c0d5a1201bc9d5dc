package personalization

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/cards"
	"github.com/hrygo/productsense/store"
	"github.com/hrygo/productsense/store/teststore"
)

func testSection() *cards.Section {
	return &cards.Section{Personalization: []cards.Card{
		{Type: cards.TypeFeature, Title: "Trail Ready", Value: "30L", Text: "Fits a full day out"},
		{Type: cards.TypeFeature, Title: "Rain Cover", Value: "Included", Text: "Stays dry in storms"},
		{Type: cards.TypeFeature, Title: "Low Stock", Value: "4 left", Text: "Forest Green M is nearly gone"},
		{Type: cards.TypeText, Title: "Why it suits you", Content: "Built for hikers who pack light."},
	}}
}

// fakeRunner finalizes the row the way the orchestrator does.
type fakeRunner struct {
	store   *store.Store
	calls   atomic.Int32
	block   chan struct{}
	err     error
	mu      sync.Mutex
	lastReq orchestrator.Request
}

func (f *fakeRunner) Run(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = *req
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		_, _ = f.store.UpsertPersonalizedSection(ctx, &store.PersonalizedSection{
			ProductID: req.ProductID, UserID: req.UserID, Status: store.SectionStatusFailed, TraceID: req.TraceID,
		})
		return nil, f.err
	}
	section := testSection()
	raw, err := section.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := f.store.UpsertPersonalizedSection(ctx, &store.PersonalizedSection{
		ProductID: req.ProductID, UserID: req.UserID, Personalization: raw, Status: store.SectionStatusDone, TraceID: req.TraceID,
	}); err != nil {
		return nil, err
	}
	return &orchestrator.Result{Section: section, TraceID: req.TraceID}, nil
}

func (f *fakeRunner) RunStream(ctx context.Context, req *orchestrator.Request) <-chan *orchestrator.Event {
	ch := make(chan *orchestrator.Event, 2)
	go func() {
		defer close(ch)
		result, err := f.Run(ctx, req)
		if err != nil {
			ch <- orchestrator.NewEvent(orchestrator.EventError, req.ProductID, map[string]any{"message": err.Error()})
		} else {
			ch <- orchestrator.NewEvent(orchestrator.EventWorkflow, req.ProductID, map[string]any{"personalization": result.Section.Personalization})
		}
		ch <- nil
	}()
	return ch
}

type fixture struct {
	store   *store.Store
	runner  *fakeRunner
	gate    *Gate
	service *Service
	key     Key
}

func newFixture(t *testing.T, config GateConfig) *fixture {
	t.Helper()
	s := teststore.New(t)
	userID, productID := teststore.Seed(t, s)
	runner := &fakeRunner{store: s}
	gate := NewGate(s, config)
	return &fixture{
		store:   s,
		runner:  runner,
		gate:    gate,
		service: NewService(runner, gate, s, nil),
		key:     Key{ProductID: productID, UserID: userID},
	}
}

func (f *fixture) request() *Request {
	return &Request{UserID: f.key.UserID, ProductID: f.key.ProductID}
}

func TestPersonalizeReusesDoneSection(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	first, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, store.SectionStatusDone, first.Status)
	assert.Len(t, first.Personalization, 4)
	assert.NotEmpty(t, first.TraceID)

	second, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, first.TraceID, second.TraceID)
	assert.Equal(t, first.Personalization, second.Personalization)
	assert.Equal(t, int32(1), f.runner.calls.Load(), "a done section is served without running")
}

func TestPersonalizeFaultCorrectionAlwaysRuns(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	_, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)

	req := f.request()
	req.FaultCorrection = true
	resp, err := f.service.Personalize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.runner.calls.Load())
	assert.True(t, f.runner.lastReq.FaultCorrection)
	assert.Equal(t, resp.TraceID, f.runner.lastReq.TraceID)

	stored, err := f.gate.Get(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, resp.TraceID, stored.TraceID, "the front cache is refreshed after a run")
}

func TestPersonalizeSharesOneFlight(t *testing.T) {
	f := newFixture(t, GateConfig{})
	f.runner.block = make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	traces := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.service.Personalize(context.Background(), f.request())
			errs[i] = err
			if resp != nil {
				traces[i] = resp.TraceID
			}
		}(i)
	}

	require.Eventually(t, func() bool { return f.runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(f.runner.block)
	wg.Wait()

	assert.Equal(t, int32(1), f.runner.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, traces[0], traces[i])
	}
}

func TestPersonalizeWaitsOnRunningSection(t *testing.T) {
	f := newFixture(t, GateConfig{Wait: 2 * time.Second, PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	claimed, err := f.gate.Claim(ctx, f.key, "other-run")
	require.NoError(t, err)
	require.True(t, claimed)

	go func() {
		time.Sleep(50 * time.Millisecond)
		raw, _ := testSection().Encode()
		_, _ = f.store.UpsertPersonalizedSection(context.Background(), &store.PersonalizedSection{
			ProductID: f.key.ProductID, UserID: f.key.UserID, Personalization: raw, Status: store.SectionStatusDone, TraceID: "other-run",
		})
	}()

	resp, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, "other-run", resp.TraceID)
	assert.Zero(t, f.runner.calls.Load())
}

func TestPersonalizeGivesUpOnLiveLease(t *testing.T) {
	f := newFixture(t, GateConfig{Wait: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	claimed, err := f.gate.Claim(ctx, f.key, "other-run")
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.service.Personalize(ctx, f.request())
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Zero(t, f.runner.calls.Load())
}

func TestPersonalizeTakesOverStaleLease(t *testing.T) {
	f := newFixture(t, GateConfig{Wait: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	// An abandoned claim from an hour ago.
	claim := store.NewClaim(f.key.ProductID, f.key.UserID, "crashed-run", time.Minute)
	claim.Now -= 3600
	claimed, err := f.store.ClaimPersonalizedSection(ctx, claim)
	require.NoError(t, err)
	require.True(t, claimed)

	resp, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)
	assert.NotEqual(t, "crashed-run", resp.TraceID)
	assert.Equal(t, int32(1), f.runner.calls.Load())
}

func TestPersonalizeMissingEntities(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	_, err := f.service.Personalize(ctx, &Request{UserID: f.key.UserID, ProductID: 9999})
	assert.ErrorIs(t, err, orchestrator.ErrNotFound)
	_, err = f.service.Personalize(ctx, &Request{UserID: 9999, ProductID: f.key.ProductID})
	assert.ErrorIs(t, err, orchestrator.ErrNotFound)

	section, err := f.gate.Get(ctx, Key{ProductID: 9999, UserID: f.key.UserID})
	require.NoError(t, err)
	assert.Nil(t, section)
	assert.Zero(t, f.runner.calls.Load())
}

func TestPersonalizeFailedRunIsRetried(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	f.runner.err = errors.New("presentation failed")
	_, err := f.service.Personalize(ctx, f.request())
	require.Error(t, err)

	stored, err := f.gate.Get(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, store.SectionStatusFailed, stored.Status)

	f.runner.err = nil
	resp, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, store.SectionStatusDone, resp.Status)
	assert.Equal(t, int32(2), f.runner.calls.Load())
}

func drain(ch <-chan *orchestrator.Event) []*orchestrator.Event {
	var events []*orchestrator.Event
	for e := range ch {
		if e != nil {
			events = append(events, e)
		}
	}
	return events
}

func TestRunStreamRegenerates(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	_, err := f.service.Personalize(ctx, f.request())
	require.NoError(t, err)

	events := drain(f.service.RunStream(ctx, &orchestrator.Request{
		UserID: f.key.UserID, ProductID: f.key.ProductID, UserMessage: "focus on the rain cover", TraceID: "trace-stream",
	}))
	require.Len(t, events, 1)
	assert.Equal(t, orchestrator.EventWorkflow, events[0].Type)
	assert.Equal(t, int32(2), f.runner.calls.Load())
	assert.Equal(t, "focus on the rain cover", f.runner.lastReq.UserMessage)

	stored, err := f.gate.Get(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, "trace-stream", stored.TraceID)
}

func TestRunStreamReportsBusyKey(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	claimed, err := f.gate.Claim(ctx, f.key, "other-run")
	require.NoError(t, err)
	require.True(t, claimed)

	events := drain(f.service.RunStream(ctx, &orchestrator.Request{UserID: f.key.UserID, ProductID: f.key.ProductID}))
	require.Len(t, events, 1)
	assert.Equal(t, orchestrator.EventError, events[0].Type)
	assert.Equal(t, ErrInProgress.Error(), events[0].Data["message"])
	assert.Zero(t, f.runner.calls.Load())
}

func TestPrewarmSkipsFinishedSections(t *testing.T) {
	f := newFixture(t, GateConfig{})
	ctx := context.Background()

	require.NoError(t, f.service.Prewarm(ctx, f.key, false))
	require.NoError(t, f.service.Prewarm(ctx, f.key, false))
	assert.Equal(t, int32(1), f.runner.calls.Load())

	require.NoError(t, f.service.Prewarm(ctx, f.key, true))
	assert.Equal(t, int32(2), f.runner.calls.Load())
	assert.True(t, f.runner.lastReq.FaultCorrection)
}

func TestPersonalizeDoesNotStealClaimAfterStaleRead(t *testing.T) {
	f := newFixture(t, GateConfig{Wait: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	claimed, err := f.gate.Claim(ctx, f.key, "other-process")
	require.NoError(t, err)
	require.True(t, claimed)

	lagging := &staleReadStore{Store: f.store}
	lagging.stale.Store(true)
	runner := &fakeRunner{store: f.store}
	other := NewService(runner, NewGate(lagging, GateConfig{Wait: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}), f.store, nil)

	_, err = other.Personalize(ctx, f.request())
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Zero(t, runner.calls.Load())

	section, err := f.store.GetPersonalizedSection(ctx, f.key.ProductID, f.key.UserID)
	require.NoError(t, err)
	assert.Equal(t, store.SectionStatusInProgress, section.Status)
	assert.Equal(t, "other-process", section.TraceID)
}

func TestPersonalizeMessageDoesNotJoinPlainFlight(t *testing.T) {
	f := newFixture(t, GateConfig{Wait: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()
	f.runner.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.service.Personalize(ctx, f.request())
		done <- err
	}()
	require.Eventually(t, func() bool { return f.runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	steered := f.request()
	steered.UserMessage = "focus on the rain cover"
	_, err := f.service.Personalize(ctx, steered)
	assert.ErrorIs(t, err, ErrInProgress, "a steered request never takes the result of an unsteered run")

	close(f.runner.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.runner.calls.Load())
}
