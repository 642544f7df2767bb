package wizard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/backend"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/backend/backendtest"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/encoder"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/reconciler"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

type testEnv struct {
	srv     *backendtest.Server
	client  *backend.Client
	local   *storage.LocalStore
	carrier *carrier.Carrier
	catalog *Catalog
	rec     *reconciler.Reconciler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := backendtest.New(t)
	client, err := backend.NewClient(backend.Options{
		BaseURL:     srv.BaseURL(),
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	kv := storage.NewMemoryKV()
	session := storage.NewSessionStore(kv, "client-1", time.Minute)
	return &testEnv{
		srv:     srv,
		client:  client,
		local:   storage.NewLocalStore(kv, "client-1"),
		carrier: carrier.New(session, carrier.Options{MaxInlineQuestions: 1}, zap.NewNop()),
		catalog: DefaultCatalog(),
		rec:     reconciler.New(client, 10, 10, zap.NewNop()),
	}
}

func (e *testEnv) deps(f carrier.QuestionFetcher) Deps {
	if f == nil {
		f = e.client
	}
	return Deps{
		Catalog:    e.catalog,
		Loader:     carrier.NewLoader(e.carrier, f),
		Submitter:  e.client,
		Reconciler: e.rec,
		Local:      e.local,
		Logger:     zap.NewNop(),
	}
}

func (e *testEnv) controller(t *testing.T, step, userID string) *Controller {
	t.Helper()
	s, ok := e.catalog.Step(step)
	require.True(t, ok, step)
	return NewController(e.deps(nil), s, userID)
}

func (e *testEnv) seedDiet() {
	e.srv.AddQuestions(
		model.Question{ID: "diet-1", QuestionNumber: 5, GroupNumber: intp(1), QuestionName: "diet"},
		model.Question{ID: "diet-2", QuestionNumber: 5, GroupNumber: intp(2), QuestionName: "diet"},
		model.Question{ID: "faith-1", QuestionNumber: 6, QuestionName: "faith"},
	)
}

func intp(i int) *int { return &i }

func slider(v int) encoder.Side { return encoder.Side{Slider: v} }

func TestDietHappyPath(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	c := e.controller(t, "diet", "u1")
	ctx := context.Background()

	snap, err := c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State)
	assert.False(t, snap.FromCarrier)
	assert.Equal(t, []string{"diet-1", "diet-2"}, model.QuestionIDs(snap.Questions))

	answer, err := c.SubmitAnswer(ctx, AnswerInput{
		QuestionID: "diet-1",
		Me:         slider(2),
		LookingFor: encoder.Side{OpenToAll: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, answer.MeAnswer)
	assert.Equal(t, 6, answer.LookingForAnswer)
	assert.True(t, answer.LookingForOpenToAll)
	assert.Equal(t, model.DefaultImportance, answer.MeImportance)
	assert.Equal(t, StateSuccess, c.State())

	flagged, err := e.local.AnsweredQuestions(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, flagged, "diet-1")

	nav, err := c.GoNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "faith", nav.Step)
	assert.Equal(t, "/onboarding/faith", nav.Path)
	assert.Equal(t, carrier.KindQuery, nav.Token.Kind)
	assert.Contains(t, nav.URL(), "user_id=u1")

	next := e.controller(t, "faith", "u1")
	snap, err = next.LoadQuestions(ctx, nav.Token)
	require.NoError(t, err)
	assert.True(t, snap.FromCarrier)
	assert.Equal(t, []string{"faith-1"}, model.QuestionIDs(snap.Questions))
}

func TestMandatoryStepBlocksUntilAnswered(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	c := e.controller(t, "diet", "u1")
	ctx := context.Background()
	_, err := c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)

	_, err = c.GoNext(ctx)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.ErrorIs(t, err, apperr.ErrStepIncomplete)
}

func TestMandatoryStepAdvancesOnServerAnswer(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	e.srv.SeedAnswers("u1", "diet-2")
	c := e.controller(t, "diet", "u1")

	nav, err := c.GoNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "faith", nav.Step)
}

func TestOptionalStepAlwaysAdvances(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "politics", "u1")

	nav, err := c.GoNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kids", nav.Step)
	assert.True(t, nav.Token.Empty(), "nothing to prefetch for kids")
}

func TestLastStepGoesToMatches(t *testing.T) {
	e := newEnv(t)
	c := e.controller(t, "habits", "u1")

	nav, err := c.GoNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/matches", nav.Path)
	assert.Equal(t, "/matches?user_id=u1", nav.URL())
}

func TestSubmitFailureKeepsStepReady(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	e.srv.FailSubmit = true
	c := e.controller(t, "diet", "u1")
	ctx := context.Background()
	_, err := c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)

	_, err = c.SubmitAnswer(ctx, AnswerInput{QuestionID: "diet-1", Me: slider(3), LookingFor: slider(3)})
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.NotEmpty(t, snap.LastError)

	flagged, err := e.local.AnsweredQuestions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	ctx := context.Background()

	anon := e.controller(t, "diet", "")
	_, err := anon.SubmitAnswer(ctx, AnswerInput{QuestionID: "diet-1", Me: slider(1), LookingFor: slider(1)})
	assert.ErrorIs(t, err, apperr.ErrIdentityMissing)

	c := e.controller(t, "diet", "u1")
	_, err = c.SubmitAnswer(ctx, AnswerInput{QuestionID: "diet-1", Me: slider(1), LookingFor: slider(1)})
	assert.ErrorIs(t, err, apperr.ErrNoQuestions)

	_, err = c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   AnswerInput
	}{
		{"missing question", AnswerInput{Me: slider(1), LookingFor: slider(1)}},
		{"foreign question", AnswerInput{QuestionID: "faith-1", Me: slider(1), LookingFor: slider(1)}},
		{"slider out of range", AnswerInput{QuestionID: "diet-1", Me: slider(0), LookingFor: slider(1)}},
		{"importance out of range", AnswerInput{QuestionID: "diet-1", Me: encoder.Side{Slider: 2, Importance: 9}, LookingFor: slider(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SubmitAnswer(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
		})
	}
	assert.Zero(t, e.srv.Requests("answers:post"), "invalid answers never reach the backend")
}

func TestDoubleSubmitIsAbsorbed(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	c := e.controller(t, "diet", "u1")
	ctx := context.Background()
	_, err := c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SubmitAnswer(ctx, AnswerInput{QuestionID: "diet-1", Me: slider(4), LookingFor: slider(2)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, e.srv.Answers("u1"), 1)
	flagged, err := e.local.AnsweredQuestions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"diet-1"}, flagged)
}

type recordingObserver struct {
	mu  sync.Mutex
	ids []string
}

func (o *recordingObserver) AnswerSubmitted(ctx context.Context, local AnsweredFlags, userID, questionID string) {
	flagged, _ := local.AnsweredQuestions(ctx, userID)
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range flagged {
		if id == questionID {
			o.ids = append(o.ids, questionID)
		}
	}
}

func TestObserverSeesFlaggedAnswer(t *testing.T) {
	e := newEnv(t)
	e.seedDiet()
	obs := &recordingObserver{}
	deps := e.deps(nil)
	deps.Observer = obs
	step, _ := e.catalog.Step("diet")
	c := NewController(deps, step, "u1")
	ctx := context.Background()
	_, err := c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)

	_, err = c.SubmitAnswer(ctx, AnswerInput{QuestionID: "diet-2", Me: slider(1), LookingFor: slider(5)})
	require.NoError(t, err)
	assert.Equal(t, []string{"diet-2"}, obs.ids)
}

// gatedFetcher blocks the first fetch until release is closed.
type gatedFetcher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	started chan struct{}
}

func (f *gatedFetcher) ListQuestions(ctx context.Context, numbers ...int) ([]model.Question, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if call == 1 {
		close(f.started)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []model.Question{{ID: "stale", QuestionNumber: 5}}, nil
	}
	return []model.Question{{ID: "fresh", QuestionNumber: 5}}, nil
}

func TestNewerLoadSupersedesOlder(t *testing.T) {
	e := newEnv(t)
	f := &gatedFetcher{release: make(chan struct{}), started: make(chan struct{})}
	step, _ := e.catalog.Step("diet")
	c := NewController(e.deps(f), step, "u1")
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := c.LoadQuestions(ctx, carrier.Token{})
		errc <- err
	}()
	<-f.started

	snap, err := c.LoadQuestions(ctx, carrier.Token{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, model.QuestionIDs(snap.Questions))

	close(f.release)
	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, []string{"fresh"}, model.QuestionIDs(c.Snapshot().Questions))
	assert.Equal(t, StateReady, c.State())
}

func TestGoBack(t *testing.T) {
	e := newEnv(t)
	nav := e.controller(t, "diet", "u1").GoBack()
	assert.Equal(t, "education", nav.Step)
	assert.Equal(t, "/onboarding/education?user_id=u1", nav.URL())

	nav = e.controller(t, "gender", "u1").GoBack()
	assert.Equal(t, "gender", nav.Step)
}

func TestRegistryReusesControllers(t *testing.T) {
	e := newEnv(t)
	r := NewRegistry()
	builds := 0
	build := func() *Controller {
		builds++
		return e.controller(t, "diet", "u1")
	}

	a := r.Get("client-1", "u1", "diet", build)
	b := r.Get("client-1", "u1", "diet", build)
	assert.Same(t, a, b)
	r.Get("client-2", "u1", "diet", build)
	assert.Equal(t, 2, builds)

	r.Forget("client-1")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCapEvictsLeastRecentlyUsed(t *testing.T) {
	e := newEnv(t)
	r := NewRegistry()
	r.maxEntries = 2
	now := time.Now()
	r.now = func() time.Time { return now }
	build := func() *Controller { return e.controller(t, "diet", "u1") }

	first := r.Get("client-1", "u1", "diet", build)
	now = now.Add(time.Second)
	r.Get("client-2", "u1", "diet", build)
	now = now.Add(time.Second)
	// touching client-1 makes client-2 the oldest
	r.Get("client-1", "u1", "diet", build)
	now = now.Add(time.Second)
	r.Get("client-3", "u1", "diet", build)

	assert.Equal(t, 2, r.Len(), "nothing is idle yet, the cap still holds")
	assert.Same(t, first, r.Get("client-1", "u1", "diet", build))

	rebuilt := false
	r.Get("client-2", "u1", "diet", func() *Controller { rebuilt = true; return build() })
	assert.True(t, rebuilt, "client-2 was evicted")
}
