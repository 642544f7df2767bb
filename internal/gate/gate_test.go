package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUsers struct {
	mu       sync.Mutex
	complete bool
	err      error
	calls    int32
	hold     chan struct{}
}

func (f *fakeUsers) GetUser(ctx context.Context, userID string) (*model.User, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.User{ID: model.ID(userID), MandatoryQuestionsComplete: f.complete}, nil
}

type event struct {
	userID  string
	msgType string
	payload interface{}
}

type fakeNotifier struct {
	ch chan event
}

func newNotifier() *fakeNotifier { return &fakeNotifier{ch: make(chan event, 4)} }

func (n *fakeNotifier) SendToUser(userID, msgType string, payload interface{}) {
	n.ch <- event{userID: userID, msgType: msgType, payload: payload}
}

func newLocal() *storage.LocalStore {
	return storage.NewLocalStore(storage.NewMemoryKV(), "client-1")
}

func TestMissingIdentityRedirects(t *testing.T) {
	g := New(&fakeUsers{}, nil, Options{}, zap.NewNop())
	defer g.Close()

	d := g.Check(context.Background(), newLocal(), "")
	assert.Equal(t, LoginPath, d.Redirect)
	assert.False(t, d.Allowed())
}

func TestNoCacheChecksSynchronously(t *testing.T) {
	users := &fakeUsers{complete: false}
	g := New(users, nil, Options{}, zap.NewNop())
	defer g.Close()
	local := newLocal()
	ctx := context.Background()

	d := g.Check(ctx, local, "u1")
	assert.Equal(t, StateIncomplete, d.State)
	assert.Equal(t, "/onboarding/gender?user_id=u1", d.ResumeURL)

	complete, ok, err := local.CompletionFlag(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, complete)
}

func TestFailedCheckStaysBlocked(t *testing.T) {
	users := &fakeUsers{err: errors.New("backend down")}
	g := New(users, nil, Options{}, zap.NewNop())
	defer g.Close()

	d := g.Check(context.Background(), newLocal(), "u1")
	assert.Equal(t, StateIncomplete, d.State)
}

func TestCachedCompleteIsOptimisticThenRevoked(t *testing.T) {
	users := &fakeUsers{complete: false, hold: make(chan struct{})}
	notifier := newNotifier()
	g := New(users, notifier, Options{}, zap.NewNop())
	defer g.Close()
	local := newLocal()
	ctx := context.Background()
	require.NoError(t, local.SetCompletionFlag(ctx, true))

	d := g.Check(ctx, local, "u1")
	assert.Equal(t, StateComplete, d.State, "cached flag is trusted before the backend answers")

	close(users.hold)
	select {
	case ev := <-notifier.ch:
		assert.Equal(t, "u1", ev.userID)
		assert.Equal(t, MsgGateUpdate, ev.msgType)
		assert.Equal(t, StateIncomplete, ev.payload.(Decision).State)
	case <-time.After(2 * time.Second):
		t.Fatal("no gate_update after revoke")
	}

	g.Close()
	complete, ok, err := local.CompletionFlag(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, complete)

	d = g.Check(ctx, local, "u1")
	assert.Equal(t, StateIncomplete, d.State)
}

func TestCachedCompleteConfirmed(t *testing.T) {
	users := &fakeUsers{complete: true}
	notifier := newNotifier()
	g := New(users, notifier, Options{}, zap.NewNop())
	local := newLocal()
	ctx := context.Background()
	require.NoError(t, local.SetCompletionFlag(ctx, true))

	assert.True(t, g.Check(ctx, local, "u1").Allowed())
	g.Close()
	assert.Empty(t, notifier.ch)
	assert.EqualValues(t, 1, atomic.LoadInt32(&users.calls))
}

func TestCloseCancelsPendingRecheck(t *testing.T) {
	users := &fakeUsers{complete: false, hold: make(chan struct{})}
	g := New(users, newNotifier(), Options{}, zap.NewNop())
	local := newLocal()
	require.NoError(t, local.SetCompletionFlag(context.Background(), true))

	g.Check(context.Background(), local, "u1")
	g.Close()

	complete, _, err := local.CompletionFlag(context.Background())
	require.NoError(t, err)
	assert.True(t, complete, "a cancelled re-check leaves the cache alone")
}

func TestAbandonedCallerDoesNotFailJoinedCheck(t *testing.T) {
	users := &fakeUsers{complete: true, hold: make(chan struct{})}
	g := New(users, nil, Options{}, zap.NewNop())
	defer g.Close()

	pageA, cancelA := context.WithCancel(context.Background())
	resultA := make(chan Decision, 1)
	go func() { resultA <- g.Refresh(pageA, newLocal(), "u1") }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&users.calls) == 1 }, 2*time.Second, 5*time.Millisecond)

	localB := storage.NewLocalStore(storage.NewMemoryKV(), "client-2")
	resultB := make(chan Decision, 1)
	go func() { resultB <- g.Refresh(context.Background(), localB, "u1") }()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case d := <-resultA:
		assert.Equal(t, StateIncomplete, d.State, "the abandoned page stays blocked")
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned caller still waiting")
	}

	close(users.hold)
	select {
	case d := <-resultB:
		assert.Equal(t, StateComplete, d.State)
	case <-time.After(2 * time.Second):
		t.Fatal("joined caller never answered")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&users.calls), "the second page joined the first read")

	complete, ok, err := localB.CompletionFlag(context.Background())
	require.NoError(t, err)
	assert.True(t, ok && complete)
}

func TestRequireMiddleware(t *testing.T) {
	users := &fakeUsers{complete: false}
	g := New(users, nil, Options{}, zap.NewNop())
	defer g.Close()
	local := newLocal()

	var userID string
	resolve := func(*http.Request) (CompletionCache, string) { return local, userID }
	called := false
	h := g.Require(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/matches", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redirect":"/login"`)
	})

	t.Run("incomplete", func(t *testing.T) {
		userID = "u1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/matches", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var body blockedBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Gated)
		assert.Equal(t, "blurred-preview", body.Overlay)
		assert.Equal(t, StateIncomplete, body.State)
		assert.NotEmpty(t, body.ResumeURL)
		assert.False(t, called)
	})

	t.Run("complete", func(t *testing.T) {
		users.mu.Lock()
		users.complete = true
		users.mu.Unlock()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/matches", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, called)
	})
}

func TestRefreshAsyncPushesResult(t *testing.T) {
	users := &fakeUsers{complete: true}
	notifier := newNotifier()
	g := New(users, notifier, Options{}, zap.NewNop())
	defer g.Close()
	local := newLocal()

	g.RefreshAsync(local, "u1")
	select {
	case ev := <-notifier.ch:
		assert.Equal(t, StateComplete, ev.payload.(Decision).State)
	case <-time.After(2 * time.Second):
		t.Fatal("no gate_update")
	}
	g.Close()
	complete, ok, err := local.CompletionFlag(context.Background())
	require.NoError(t, err)
	assert.True(t, ok && complete)
}
