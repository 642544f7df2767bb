// Package gate decides whether a user may see match and chat surfaces,
// based on the backend's mandatory-questions-complete flag.
package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

type State string

const (
	StateUnknown    State = "unknown"
	StateLoading    State = "loading"
	StateComplete   State = "complete"
	StateIncomplete State = "incomplete"
)

// MsgGateUpdate is the push event sent when a user's gate state changes.
const MsgGateUpdate = "gate_update"

const (
	LoginPath         = "/login"
	defaultResumePath = "/onboarding/gender"
	defaultTimeout    = 10 * time.Second
	defaultPrompt     = "Answer the required compatibility questions to unlock your matches."
	overlayPreview    = "blurred-preview"
)

// UserFetcher reads the authoritative user record.
type UserFetcher interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// CompletionCache is the locally cached completion flag.
type CompletionCache interface {
	CompletionFlag(ctx context.Context) (complete, ok bool, err error)
	SetCompletionFlag(ctx context.Context, complete bool) error
}

// Notifier pushes events to a user's open pages.
type Notifier interface {
	SendToUser(userID, msgType string, payload interface{})
}

// Decision is the outcome of a gate check.
type Decision struct {
	State     State  `json:"state"`
	Redirect  string `json:"redirect,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	ResumeURL string `json:"resume_url,omitempty"`
}

// Allowed reports whether gated content may be shown.
func (d Decision) Allowed() bool { return d.State == StateComplete && d.Redirect == "" }

type Options struct {
	ResumePath string
	Prompt     string
	Timeout    time.Duration
}

// Gate checks onboarding completion. Background re-checks are tied to the
// gate's lifetime; Close stops them.
type Gate struct {
	users    UserFetcher
	notifier Notifier
	opts     Options
	logger   *zap.Logger

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(users UserFetcher, notifier Notifier, opts Options, logger *zap.Logger) *Gate {
	if opts.ResumePath == "" {
		opts.ResumePath = defaultResumePath
	}
	if opts.Prompt == "" {
		opts.Prompt = defaultPrompt
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		users:    users,
		notifier: notifier,
		opts:     opts,
		logger:   logger.Named("gate"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close cancels in-flight background re-checks and waits for them.
func (g *Gate) Close() {
	g.cancel()
	g.wg.Wait()
}

// Check returns the gate decision for userID. A cached true is trusted
// immediately and re-verified in the background; anything else is checked
// against the backend before answering, and stays blocked if that fails.
func (g *Gate) Check(ctx context.Context, cache CompletionCache, userID string) Decision {
	if userID == "" {
		return Decision{State: StateUnknown, Redirect: LoginPath}
	}

	complete, ok, err := cache.CompletionFlag(ctx)
	if err != nil {
		g.logger.Warn("reading cached completion flag failed", zap.String("user_id", userID), zap.Error(err))
		ok = false
	}
	if ok && complete {
		g.recheck(cache, userID, false)
		return g.decision(userID, true)
	}
	return g.Refresh(ctx, cache, userID)
}

// Refresh asks the backend now, updates the cache and returns the result.
// A failed fetch keeps the user blocked.
func (g *Gate) Refresh(ctx context.Context, cache CompletionCache, userID string) Decision {
	if userID == "" {
		return Decision{State: StateUnknown, Redirect: LoginPath}
	}
	complete, err := g.fetch(ctx, cache, userID)
	if err != nil {
		g.logger.Warn("completion check failed, keeping gate closed", zap.String("user_id", userID), zap.Error(err))
		return g.decision(userID, false)
	}
	return g.decision(userID, complete)
}

// fetch deduplicates concurrent backend reads per user. The shared read
// runs on the gate's context with its own timeout, so a caller that goes
// away only stops its own wait. Each caller still writes its own cache
// since caches belong to clients, not users.
func (g *Gate) fetch(ctx context.Context, cache CompletionCache, userID string) (bool, error) {
	ch := g.group.DoChan(userID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(g.ctx, g.opts.Timeout)
		defer cancel()
		u, err := g.users.GetUser(fctx, userID)
		if err != nil {
			return false, err
		}
		return u.MandatoryQuestionsComplete, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if res.Err != nil {
		return false, res.Err
	}
	complete := res.Val.(bool)
	if err := cache.SetCompletionFlag(ctx, complete); err != nil {
		g.logger.Warn("caching completion flag failed", zap.String("user_id", userID), zap.Error(err))
	}
	return complete, nil
}

// RefreshAsync re-checks in the background and always pushes the result.
// Used after an answer is submitted, when completion may have flipped.
func (g *Gate) RefreshAsync(cache CompletionCache, userID string) {
	if userID == "" {
		return
	}
	g.recheck(cache, userID, true)
}

func (g *Gate) recheck(cache CompletionCache, userID string, always bool) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(g.ctx, g.opts.Timeout)
		defer cancel()

		complete, err := g.fetch(ctx, cache, userID)
		if err != nil {
			g.logger.Info("background completion re-check failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if !complete && !always {
			g.logger.Info("completion revoked by backend", zap.String("user_id", userID))
		}
		if (always || !complete) && g.notifier != nil {
			g.notifier.SendToUser(userID, MsgGateUpdate, g.decision(userID, complete))
		}
	}()
}

func (g *Gate) decision(userID string, complete bool) Decision {
	if complete {
		return Decision{State: StateComplete}
	}
	return Decision{
		State:     StateIncomplete,
		Prompt:    g.opts.Prompt,
		ResumeURL: g.opts.ResumePath + "?" + url.Values{"user_id": {userID}}.Encode(),
	}
}

// Resolver yields the completion cache and user id of a request. An empty
// user id means no identity could be resolved.
type Resolver func(r *http.Request) (CompletionCache, string)

type blockedBody struct {
	Gated     bool   `json:"gated"`
	State     State  `json:"state"`
	Overlay   string `json:"overlay"`
	Prompt    string `json:"prompt"`
	ResumeURL string `json:"resume_url"`
}

// Require wraps gated routes. Incomplete users get 403 with the overlay
// payload; the wrapped handler is never called for them.
func (g *Gate) Require(resolve Resolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cache, userID := resolve(r)
			d := Decision{State: StateUnknown, Redirect: LoginPath}
			if userID != "" {
				d = g.Check(r.Context(), cache, userID)
			}

			switch {
			case d.Redirect != "":
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":    "sign in to continue",
					"redirect": d.Redirect,
				})
			case !d.Allowed():
				writeJSON(w, http.StatusForbidden, blockedBody{
					Gated:     true,
					State:     d.State,
					Overlay:   overlayPreview,
					Prompt:    d.Prompt,
					ResumeURL: d.ResumeURL,
				})
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
