// Package wizard drives one onboarding step: load its questions, submit
// answers, and decide where the page goes next.
package wizard

import (
	"context"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/encoder"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/reconciler"
)

// State is the controller's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
)

// ErrSuperseded is returned by a load that a newer load replaced.
var ErrSuperseded = errors.New("load superseded by a newer request")

// Submitter posts an answer to the backend.
type Submitter interface {
	SubmitAnswer(ctx context.Context, answer model.Answer) error
}

// AnsweredFlags is the local answered-set storage.
type AnsweredFlags interface {
	reconciler.LocalFlags
	FlagAnswered(ctx context.Context, userID string, ids ...string) error
}

// Observer hears about successful submissions. It runs after the local set
// is updated.
type Observer interface {
	AnswerSubmitted(ctx context.Context, local AnsweredFlags, userID, questionID string)
}

// AnswerInput is what the page sends for one question.
type AnswerInput struct {
	QuestionID string       `json:"question_id"`
	Me         encoder.Side `json:"me"`
	LookingFor encoder.Side `json:"looking_for"`
}

// Navigation tells the page where to go. Token carries the next step's
// questions when the prefetch succeeded.
type Navigation struct {
	Step  string        `json:"step,omitempty"`
	Path  string        `json:"path"`
	Token carrier.Token `json:"token"`
	Query url.Values    `json:"-"`
}

// URL renders Path with the identity and carrier query parameters.
func (n Navigation) URL() string {
	q := url.Values{}
	for k, v := range n.Query {
		q[k] = append([]string(nil), v...)
	}
	n.Token.Apply(q)
	if len(q) == 0 {
		return n.Path
	}
	return n.Path + "?" + q.Encode()
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	Step        Step             `json:"step"`
	State       State            `json:"state"`
	Questions   []model.Question `json:"questions"`
	FromCarrier bool             `json:"from_carrier"`
	LastError   string           `json:"last_error,omitempty"`
}

// Deps are the collaborators a Controller needs.
type Deps struct {
	Catalog    *Catalog
	Loader     *carrier.Loader
	Submitter  Submitter
	Reconciler *reconciler.Reconciler
	Local      AnsweredFlags
	Observer   Observer
	Logger     *zap.Logger
}

// Controller holds the state of one step for one user on one client.
type Controller struct {
	deps   Deps
	step   Step
	userID string
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	questions   []model.Question
	fromCarrier bool
	lastErr     error
	gen         uint64
	cancelLoad  context.CancelFunc
}

func NewController(deps Deps, step Step, userID string) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		deps:   deps,
		step:   step,
		userID: userID,
		logger: logger.Named("wizard").With(zap.String("step", step.Name)),
		state:  StateIdle,
	}
}

func (c *Controller) Step() Step     { return c.step }
func (c *Controller) UserID() string { return c.userID }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Step:        c.step,
		State:       c.state,
		Questions:   append([]model.Question(nil), c.questions...),
		FromCarrier: c.fromCarrier,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// LoadQuestions fills the step from t, or from the backend when t carries
// nothing usable. A later call cancels an earlier one; the earlier call then
// returns ErrSuperseded and its result is dropped.
func (c *Controller) LoadQuestions(ctx context.Context, t carrier.Token) (Snapshot, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	c.mu.Unlock()
	defer cancel()

	if qs, ok := c.deps.Loader.Carried(ctx, t, c.step.QuestionNumbers...); ok {
		return c.finishLoad(gen, qs, true, nil)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return Snapshot{}, ErrSuperseded
	}
	c.state = StateLoading
	c.mu.Unlock()

	qs, err := c.deps.Loader.Fetch(ctx, c.step.QuestionNumbers...)
	return c.finishLoad(gen, qs, false, err)
}

func (c *Controller) finishLoad(gen uint64, qs []model.Question, fromCarrier bool, err error) (Snapshot, error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return Snapshot{}, ErrSuperseded
	}
	c.cancelLoad = nil
	if err != nil {
		c.lastErr = err
		if len(c.questions) > 0 {
			c.state = StateReady
		} else {
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.logger.Warn("loading questions failed", zap.Error(err))
		return c.Snapshot(), err
	}
	c.questions = qs
	c.fromCarrier = fromCarrier
	c.lastErr = nil
	c.state = StateReady
	c.mu.Unlock()
	return c.Snapshot(), nil
}

func (c *Controller) hasQuestion(id string) bool {
	for _, q := range c.questions {
		if q.ID.String() == id {
			return true
		}
	}
	return false
}

// SubmitAnswer validates, encodes and posts one answer. On success the
// question id is in the local answered set before this returns. A repeated
// submission is harmless: the backend upserts and the local add is
// idempotent.
func (c *Controller) SubmitAnswer(ctx context.Context, in AnswerInput) (model.Answer, error) {
	if c.userID == "" {
		return model.Answer{}, apperr.NewValidationError(apperr.ErrIdentityMissing)
	}
	if in.QuestionID == "" {
		return model.Answer{}, apperr.NewValidationError(nil, apperr.FieldError{Field: "question_id", Error: "question_id is required"})
	}

	c.mu.Lock()
	if len(c.questions) == 0 {
		c.mu.Unlock()
		return model.Answer{}, apperr.NewValidationError(apperr.ErrNoQuestions)
	}
	if !c.hasQuestion(in.QuestionID) {
		c.mu.Unlock()
		return model.Answer{}, apperr.Validationf("question %s is not part of step %s", in.QuestionID, c.step.Name)
	}
	c.mu.Unlock()

	answer, err := encoder.BuildAnswer(c.userID, in.QuestionID, in.Me, in.LookingFor)
	if err != nil {
		return model.Answer{}, err
	}

	c.mu.Lock()
	c.state = StateSubmitting
	c.mu.Unlock()

	// Leaving the page must not abort a write already on its way.
	ctx = context.WithoutCancel(ctx)
	if err := c.deps.Submitter.SubmitAnswer(ctx, answer); err != nil {
		c.mu.Lock()
		c.state = StateReady
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("submitting answer failed", zap.String("question_id", in.QuestionID), zap.Error(err))
		return model.Answer{}, err
	}

	if err := c.deps.Local.FlagAnswered(ctx, c.userID, in.QuestionID); err != nil {
		c.logger.Warn("flagging answered question failed", zap.String("question_id", in.QuestionID), zap.Error(err))
	}

	c.mu.Lock()
	c.state = StateSuccess
	c.lastErr = nil
	c.mu.Unlock()

	if c.deps.Observer != nil {
		c.deps.Observer.AnswerSubmitted(ctx, c.deps.Local, c.userID, in.QuestionID)
	}
	return answer, nil
}

// Answered returns the reconciled answered set for the user.
func (c *Controller) Answered(ctx context.Context) model.AnsweredSet {
	return c.deps.Reconciler.Reconcile(ctx, c.deps.Local, c.userID)
}

// GoNext returns the navigation to the following step. Mandatory steps only
// advance once one of their questions is answered on the server or locally.
func (c *Controller) GoNext(ctx context.Context) (Navigation, error) {
	if c.step.Mandatory {
		ids, err := c.questionIDs(ctx)
		if err != nil {
			return Navigation{}, err
		}
		if !c.Answered(ctx).HasAny(ids) {
			return Navigation{}, apperr.NewValidationError(apperr.ErrStepIncomplete)
		}
	}

	next, ok := c.deps.Catalog.Next(c.step)
	if !ok {
		return Navigation{Path: c.deps.Catalog.CompletePath, Query: c.identityQuery()}, nil
	}

	nav := Navigation{Step: next.Name, Path: c.deps.Catalog.Path(next), Query: c.identityQuery()}
	qs, err := c.deps.Loader.Fetch(ctx, next.QuestionNumbers...)
	if err != nil {
		c.logger.Info("prefetch of next step failed", zap.String("next", next.Name), zap.Error(err))
		return nav, nil
	}
	tok, err := c.deps.Loader.Carrier().Attach(ctx, qs)
	if err != nil {
		c.logger.Info("attaching prefetched questions failed", zap.String("next", next.Name), zap.Error(err))
		return nav, nil
	}
	nav.Token = tok
	return nav, nil
}

// GoBack returns the navigation to the previous step. The first step stays
// where it is.
func (c *Controller) GoBack() Navigation {
	prev, ok := c.deps.Catalog.Prev(c.step)
	if !ok {
		return Navigation{Step: c.step.Name, Path: c.deps.Catalog.Path(c.step), Query: c.identityQuery()}
	}
	return Navigation{Step: prev.Name, Path: c.deps.Catalog.Path(prev), Query: c.identityQuery()}
}

func (c *Controller) questionIDs(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	qs := c.questions
	c.mu.Unlock()
	if len(qs) > 0 {
		return model.QuestionIDs(qs), nil
	}
	qs, err := c.deps.Loader.Fetch(ctx, c.step.QuestionNumbers...)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, apperr.NewValidationError(apperr.ErrNoQuestions)
	}
	return model.QuestionIDs(qs), nil
}

func (c *Controller) identityQuery() url.Values {
	if c.userID == "" {
		return nil
	}
	return url.Values{"user_id": {c.userID}}
}
