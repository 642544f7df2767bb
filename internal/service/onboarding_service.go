package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/gate"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/reconciler"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/wizard"
)

// Backend is the part of the matchmaking API the wizard needs.
type Backend interface {
	carrier.QuestionFetcher
	wizard.Submitter
}

// StepView is a loaded step plus which of its questions are answered.
type StepView struct {
	wizard.Snapshot
	Answered []string `json:"answered"`
}

// NavigationView is where the page should go next.
type NavigationView struct {
	Step  string        `json:"step,omitempty"`
	Path  string        `json:"path"`
	URL   string        `json:"url"`
	Token carrier.Token `json:"token"`
}

func navigationView(n wizard.Navigation) *NavigationView {
	return &NavigationView{Step: n.Step, Path: n.Path, URL: n.URL(), Token: n.Token}
}

// SubmitResult is returned after an answer is stored.
type SubmitResult struct {
	Answer   model.Answer `json:"answer"`
	Answered []string     `json:"answered"`
}

// AnsweredUpdate is the payload of the answered_update push event.
type AnsweredUpdate struct {
	QuestionID string   `json:"question_id,omitempty"`
	Answered   []string `json:"answered"`
}

// OnboardingService runs the wizard for every client.
type OnboardingService struct {
	catalog     *wizard.Catalog
	backend     Backend
	reconciler  *reconciler.Reconciler
	gate        *gate.Gate
	carrierOpts carrier.Options
	registry    *wizard.Registry
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewOnboardingService creates a new onboarding service
func NewOnboardingService(
	catalog *wizard.Catalog,
	backend Backend,
	rec *reconciler.Reconciler,
	g *gate.Gate,
	carrierOpts carrier.Options,
	logger *zap.Logger,
) *OnboardingService {
	return &OnboardingService{
		catalog:     catalog,
		backend:     backend,
		reconciler:  rec,
		gate:        g,
		carrierOpts: carrierOpts,
		registry:    wizard.NewRegistry(),
		broadcaster: nopBroadcaster{},
		logger:      logger.Named("onboarding"),
	}
}

// SetBroadcaster sets the broadcaster for WebSocket events
func (s *OnboardingService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *OnboardingService) Catalog() *wizard.Catalog { return s.catalog }

// Loader returns a question loader bound to the client's session slots.
func (s *OnboardingService) Loader(c *storage.Client) *carrier.Loader {
	return carrier.NewLoader(carrier.New(c.Session, s.carrierOpts, s.logger), s.backend)
}

func (s *OnboardingService) controller(c *storage.Client, userID, stepName string) (*wizard.Controller, error) {
	step, ok := s.catalog.Step(stepName)
	if !ok {
		return nil, apperr.ErrStepNotFound
	}
	return s.registry.Get(c.ID, userID, step.Name, func() *wizard.Controller {
		return wizard.NewController(wizard.Deps{
			Catalog:    s.catalog,
			Loader:     s.Loader(c),
			Submitter:  s.backend,
			Reconciler: s.reconciler,
			Local:      c.Local,
			Observer:   &submitObserver{svc: s, client: c},
			Logger:     s.logger,
		}, step, userID)
	}), nil
}

// LoadStep loads a step's questions, from t when it carries them.
func (s *OnboardingService) LoadStep(ctx context.Context, c *storage.Client, userID, stepName string, t carrier.Token) (*StepView, error) {
	ctrl, err := s.controller(c, userID, stepName)
	if err != nil {
		return nil, err
	}
	snap, err := ctrl.LoadQuestions(ctx, t)
	if err != nil {
		return nil, err
	}
	return &StepView{Snapshot: snap, Answered: s.answeredIn(ctx, c, userID, snap.Questions)}, nil
}

func (s *OnboardingService) answeredIn(ctx context.Context, c *storage.Client, userID string, qs []model.Question) []string {
	set := s.reconciler.Reconcile(ctx, c.Local, userID)
	out := make([]string, 0)
	for _, id := range model.QuestionIDs(qs) {
		if set.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Submit stores one answer for a step. The step's questions are loaded
// first when this controller has none yet.
func (s *OnboardingService) Submit(ctx context.Context, c *storage.Client, userID, stepName string, in wizard.AnswerInput) (*SubmitResult, error) {
	if userID == "" {
		return nil, apperr.ErrIdentityMissing
	}
	ctrl, err := s.controller(c, userID, stepName)
	if err != nil {
		return nil, err
	}
	if len(ctrl.Snapshot().Questions) == 0 {
		if _, err := ctrl.LoadQuestions(ctx, carrier.Token{}); err != nil {
			return nil, err
		}
	}
	answer, err := ctrl.SubmitAnswer(ctx, in)
	if err != nil {
		return nil, err
	}
	local := s.reconciler.Local(ctx, c.Local, userID)
	return &SubmitResult{Answer: answer, Answered: local.Sorted()}, nil
}

// Next advances past stepName.
func (s *OnboardingService) Next(ctx context.Context, c *storage.Client, userID, stepName string) (*NavigationView, error) {
	if userID == "" {
		return nil, apperr.ErrIdentityMissing
	}
	ctrl, err := s.controller(c, userID, stepName)
	if err != nil {
		return nil, err
	}
	nav, err := ctrl.GoNext(ctx)
	if err != nil {
		return nil, err
	}
	return navigationView(nav), nil
}

// Back returns to the step before stepName.
func (s *OnboardingService) Back(c *storage.Client, userID, stepName string) (*NavigationView, error) {
	ctrl, err := s.controller(c, userID, stepName)
	if err != nil {
		return nil, err
	}
	return navigationView(ctrl.GoBack()), nil
}

// Answered returns the reconciled answered set, sorted.
func (s *OnboardingService) Answered(ctx context.Context, c *storage.Client, userID string) []string {
	return s.reconciler.Reconcile(ctx, c.Local, userID).Sorted()
}

// Visibility re-syncs a page that came back into view: it pushes a fresh
// answered set and gate decision.
func (s *OnboardingService) Visibility(ctx context.Context, c *storage.Client, userID string) (gate.Decision, []string) {
	answered := s.Answered(ctx, c, userID)
	s.broadcaster.SendToUser(userID, MsgAnsweredUpdate, AnsweredUpdate{Answered: answered})

	d := s.gate.Refresh(ctx, c.Local, userID)
	s.broadcaster.SendToUser(userID, MsgGateUpdate, d)
	return d, answered
}

// Forget drops the controllers of a client.
func (s *OnboardingService) Forget(clientID string) {
	s.registry.Forget(clientID)
}

type submitObserver struct {
	svc    *OnboardingService
	client *storage.Client
}

func (o *submitObserver) AnswerSubmitted(ctx context.Context, local wizard.AnsweredFlags, userID, questionID string) {
	ids := o.svc.reconciler.Local(ctx, local, userID).Sorted()
	o.svc.broadcaster.SendToUser(userID, MsgAnsweredUpdate, AnsweredUpdate{QuestionID: questionID, Answered: ids})
	o.svc.gate.RefreshAsync(o.client.Local, userID)
}
