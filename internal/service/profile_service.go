package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/encoder"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/reconciler"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/wizard"
)

// ProfileQuestion is one question of the edit-answers view. Me and
// LookingFor are set when the backend listing has the stored answer.
type ProfileQuestion struct {
	model.Question
	Answered   bool          `json:"answered"`
	Me         *encoder.Side `json:"me,omitempty"`
	LookingFor *encoder.Side `json:"looking_for,omitempty"`
}

type ProfileStep struct {
	Step      wizard.Step       `json:"step"`
	Questions []ProfileQuestion `json:"questions"`
}

// ProfileView is every step with its questions and current answers. Token
// lets the page reload the view without refetching questions.
type ProfileView struct {
	Steps       []ProfileStep `json:"steps"`
	Answered    []string      `json:"answered"`
	Token       carrier.Token `json:"token"`
	FromCarrier bool          `json:"from_carrier"`
}

// ProfileAnswerInput is an answer sent from the edit-answers view. Step is
// optional; it is looked up from the question when empty.
type ProfileAnswerInput struct {
	Step string `json:"step,omitempty"`
	wizard.AnswerInput
}

// ProfileService serves the edit-answers entry point. Submissions go
// through the same wizard controllers as onboarding.
type ProfileService struct {
	onboarding *OnboardingService
	reconciler *reconciler.Reconciler
	logger     *zap.Logger
}

// NewProfileService creates a new profile service
func NewProfileService(onboarding *OnboardingService, rec *reconciler.Reconciler, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		onboarding: onboarding,
		reconciler: rec,
		logger:     logger.Named("profile"),
	}
}

// View builds the edit-answers page for userID.
func (s *ProfileService) View(ctx context.Context, c *storage.Client, userID string, t carrier.Token) (*ProfileView, error) {
	if userID == "" {
		return nil, apperr.ErrIdentityMissing
	}
	catalog := s.onboarding.Catalog()
	loader := s.onboarding.Loader(c)

	qs, fromCarrier, err := loader.Load(ctx, t, catalog.AllNumbers()...)
	if err != nil {
		return nil, err
	}
	token := t
	if !fromCarrier {
		if token, err = loader.Carrier().Attach(ctx, qs); err != nil {
			s.logger.Info("attaching profile questions failed", zap.Error(err))
			token = carrier.Token{}
		}
	}

	server := model.NewAnsweredSet()
	stored := make(map[string]model.Answer)
	s.reconciler.Walk(ctx, userID, func(rec model.AnswerRecord) {
		id, ok := rec.ExtractQuestionID()
		if !ok {
			return
		}
		server.Add(id)
		stored[id] = rec.AsAnswer(userID, id)
	})
	answered := server.Union(s.reconciler.Local(ctx, c.Local, userID))

	byStep := make(map[string][]ProfileQuestion)
	for _, q := range qs {
		step, ok := catalog.StepForNumber(q.QuestionNumber)
		if !ok {
			continue
		}
		pq := ProfileQuestion{Question: q, Answered: answered.Has(q.ID.String())}
		if a, ok := stored[q.ID.String()]; ok {
			if me, lf, err := encoder.SidesFromAnswer(a); err == nil {
				pq.Me, pq.LookingFor = &me, &lf
			} else {
				s.logger.Debug("stored answer not decodable", zap.String("question_id", q.ID.String()), zap.Error(err))
			}
		}
		byStep[step.Name] = append(byStep[step.Name], pq)
	}

	view := &ProfileView{
		Steps:       make([]ProfileStep, 0, len(catalog.Steps)),
		Answered:    answered.Sorted(),
		Token:       token,
		FromCarrier: fromCarrier,
	}
	for _, step := range catalog.Steps {
		view.Steps = append(view.Steps, ProfileStep{Step: step, Questions: byStep[step.Name]})
	}
	return view, nil
}

// Submit stores an answer edited from the profile page.
func (s *ProfileService) Submit(ctx context.Context, c *storage.Client, userID string, in ProfileAnswerInput) (*SubmitResult, error) {
	if userID == "" {
		return nil, apperr.ErrIdentityMissing
	}
	step := in.Step
	if step == "" {
		var err error
		if step, err = s.stepOf(ctx, c, in.QuestionID); err != nil {
			return nil, err
		}
	}
	return s.onboarding.Submit(ctx, c, userID, step, in.AnswerInput)
}

func (s *ProfileService) stepOf(ctx context.Context, c *storage.Client, questionID string) (string, error) {
	if questionID == "" {
		return "", apperr.NewValidationError(nil, apperr.FieldError{Field: "question_id", Error: "question_id is required"})
	}
	catalog := s.onboarding.Catalog()
	qs, err := s.onboarding.Loader(c).Fetch(ctx, catalog.AllNumbers()...)
	if err != nil {
		return "", err
	}
	for _, q := range qs {
		if q.ID.String() != questionID {
			continue
		}
		if step, ok := catalog.StepForNumber(q.QuestionNumber); ok {
			return step.Name, nil
		}
	}
	return "", apperr.Validationf("question %s is not part of onboarding", questionID)
}
