package model

// User is the subset of GET /users/<id>/ this service reads.
type User struct {
	ID                         ID     `json:"id"`
	Email                      string `json:"email,omitempty"`
	FirstName                  string `json:"first_name,omitempty"`
	MandatoryQuestionsComplete bool   `json:"mandatory_questions_complete"`
}

// OnboardingStatusRequest is the body of POST /auth/onboarding-status/.
type OnboardingStatusRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// OnboardingStatus tells a returning user where to resume the wizard.
type OnboardingStatus struct {
	Step    string `json:"step"`
	StepURL string `json:"step_url"`
	UserID  ID     `json:"user_id"`
}
