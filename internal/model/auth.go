package model

import "github.com/golang-jwt/jwt/v5"

// UserClaims are JWT claims carrying the onboarding user identity
type UserClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ResumeRequest is the request body for resuming onboarding
type ResumeRequest struct {
	Email string `json:"email"`
}

// ResumeResponse is returned after a successful resume
type ResumeResponse struct {
	Step    string `json:"step"`
	StepURL string `json:"step_url"`
	UserID  string `json:"user_id"`
	Token   string `json:"token"`
}
