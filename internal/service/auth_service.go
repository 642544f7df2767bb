package service

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/validate"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// StatusFetcher asks the backend where a returning user left off.
type StatusFetcher interface {
	OnboardingStatus(ctx context.Context, email string) (*model.OnboardingStatus, error)
}

// AuthService issues user tokens and handles resume and logout.
type AuthService struct {
	status    StatusFetcher
	jwtSecret []byte
	ttl       time.Duration
	logger    *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(status StatusFetcher, secret string, ttl time.Duration, logger *zap.Logger) *AuthService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &AuthService{
		status:    status,
		jwtSecret: []byte(secret),
		ttl:       ttl,
		logger:    logger.Named("auth"),
	}
}

// IssueUserToken signs a token carrying the user identity.
func (s *AuthService) IssueUserToken(userID, email string) (string, error) {
	now := time.Now()
	claims := &model.UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateUserToken validates a user JWT and returns claims
func (s *AuthService) ValidateUserToken(tokenString string) (*model.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resume looks up where the user left off, remembers the identity on this
// client and returns a token for later requests.
func (s *AuthService) Resume(ctx context.Context, c *storage.Client, req model.ResumeRequest) (*model.ResumeResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if err := validate.Struct(model.OnboardingStatusRequest{Email: email}); err != nil {
		return nil, err
	}

	st, err := s.status.OnboardingStatus(ctx, email)
	if err != nil {
		return nil, err
	}
	userID := st.UserID.String()
	if err := c.Local.SetIdentity(ctx, userID, email); err != nil {
		s.logger.Warn("storing identity failed", zap.String("client", c.ID), zap.Error(err))
	}

	token, err := s.IssueUserToken(userID, email)
	if err != nil {
		return nil, errors.Wrap(err, "sign user token")
	}
	return &model.ResumeResponse{
		Step:    st.Step,
		StepURL: st.StepURL,
		UserID:  userID,
		Token:   token,
	}, nil
}

// Logout clears the client's identity and transient state. Celebrated
// matches and the completion flag survive.
func (s *AuthService) Logout(ctx context.Context, c *storage.Client) error {
	if err := c.Local.ClearForLogout(ctx); err != nil {
		return err
	}
	return c.Session.Clear(ctx)
}
