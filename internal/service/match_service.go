package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/validate"
)

// CelebrateRequest marks a match as already celebrated on this client.
type CelebrateRequest struct {
	MatchID string `json:"match_id" validate:"required,max=128"`
}

// MatchService tracks which matches a client has already celebrated, so
// the match animation plays once per device.
type MatchService struct {
	logger *zap.Logger
}

// NewMatchService creates a new match service
func NewMatchService(logger *zap.Logger) *MatchService {
	return &MatchService{logger: logger.Named("matches")}
}

func (s *MatchService) Celebrated(ctx context.Context, c *storage.Client, userID string) ([]string, error) {
	if userID == "" {
		return nil, apperr.ErrIdentityMissing
	}
	ids, err := c.Local.CelebratedMatches(ctx, userID)
	if err != nil {
		s.logger.Warn("celebrated matches unreadable", zap.String("client", c.ID), zap.Error(err))
		return []string{}, nil
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *MatchService) Celebrate(ctx context.Context, c *storage.Client, userID string, req CelebrateRequest) ([]string, error) {
	if userID == "" {
		return nil, apperr.ErrIdentityMissing
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if err := c.Local.AddCelebratedMatch(ctx, userID, req.MatchID); err != nil {
		return nil, err
	}
	return s.Celebrated(ctx, c, userID)
}
