// Package reconciler merges the server's paginated answer listing with the
// locally flagged "just answered" ids into the answered set the UI shows.
package reconciler

import (
	"context"

	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

const (
	DefaultPageSize = 100
	DefaultMaxPages = 50
)

// AnswerLister pages through a user's answers on the backend.
type AnswerLister interface {
	AnswersURL(userID string, pageSize int) string
	AnswerPage(ctx context.Context, pageURL string) (*model.AnswerPage, error)
}

// LocalFlags is the local storage view the reconciler reads.
type LocalFlags interface {
	AnsweredQuestions(ctx context.Context, userID string) ([]string, error)
}

// Reconciler builds answered sets. It only ever reads, on both sides.
type Reconciler struct {
	lister   AnswerLister
	pageSize int
	maxPages int
	logger   *zap.Logger
}

func New(lister AnswerLister, pageSize, maxPages int, logger *zap.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Reconciler{
		lister:   lister,
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   logger.Named("reconciler"),
	}
}

// Reconcile returns serverAnsweredIds ∪ locallyFlaggedIds for userID. It
// never fails: unreadable local state counts as empty and a failed page
// truncates the server side to the pages read so far.
func (r *Reconciler) Reconcile(ctx context.Context, local LocalFlags, userID string) model.AnsweredSet {
	return r.Server(ctx, userID).Union(r.Local(ctx, local, userID))
}

// Local returns the locally flagged ids for userID.
func (r *Reconciler) Local(ctx context.Context, local LocalFlags, userID string) model.AnsweredSet {
	ids, err := local.AnsweredQuestions(ctx, userID)
	if err != nil {
		r.logger.Warn("local answered set unreadable", zap.String("user", userID), zap.Error(err))
		return model.NewAnsweredSet()
	}
	return model.NewAnsweredSet(ids...)
}

// Server returns the question ids the backend lists as answered by userID.
func (r *Reconciler) Server(ctx context.Context, userID string) model.AnsweredSet {
	set := model.NewAnsweredSet()
	dropped := 0
	r.Walk(ctx, userID, func(rec model.AnswerRecord) {
		if id, ok := rec.ExtractQuestionID(); ok {
			set.Add(id)
		} else {
			dropped++
		}
	})
	if dropped > 0 {
		r.logger.Debug("answer records without question id", zap.String("user", userID), zap.Int("dropped", dropped))
	}
	return set
}

// Walk calls fn for each answer record of userID. Page N+1 is requested only
// after page N resolved; a failed page ends the walk with what was read.
func (r *Reconciler) Walk(ctx context.Context, userID string, fn func(model.AnswerRecord)) {
	if userID == "" {
		return
	}

	visited := make(map[string]bool)
	records := 0
	next := r.lister.AnswersURL(userID, r.pageSize)
	for page := 1; next != ""; page++ {
		if page > r.maxPages {
			r.logger.Warn("answer listing exceeded page cap, truncating",
				zap.String("user", userID), zap.Int("maxPages", r.maxPages))
			return
		}
		if visited[next] {
			r.logger.Warn("answer listing cursor loops, truncating",
				zap.String("user", userID), zap.Int("page", page))
			return
		}
		visited[next] = true

		resp, err := r.lister.AnswerPage(ctx, next)
		if err != nil {
			r.logger.Warn("answer page fetch failed, using partial set",
				zap.String("user", userID), zap.Int("page", page), zap.Int("records", records), zap.Error(err))
			return
		}
		for _, rec := range resp.Results {
			fn(rec)
		}
		records += len(resp.Results)

		next = ""
		if resp.Next != nil {
			next = *resp.Next
		}
	}
}
