package carrier

import (
	"context"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

// QuestionFetcher is the backend call a Loader falls back to.
type QuestionFetcher interface {
	ListQuestions(ctx context.Context, numbers ...int) ([]model.Question, error)
}

// Loader resolves a step's questions from a token, falling back to a fetch
// by question number.
type Loader struct {
	carrier *Carrier
	fetcher QuestionFetcher
}

func NewLoader(c *Carrier, f QuestionFetcher) *Loader {
	return &Loader{carrier: c, fetcher: f}
}

// Load returns the questions for numbers. fromCarrier is true when no fetch
// was needed. Carried questions that do not belong to numbers are dropped;
// if none are left the loader fetches.
func (l *Loader) Load(ctx context.Context, t Token, numbers ...int) (qs []model.Question, fromCarrier bool, err error) {
	if carried, ok := l.Carried(ctx, t, numbers...); ok {
		return carried, true, nil
	}
	qs, err = l.Fetch(ctx, numbers...)
	if err != nil {
		return nil, false, err
	}
	return qs, false, nil
}

// Carried returns the questions of t that belong to numbers, sorted. ok is
// false when t yields nothing usable.
func (l *Loader) Carried(ctx context.Context, t Token, numbers ...int) ([]model.Question, bool) {
	carried, ok := l.carrier.Consume(ctx, t)
	if !ok {
		return nil, false
	}
	carried = filterNumbers(carried, numbers)
	if len(carried) == 0 {
		return nil, false
	}
	model.SortQuestions(carried)
	return carried, true
}

// Fetch asks the backend for the questions with the given numbers.
func (l *Loader) Fetch(ctx context.Context, numbers ...int) ([]model.Question, error) {
	return l.fetcher.ListQuestions(ctx, numbers...)
}

// Carrier returns the carrier the loader consumes tokens from.
func (l *Loader) Carrier() *Carrier { return l.carrier }

func filterNumbers(qs []model.Question, numbers []int) []model.Question {
	if len(numbers) == 0 {
		return qs
	}
	want := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		want[n] = true
	}
	out := qs[:0:0]
	for _, q := range qs {
		if want[q.QuestionNumber] {
			out = append(out, q)
		}
	}
	return out
}
