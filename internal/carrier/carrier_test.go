package carrier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

func intp(i int) *int { return &i }

func sampleQuestions(n int) []model.Question {
	qs := make([]model.Question, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, model.Question{
			ID:             model.ID(fmt.Sprintf("q-%d", i)),
			QuestionName:   "diet",
			QuestionNumber: 7,
			GroupNumber:    intp(i),
			GroupName:      "Diet",
			Text:           "What do you eat?",
			Answers: []model.AnswerOption{
				{Value: "1", AnswerText: "Vegan"},
				{Value: "5", AnswerText: "Everything"},
			},
			OpenToAllLookingFor: true,
		})
	}
	return qs
}

func newCarrier(opts Options) (*Carrier, *storage.SessionStore) {
	slots := storage.NewSessionStore(storage.NewMemoryKV(), "client", time.Minute)
	return New(slots, opts, zap.NewNop()), slots
}

func TestRoundTripInline(t *testing.T) {
	c, _ := newCarrier(DefaultOptions())
	qs := sampleQuestions(1)

	tok, err := c.Attach(context.Background(), qs)
	require.NoError(t, err)
	assert.Equal(t, KindQuery, tok.Kind)

	got, ok := c.Consume(context.Background(), tok)
	require.True(t, ok)
	assert.Equal(t, qs, got)
}

func TestRoundTripSessionSlot(t *testing.T) {
	c, _ := newCarrier(Options{MaxInlineQuestions: 2})
	qs := sampleQuestions(6)

	tok, err := c.Attach(context.Background(), qs)
	require.NoError(t, err)
	assert.Equal(t, KindSession, tok.Kind)

	got, ok := c.Consume(context.Background(), tok)
	require.True(t, ok)
	assert.Equal(t, qs, got)

	// consuming twice still works (reload / back button)
	_, ok = c.Consume(context.Background(), tok)
	assert.True(t, ok)
}

func TestByteLimitForcesSlot(t *testing.T) {
	c, _ := newCarrier(Options{MaxInlineQuestions: 10, MaxInlineBytes: 64})
	tok, err := c.Attach(context.Background(), sampleQuestions(1))
	require.NoError(t, err)
	assert.Equal(t, KindSession, tok.Kind)
}

func TestTokenSurvivesURL(t *testing.T) {
	c, _ := newCarrier(DefaultOptions())
	qs := sampleQuestions(2)
	tok, err := c.Attach(context.Background(), qs)
	require.NoError(t, err)

	q := url.Values{}
	q.Set("user_id", "9")
	tok.Apply(q)
	parsed, err := url.ParseQuery(q.Encode())
	require.NoError(t, err)

	back, ok := TokenFromQuery(parsed)
	require.True(t, ok)
	got, ok := c.Consume(context.Background(), back)
	require.True(t, ok)
	assert.Equal(t, qs, got)
}

func TestConsumeGarbage(t *testing.T) {
	c, _ := newCarrier(DefaultOptions())
	for _, tok := range []Token{
		{},
		{Kind: KindQuery, Value: "{not json"},
		{Kind: KindQuery, Value: `{"id": 1}`},
		{Kind: KindSession, Value: "../../etc"},
		{Kind: KindSession, Value: "5f1c0cde-8b8e-4c1c-9f0e-8a3c3f1b1f00"},
		{Kind: "carrier-pigeon", Value: "[]"},
	} {
		got, ok := c.Consume(context.Background(), tok)
		assert.False(t, ok, "token %+v", tok)
		assert.Nil(t, got)
	}
}

func TestConsumeEmptyPayloadIsAbsent(t *testing.T) {
	c, slots := newCarrier(DefaultOptions())
	ctx := context.Background()
	slot := "0b7e6c8a-3f0d-4c55-9a43-0d8f2f7f6a11"
	require.NoError(t, slots.Put(ctx, slotPrefix+slot, "[]", 0))

	for _, tok := range []Token{
		{Kind: KindQuery, Value: "null"},
		{Kind: KindQuery, Value: "[]"},
		{Kind: KindSession, Value: slot},
	} {
		got, ok := c.Consume(ctx, tok)
		assert.False(t, ok, "token %+v", tok)
		assert.Nil(t, got)
	}
}

func TestTokenFromQueryAbsent(t *testing.T) {
	_, ok := TokenFromQuery(url.Values{"user_id": {"1"}})
	assert.False(t, ok)
}

type fetcherFunc func(ctx context.Context, numbers ...int) ([]model.Question, error)

func (f fetcherFunc) ListQuestions(ctx context.Context, numbers ...int) ([]model.Question, error) {
	return f(ctx, numbers...)
}

func TestLoaderPrefersCarrier(t *testing.T) {
	c, _ := newCarrier(DefaultOptions())
	fetches := 0
	l := NewLoader(c, fetcherFunc(func(context.Context, ...int) ([]model.Question, error) {
		fetches++
		return nil, errors.New("should not fetch")
	}))
	tok, err := c.Attach(context.Background(), sampleQuestions(2))
	require.NoError(t, err)

	qs, fromCarrier, err := l.Load(context.Background(), tok, 7)
	require.NoError(t, err)
	assert.True(t, fromCarrier)
	assert.Len(t, qs, 2)
	assert.Zero(t, fetches)
}

func TestLoaderFallsBack(t *testing.T) {
	c, _ := newCarrier(DefaultOptions())
	var asked []int
	l := NewLoader(c, fetcherFunc(func(_ context.Context, numbers ...int) ([]model.Question, error) {
		asked = numbers
		return sampleQuestions(1), nil
	}))

	// garbage token
	qs, fromCarrier, err := l.Load(context.Background(), Token{Kind: KindQuery, Value: "%%%"}, 7)
	require.NoError(t, err)
	assert.False(t, fromCarrier)
	assert.Len(t, qs, 1)
	assert.Equal(t, []int{7}, asked)

	// token for another step
	tok, err := c.Attach(context.Background(), sampleQuestions(1))
	require.NoError(t, err)
	_, fromCarrier, err = l.Load(context.Background(), tok, 8)
	require.NoError(t, err)
	assert.False(t, fromCarrier)
	assert.Equal(t, []int{8}, asked)
}
