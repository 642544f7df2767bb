package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/backend"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/backend/backendtest"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

func intp(i int) *int { return &i }

func newClient(t *testing.T, baseURL string) *backend.Client {
	t.Helper()
	c, err := backend.NewClient(backend.Options{
		BaseURL:     baseURL,
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsRelativeBase(t *testing.T) {
	_, err := backend.NewClient(backend.Options{BaseURL: "/api"}, zap.NewNop())
	assert.Error(t, err)
}

func TestListQuestionsSorted(t *testing.T) {
	srv := backendtest.New(t)
	srv.AddQuestions(
		model.Question{ID: "q2", QuestionNumber: 5, GroupNumber: intp(2)},
		model.Question{ID: "q1", QuestionNumber: 5, GroupNumber: intp(1)},
		model.Question{ID: "q9", QuestionNumber: 9},
	)
	c := newClient(t, srv.BaseURL())

	qs, err := c.ListQuestions(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, model.QuestionIDs(qs))
}

func TestAnswerPagination(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedAnswers("7", "a", "b", "c")
	c := newClient(t, srv.BaseURL())

	page, err := c.AnswerPage(context.Background(), c.AnswersURL("7", 2))
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)
	require.NotNil(t, page.Next)

	page, err = c.AnswerPage(context.Background(), *page.Next)
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Nil(t, page.Next)
}

func TestAnswerPageRefusesForeignHost(t *testing.T) {
	srv := backendtest.New(t)
	c := newClient(t, srv.BaseURL())

	_, err := c.AnswerPage(context.Background(), "http://elsewhere.test/api/answers/?page=2")
	assert.True(t, apperr.IsTransport(err))
}

func TestSubmitAnswerErrorBody(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailSubmit = true
	c := newClient(t, srv.BaseURL())

	err := c.SubmitAnswer(context.Background(), model.Answer{UserID: "1", QuestionID: "q"})
	require.Error(t, err)
	var te *apperr.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Equal(t, "database unavailable", te.Body)
}

func TestRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 12, "mandatory_questions_complete": true}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	u, err := c.GetUser(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, model.ID("12"), u.ID)
	assert.True(t, u.MandatoryQuestionsComplete)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	_, err := c.GetUser(context.Background(), "1")
	var te *apperr.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.Status)
}

func TestOnboardingStatus(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetOnboardingStatus("a@b.test", model.OnboardingStatus{Step: "diet", StepURL: "/onboarding/diet", UserID: "5"})
	c := newClient(t, srv.BaseURL())

	st, err := c.OnboardingStatus(context.Background(), "A@b.test")
	require.NoError(t, err)
	assert.Equal(t, "diet", st.Step)
	assert.Equal(t, model.ID("5"), st.UserID)

	_, err = c.OnboardingStatus(context.Background(), "nobody@b.test")
	assert.True(t, apperr.IsTransport(err))
}
