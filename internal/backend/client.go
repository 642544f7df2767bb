// Package backend is the REST client for the matchmaking backend, the
// external owner of questions, answers and users.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

// Client wraps the backend REST API calls.
type Client struct {
	baseURL     *url.URL
	token       string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger
}

// NewClient creates a new backend API client.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, errors.Wrapf(err, "parse backend base url %q", opts.BaseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("backend base url %q must be absolute", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.Token == "" {
		logger.Warn("backend token not set, calling backend anonymously")
	}
	return &Client{
		baseURL:     base,
		token:       opts.Token,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		logger:      logger.Named("backend"),
	}, nil
}

// resolve turns a relative path or an opaque pagination URL into an absolute
// URL on the backend host. URLs pointing at another host are refused so the
// backend token never leaves it.
func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "parse url %q", ref)
	}
	abs := c.baseURL.ResolveReference(u)
	if !strings.EqualFold(abs.Host, c.baseURL.Host) {
		return nil, errors.Errorf("url %q is not on backend host %s", ref, c.baseURL.Host)
	}
	return abs, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do performs an HTTP request with retry logic. Transport failures and 429
// responses are retried with exponential backoff; other statuses >= 400 fail
// immediately.
func (c *Client) do(ctx context.Context, op, method, ref string, payload interface{}) ([]byte, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, &apperr.TransportError{Op: op, Err: err}
	}

	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, errors.Wrapf(err, "%s: encode body", op)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseBackoff
			c.logger.Debug("retrying request",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, &apperr.TransportError{Op: op, Err: err}
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return nil, &apperr.TransportError{Op: op, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &apperr.TransportError{Op: op, Err: ctx.Err()}
			}
			c.logger.Warn("request failed", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("rate limited", zap.String("op", op), zap.Int("attempt", attempt+1))
			lastErr = &apperr.TransportError{Op: op, Status: resp.StatusCode}
			continue
		}

		if resp.StatusCode >= 300 {
			te := &apperr.TransportError{Op: op, Status: resp.StatusCode, Body: errorMessage(respBody)}
			c.logger.Warn("backend error", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("body", te.Body))
			return nil, te
		}

		c.logger.Debug("request done", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Int("bytes", len(respBody)))
		return respBody, nil
	}

	var te *apperr.TransportError
	if errors.As(lastErr, &te) {
		return nil, te
	}
	return nil, &apperr.TransportError{Op: op, Err: errors.Wrapf(lastErr, "max retries (%d) exceeded", c.maxRetries)}
}

// errorMessage extracts {"error": "..."} from a backend error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// ListQuestions fetches the questions of the given question numbers.
func (c *Client) ListQuestions(ctx context.Context, numbers ...int) ([]model.Question, error) {
	q := url.Values{}
	for _, n := range numbers {
		q.Add("question_number", strconv.Itoa(n))
	}
	ref := "questions/"
	if len(q) > 0 {
		ref += "?" + q.Encode()
	}

	respBody, err := c.do(ctx, "list questions", http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	var list model.QuestionList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, errors.Wrap(err, "parse question list")
	}
	model.SortQuestions(list.Results)
	return list.Results, nil
}

// AnswersURL is the first page of a user's answer listing.
func (c *Client) AnswersURL(userID string, pageSize int) string {
	q := url.Values{}
	q.Set("user_id", userID)
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return "answers/?" + q.Encode()
}

// AnswerPage fetches one page of an answer listing. pageURL is either
// AnswersURL or a "next" link returned by a previous page.
func (c *Client) AnswerPage(ctx context.Context, pageURL string) (*model.AnswerPage, error) {
	respBody, err := c.do(ctx, "list answers", http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	var page model.AnswerPage
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, errors.Wrap(err, "parse answer page")
	}
	return &page, nil
}

// SubmitAnswer POSTs one answer record.
func (c *Client) SubmitAnswer(ctx context.Context, answer model.Answer) error {
	_, err := c.do(ctx, "submit answer", http.MethodPost, "answers/", answer)
	return err
}

// GetUser fetches a user record, including mandatory_questions_complete.
func (c *Client) GetUser(ctx context.Context, userID string) (*model.User, error) {
	respBody, err := c.do(ctx, "get user", http.MethodGet, fmt.Sprintf("users/%s/", url.PathEscape(userID)), nil)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := json.Unmarshal(respBody, &u); err != nil {
		return nil, errors.Wrap(err, "parse user")
	}
	return &u, nil
}

// OnboardingStatus asks where a returning user should resume onboarding.
func (c *Client) OnboardingStatus(ctx context.Context, email string) (*model.OnboardingStatus, error) {
	respBody, err := c.do(ctx, "onboarding status", http.MethodPost, "auth/onboarding-status/", model.OnboardingStatusRequest{Email: email})
	if err != nil {
		return nil, err
	}
	var st model.OnboardingStatus
	if err := json.Unmarshal(respBody, &st); err != nil {
		return nil, errors.Wrap(err, "parse onboarding status")
	}
	return &st, nil
}
