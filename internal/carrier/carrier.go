// Package carrier passes already-fetched questions from one wizard step to
// the next without a refetch. It is an optimization only: every consumer
// must work when no token is present.
package carrier

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
)

const (
	// QueryParam holds inline JSON-encoded questions.
	QueryParam = "questions"
	// SlotParam references a session storage slot.
	SlotParam = "qslot"

	slotPrefix = "carrier_"
)

// Kind tells how a token transports its questions.
type Kind string

const (
	KindQuery   Kind = "query"
	KindSession Kind = "session"
)

// Token is the handle a page receives in its URL.
type Token struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// Empty reports whether the token carries nothing.
func (t Token) Empty() bool { return t.Value == "" }

// Apply writes the token into q, replacing any earlier token.
func (t Token) Apply(q url.Values) {
	q.Del(QueryParam)
	q.Del(SlotParam)
	switch t.Kind {
	case KindQuery:
		q.Set(QueryParam, t.Value)
	case KindSession:
		q.Set(SlotParam, t.Value)
	}
}

// TokenFromQuery reads a token from a URL query. An inline payload wins over
// a slot reference.
func TokenFromQuery(q url.Values) (Token, bool) {
	if v := strings.TrimSpace(q.Get(QueryParam)); v != "" {
		return Token{Kind: KindQuery, Value: v}, true
	}
	if v := strings.TrimSpace(q.Get(SlotParam)); v != "" {
		return Token{Kind: KindSession, Value: v}, true
	}
	return Token{}, false
}

// SlotStore is the session storage a Carrier parks large payloads in.
type SlotStore interface {
	Put(ctx context.Context, name, value string, ttl time.Duration) error
	Get(ctx context.Context, name string) (string, bool, error)
}

// Options bounds what travels inline in a URL.
type Options struct {
	MaxInlineQuestions int
	MaxInlineBytes     int
	SlotTTL            time.Duration
}

func DefaultOptions() Options {
	return Options{MaxInlineQuestions: 4, MaxInlineBytes: 1800, SlotTTL: 10 * time.Minute}
}

// Carrier attaches and consumes question payloads for one client.
type Carrier struct {
	slots  SlotStore
	opts   Options
	logger *zap.Logger
	newID  func() string
}

func New(slots SlotStore, opts Options, logger *zap.Logger) *Carrier {
	def := DefaultOptions()
	if opts.MaxInlineQuestions <= 0 {
		opts.MaxInlineQuestions = def.MaxInlineQuestions
	}
	if opts.MaxInlineBytes <= 0 {
		opts.MaxInlineBytes = def.MaxInlineBytes
	}
	if opts.SlotTTL <= 0 {
		opts.SlotTTL = def.SlotTTL
	}
	return &Carrier{
		slots:  slots,
		opts:   opts,
		logger: logger.Named("carrier"),
		newID:  func() string { return uuid.NewString() },
	}
}

// Attach packages questions for the next page. Small sets are inlined in the
// URL so they survive a back-button cycle; larger ones go to a session slot.
// An empty list yields an empty token.
func (c *Carrier) Attach(ctx context.Context, questions []model.Question) (Token, error) {
	if len(questions) == 0 {
		return Token{}, nil
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return Token{}, err
	}
	if len(questions) <= c.opts.MaxInlineQuestions && len(url.QueryEscape(string(data))) <= c.opts.MaxInlineBytes {
		return Token{Kind: KindQuery, Value: string(data)}, nil
	}

	id := c.newID()
	if err := c.slots.Put(ctx, slotPrefix+id, string(data), c.opts.SlotTTL); err != nil {
		return Token{}, err
	}
	return Token{Kind: KindSession, Value: id}, nil
}

// Consume returns the questions behind t. Missing, expired, malformed or
// empty payloads yield ok=false; they are never an error.
func (c *Carrier) Consume(ctx context.Context, t Token) ([]model.Question, bool) {
	if t.Empty() {
		return nil, false
	}
	var payload string
	switch t.Kind {
	case KindQuery:
		payload = t.Value
	case KindSession:
		if _, err := uuid.Parse(t.Value); err != nil {
			c.logger.Debug("ignoring malformed slot id", zap.String("slot", t.Value))
			return nil, false
		}
		v, ok, err := c.slots.Get(ctx, slotPrefix+t.Value)
		if err != nil {
			c.logger.Warn("carrier slot read failed", zap.String("slot", t.Value), zap.Error(err))
			return nil, false
		}
		if !ok {
			c.logger.Debug("carrier slot missing or expired", zap.String("slot", t.Value))
			return nil, false
		}
		payload = v
	default:
		return nil, false
	}

	var qs []model.Question
	if err := json.Unmarshal([]byte(payload), &qs); err != nil {
		c.logger.Debug("ignoring unparseable carrier payload", zap.String("kind", string(t.Kind)), zap.Error(err))
		return nil, false
	}
	if len(qs) == 0 {
		c.logger.Debug("ignoring empty carrier payload", zap.String("kind", string(t.Kind)))
		return nil, false
	}
	return qs, true
}
