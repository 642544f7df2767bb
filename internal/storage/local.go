package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxLocalAnswered bounds the rolling set of locally flagged question ids.
const MaxLocalAnswered = 200

// LocalStore is the durable per-client store ("local storage"). Entries
// survive reloads; logout clears everything but the entries listed in
// preservedOnLogout.
type LocalStore struct {
	kv       KV
	clientID string
}

func NewLocalStore(kv KV, clientID string) *LocalStore {
	return &LocalStore{kv: kv, clientID: clientID}
}

func (s *LocalStore) ClientID() string { return s.clientID }

func (s *LocalStore) key(name string) string { return clientPrefix(s.clientID) + name }

func (s *LocalStore) get(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		return "", false, errors.Wrapf(err, "local storage get %s", name)
	}
	return v, ok, nil
}

func (s *LocalStore) set(ctx context.Context, name, value string) error {
	if err := s.kv.Set(ctx, s.key(name), value, 0); err != nil {
		return errors.Wrapf(err, "local storage set %s", name)
	}
	return nil
}

// UserID returns the remembered user id, or "" when none is stored.
func (s *LocalStore) UserID(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, KeyUserID)
	return v, err
}

func (s *LocalStore) UserEmail(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, KeyUserEmail)
	return v, err
}

// SetIdentity remembers who is using this client. An empty email leaves the
// stored email untouched.
func (s *LocalStore) SetIdentity(ctx context.Context, userID, email string) error {
	if err := s.set(ctx, KeyUserID, userID); err != nil {
		return err
	}
	if email == "" {
		return nil
	}
	return s.set(ctx, KeyUserEmail, email)
}

// AnsweredQuestions returns the locally flagged question ids for userID.
// An unreadable entry is treated as empty.
func (s *LocalStore) AnsweredQuestions(ctx context.Context, userID string) ([]string, error) {
	return s.stringList(ctx, AnsweredQuestionsKey(userID))
}

// FlagAnswered records ids as just answered by userID. Already present ids
// move to the most-recent end; the oldest ids drop once MaxLocalAnswered is
// exceeded.
func (s *LocalStore) FlagAnswered(ctx context.Context, userID string, ids ...string) error {
	return s.appendList(ctx, AnsweredQuestionsKey(userID), MaxLocalAnswered, ids...)
}

// CompletionFlag returns the cached mandatory_questions_complete value. ok is
// false when nothing (or garbage) is cached.
func (s *LocalStore) CompletionFlag(ctx context.Context) (complete, ok bool, err error) {
	v, found, err := s.get(ctx, KeyMandatoryQuestionsComplete)
	if err != nil || !found {
		return false, false, err
	}
	b, perr := strconv.ParseBool(strings.TrimSpace(v))
	if perr != nil {
		return false, false, nil
	}
	return b, true, nil
}

func (s *LocalStore) SetCompletionFlag(ctx context.Context, complete bool) error {
	return s.set(ctx, KeyMandatoryQuestionsComplete, strconv.FormatBool(complete))
}

func (s *LocalStore) CelebratedMatches(ctx context.Context, userID string) ([]string, error) {
	return s.stringList(ctx, CelebratedMatchesKey(userID))
}

func (s *LocalStore) AddCelebratedMatch(ctx context.Context, userID, matchID string) error {
	return s.appendList(ctx, CelebratedMatchesKey(userID), 0, matchID)
}

func preservedOnLogout(name string) bool {
	return name == KeyMandatoryQuestionsComplete || strings.HasPrefix(name, celebratedMatchesPrefix)
}

// ClearForLogout removes every entry of this client except the celebrated
// match flags and the completion cache, which a re-login of the same user
// reuses.
func (s *LocalStore) ClearForLogout(ctx context.Context) error {
	prefix := clientPrefix(s.clientID)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return errors.Wrap(err, "local storage list keys")
	}
	doomed := make([]string, 0, len(keys))
	for _, k := range keys {
		if !preservedOnLogout(strings.TrimPrefix(k, prefix)) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return errors.Wrap(s.kv.Delete(ctx, doomed...), "local storage clear")
}

func (s *LocalStore) stringList(ctx context.Context, name string) ([]string, error) {
	v, ok, err := s.get(ctx, name)
	if err != nil || !ok {
		return nil, err
	}
	return parseList(v), nil
}

// parseList decodes a JSON array of ids. Garbage reads as empty.
func parseList(v string) []string {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		// ids were written as numbers by older clients
		var str string
		if err := json.Unmarshal(r, &str); err == nil {
			if str != "" {
				out = append(out, str)
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err == nil {
			out = append(out, n.String())
		}
	}
	return out
}

// appendList adds ids to the list under name in one atomic update, so
// parallel submits from the same client all land.
func (s *LocalStore) appendList(ctx context.Context, name string, limit int, ids ...string) error {
	add := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			add[id] = true
		}
	}
	if len(add) == 0 {
		return nil
	}
	err := s.kv.Update(ctx, s.key(name), 0, func(current string, ok bool) (string, error) {
		var existing []string
		if ok {
			existing = parseList(current)
		}
		next := make([]string, 0, len(existing)+len(add))
		for _, id := range existing {
			if !add[id] {
				next = append(next, id)
			}
		}
		seen := make(map[string]bool, len(add))
		for _, id := range ids {
			if add[id] && !seen[id] {
				next = append(next, id)
				seen[id] = true
			}
		}
		if limit > 0 && len(next) > limit {
			next = next[len(next)-limit:]
		}
		data, err := json.Marshal(next)
		return string(data), err
	})
	return errors.Wrapf(err, "local storage append %s", name)
}
