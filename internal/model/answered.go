package model

import "sort"

// AnsweredSet is the set of question ids the current user has answered, as
// far as the UI is concerned.
type AnsweredSet map[string]struct{}

func NewAnsweredSet(ids ...string) AnsweredSet {
	s := make(AnsweredSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s AnsweredSet) Add(id string) {
	if id == "" {
		return
	}
	s[id] = struct{}{}
}

func (s AnsweredSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// HasAny reports whether at least one of ids is in the set.
func (s AnsweredSet) HasAny(ids []string) bool {
	for _, id := range ids {
		if s.Has(id) {
			return true
		}
	}
	return false
}

// Union returns a new set holding the members of s and other.
func (s AnsweredSet) Union(other AnsweredSet) AnsweredSet {
	out := make(AnsweredSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s AnsweredSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
