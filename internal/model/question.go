package model

import "sort"

// AnswerOption is one selectable value of a question's slider or list.
type AnswerOption struct {
	Value      string `json:"value"`
	AnswerText string `json:"answer_text"`
}

// Question is owned by the backend and read-only on this side.
type Question struct {
	ID                  ID             `json:"id"`
	QuestionName        string         `json:"question_name"`
	QuestionNumber      int            `json:"question_number"`
	GroupNumber         *int           `json:"group_number,omitempty"`
	GroupName           string         `json:"group_name"`
	Text                string         `json:"text"`
	Answers             []AnswerOption `json:"answers"`
	OpenToAllMe         bool           `json:"open_to_all_me"`
	OpenToAllLookingFor bool           `json:"open_to_all_looking_for"`
}

// QuestionList is the body of GET /questions/.
type QuestionList struct {
	Results []Question `json:"results"`
}

// SortQuestions orders questions by question_number, then group_number.
// Questions without a group_number sort after grouped ones on the same page.
func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if a.QuestionNumber != b.QuestionNumber {
			return a.QuestionNumber < b.QuestionNumber
		}
		switch {
		case a.GroupNumber == nil && b.GroupNumber == nil:
			return false
		case a.GroupNumber == nil:
			return false
		case b.GroupNumber == nil:
			return true
		}
		return *a.GroupNumber < *b.GroupNumber
	})
}

// QuestionIDs returns the ids of qs in order.
func QuestionIDs(qs []Question) []string {
	ids := make([]string, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, string(q.ID))
	}
	return ids
}
