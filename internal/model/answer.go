package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	// OpenToAllValue is the wire sentinel for "open to all".
	OpenToAllValue = 6
	// DefaultImportance is used when the user did not move the importance slider.
	DefaultImportance = 3
	// DefaultSlider is the placeholder shown when a decoded answer carries no slider value.
	DefaultSlider = 3
)

// Answer is the record POSTed to /answers/. Repeat submissions for the same
// (user, question) pair are an upsert on the backend side.
type Answer struct {
	UserID               string `json:"user_id" validate:"required"`
	QuestionID           string `json:"question_id" validate:"required"`
	MeAnswer             int    `json:"me_answer" validate:"min=1,max=6"`
	MeOpenToAll          bool   `json:"me_open_to_all"`
	MeImportance         int    `json:"me_importance" validate:"min=1,max=5"`
	MeShare              bool   `json:"me_share"`
	LookingForAnswer     int    `json:"looking_for_answer" validate:"min=1,max=6"`
	LookingForOpenToAll  bool   `json:"looking_for_open_to_all"`
	LookingForImportance int    `json:"looking_for_importance" validate:"min=1,max=5"`
	LookingForShare      bool   `json:"looking_for_share"`
}

// AnswerRecord is one entry of the paginated GET /answers/ listing. The
// backend has shipped both a flat question_id and a nested question object,
// so both are kept.
type AnswerRecord struct {
	ID                   json.RawMessage `json:"id,omitempty"`
	QuestionID           json.RawMessage `json:"question_id,omitempty"`
	Question             json.RawMessage `json:"question,omitempty"`
	MeAnswer             int             `json:"me_answer,omitempty"`
	MeOpenToAll          bool            `json:"me_open_to_all,omitempty"`
	MeImportance         int             `json:"me_importance,omitempty"`
	MeShare              bool            `json:"me_share,omitempty"`
	LookingForAnswer     int             `json:"looking_for_answer,omitempty"`
	LookingForOpenToAll  bool            `json:"looking_for_open_to_all,omitempty"`
	LookingForImportance int             `json:"looking_for_importance,omitempty"`
	LookingForShare      bool            `json:"looking_for_share,omitempty"`
}

// AsAnswer converts a listing record into the submitted-record shape.
func (rec AnswerRecord) AsAnswer(userID, questionID string) Answer {
	return Answer{
		UserID:               userID,
		QuestionID:           questionID,
		MeAnswer:             rec.MeAnswer,
		MeOpenToAll:          rec.MeOpenToAll,
		MeImportance:         rec.MeImportance,
		MeShare:              rec.MeShare,
		LookingForAnswer:     rec.LookingForAnswer,
		LookingForOpenToAll:  rec.LookingForOpenToAll,
		LookingForImportance: rec.LookingForImportance,
		LookingForShare:      rec.LookingForShare,
	}
}

// AnswerPage is the body of GET /answers/.
type AnswerPage struct {
	Results []AnswerRecord `json:"results"`
	Next    *string        `json:"next"`
}

// ExtractQuestionID returns the question id referenced by rec, preferring the
// flat question_id field and falling back to question.id. ok is false when
// neither yields a usable id.
func (rec AnswerRecord) ExtractQuestionID() (string, bool) {
	if id, ok := rawID(rec.QuestionID); ok {
		return id, true
	}
	if len(rec.Question) == 0 {
		return "", false
	}
	var nested struct {
		ID json.RawMessage `json:"id"`
	}
	trimmed := bytes.TrimSpace(rec.Question)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	if err := json.Unmarshal(trimmed, &nested); err != nil {
		return "", false
	}
	return rawID(nested.ID)
}

// rawID accepts a JSON string or number and returns its canonical string form.
func rawID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	return n.String(), true
}
