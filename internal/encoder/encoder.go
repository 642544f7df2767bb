// Package encoder maps slider state to the 1..6 wire value of an answer.
//
// Values 1..5 are slider positions; 6 means "open to all" and carries no
// slider position.
package encoder

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/model"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/validate"
)

const (
	MinSlider     = 1
	MaxSlider     = 5
	MinImportance = 1
	MaxImportance = 5
)

// Decoded is the UI-side view of a wire value.
type Decoded struct {
	Slider    int  `json:"slider"`
	OpenToAll bool `json:"open_to_all"`
}

// Encode returns the wire value for a slider position. openToAll wins over
// any slider value.
func Encode(slider int, openToAll bool) (int, error) {
	if openToAll {
		return model.OpenToAllValue, nil
	}
	if slider < MinSlider || slider > MaxSlider {
		return 0, apperr.Validationf("slider value %d out of range [%d,%d]", slider, MinSlider, MaxSlider)
	}
	return slider, nil
}

// Decode returns the UI state for a wire value. For the open-to-all
// sentinel the slider is not transmitted, so lastKnown (or the default
// placeholder when lastKnown is not a valid position) is returned.
func Decode(wire int, lastKnown ...int) (Decoded, error) {
	switch {
	case wire == model.OpenToAllValue:
		slider := model.DefaultSlider
		if len(lastKnown) > 0 && lastKnown[0] >= MinSlider && lastKnown[0] <= MaxSlider {
			slider = lastKnown[0]
		}
		return Decoded{Slider: slider, OpenToAll: true}, nil
	case wire >= MinSlider && wire <= MaxSlider:
		return Decoded{Slider: wire}, nil
	}
	return Decoded{}, apperr.Validationf("wire value %d out of range [1,%d]", wire, model.OpenToAllValue)
}

// DecodeString decodes a wire value that arrived as text (query string,
// form field). Non-integers are a validation error.
func DecodeString(s string, lastKnown ...int) (Decoded, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Decoded{}, apperr.Validationf("wire value %q is not an integer", s)
	}
	return Decode(n, lastKnown...)
}

// DecodeJSON decodes a wire value from a raw JSON token, rejecting strings,
// fractions and other non-integer payloads.
func DecodeJSON(raw json.RawMessage, lastKnown ...int) (Decoded, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		return Decoded{}, apperr.Validationf("wire value %s is not a number", string(raw))
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return Decoded{}, apperr.Validationf("wire value %s is not a number", string(raw))
	}
	i, err := n.Int64()
	if err != nil {
		return Decoded{}, apperr.Validationf("wire value %s is not an integer", n.String())
	}
	return Decode(int(i), lastKnown...)
}

// Side is one half of an answer: the user's own ("me") or the preferred
// partner's ("looking for").
type Side struct {
	Slider     int  `json:"slider"`
	OpenToAll  bool `json:"open_to_all"`
	Importance int  `json:"importance"`
	Share      bool `json:"share"`
}

func (s Side) encode(name string) (wire, importance int, err error) {
	wire, err = Encode(s.Slider, s.OpenToAll)
	if err != nil {
		return 0, 0, apperr.NewValidationError(nil, apperr.FieldError{Field: name + "_answer", Error: err.Error()})
	}
	importance = s.Importance
	if importance == 0 {
		importance = model.DefaultImportance
	}
	if importance < MinImportance || importance > MaxImportance {
		return 0, 0, apperr.NewValidationError(nil, apperr.FieldError{
			Field: name + "_importance",
			Error: "importance must be between 1 and 5",
		})
	}
	return wire, importance, nil
}

// BuildAnswer produces the wire record for one question.
func BuildAnswer(userID, questionID string, me, lookingFor Side) (model.Answer, error) {
	meWire, meImp, err := me.encode("me")
	if err != nil {
		return model.Answer{}, err
	}
	lfWire, lfImp, err := lookingFor.encode("looking_for")
	if err != nil {
		return model.Answer{}, err
	}
	a := model.Answer{
		UserID:               userID,
		QuestionID:           questionID,
		MeAnswer:             meWire,
		MeOpenToAll:          meWire == model.OpenToAllValue,
		MeImportance:         meImp,
		MeShare:              me.Share,
		LookingForAnswer:     lfWire,
		LookingForOpenToAll:  lfWire == model.OpenToAllValue,
		LookingForImportance: lfImp,
		LookingForShare:      lookingFor.Share,
	}
	if err := ValidateAnswer(a); err != nil {
		return model.Answer{}, err
	}
	return a, nil
}

// ValidateAnswer checks field ranges and that a 6 always travels with the
// matching open_to_all flag.
func ValidateAnswer(a model.Answer) error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	var fields []apperr.FieldError
	if (a.MeAnswer == model.OpenToAllValue) != a.MeOpenToAll {
		fields = append(fields, apperr.FieldError{Field: "me_open_to_all", Error: "must be set exactly when me_answer is 6"})
	}
	if (a.LookingForAnswer == model.OpenToAllValue) != a.LookingForOpenToAll {
		fields = append(fields, apperr.FieldError{Field: "looking_for_open_to_all", Error: "must be set exactly when looking_for_answer is 6"})
	}
	if len(fields) > 0 {
		return apperr.NewValidationError(nil, fields...)
	}
	return nil
}

// SidesFromAnswer decodes a stored answer back into UI state, used by the
// edit-answers view to prefill sliders.
func SidesFromAnswer(a model.Answer) (me, lookingFor Side, err error) {
	md, err := Decode(a.MeAnswer)
	if err != nil {
		return Side{}, Side{}, err
	}
	ld, err := Decode(a.LookingForAnswer)
	if err != nil {
		return Side{}, Side{}, err
	}
	me = Side{Slider: md.Slider, OpenToAll: md.OpenToAll, Importance: a.MeImportance, Share: a.MeShare}
	lookingFor = Side{Slider: ld.Slider, OpenToAll: ld.OpenToAll, Importance: a.LookingForImportance, Share: a.LookingForShare}
	return me, lookingFor, nil
}
