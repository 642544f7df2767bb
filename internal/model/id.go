package model

import "encoding/json"

// ID is an identifier the backend sends either as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	s, ok := rawID(json.RawMessage(data))
	if !ok {
		*id = ""
		return nil
	}
	*id = ID(s)
	return nil
}

func (id ID) String() string { return string(id) }
