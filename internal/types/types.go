package types

import (
	"encoding/json"
	"fmt"
)

// User is the wire representation of a verified identity.
type User struct {
	Id   string `json:"userId"`
	Name string `json:"name"`
}

// RoomId is an opaque grouping key. Clients send it as a JSON number or a
// string; persisted records store it numerically, everywhere else it is
// treated as a comparable token.
type RoomId string

func (r RoomId) String() string {
	return string(r)
}

func (r *RoomId) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*r = RoomId(n.String())
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("room id must be a number or string: %w", err)
	}

	*r = RoomId(s)
	return nil
}

func (r RoomId) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}
