package server

import (
	"encoding/json"
	"fmt"

	"github.com/drawhub/canvas-relay/internal/types"
)

const (
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeChat         = "chat"
	TypeTextChat     = "text_chat"
	TypeDeleteChat   = "delete_chat"
	TypeImageElement = "image_element"
	TypeUsersUpdate  = "users_update"
)

// clientEnvelope is the raw shape of an inbound frame. Which fields are
// required depends on the type tag; parseEvent enforces that per kind.
type clientEnvelope struct {
	Type    string        `json:"type"`
	RoomId  *types.RoomId `json:"roomId"`
	Message string        `json:"message"`
	UserId  string        `json:"userId"`
	Name    string        `json:"name"`
}

// Event is one of the six recognized inbound kinds. Dispatch switches over
// the concrete types so a new kind is a compile-time extension point.
type Event interface {
	kind() string
}

type JoinRoom struct {
	RoomId types.RoomId
}

func (JoinRoom) kind() string { return TypeJoinRoom }

type LeaveRoom struct {
	RoomId types.RoomId
}

func (LeaveRoom) kind() string { return TypeLeaveRoom }

type Chat struct {
	RoomId  types.RoomId
	Message string
	UserId  string
}

func (Chat) kind() string { return TypeChat }

type TextChat struct {
	RoomId  types.RoomId
	Message string
	UserId  string
	Name    string
}

func (TextChat) kind() string { return TypeTextChat }

type DeleteChat struct {
	RoomId  types.RoomId
	Message string
	UserId  string
}

func (DeleteChat) kind() string { return TypeDeleteChat }

type ImageElement struct {
	RoomId  types.RoomId
	Message string
	UserId  string
	Name    string
}

func (ImageElement) kind() string { return TypeImageElement }

// parseEvent fails closed: an unparseable frame, an unrecognized type tag or
// a missing required field is an error and the frame is dropped by the caller.
func parseEvent(raw []byte) (Event, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	switch env.Type {
	case TypeJoinRoom:
		if env.RoomId == nil {
			return nil, fmt.Errorf("%s: missing roomId", env.Type)
		}
		return JoinRoom{RoomId: *env.RoomId}, nil
	case TypeLeaveRoom:
		if env.RoomId == nil {
			return nil, fmt.Errorf("%s: missing roomId", env.Type)
		}
		return LeaveRoom{RoomId: *env.RoomId}, nil
	case TypeChat:
		if env.RoomId == nil || env.Message == "" || env.UserId == "" {
			return nil, fmt.Errorf("%s: missing required field", env.Type)
		}
		return Chat{RoomId: *env.RoomId, Message: env.Message, UserId: env.UserId}, nil
	case TypeTextChat:
		if env.RoomId == nil || env.Message == "" || env.UserId == "" || env.Name == "" {
			return nil, fmt.Errorf("%s: missing required field", env.Type)
		}
		return TextChat{RoomId: *env.RoomId, Message: env.Message, UserId: env.UserId, Name: env.Name}, nil
	case TypeDeleteChat:
		if env.RoomId == nil || env.Message == "" || env.UserId == "" {
			return nil, fmt.Errorf("%s: missing required field", env.Type)
		}
		return DeleteChat{RoomId: *env.RoomId, Message: env.Message, UserId: env.UserId}, nil
	case TypeImageElement:
		if env.RoomId == nil || env.Message == "" || env.UserId == "" || env.Name == "" {
			return nil, fmt.Errorf("%s: missing required field", env.Type)
		}
		return ImageElement{RoomId: *env.RoomId, Message: env.Message, UserId: env.UserId, Name: env.Name}, nil
	default:
		return nil, fmt.Errorf("unrecognized type %q", env.Type)
	}
}

// userRef is the nested user object on text_chat and image_element broadcasts.
type userRef struct {
	Name string `json:"name"`
}

// ServerMessage is the broadcast echo for chat-like events.
type ServerMessage struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	UserId  string   `json:"userId"`
	User    *userRef `json:"user,omitempty"`
}

// UsersUpdate is the presence snapshot sent to a room's members whenever its
// membership changes.
type UsersUpdate struct {
	Type  string       `json:"type"`
	Users []types.User `json:"users"`
}

func newUsersUpdate(users []types.User) UsersUpdate {
	if users == nil {
		users = []types.User{}
	}
	return UsersUpdate{Type: TypeUsersUpdate, Users: users}
}
