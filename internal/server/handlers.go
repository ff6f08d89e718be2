package server

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/drawhub/canvas-relay/internal/database"
	"github.com/drawhub/canvas-relay/internal/media"
	"github.com/drawhub/canvas-relay/internal/types"
)

// dispatch classifies one inbound frame and routes it to its handler. A
// malformed frame is dropped and logged; the connection stays open and later
// frames are still processed.
func (rs *RelayServer) dispatch(c *Client, raw []byte) {
	ev, err := parseEvent(raw)
	if err != nil {
		rs.log.Printf("dropping frame from %q [%s]: %v", c.user.Id, c.session, err)
		rs.stats.Incr(numDroppedFrames)
		return
	}

	switch ev := ev.(type) {
	case JoinRoom:
		rs.handleJoin(c, ev)
	case LeaveRoom:
		rs.handleLeave(c, ev)
	case Chat:
		rs.handleChat(ev)
	case TextChat:
		rs.handleTextChat(ev)
	case DeleteChat:
		rs.handleDeleteChat(ev)
	case ImageElement:
		rs.handleImageElement(ev)
	}
}

func (rs *RelayServer) handleJoin(c *Client, ev JoinRoom) {
	// join is idempotent: a re-join changes nothing and needs no re-broadcast
	if rs.registry.Join(c, ev.RoomId) {
		rs.broadcastPresence(ev.RoomId)
	}
}

func (rs *RelayServer) handleLeave(c *Client, ev LeaveRoom) {
	if rs.registry.Leave(c, ev.RoomId) {
		rs.broadcastPresence(ev.RoomId)
	}
}

func (rs *RelayServer) handleChat(ev Chat) {
	rs.fanout(ev.RoomId, ServerMessage{
		Type:    TypeChat,
		Message: ev.Message,
		UserId:  ev.UserId,
	})

	rs.persistMessage(ev.RoomId, ev.UserId, ev.Message, "")
}

func (rs *RelayServer) handleTextChat(ev TextChat) {
	rs.fanout(ev.RoomId, ServerMessage{
		Type:    TypeTextChat,
		Message: ev.Message,
		UserId:  ev.UserId,
		User:    &userRef{Name: ev.Name},
	})

	rs.persistMessage(ev.RoomId, ev.UserId, ev.Message, ev.Name)
}

func (rs *RelayServer) handleDeleteChat(ev DeleteChat) {
	// the delete notification goes out whether or not any record matches
	rs.fanout(ev.RoomId, ServerMessage{
		Type:    TypeDeleteChat,
		Message: ev.Message,
		UserId:  ev.UserId,
	})

	rs.spawn(func() {
		roomId, err := parseRoomId(ev.RoomId)
		if err != nil {
			rs.log.Println("delete chat:", err)
			return
		}

		n, err := rs.db.DeleteMessages(roomId, ev.UserId, ev.Message)
		if err != nil {
			rs.log.Println("delete messages:", err)
			return
		}
		rs.log.Printf("deleted %d chat record(s) in room %s", n, ev.RoomId)
	})
}

// handleImageElement uploads the embedded raw payload and rewrites the src
// reference to the hosted URL before broadcasting and persisting. If the
// upload fails the whole event is dropped; the sender is not notified.
func (rs *RelayServer) handleImageElement(ev ImageElement) {
	var element map[string]any
	if err := json.Unmarshal([]byte(ev.Message), &element); err != nil {
		rs.log.Println("image element: parse message:", err)
		rs.stats.Incr(numDroppedFrames)
		return
	}

	src, ok := element["src"].(string)
	if !ok || src == "" {
		rs.log.Println("image element: missing src")
		rs.stats.Incr(numDroppedFrames)
		return
	}

	contentType, data, err := media.ParseDataURL(src)
	if err != nil {
		rs.log.Println("image element:", err)
		rs.stats.Incr(numDroppedFrames)
		return
	}

	name := uuid.NewString()
	if ext, ok := strings.CutPrefix(contentType, "image/"); ok {
		name += "." + ext
	}

	hostedURL, err := rs.uploader.Upload(context.Background(), name, contentType, data)
	if err != nil {
		rs.log.Println("image element: upload:", err)
		rs.stats.Incr(numFailedUploads)
		return
	}

	element["src"] = hostedURL
	rewritten, err := json.Marshal(element)
	if err != nil {
		rs.log.Println("image element: rewrite message:", err)
		return
	}

	rs.fanout(ev.RoomId, ServerMessage{
		Type:    TypeImageElement,
		Message: string(rewritten),
		UserId:  ev.UserId,
		User:    &userRef{Name: ev.Name},
	})

	rs.persistMessage(ev.RoomId, ev.UserId, string(rewritten), ev.Name)
}

// persistMessage writes the chat record off the frame loop. The broadcast has
// already gone out; a failed write is logged, never rolled back to the sender.
func (rs *RelayServer) persistMessage(room types.RoomId, userId, message, displayName string) {
	rs.spawn(func() {
		roomId, err := parseRoomId(room)
		if err != nil {
			rs.log.Println("persist message:", err)
			return
		}

		if _, err := rs.db.CreateMessage(database.CreateMessageParams{
			RoomId:      roomId,
			UserId:      userId,
			Message:     message,
			DisplayName: displayName,
		}); err != nil {
			rs.log.Println("create message:", err)
		}
	})
}

func parseRoomId(room types.RoomId) (int64, error) {
	return strconv.ParseInt(string(room), 10, 64)
}
