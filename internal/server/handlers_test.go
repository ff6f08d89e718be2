package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/drawhub/canvas-relay/internal/database"
	"github.com/drawhub/canvas-relay/internal/media"
	"github.com/drawhub/canvas-relay/internal/stats"
	"github.com/drawhub/canvas-relay/internal/testutil"
	"github.com/drawhub/canvas-relay/internal/types"
)

// joinedClient registers a client and joins it to the given rooms.
func joinedClient(t *testing.T, rs *RelayServer, id, name string, rooms ...types.RoomId) *Client {
	t.Helper()

	c := newTestClient(id, name)
	c.relay = rs
	c.log = testutil.TestLogger(t)
	if err := rs.RegisterClient(c); err != nil {
		t.Fatalf("failed to register client %q: %v", id, err)
	}
	for _, room := range rooms {
		rs.registry.Join(c, room)
	}
	// drain any presence traffic queued during setup
	for len(c.send) > 0 {
		<-c.send
	}
	return c
}

func Test_dispatch_MalformedFrames(t *testing.T) {
	db := &database.MockCanvasRepository{}
	defer db.AssertExpectations(t)

	su := newQuietStats()
	rs := newTestRelayServer(t, db, &media.MockUploader{}, su)

	sender := joinedClient(t, rs, "u1", "alice", "5")
	peer := joinedClient(t, rs, "u2", "bob", "5")

	frames := []string{
		`not json`,
		`{"type":"draw_line","roomId":5}`,
		`{"type":"chat","roomId":5,"message":"hello"}`, // missing userId
		`{"type":"chat","message":"hello","userId":"u1"}`,
	}

	for _, frame := range frames {
		rs.dispatch(sender, []byte(frame))
	}

	assertNoMessage(t, peer)
	assertNoMessage(t, sender)
	db.AssertNotCalled(t, "CreateMessage", mock.Anything)

	// a subsequent valid frame from the same connection is still processed
	db.On("CreateMessage", mock.Anything).Return(database.Message{}, nil).Once()
	rs.dispatch(sender, []byte(`{"type":"chat","roomId":5,"message":"hello","userId":"u1"}`))
	rs.tasks.Wait()

	msg := receiveMessage(t, peer)
	assert.JSONEq(t, `{"type":"chat","message":"hello","userId":"u1"}`, string(msg),
		"expected the valid frame after malformed ones to broadcast")
}

func Test_handleJoin(t *testing.T) {
	rs := newTestRelayServer(t, &database.MockCanvasRepository{}, &media.MockUploader{}, newQuietStats())

	c := newTestClient("u1", "alice")
	c.log = testutil.TestLogger(t)
	assert.NoError(t, rs.RegisterClient(c))

	rs.dispatch(c, []byte(`{"type":"join_room","roomId":5}`))

	msg := receiveMessage(t, c)
	assert.JSONEq(t, `{"type":"users_update","users":[{"userId":"u1","name":"alice"}]}`, string(msg),
		"expected a presence broadcast on join")

	// a re-join is idempotent: no second broadcast
	rs.dispatch(c, []byte(`{"type":"join_room","roomId":5}`))
	assertNoMessage(t, c)

	snapshot := rs.registry.Snapshot("5")
	assert.Len(t, snapshot, 1, "expected one membership entry after a double join")
}

func Test_handleLeave(t *testing.T) {
	rs := newTestRelayServer(t, &database.MockCanvasRepository{}, &media.MockUploader{}, newQuietStats())

	leaver := joinedClient(t, rs, "u1", "alice", "5")
	peer := joinedClient(t, rs, "u2", "bob", "5")

	rs.dispatch(leaver, []byte(`{"type":"leave_room","roomId":5}`))

	msg := receiveMessage(t, peer)
	assert.JSONEq(t, `{"type":"users_update","users":[{"userId":"u2","name":"bob"}]}`, string(msg),
		"expected a presence broadcast omitting the leaver")
	assert.Empty(t, rs.registry.Snapshot("6"), "expected no cross-room traffic")

	// leaving an unjoined room broadcasts nothing
	rs.dispatch(leaver, []byte(`{"type":"leave_room","roomId":6}`))
	assertNoMessage(t, peer)
}

func Test_handleChat(t *testing.T) {
	db := &database.MockCanvasRepository{}
	defer db.AssertExpectations(t)
	db.On("CreateMessage", database.CreateMessageParams{
		RoomId:  5,
		UserId:  "u1",
		Message: "hello",
	}).Return(database.Message{}, nil).Once()

	rs := newTestRelayServer(t, db, &media.MockUploader{}, newQuietStats())

	sender := joinedClient(t, rs, "u1", "alice", "5")
	peer := joinedClient(t, rs, "u2", "bob", "5")
	other := joinedClient(t, rs, "u3", "carol", "6")

	rs.dispatch(sender, []byte(`{"type":"chat","roomId":5,"message":"hello","userId":"u1"}`))
	rs.tasks.Wait()

	for _, c := range []*Client{sender, peer} {
		msg := receiveMessage(t, c)
		assert.JSONEq(t, `{"type":"chat","message":"hello","userId":"u1"}`, string(msg),
			"expected room 5 member %q to receive the chat", c.user.Id)
	}
	assertNoMessage(t, other)
}

func Test_handleChat_PersistFailureDoesNotAffectBroadcast(t *testing.T) {
	db := &database.MockCanvasRepository{}
	defer db.AssertExpectations(t)
	db.On("CreateMessage", mock.Anything).Return(database.Message{}, fmt.Errorf("connection refused")).Once()

	rs := newTestRelayServer(t, db, &media.MockUploader{}, newQuietStats())
	sender := joinedClient(t, rs, "u1", "alice", "5")

	rs.dispatch(sender, []byte(`{"type":"chat","roomId":5,"message":"hello","userId":"u1"}`))
	rs.tasks.Wait()

	msg := receiveMessage(t, sender)
	assert.JSONEq(t, `{"type":"chat","message":"hello","userId":"u1"}`, string(msg),
		"expected the broadcast to go out even though the write failed")
}

func Test_handleTextChat(t *testing.T) {
	db := &database.MockCanvasRepository{}
	defer db.AssertExpectations(t)
	db.On("CreateMessage", database.CreateMessageParams{
		RoomId:      5,
		UserId:      "u1",
		Message:     "hello",
		DisplayName: "alice",
	}).Return(database.Message{}, nil).Once()

	rs := newTestRelayServer(t, db, &media.MockUploader{}, newQuietStats())
	sender := joinedClient(t, rs, "u1", "alice", "5")

	rs.dispatch(sender, []byte(`{"type":"text_chat","roomId":5,"message":"hello","userId":"u1","name":"alice"}`))
	rs.tasks.Wait()

	msg := receiveMessage(t, sender)
	assert.JSONEq(t, `{"type":"text_chat","message":"hello","userId":"u1","user":{"name":"alice"}}`, string(msg),
		"expected the text_chat echo to nest the display name")
}

func Test_handleDeleteChat(t *testing.T) {
	t.Run("deletes the matching triple", func(t *testing.T) {
		db := &database.MockCanvasRepository{}
		defer db.AssertExpectations(t)
		db.On("DeleteMessages", int64(5), "u1", "hello").Return(int64(2), nil).Once()

		rs := newTestRelayServer(t, db, &media.MockUploader{}, newQuietStats())
		sender := joinedClient(t, rs, "u1", "alice", "5")

		rs.dispatch(sender, []byte(`{"type":"delete_chat","roomId":5,"message":"hello","userId":"u1"}`))
		rs.tasks.Wait()

		msg := receiveMessage(t, sender)
		assert.JSONEq(t, `{"type":"delete_chat","message":"hello","userId":"u1"}`, string(msg),
			"expected the delete notification to broadcast")
	})

	t.Run("broadcasts even when nothing matched", func(t *testing.T) {
		db := &database.MockCanvasRepository{}
		defer db.AssertExpectations(t)
		db.On("DeleteMessages", int64(5), "u1", "gone").Return(int64(0), nil).Once()

		rs := newTestRelayServer(t, db, &media.MockUploader{}, newQuietStats())
		sender := joinedClient(t, rs, "u1", "alice", "5")

		rs.dispatch(sender, []byte(`{"type":"delete_chat","roomId":5,"message":"gone","userId":"u1"}`))
		rs.tasks.Wait()

		msg := receiveMessage(t, sender)
		assert.JSONEq(t, `{"type":"delete_chat","message":"gone","userId":"u1"}`, string(msg),
			"expected the delete notification regardless of matches")
	})
}

func Test_handleImageElement(t *testing.T) {
	rawPayload := []byte{0x89, 0x50, 0x4e, 0x47}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(rawPayload)
	inbound := func(msg string) []byte {
		frame, _ := json.Marshal(map[string]any{
			"type":    "image_element",
			"roomId":  5,
			"message": msg,
			"userId":  "u1",
			"name":    "alice",
		})
		return frame
	}

	t.Run("rewrites src to the hosted URL", func(t *testing.T) {
		const hostedURL = "https://media.example.com/abc.png"

		uploader := &media.MockUploader{}
		defer uploader.AssertExpectations(t)
		uploader.On("Upload", mock.Anything, mock.Anything, "image/png", rawPayload).Return(hostedURL, nil).Once()

		db := &database.MockCanvasRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", mock.MatchedBy(func(params database.CreateMessageParams) bool {
			var element map[string]any
			if err := json.Unmarshal([]byte(params.Message), &element); err != nil {
				return false
			}
			return params.RoomId == 5 && params.UserId == "u1" &&
				params.DisplayName == "alice" && element["src"] == hostedURL
		})).Return(database.Message{}, nil).Once()

		rs := newTestRelayServer(t, db, uploader, newQuietStats())
		sender := joinedClient(t, rs, "u1", "alice", "5")

		element, _ := json.Marshal(map[string]any{"src": dataURL, "width": 100})
		rs.dispatch(sender, inbound(string(element)))
		rs.tasks.Wait()

		var echo ServerMessage
		assert.NoError(t, json.Unmarshal(receiveMessage(t, sender), &echo))
		assert.Equal(t, TypeImageElement, echo.Type, "expected an image_element echo")
		assert.Equal(t, "u1", echo.UserId, "expected the sender's user id")
		assert.Equal(t, &userRef{Name: "alice"}, echo.User, "expected the nested display name")

		var broadcastElement map[string]any
		assert.NoError(t, json.Unmarshal([]byte(echo.Message), &broadcastElement))
		assert.Equal(t, hostedURL, broadcastElement["src"], "expected the broadcast src to be the hosted URL")
		assert.Equal(t, float64(100), broadcastElement["width"], "expected other element fields to survive the rewrite")
		assert.NotContains(t, echo.Message, dataURL, "expected the raw payload never to be broadcast")
	})

	t.Run("upload failure drops the event", func(t *testing.T) {
		uploader := &media.MockUploader{}
		defer uploader.AssertExpectations(t)
		uploader.On("Upload", mock.Anything, mock.Anything, "image/png", rawPayload).
			Return("", fmt.Errorf("media host unavailable")).Once()

		db := &database.MockCanvasRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", numActiveConnections).Once()
		su.On("Incr", numFailedUploads).Once()
		defer su.AssertExpectations(t)

		rs := newTestRelayServer(t, db, uploader, su)
		sender := joinedClient(t, rs, "u1", "alice", "5")

		element, _ := json.Marshal(map[string]any{"src": dataURL})
		rs.dispatch(sender, inbound(string(element)))
		rs.tasks.Wait()

		assertNoMessage(t, sender)
		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("non data URL src drops the event", func(t *testing.T) {
		uploader := &media.MockUploader{}
		defer uploader.AssertExpectations(t)

		db := &database.MockCanvasRepository{}
		defer db.AssertExpectations(t)

		rs := newTestRelayServer(t, db, uploader, newQuietStats())
		sender := joinedClient(t, rs, "u1", "alice", "5")

		element, _ := json.Marshal(map[string]any{"src": "https://elsewhere.example.com/x.png"})
		rs.dispatch(sender, inbound(string(element)))
		rs.tasks.Wait()

		assertNoMessage(t, sender)
		uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unparseable element message drops the event", func(t *testing.T) {
		rs := newTestRelayServer(t, &database.MockCanvasRepository{}, &media.MockUploader{}, newQuietStats())
		sender := joinedClient(t, rs, "u1", "alice", "5")

		rs.dispatch(sender, inbound("not an element"))
		rs.tasks.Wait()

		assertNoMessage(t, sender)
	})
}
