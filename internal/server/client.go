package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
	"github.com/drawhub/canvas-relay/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// image_element frames embed base64 payloads
	maxMessageSize = 1 << 20
)

// Client owns one physical connection: accept has already happened, the
// identity is verified, and the read/write pumps carry frames until the
// transport closes.
type Client struct {
	conn     *websocket.Conn
	relay    *RelayServer
	log      *log.Logger
	user     types.User
	session  string
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, rs *RelayServer, l *log.Logger) *Client {
	session, err := shortid.Generate()
	if err != nil {
		l.Println("generate session id:", err)
	}

	return &Client{
		conn:    conn,
		relay:   rs,
		log:     l,
		user:    user,
		session: session,
		send:    make(chan []byte, 256),
		stop:    make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read [%s]: %v", c.session, err)
			}
			break
		}

		c.relay.dispatch(c, raw)
	}
}

// queueMessage enqueues without blocking; a slow recipient's full buffer
// means the frame is skipped for that recipient only.
func (c *Client) queueMessage(msg []byte) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full for %q [%s], dropping frame", c.user.Id, c.session)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message [%s]: %s", c.session, err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.relay.removeClient(c)
	c.stopClient()
}
