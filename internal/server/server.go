package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/drawhub/canvas-relay/internal/database"
	"github.com/drawhub/canvas-relay/internal/media"
	"github.com/drawhub/canvas-relay/internal/stats"
	"github.com/drawhub/canvas-relay/internal/types"
)

const (
	numActiveConnections = "NumActiveConnections"
	numMessagesBroadcast = "NumMessagesBroadcast"
	numDroppedFrames     = "NumDroppedFrames"
	numFailedUploads     = "NumFailedUploads"
)

// RelayServer fans typed events out to room members, interleaving persistence
// and media uploads without blocking unrelated connections.
type RelayServer struct {
	log      *log.Logger
	registry *Registry
	db       database.CanvasRepository
	uploader media.Uploader
	stats    stats.StatsProvider
	// tasks tracks in-flight fire-and-forget side effects so shutdown can
	// wait for them
	tasks sync.WaitGroup
}

func NewRelayServer(logger *log.Logger, db database.CanvasRepository, uploader media.Uploader, su stats.StatsProvider) (*RelayServer, error) {
	rs := &RelayServer{
		log:      logger,
		registry: NewRegistry(logger),
		db:       db,
		uploader: uploader,
		stats:    su,
	}

	su.RegisterMetric(numActiveConnections)
	su.RegisterMetric(numMessagesBroadcast)
	su.RegisterMetric(numDroppedFrames)
	su.RegisterMetric(numFailedUploads)

	return rs, nil
}

func (rs *RelayServer) RegisterClient(c *Client) error {
	if err := rs.registry.Register(c); err != nil {
		return err
	}

	rs.log.Printf("registered connection for %q [%s]", c.user.Id, c.session)
	rs.stats.Incr(numActiveConnections)
	return nil
}

// removeClient tears down the registry entry and sends a final presence
// broadcast for each room the identity had joined.
func (rs *RelayServer) removeClient(c *Client) {
	rooms, ok := rs.registry.Unregister(c)
	if !ok {
		return
	}

	rs.log.Printf("removed connection for %q [%s]", c.user.Id, c.session)
	rs.stats.Decr(numActiveConnections)

	for _, room := range rooms {
		rs.broadcastPresence(room)
	}
}

// fanout delivers the payload to every connection currently joined to the
// room. Each send is independent; a failed or skipped recipient never aborts
// the rest.
func (rs *RelayServer) fanout(room types.RoomId, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		rs.log.Println("marshal broadcast payload:", err)
		return
	}

	for _, c := range rs.registry.Members(room) {
		if !c.queueMessage(data) {
			rs.stats.Incr(numDroppedFrames)
		}
	}

	rs.stats.Incr(numMessagesBroadcast)
}

func (rs *RelayServer) broadcastPresence(room types.RoomId) {
	rs.fanout(room, newUsersUpdate(rs.registry.Snapshot(room)))
}

// spawn runs a side effect off the caller's frame loop, best effort.
func (rs *RelayServer) spawn(fn func()) {
	rs.tasks.Add(1)
	go func() {
		defer rs.tasks.Done()
		fn()
	}()
}

// Shutdown closes every live connection and waits for in-flight persistence
// tasks, bounded by ctx.
func (rs *RelayServer) Shutdown(ctx context.Context) error {
	for _, c := range rs.registry.Clients() {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		rs.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
