// Package hub is the realtime gateway: it owns websocket connections, room
// membership, and fan-out of conversation events.
package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/event"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type clientBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

// Hub routes frames between connections and rooms. Rooms are sharded by
// conversation id; the actor index maps an employee to their live connection
// with latest-connection-wins semantics.
type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	actors   map[string]*Client
	actorsMu sync.RWMutex

	dispatcher Dispatcher
	logger     *zap.Logger

	allowedOrigins map[string]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Dispatcher consumes inbound frames off the worker pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.WsEvent, c *Client)
}

func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:       make(chan *Client, 1024),
		unregister:     make(chan *Client, 1024),
		inbound:        make(chan inboundMessage, 4096), // buffer for burst handling
		actors:         make(map[string]*Client),
		allowedOrigins: make(map[string]struct{}, len(allowedOrigins)),
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, origin := range allowedOrigins {
		h.allowedOrigins[origin] = struct{}{}
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	go h.run()

	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					if h.dispatcher != nil {
						h.dispatcher.Dispatch(h.ctx, in.event, in.client)
					}
					eventsProcessed.WithLabelValues(in.event.Event).Inc()
				}
			}
		}()
	}

	return h
}

// SetDispatcher wires the frame handler. Must be called before the first
// connection is accepted; frames arriving earlier are dropped.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.trackActor(c)
		case c := <-h.unregister:
			h.dropClient(c)
		}
	}
}

// trackActor records the connection in the actor index. A second connection
// for the same employee replaces and closes the first: latest wins.
func (h *Hub) trackActor(c *Client) {
	h.actorsMu.Lock()
	prev, had := h.actors[c.employeeID]
	h.actors[c.employeeID] = c
	h.actorsMu.Unlock()

	if had && prev != c {
		h.evictFromRooms(prev)
		prev.Close()
	}

	connectionsGauge.Set(float64(h.actorCount()))
	h.logger.Debug("client registered",
		zap.String("client_id", c.ID),
		zap.String("employee_id", c.employeeID),
	)
}

func (h *Hub) actorCount() int {
	h.actorsMu.RLock()
	defer h.actorsMu.RUnlock()
	return len(h.actors)
}

// JoinRoom subscribes the connection to a conversation's fan-out.
func (h *Hub) JoinRoom(c *Client, conversationID string) {
	sh := getShard(conversationID)
	b := h.shards[sh]
	b.Lock()
	room, ok := b.rooms[conversationID]
	if !ok {
		room = make(map[string]*Client)
		b.rooms[conversationID] = room
		roomsGauge.Inc()
	}
	room[c.ID] = c
	b.Unlock()

	c.addRoom(conversationID)
	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("conversation_id", conversationID),
		zap.Uint32("shard", sh),
	)
}

// LeaveRoom unsubscribes the connection; the last member tears the room down.
func (h *Hub) LeaveRoom(c *Client, conversationID string) {
	sh := getShard(conversationID)
	b := h.shards[sh]
	b.Lock()
	if room, ok := b.rooms[conversationID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(b.rooms, conversationID)
			roomsGauge.Dec()
		}
	}
	b.Unlock()

	c.removeRoom(conversationID)
}

// PublishToRoom fans an event to every connection in the room, including the
// originator's other devices.
func (h *Hub) PublishToRoom(conversationID string, ev event.WsEvent) {
	h.deliverToRoom(conversationID, ev, "")
}

// PublishToRoomExcept fans to the room but skips one connection, used for
// typing indicators where the originator already knows.
func (h *Hub) PublishToRoomExcept(conversationID string, ev event.WsEvent, skipClientID string) {
	h.deliverToRoom(conversationID, ev, skipClientID)
}

func (h *Hub) deliverToRoom(conversationID string, ev event.WsEvent, skipClientID string) {
	sh := getShard(conversationID)
	b := h.shards[sh]

	// collect clients while holding RLock
	b.RLock()
	room, ok := b.rooms[conversationID]
	if !ok || len(room) == 0 {
		b.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(room))
	for id, c := range room {
		if id == skipClientID {
			continue
		}
		clients = append(clients, c)
	}
	b.RUnlock()

	// deliver without holding the lock
	for _, c := range clients {
		h.enqueue(c, ev)
	}
}

// NotifyActors delivers an event to each listed employee's live connection,
// whether or not they have the room open. Offline actors are skipped.
func (h *Hub) NotifyActors(employeeIDs []string, ev event.WsEvent) {
	h.actorsMu.RLock()
	clients := make([]*Client, 0, len(employeeIDs))
	for _, id := range employeeIDs {
		if c, ok := h.actors[id]; ok {
			clients = append(clients, c)
		}
	}
	h.actorsMu.RUnlock()

	for _, c := range clients {
		h.enqueue(c, ev)
	}
}

func (h *Hub) enqueue(c *Client, ev event.WsEvent) {
	select {
	case c.egress <- ev:
	case <-time.After(sendTimeout):
		droppedFrames.Inc()
		h.logger.Warn("egress full",
			zap.String("client_id", c.ID),
			zap.String("employee_id", c.employeeID),
		)
		if kickOnFull {
			select {
			case h.unregister <- c:
			default:
			}
		}
	case <-c.ctx.Done():
	}
}

func getShard(conversationID string) uint32 {
	if conversationID == "" {
		return 0
	}
	h := sha1.Sum([]byte(conversationID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (h *Hub) dropClient(c *Client) {
	h.evictFromRooms(c)

	h.actorsMu.Lock()
	if current, ok := h.actors[c.employeeID]; ok && current == c {
		delete(h.actors, c.employeeID)
	}
	h.actorsMu.Unlock()

	c.Close()
	connectionsGauge.Set(float64(h.actorCount()))
	h.logger.Debug("client removed",
		zap.String("client_id", c.ID),
		zap.String("employee_id", c.employeeID),
	)
}

func (h *Hub) evictFromRooms(c *Client) {
	for _, conversationID := range c.roomList() {
		h.LeaveRoom(c, conversationID)
	}
}

func (h *Hub) Stop() {
	h.cancel()

	for _, shard := range h.shards {
		shard.RLock()
		for _, room := range shard.rooms {
			for _, client := range room {
				client.Close()
			}
		}
		shard.RUnlock()
	}

	close(h.inbound)
	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS authenticates the request and upgrades it. The token travels in the
// Authorization header or a token query parameter; a bad token is rejected
// before the upgrade, so the client sees a plain 401 rather than a socket
// close frame.
func (h *Hub) ServeWS(gate *auth.Gate) http.HandlerFunc {
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = h.checkOrigin

	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		actor, err := gate.Verify(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		RegisterClient(actor.EmployeeID, conn, h)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	_, ok := h.allowedOrigins[origin]
	return ok
}
