package hub

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"teamchat/internal/event"
)

// newTestClient builds a client without a live socket. The connClosed channel
// is pre-closed so Close never waits on a write pump that is not running.
func newTestClient(h *Hub, employeeID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:         uuid.NewString(),
		employeeID: employeeID,
		hub:        h,
		egress:     make(chan event.WsEvent, sendBufSize),
		rooms:      make(map[string]struct{}),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}
	c.connClosedOnce.Do(func() { close(c.connClosed) })
	return c
}

func drain(t *testing.T, c *Client) []event.WsEvent {
	t.Helper()
	var out []event.WsEvent
	for {
		select {
		case ev := <-c.egress:
			out = append(out, ev)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func TestPublishToRoomFansOutToMembers(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	a := newTestClient(h, "emp-1")
	b := newTestClient(h, "emp-2")
	c := newTestClient(h, "emp-3")
	h.JoinRoom(a, "conv-1")
	h.JoinRoom(b, "conv-1")
	h.JoinRoom(c, "conv-2")

	ev, err := event.NewEvent(event.EventNewMessage, event.NewMessageEvent{})
	req.NoError(err)
	h.PublishToRoom("conv-1", ev)

	req.Len(drain(t, a), 1)
	req.Len(drain(t, b), 1)
	req.Empty(drain(t, c), "other rooms stay quiet")
}

func TestPublishToRoomExceptSkipsOrigin(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	origin := newTestClient(h, "emp-1")
	other := newTestClient(h, "emp-2")
	h.JoinRoom(origin, "conv-1")
	h.JoinRoom(other, "conv-1")

	ev, err := event.NewEvent(event.EventEmployeeTyping, event.EmployeeTypingEvent{
		ConversationID: "conv-1", EmployeeID: "emp-1", IsTyping: true,
	})
	req.NoError(err)
	h.PublishToRoomExcept("conv-1", ev, origin.ID)

	req.Empty(drain(t, origin))
	req.Len(drain(t, other), 1)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	c := newTestClient(h, "emp-1")
	h.JoinRoom(c, "conv-1")
	h.LeaveRoom(c, "conv-1")
	req.False(c.inRoom("conv-1"))

	ev, err := event.NewEvent(event.EventNewMessage, event.NewMessageEvent{})
	req.NoError(err)
	h.PublishToRoom("conv-1", ev)
	req.Empty(drain(t, c))
}

func TestNotifyActorsReachesOnlyOnline(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	online := newTestClient(h, "emp-1")
	h.trackActor(online)

	ev, err := event.NewEvent(event.EventParticipantsAdded, event.ConversationEvent{ConversationID: "conv-1"})
	req.NoError(err)
	h.NotifyActors([]string{"emp-1", "emp-offline"}, ev)

	got := drain(t, online)
	req.Len(got, 1)
	req.Equal(event.EventParticipantsAdded, got[0].Event)
}

func TestLatestConnectionWins(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	first := newTestClient(h, "emp-1")
	h.trackActor(first)
	h.JoinRoom(first, "conv-1")

	second := newTestClient(h, "emp-1")
	h.trackActor(second)

	req.True(first.IsClosed(), "replaced connection is closed")
	req.False(first.inRoom("conv-1"), "replaced connection is evicted from rooms")

	ev, err := event.NewEvent(event.EventNewMessage, event.NewMessageEvent{})
	req.NoError(err)
	h.NotifyActors([]string{"emp-1"}, ev)
	req.Len(drain(t, second), 1)
}

func TestDropClientCleansUp(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	c := newTestClient(h, "emp-1")
	h.trackActor(c)
	h.JoinRoom(c, "conv-1")
	h.JoinRoom(c, "conv-2")

	h.dropClient(c)

	req.True(c.IsClosed())
	req.Empty(c.roomList())
	req.Zero(h.actorCount())

	sh := h.shards[getShard("conv-1")]
	sh.RLock()
	_, exists := sh.rooms["conv-1"]
	sh.RUnlock()
	req.False(exists, "empty room is torn down")
}

func TestDispatcherReceivesInboundFrames(t *testing.T) {
	req := require.New(t)
	h := NewHub(nil, zap.NewNop())
	defer h.Stop()

	got := make(chan event.WsEvent, 1)
	h.SetDispatcher(dispatchFunc(func(_ context.Context, ev event.WsEvent, _ *Client) {
		got <- ev
	}))

	c := newTestClient(h, "emp-1")
	ev, err := event.NewEvent(event.EventTyping, event.TypingPayload{ConversationID: "conv-1"})
	req.NoError(err)
	h.inbound <- inboundMessage{event: ev, client: c}

	select {
	case received := <-got:
		req.Equal(event.EventTyping, received.Event)
	case <-time.After(time.Second):
		t.Fatal("dispatcher never saw the frame")
	}
}

func TestCheckOrigin(t *testing.T) {
	req := require.New(t)

	open := NewHub(nil, zap.NewNop())
	defer open.Stop()
	restricted := NewHub([]string{"https://app.example.com"}, zap.NewNop())
	defer restricted.Stop()

	r := httptest.NewRequest("GET", "/ws", nil)
	req.True(open.checkOrigin(r), "no origin header always passes")

	r.Header.Set("Origin", "https://evil.example.com")
	req.True(open.checkOrigin(r), "no allow-list means every origin passes")
	req.False(restricted.checkOrigin(r))

	r.Header.Set("Origin", "https://app.example.com")
	req.True(restricted.checkOrigin(r))
}

type dispatchFunc func(ctx context.Context, ev event.WsEvent, c *Client)

func (f dispatchFunc) Dispatch(ctx context.Context, ev event.WsEvent, c *Client) {
	f(ctx, ev, c)
}
