package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/testutil"
	"github.com/real-rm/supportchat/internal/util"
)

type harness struct {
	t      *testing.T
	store  *session.Store
	reg    *registry.Registry
	router *EventRouter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testutil.TestLogger()
	bus := events.NewBus(logger)
	store := session.NewStore(bus, logger, session.Options{CloseGracePeriod: time.Minute})
	reg := registry.New(logger)
	r := New(store, reg, bus, ratelimit.NewMessageLimiter(time.Minute, 5), logger)
	t.Cleanup(r.Shutdown)
	return &harness{t: t, store: store, reg: reg, router: r}
}

// connect registers a new connection for identity and runs the connect replay
func (h *harness) connect(identity auth.Identity) *testutil.RecordingHandle {
	c := testutil.NewRecordingHandle(identity)
	h.reg.Register(identity.ParticipantID, identity.Role, c)
	h.router.Connected(c)
	return c
}

func (h *harness) disconnect(c *testutil.RecordingHandle) {
	h.reg.Unregister(c)
}

func (h *harness) route(c *testutil.RecordingHandle, t message.EventType, payload any) error {
	h.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(h.t, err)
	return h.router.Route(context.Background(), c, &message.Envelope{Type: t, Data: data})
}

func customer(id string) auth.Identity {
	return auth.Identity{ParticipantID: id, Role: auth.RoleCustomer, Name: "Customer " + id}
}

func guest(id string) auth.Identity {
	return auth.Identity{ParticipantID: "guest:" + id, Role: auth.RoleCustomer, IsGuest: true}
}

func agent(id string) auth.Identity {
	return auth.Identity{ParticipantID: id, Role: auth.RoleAgent, Name: "Agent " + id}
}

func admin(id string) auth.Identity {
	return auth.Identity{ParticipantID: id, Role: auth.RoleAdmin, Name: "Admin " + id}
}

// openRoom has c request a chat and returns the new room id
func (h *harness) openRoom(c *testutil.RecordingHandle) string {
	h.t.Helper()
	require.NoError(h.t, h.route(c, message.TypeNewChatRequest, message.NewChatRequest{Department: "billing"}))
	room, ok := h.store.OpenRoomFor(c.Identity().ParticipantID)
	require.True(h.t, ok)
	return room.ID
}

func TestRoute_Rejections(t *testing.T) {
	h := newHarness(t)
	c := h.connect(customer("c1"))

	t.Run("nil arguments", func(t *testing.T) {
		assert.ErrorIs(t, h.router.Route(context.Background(), nil, &message.Envelope{}), ErrNilClient)
		assert.ErrorIs(t, h.router.Route(context.Background(), c, nil), ErrNilEnvelope)
	})

	t.Run("unknown event", func(t *testing.T) {
		require.Error(t, h.route(c, "dance", map[string]string{}))
		assert.Equal(t, "UNKNOWN_EVENT", c.LastError(t).Code)
	})

	t.Run("missing room id", func(t *testing.T) {
		require.Error(t, h.route(c, message.TypeSendMessage, map[string]string{"body": "hi"}))
		assert.Equal(t, "MISSING_FIELD", c.LastError(t).Code)
	})

	t.Run("malformed data", func(t *testing.T) {
		err := h.router.Route(context.Background(), c, &message.Envelope{
			Type: message.TypeSendMessage,
			Data: json.RawMessage(`"not an object"`),
		})
		require.Error(t, err)
		assert.Equal(t, "INVALID_FORMAT", c.LastError(t).Code)
	})

	t.Run("customer cannot accept", func(t *testing.T) {
		require.Error(t, h.route(c, message.TypeAcceptChat, message.RoomRef{RoomID: "r1"}))
		info := c.LastError(t)
		assert.Equal(t, "FORBIDDEN", info.Code)
		assert.True(t, info.Recoverable)
	})

	t.Run("errors go to the origin only", func(t *testing.T) {
		other := h.connect(customer("c2"))
		require.Error(t, h.route(c, "dance", nil))
		assert.Empty(t, other.Of(message.TypeError))
	})
}


// syncBuffer collects log output written from several goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRoute_KeepsCallerTraceID(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := events.NewBus(logger)
	store := session.NewStore(bus, logger, session.Options{})
	r := New(store, registry.New(logger), bus, ratelimit.NewMessageLimiter(time.Minute, 5), logger)
	t.Cleanup(r.Shutdown)

	c := testutil.NewRecordingHandle(customer("c1"))
	ctx := util.ContextWithTraceID(context.Background(), "req-42")
	require.Error(t, r.Route(ctx, c, &message.Envelope{Type: "fly"}))
	assert.Contains(t, logs.String(), `"trace_id":"req-42"`)

	require.Error(t, r.Route(context.Background(), c, &message.Envelope{Type: "fly"}))
	assert.Equal(t, 1, strings.Count(logs.String(), `"trace_id":"req-42"`))
	assert.NotContains(t, logs.String(), `"trace_id":""`)
}

func TestNewChatRequest_AnnouncesToStaff(t *testing.T) {
	h := newHarness(t)
	a1 := h.connect(agent("a1"))
	ad := h.connect(admin("ad"))
	c := h.connect(customer("c1"))

	roomID := h.openRoom(c)

	for _, staff := range []*testutil.RecordingHandle{a1, ad} {
		frames := staff.Of(message.TypeNewChatRequest)
		require.Len(t, frames, 1)
		room := testutil.Decode[message.RoomPayload](t, frames[0])
		assert.Equal(t, roomID, room.RoomID)
		assert.Equal(t, "c1", room.CustomerID)
		assert.Equal(t, "billing", room.Department)
		assert.Equal(t, "waiting", room.State)
	}
	assert.Empty(t, c.Of(message.TypeNewChatRequest))
}

func TestNewChatRequest_RejectsOtherCustomerID(t *testing.T) {
	h := newHarness(t)
	c := h.connect(customer("c1"))

	require.Error(t, h.route(c, message.TypeNewChatRequest, message.NewChatRequest{CustomerID: "c2"}))
	assert.Equal(t, "FORBIDDEN", c.LastError(t).Code)

	g := h.connect(guest("visitor-0001"))
	require.NoError(t, h.route(g, message.TypeNewChatRequest, message.NewChatRequest{CustomerID: "visitor-0001"}))
}

func TestNewChatRequest_DuplicateReplaysOpenRoom(t *testing.T) {
	h := newHarness(t)
	a1 := h.connect(agent("a1"))
	c := h.connect(customer("c1"))
	roomID := h.openRoom(c)
	a1.Reset()

	require.NoError(t, h.route(c, message.TypeNewChatRequest, message.NewChatRequest{}))

	frames := c.Of(message.TypeExistingWaitingChats)
	require.Len(t, frames, 1)
	payload := testutil.Decode[message.ExistingChatsPayload](t, frames[0])
	require.Len(t, payload.Rooms, 1)
	assert.Equal(t, roomID, payload.Rooms[0].RoomID)
	assert.Empty(t, c.Of(message.TypeError))
	assert.Empty(t, a1.Of(message.TypeNewChatRequest), "no second room is announced")
}

func TestAcceptChat_NotifiesEveryone(t *testing.T) {
	h := newHarness(t)
	a1 := h.connect(agent("a1"))
	a2 := h.connect(agent("a2"))
	c := h.connect(customer("c1"))
	roomID := h.openRoom(c)

	require.NoError(t, h.route(a1, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}))

	require.Len(t, a1.Of(message.TypeChatAccepted), 1)
	require.Len(t, c.Of(message.TypeChatAccepted), 1)
	accepted := testutil.Decode[message.RoomPayload](t, c.Of(message.TypeChatAccepted)[0])
	assert.Equal(t, "active", accepted.State)
	assert.Equal(t, "a1", accepted.AgentID)

	joined := c.Of(message.TypeAgentJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "a1", testutil.Decode[message.AgentJoinedPayload](t, joined[0]).AgentID)

	taken := a2.Of(message.TypeChatTaken)
	require.Len(t, taken, 1)
	assert.Equal(t, roomID, testutil.Decode[message.ChatTakenPayload](t, taken[0]).RoomID)
	assert.Empty(t, a1.Of(message.TypeChatTaken))
	assert.Empty(t, a2.Of(message.TypeChatAccepted))
}

func TestAcceptChat_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	c := h.connect(customer("c1"))
	roomID := h.openRoom(c)

	const n = 8
	agents := make([]*testutil.RecordingHandle, n)
	for i := range agents {
		agents[i] = h.connect(agent(fmt.Sprintf("a%d", i)))
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.route(a, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	var accepted, conflicts int
	for _, a := range agents {
		accepted += len(a.Of(message.TypeChatAccepted))
		for _, e := range a.Of(message.TypeError) {
			assert.Equal(t, "ALREADY_CLAIMED", e.Error.Code)
			conflicts++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, c.Of(message.TypeChatAccepted), 1)
}

func TestAcceptChat_HiddenAcrossOrganizations(t *testing.T) {
	h := newHarness(t)
	other := agent("a1")
	other.OrganizationID = "org-b"
	a1 := h.connect(other)

	cust := customer("c1")
	cust.OrganizationID = "org-a"
	c := h.connect(cust)
	roomID := h.openRoom(c)

	assert.Empty(t, a1.Of(message.TypeNewChatRequest))
	require.Error(t, h.route(a1, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}))
	assert.Equal(t, "ROOM_NOT_FOUND", a1.LastError(t).Code)
}

func activeRoom(t *testing.T, h *harness) (c, a *testutil.RecordingHandle, roomID string) {
	t.Helper()
	a = h.connect(agent("a1"))
	c = h.connect(customer("c1"))
	roomID = h.openRoom(c)
	require.NoError(t, h.route(a, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}))
	c.Reset()
	a.Reset()
	return c, a, roomID
}

func TestSendMessage_DeliveredToBothSides(t *testing.T) {
	h := newHarness(t)
	c, a, roomID := activeRoom(t, h)
	c2 := h.connect(customer("c1")) // second tab
	c2.Reset()

	require.NoError(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "hello"}))
	require.NoError(t, h.route(a, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "hi, how can I help?"}))

	for _, rec := range []*testutil.RecordingHandle{c, c2, a} {
		frames := rec.Of(message.TypeNewMessage)
		require.Len(t, frames, 2)
		first := testutil.Decode[message.ChatMessagePayload](t, frames[0])
		second := testutil.Decode[message.ChatMessagePayload](t, frames[1])
		assert.Equal(t, "hello", first.Body)
		assert.Equal(t, "c1", first.SenderID)
		assert.Equal(t, "customer", first.SenderRole)
		assert.Equal(t, "a1", second.SenderID)
		assert.Greater(t, second.ID, first.ID)
	}
}

func TestSendMessage_AdminObserverGetsOwnMessage(t *testing.T) {
	h := newHarness(t)
	c, a, roomID := activeRoom(t, h)
	ad := h.connect(admin("ad"))
	ad.Reset()

	require.NoError(t, h.route(ad, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "supervisor here"}))

	for _, rec := range []*testutil.RecordingHandle{c, a, ad} {
		assert.Len(t, rec.Of(message.TypeNewMessage), 1)
	}
}

func TestSendMessage_Rejections(t *testing.T) {
	h := newHarness(t)
	c, _, roomID := activeRoom(t, h)
	outsider := h.connect(customer("c9"))

	require.Error(t, h.route(outsider, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "let me in"}))
	assert.Equal(t, "NOT_PARTICIPANT", outsider.LastError(t).Code)

	require.Error(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: "missing", Body: "x"}))
	assert.Equal(t, "ROOM_NOT_FOUND", c.LastError(t).Code)
}

func TestSendMessage_RateLimited(t *testing.T) {
	h := newHarness(t)
	c, _, roomID := activeRoom(t, h)

	for i := range 5 {
		require.NoError(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: fmt.Sprintf("m%d", i)}))
	}
	require.Error(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "one too many"}))

	info := c.LastError(t)
	assert.Equal(t, "TOO_MANY_REQUESTS", info.Code)
	assert.Positive(t, info.RetryAfter)
	assert.Len(t, c.Of(message.TypeNewMessage), 5)
}

func TestSendMessage_AfterCloseFails(t *testing.T) {
	h := newHarness(t)
	c, a, roomID := activeRoom(t, h)

	require.NoError(t, h.route(a, message.TypeCloseChat, message.RoomRef{RoomID: roomID}))
	require.Error(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "wait"}))

	assert.Equal(t, "ROOM_CLOSED", c.LastError(t).Code)
	assert.Empty(t, a.Of(message.TypeNewMessage))
}

func TestTyping_RelayedToCounterpartOnly(t *testing.T) {
	h := newHarness(t)
	c, a, roomID := activeRoom(t, h)

	require.NoError(t, h.route(c, message.TypeTyping, message.RoomRef{RoomID: roomID}))
	require.NoError(t, h.route(c, message.TypeStopTyping, message.RoomRef{RoomID: roomID}))

	assert.Equal(t, []message.EventType{message.TypeUserTyping, message.TypeUserStopTyping}, a.Types())
	assert.Empty(t, c.Types())
	typing := testutil.Decode[message.TypingPayload](t, a.Of(message.TypeUserTyping)[0])
	assert.Equal(t, "c1", typing.ParticipantID)
	assert.Equal(t, "customer", typing.Role)

	history, err := h.store.History(roomID, 0)
	require.NoError(t, err)
	for range history {
		t.Fatal("typing indicators must not be stored")
	}
}

func TestTyping_WaitingRoomHasNoCounterpart(t *testing.T) {
	h := newHarness(t)
	a := h.connect(agent("a1"))
	c := h.connect(customer("c1"))
	roomID := h.openRoom(c)
	a.Reset()

	require.NoError(t, h.route(c, message.TypeTyping, message.RoomRef{RoomID: roomID}))
	assert.Empty(t, a.Types())
}

func TestCloseChat_IdempotentBroadcast(t *testing.T) {
	h := newHarness(t)
	c, a, roomID := activeRoom(t, h)

	require.NoError(t, h.route(c, message.TypeCloseChat, message.RoomRef{RoomID: roomID}))
	require.NoError(t, h.route(a, message.TypeCloseChat, message.RoomRef{RoomID: roomID}))

	for _, rec := range []*testutil.RecordingHandle{c, a} {
		frames := rec.Of(message.TypeChatClosed)
		require.Len(t, frames, 1)
		closed := testutil.Decode[message.ChatClosedPayload](t, frames[0])
		assert.Equal(t, "c1", closed.ClosedBy)
		assert.Equal(t, "active", closed.PreviousState)
		assert.False(t, closed.ClosedAt.IsZero())
	}

	_, ok := h.store.OpenRoomFor("c1")
	assert.False(t, ok)
}

func TestCloseChat_WaitingRoomRetractedFromStaff(t *testing.T) {
	h := newHarness(t)
	a := h.connect(agent("a1"))
	c := h.connect(customer("c1"))
	roomID := h.openRoom(c)

	require.NoError(t, h.route(c, message.TypeCloseChat, message.RoomRef{RoomID: roomID}))

	require.Len(t, a.Of(message.TypeChatClosed), 1)
	require.Len(t, c.Of(message.TypeChatClosed), 1)
	assert.Equal(t, "waiting", testutil.Decode[message.ChatClosedPayload](t, a.Of(message.TypeChatClosed)[0]).PreviousState)

	require.Error(t, h.route(a, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}))
	assert.Equal(t, "ROOM_NOT_FOUND", a.LastError(t).Code)
}

func TestCloseChat_OutsiderRejected(t *testing.T) {
	h := newHarness(t)
	_, _, roomID := activeRoom(t, h)
	other := h.connect(agent("a2"))

	require.Error(t, h.route(other, message.TypeCloseChat, message.RoomRef{RoomID: roomID}))
	assert.Equal(t, "NOT_PARTICIPANT", other.LastError(t).Code)

	ad := h.connect(admin("ad"))
	require.NoError(t, h.route(ad, message.TypeCloseChat, message.RoomRef{RoomID: roomID}))
	assert.Len(t, ad.Of(message.TypeChatClosed), 1)
}

func TestAdminOfOtherOrganization_SeesRoomAsMissing(t *testing.T) {
	h := newHarness(t)
	cust := customer("c1")
	cust.OrganizationID = "org-a"
	c := h.connect(cust)
	roomID := h.openRoom(c)

	owner := agent("a1")
	owner.OrganizationID = "org-a"
	a1 := h.connect(owner)
	require.NoError(t, h.route(a1, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}))

	outsider := admin("ad-b")
	outsider.OrganizationID = "org-b"
	ad := h.connect(outsider)
	c.Reset()
	a1.Reset()

	attempts := []struct {
		event   message.EventType
		payload any
	}{
		{message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "hello from elsewhere"}},
		{message.TypeTyping, message.RoomRef{RoomID: roomID}},
		{message.TypeTransferChat, message.TransferChat{RoomID: roomID, AgentID: "ad-b"}},
		{message.TypeCloseChat, message.RoomRef{RoomID: roomID}},
	}
	for _, attempt := range attempts {
		require.Error(t, h.route(ad, attempt.event, attempt.payload), attempt.event)
		assert.Equal(t, "ROOM_NOT_FOUND", ad.LastError(t).Code, attempt.event)
	}

	assert.Empty(t, c.Of(message.TypeNewMessage))
	assert.Empty(t, c.Of(message.TypeUserTyping))
	assert.Empty(t, c.Of(message.TypeChatClosed))
	room, err := h.store.Get(roomID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, room.State)
	assert.Equal(t, "a1", room.AgentID)

	_, _, err = h.router.CloseRoom(context.Background(), outsider, roomID)
	assert.ErrorIs(t, err, session.ErrRoomNotFound)
}

func TestTransferChat(t *testing.T) {
	h := newHarness(t)
	c, a1, roomID := activeRoom(t, h)
	require.NoError(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "my invoice is wrong"}))
	a2 := h.connect(agent("a2"))
	a2.Reset()
	c.Reset()
	a1.Reset()

	require.NoError(t, h.route(a1, message.TypeTransferChat, message.TransferChat{RoomID: roomID, AgentID: "a2"}))

	for _, rec := range []*testutil.RecordingHandle{c, a1, a2} {
		frames := rec.Of(message.TypeAgentJoined)
		require.Len(t, frames, 1)
		joined := testutil.Decode[message.AgentJoinedPayload](t, frames[0])
		assert.Equal(t, "a2", joined.AgentID)
		assert.Equal(t, "a1", joined.PreviousAgentID)
	}

	active := a2.Of(message.TypeExistingActiveChats)
	require.Len(t, active, 1)
	payload := testutil.Decode[message.ExistingChatsPayload](t, active[0])
	require.Len(t, payload.Rooms, 1)
	require.Len(t, payload.Rooms[0].Messages, 1)
	assert.Equal(t, "my invoice is wrong", payload.Rooms[0].Messages[0].Body)

	// the previous agent is no longer a participant
	require.Error(t, h.route(a1, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "still here?"}))
	assert.Equal(t, "NOT_PARTICIPANT", a1.LastError(t).Code)
}

func TestTransferChat_Rejections(t *testing.T) {
	h := newHarness(t)
	_, a1, roomID := activeRoom(t, h)
	a2 := h.connect(agent("a2"))

	require.Error(t, h.route(a2, message.TypeTransferChat, message.TransferChat{RoomID: roomID, AgentID: "a2"}))
	assert.Equal(t, "FORBIDDEN", a2.LastError(t).Code)

	require.Error(t, h.route(a1, message.TypeTransferChat, message.TransferChat{RoomID: roomID, AgentID: "offline"}))
	assert.Equal(t, "AGENT_UNAVAILABLE", a1.LastError(t).Code)
}

func TestConnected_GuestReconnectGetsHistory(t *testing.T) {
	h := newHarness(t)
	a := h.connect(agent("a1"))
	g := h.connect(guest("visitor-0001"))
	roomID := h.openRoom(g)
	require.NoError(t, h.route(a, message.TypeAcceptChat, message.RoomRef{RoomID: roomID}))
	for _, body := range []string{"one", "two"} {
		require.NoError(t, h.route(g, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: body}))
	}
	require.NoError(t, h.route(a, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "three"}))

	h.disconnect(g)
	again := h.connect(guest("visitor-0001"))

	frames := again.Of(message.TypeExistingActiveChats)
	require.Len(t, frames, 1)
	payload := testutil.Decode[message.ExistingChatsPayload](t, frames[0])
	require.Len(t, payload.Rooms, 1)
	room := payload.Rooms[0]
	assert.Equal(t, roomID, room.RoomID)
	assert.True(t, room.IsGuest)
	require.Len(t, room.Messages, 3)
	assert.Equal(t, []string{"one", "two", "three"},
		[]string{room.Messages[0].Body, room.Messages[1].Body, room.Messages[2].Body})
}

func TestConnected_ReplayByRole(t *testing.T) {
	h := newHarness(t)
	a1 := h.connect(agent("a1"))
	c1 := h.connect(customer("c1"))
	c2 := h.connect(customer("c2"))
	waitingID := h.openRoom(c1)
	activeID := h.openRoom(c2)
	require.NoError(t, h.route(a1, message.TypeAcceptChat, message.RoomRef{RoomID: activeID}))

	rooms := func(rec *testutil.RecordingHandle, t2 message.EventType) []string {
		frames := rec.Of(t2)
		require.Len(t, frames, 1)
		var ids []string
		for _, r := range testutil.Decode[message.ExistingChatsPayload](t, frames[0]).Rooms {
			ids = append(ids, r.RoomID)
		}
		return ids
	}

	agentTab := h.connect(agent("a1"))
	assert.Equal(t, []string{waitingID}, rooms(agentTab, message.TypeExistingWaitingChats))
	assert.Equal(t, []string{activeID}, rooms(agentTab, message.TypeExistingActiveChats))

	idle := h.connect(agent("a2"))
	assert.Equal(t, []string{waitingID}, rooms(idle, message.TypeExistingWaitingChats))
	assert.Empty(t, rooms(idle, message.TypeExistingActiveChats))

	ad := h.connect(admin("ad"))
	assert.Equal(t, []string{activeID}, rooms(ad, message.TypeExistingActiveChats))

	fresh := h.connect(customer("c3"))
	assert.Empty(t, fresh.Types())
}

func TestDeliver_FullHandleDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	c, a, roomID := activeRoom(t, h)
	a.SetFull(true)

	require.NoError(t, h.route(c, message.TypeSendMessage, message.SendMessage{RoomID: roomID, Body: "anyone?"}))
	assert.Len(t, c.Of(message.TypeNewMessage), 1)
	assert.Empty(t, a.Of(message.TypeNewMessage))
}

func TestShutdown_DetachesBroadcaster(t *testing.T) {
	h := newHarness(t)
	a := h.connect(agent("a1"))
	c := h.connect(customer("c1"))

	h.router.Shutdown()
	_, err := h.store.CreateRoom(context.Background(), c.Identity(), session.RoomMetadata{})
	require.NoError(t, err)
	assert.Empty(t, a.Of(message.TypeNewChatRequest))
}
