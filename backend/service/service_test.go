package service

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/adwski/projhub-signaling/backend/registry"
	store "github.com/adwski/projhub-signaling/backend/storage/memory"
	sw "github.com/adwski/projhub-signaling/backend/switch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callStatus struct {
	room   string
	active bool
}

type notifierMock struct {
	mx     sync.Mutex
	events []callStatus
}

func (n *notifierMock) NotifyCallStatus(roomID string, active bool) {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.events = append(n.events, callStatus{room: roomID, active: active})
}

func (n *notifierMock) get() []callStatus {
	n.mx.Lock()
	defer n.mx.Unlock()
	return append([]callStatus(nil), n.events...)
}

type client struct {
	id   string
	wire model.Wire
}

// drain returns all events queued for the client so far.
func (c *client) drain() []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-c.wire.TX:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (c *client) named(t *testing.T, name string) []model.Event {
	t.Helper()
	var out []model.Event
	for _, ev := range c.drain() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type presenceEnv struct {
	p        *Presence
	rooms    *store.Directory
	notifier *notifierMock
}

func newPresenceEnv() *presenceEnv {
	logger := zerolog.Nop()
	rooms := store.NewDirectory()
	n := &notifierMock{}
	return &presenceEnv{
		p: NewPresence(PresenceConfig{
			Registry:  registry.New(model.NamespaceVideo),
			Directory: rooms,
			Switch:    sw.NewSwitch(&logger),
			Notifier:  n,
			Logger:    &logger,
		}),
		rooms:    rooms,
		notifier: n,
	}
}

func (e *presenceEnv) connect(t *testing.T) *client {
	t.Helper()
	wire := model.NewWire(64)
	id, err := e.p.Connect(wire)
	require.NoError(t, err)
	c := &client{id: id, wire: wire}
	hello := c.drain()
	require.Len(t, hello, 1)
	require.Equal(t, model.EventConnected, hello[0].Name)
	return c
}

func join(p *Presence, c *client, room, name string) {
	p.Join(c.id, model.JoinRoomRequest{RoomID: room, Username: &name})
}

func decodePeers(t *testing.T, ev model.Event) []model.Peer {
	t.Helper()
	var peers []model.Peer
	require.NoError(t, json.Unmarshal(ev.Data, &peers))
	return peers
}

func decodePeer(t *testing.T, ev model.Event) model.Peer {
	t.Helper()
	var peer model.Peer
	require.NoError(t, json.Unmarshal(ev.Data, &peer))
	return peer
}

func decodeID(t *testing.T, ev model.Event) string {
	t.Helper()
	var id string
	require.NoError(t, json.Unmarshal(ev.Data, &id))
	return id
}

func TestPresence_MeshScenario(t *testing.T) {
	env := newPresenceEnv()
	a, b, c := env.connect(t), env.connect(t), env.connect(t)

	join(env.p, a, "p1", "A")
	evs := a.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventExistingPeers, evs[0].Name)
	assert.JSONEq(t, `[]`, string(evs[0].Data))
	assert.True(t, env.p.IsActive("p1"))

	join(env.p, b, "p1", "B")
	evs = b.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, []model.Peer{{ID: a.id, Name: "A"}}, decodePeers(t, evs[0]))
	evs = a.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventPeerJoined, evs[0].Name)
	assert.Equal(t, model.Peer{ID: b.id, Name: "B"}, decodePeer(t, evs[0]))

	join(env.p, c, "p1", "C")
	evs = c.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, []model.Peer{{ID: a.id, Name: "A"}, {ID: b.id, Name: "B"}}, decodePeers(t, evs[0]))
	for _, other := range []*client{a, b} {
		evs = other.drain()
		require.Len(t, evs, 1)
		assert.Equal(t, model.EventPeerJoined, evs[0].Name)
		assert.Equal(t, model.Peer{ID: c.id, Name: "C"}, decodePeer(t, evs[0]))
	}
	assert.True(t, env.p.IsActive("p1"))

	env.p.Disconnect(a.id)
	for _, other := range []*client{b, c} {
		evs = other.drain()
		require.Len(t, evs, 1)
		assert.Equal(t, model.EventPeerLeft, evs[0].Name)
		assert.Equal(t, a.id, decodeID(t, evs[0]))
	}
	assert.True(t, env.p.IsActive("p1"))

	env.p.Disconnect(c.id)
	assert.True(t, env.p.IsActive("p1"))
	env.p.Disconnect(b.id)
	assert.False(t, env.p.IsActive("p1"))

	assert.Equal(t, []callStatus{
		{room: "p1", active: true},
		{room: "p1", active: false},
	}, env.notifier.get())
}

func TestPresence_JoinerReceivesSnapshotFirst(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)
	join(env.p, a, "p1", "A")

	join(env.p, b, "p1", "B")
	// Joiner's snapshot is queued before anyone else is notified, so once
	// A sees peer-joined, B's existing-peers is already waiting.
	require.Len(t, a.named(t, model.EventPeerJoined), 1)
	assert.Len(t, b.wire.TX, 1)
}

func TestPresence_DefaultDisplayName(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)
	env.p.Join(a.id, model.JoinRoomRequest{RoomID: "p1"})
	a.drain()

	join(env.p, b, "p1", "B")
	peers := decodePeers(t, b.drain()[0])
	require.Len(t, peers, 1)
	assert.Equal(t, model.DefaultDisplayName, peers[0].Name)
}

func TestPresence_DuplicateJoinRejected(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)
	join(env.p, a, "p1", "A")
	join(env.p, b, "p1", "B")
	a.drain()
	b.drain()

	join(env.p, a, "p1", "A")
	evs := a.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventError, evs[0].Name)
	assert.Empty(t, b.drain())

	join(env.p, a, "p2", "A")
	evs = a.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventError, evs[0].Name)
	assert.False(t, env.p.IsActive("p2"))
	assert.Len(t, env.rooms.Members("p1"), 2)
	assert.Len(t, env.notifier.get(), 1)
}

func TestPresence_JoinWithoutRoom(t *testing.T) {
	env := newPresenceEnv()
	a := env.connect(t)
	env.p.Join(a.id, model.JoinRoomRequest{})
	evs := a.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventError, evs[0].Name)
	assert.Empty(t, env.notifier.get())
}

func TestPresence_LeaveThenDisconnectIsIdempotent(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)
	join(env.p, a, "p1", "A")
	join(env.p, b, "p1", "B")
	b.drain()

	env.p.Leave(a.id)
	env.p.Leave(a.id)
	env.p.Disconnect(a.id)
	env.p.Disconnect(a.id)

	assert.Len(t, b.named(t, model.EventPeerLeft), 1)
	assert.Equal(t, []model.Peer{{ID: b.id, Name: "B"}}, env.rooms.Members("p1"))

	env.p.Leave(b.id)
	env.p.Disconnect(b.id)
	assert.False(t, env.p.IsActive("p1"))
	assert.Equal(t, []callStatus{
		{room: "p1", active: true},
		{room: "p1", active: false},
	}, env.notifier.get())
}

func TestPresence_DisconnectMatchesLeave(t *testing.T) {
	run := func(explicitLeave bool) ([]model.Peer, []callStatus, int) {
		env := newPresenceEnv()
		a, b := env.connect(t), env.connect(t)
		join(env.p, a, "p1", "A")
		join(env.p, b, "p1", "B")
		b.drain()
		if explicitLeave {
			env.p.Leave(a.id)
		}
		env.p.Disconnect(a.id)
		return env.rooms.Members("p1"), env.notifier.get(), len(b.named(t, model.EventPeerLeft))
	}

	m1, n1, l1 := run(true)
	m2, n2, l2 := run(false)
	assert.Equal(t, len(m1), len(m2))
	assert.Equal(t, n1, n2)
	assert.Equal(t, 1, l1)
	assert.Equal(t, 1, l2)
}

func TestPresence_RejoinAfterLeave(t *testing.T) {
	env := newPresenceEnv()
	a := env.connect(t)
	join(env.p, a, "p1", "A")
	env.p.Leave(a.id)
	join(env.p, a, "p2", "A")
	assert.False(t, env.p.IsActive("p1"))
	assert.True(t, env.p.IsActive("p2"))
	assert.Equal(t, []callStatus{
		{room: "p1", active: true},
		{room: "p1", active: false},
		{room: "p2", active: true},
	}, env.notifier.get())
}

func TestPresence_NotifierOnlyOnEdges(t *testing.T) {
	env := newPresenceEnv()
	clients := make([]*client, 5)
	for i := range clients {
		clients[i] = env.connect(t)
		join(env.p, clients[i], "p1", "x")
	}
	for _, c := range clients[:4] {
		env.p.Leave(c.id)
	}
	assert.Len(t, env.notifier.get(), 1)
	env.p.Disconnect(clients[4].id)
	assert.Equal(t, []callStatus{
		{room: "p1", active: true},
		{room: "p1", active: false},
	}, env.notifier.get())
}

func TestPresence_Signal(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)
	join(env.p, a, "p1", "A")
	join(env.p, b, "p1", "B")
	a.drain()
	b.drain()

	env.p.Signal(a.id, model.SignalRequest{To: b.id, Data: json.RawMessage(`{"sdp":"offer"}`)})
	evs := b.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventSignal, evs[0].Name)
	var got model.SignalDelivery
	require.NoError(t, json.Unmarshal(evs[0].Data, &got))
	assert.Equal(t, a.id, got.From)
	assert.Equal(t, "A", got.Name)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(got.Data))
	assert.Empty(t, a.drain())
}

func TestPresence_SignalDrops(t *testing.T) {
	env := newPresenceEnv()
	a, b, idle := env.connect(t), env.connect(t), env.connect(t)
	join(env.p, a, "p1", "A")
	join(env.p, b, "p1", "B")
	a.drain()
	b.drain()

	// sender never joined
	env.p.Signal(idle.id, model.SignalRequest{To: b.id, Data: json.RawMessage(`1`)})
	assert.Empty(t, b.drain())

	// target gone
	env.p.Disconnect(b.id)
	a.drain()
	assert.NotPanics(t, func() {
		env.p.Signal(a.id, model.SignalRequest{To: b.id, Data: json.RawMessage(`1`)})
		env.p.Signal(a.id, model.SignalRequest{To: "ghost", Data: json.RawMessage(`1`)})
	})
	assert.Empty(t, a.drain())
}

func TestPresence_SignalAfterLeaveKeepsName(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)
	join(env.p, a, "p1", "A")
	join(env.p, b, "p2", "B")
	env.p.Leave(a.id)
	b.drain()

	env.p.Signal(a.id, model.SignalRequest{To: b.id, Data: json.RawMessage(`{}`)})
	evs := b.drain()
	require.Len(t, evs, 1)
	var got model.SignalDelivery
	require.NoError(t, json.Unmarshal(evs[0].Data, &got))
	assert.Equal(t, "A", got.Name)
}

func TestPresence_Handle(t *testing.T) {
	env := newPresenceEnv()
	a, b := env.connect(t), env.connect(t)

	env.p.Handle(a.id, model.Event{Name: model.EventJoinRoom, Data: json.RawMessage(`{"roomId":"p1","username":"A"}`)})
	env.p.Handle(b.id, model.Event{Name: model.EventJoinRoom, Data: json.RawMessage(`{"roomId":"p1"}`)})
	assert.Len(t, env.rooms.Members("p1"), 2)
	a.drain()
	b.drain()

	env.p.Handle(b.id, model.Event{Name: model.EventSignal, Data: json.RawMessage(`{"to":"` + a.id + `","data":{"candidate":"x"}}`)})
	evs := a.named(t, model.EventSignal)
	require.Len(t, evs, 1)

	env.p.Handle(b.id, model.Event{Name: model.EventJoinRoom, Data: json.RawMessage(`{bad`)})
	env.p.Handle(b.id, model.Event{Name: "bogus"})
	assert.Empty(t, b.drain())

	env.p.Handle(b.id, model.Event{Name: model.EventLeaveRoom})
	assert.Len(t, a.named(t, model.EventPeerLeft), 1)
}

func TestPresence_ConcurrentChurn(t *testing.T) {
	env := newPresenceEnv()
	wg := &sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wire := model.NewWire(1024)
			id, err := env.p.Connect(wire)
			if err != nil {
				return
			}
			name := "x"
			env.p.Join(id, model.JoinRoomRequest{RoomID: "p1", Username: &name})
			env.p.Leave(id)
			env.p.Join(id, model.JoinRoomRequest{RoomID: "p1", Username: &name})
			env.p.Disconnect(id)
		}()
	}
	wg.Wait()

	assert.False(t, env.p.IsActive("p1"))
	var active, inactive int
	for _, ev := range env.notifier.get() {
		if ev.active {
			active++
		} else {
			inactive++
		}
	}
	assert.Equal(t, active, inactive)
	assert.Positive(t, active)
}

type chatEnv struct {
	c *Chat
}

func newChatEnv() *chatEnv {
	logger := zerolog.Nop()
	return &chatEnv{
		c: NewChat(ChatConfig{
			Registry:  registry.New(model.NamespaceChat),
			Directory: store.NewDirectory(),
			Switch:    sw.NewSwitch(&logger),
			Logger:    &logger,
		}),
	}
}

func (e *chatEnv) connect(t *testing.T) *client {
	t.Helper()
	wire := model.NewWire(64)
	id, err := e.c.Connect(wire)
	require.NoError(t, err)
	c := &client{id: id, wire: wire}
	c.drain()
	return c
}

func TestChat_BroadcastIncludesSender(t *testing.T) {
	env := newChatEnv()
	x, y, z := env.connect(t), env.connect(t), env.connect(t)
	env.c.JoinProject(x.id, "p1")
	env.c.JoinProject(y.id, "p1")
	env.c.JoinProject(z.id, "p2")

	msg := json.RawMessage(`{"projectId":"p1","content":"hi"}`)
	env.c.SendMessage(x.id, msg)

	for _, c := range []*client{x, y} {
		evs := c.drain()
		require.Len(t, evs, 1)
		assert.Equal(t, model.EventReceiveMessage, evs[0].Name)
		assert.JSONEq(t, string(msg), string(evs[0].Data))
	}
	assert.Empty(t, z.drain())
}

func TestChat_MoveSubscription(t *testing.T) {
	env := newChatEnv()
	x := env.connect(t)
	env.c.JoinProject(x.id, "p1")
	env.c.JoinProject(x.id, "p1")
	env.c.JoinProject(x.id, "p2")

	env.c.SendMessage(x.id, json.RawMessage(`{"projectId":"p1","content":"a"}`))
	assert.Empty(t, x.drain())
	env.c.SendMessage(x.id, json.RawMessage(`{"projectId":"p2","content":"b"}`))
	assert.Len(t, x.drain(), 1)
}

func TestChat_DisconnectedSubscriberSkipped(t *testing.T) {
	env := newChatEnv()
	x, y := env.connect(t), env.connect(t)
	env.c.JoinProject(x.id, "p1")
	env.c.JoinProject(y.id, "p1")
	env.c.Disconnect(y.id)
	env.c.Disconnect(y.id)

	assert.Equal(t, 1, env.c.Broadcast("p1", model.Event{Name: model.EventReceiveMessage}))
}

func TestChat_Handle(t *testing.T) {
	env := newChatEnv()
	x, y := env.connect(t), env.connect(t)
	env.c.Handle(x.id, model.Event{Name: model.EventJoinProject, Data: json.RawMessage(`"p1"`)})
	env.c.Handle(y.id, model.Event{Name: model.EventJoinProject, Data: json.RawMessage(`{"projectId":"p1"}`)})

	env.c.Handle(y.id, model.Event{Name: model.EventSendMessage, Data: json.RawMessage(`{"projectId":"p1","content":"hi"}`)})
	assert.Len(t, x.named(t, model.EventReceiveMessage), 1)
	assert.Len(t, y.named(t, model.EventReceiveMessage), 1)

	env.c.Handle(y.id, model.Event{Name: model.EventSendMessage, Data: json.RawMessage(`{"content":"no project"}`)})
	env.c.Handle(y.id, model.Event{Name: model.EventJoinProject, Data: json.RawMessage(`42`)})
	env.c.Handle(y.id, model.Event{Name: "bogus"})
	assert.Empty(t, x.drain())
}

func TestChat_NotifyCallStatus(t *testing.T) {
	env := newChatEnv()
	x, other := env.connect(t), env.connect(t)
	env.c.JoinProject(x.id, "p1")
	env.c.JoinProject(other.id, "p2")

	env.c.NotifyCallStatus("p1", true)
	evs := x.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventCallStatusChange, evs[0].Name)
	assert.JSONEq(t, `{"isActive":true,"projectId":"p1"}`, string(evs[0].Data))
	assert.Empty(t, other.drain())

	assert.NotPanics(t, func() { env.c.NotifyCallStatus("nobody", false) })
}

func TestPresenceToChatNotification(t *testing.T) {
	logger := zerolog.Nop()
	switcher := sw.NewSwitch(&logger)
	chat := NewChat(ChatConfig{
		Registry:  registry.New(model.NamespaceChat),
		Directory: store.NewDirectory(),
		Switch:    switcher,
		Logger:    &logger,
	})
	presence := NewPresence(PresenceConfig{
		Registry:  registry.New(model.NamespaceVideo),
		Directory: store.NewDirectory(),
		Switch:    switcher,
		Notifier:  chat,
		Logger:    &logger,
	})

	observerWire := model.NewWire(16)
	observer, err := chat.Connect(observerWire)
	require.NoError(t, err)
	chat.JoinProject(observer, "p1")

	a := model.NewWire(16)
	aID, err := presence.Connect(a)
	require.NoError(t, err)
	b := model.NewWire(16)
	bID, err := presence.Connect(b)
	require.NoError(t, err)

	presence.Join(aID, model.JoinRoomRequest{RoomID: "p1"})
	presence.Join(bID, model.JoinRoomRequest{RoomID: "p1"})
	presence.Disconnect(aID)
	presence.Disconnect(bID)

	obs := &client{id: observer, wire: observerWire}
	evs := obs.named(t, model.EventCallStatusChange)
	require.Len(t, evs, 2)
	assert.JSONEq(t, `{"isActive":true,"projectId":"p1"}`, string(evs[0].Data))
	assert.JSONEq(t, `{"isActive":false,"projectId":"p1"}`, string(evs[1].Data))
}
