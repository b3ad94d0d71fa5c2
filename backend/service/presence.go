package service

import (
	"encoding/json"
	"sync"

	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/adwski/projhub-signaling/backend/registry"
	"github.com/rs/zerolog"
)

type (
	// Presence runs join/leave state machine of video namespace
	// and relays signals between peers.
	Presence struct {
		mx       *sync.Mutex // serializes membership changes with their emptiness checks
		conns    ConnectionRegistry
		rooms    RoomDirectory
		sw       Switch
		notifier CallStatusNotifier
		logger   zerolog.Logger
	}

	PresenceConfig struct {
		Registry  ConnectionRegistry
		Directory RoomDirectory
		Switch    Switch
		Notifier  CallStatusNotifier
		Logger    *zerolog.Logger
	}
)

func NewPresence(cfg PresenceConfig) *Presence {
	return &Presence{
		mx:       &sync.Mutex{},
		conns:    cfg.Registry,
		rooms:    cfg.Directory,
		sw:       cfg.Switch,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.With().Str("component", "presence").Logger(),
	}
}

func (p *Presence) Connect(wire model.Wire) (string, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	return connect(p.conns, p.sw, wire, &p.logger)
}

// Disconnect tears down connection and leaves its room if any.
// Repeated calls are no-ops.
func (p *Presence) Disconnect(id string) {
	p.mx.Lock()
	defer p.mx.Unlock()

	conn, ok := p.conns.Disconnect(id)
	if !ok {
		return
	}
	p.sw.Disconnect(id)
	p.leave(conn)
}

// IsActive reports whether a call is going on in the room.
func (p *Presence) IsActive(roomID string) bool {
	return p.rooms.IsActive(roomID)
}

func (p *Presence) Handle(id string, ev model.Event) {
	logger := p.logger.With().Str("conn", id).Str("event", ev.Name).Logger()

	switch ev.Name {
	case model.EventJoinRoom:
		var req model.JoinRoomRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			logger.Error().Err(err).Msg("malformed join request")
			return
		}
		p.Join(id, req)
	case model.EventSignal:
		var req model.SignalRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			logger.Error().Err(err).Msg("malformed signal")
			return
		}
		p.Signal(id, req)
	case model.EventLeaveRoom:
		p.Leave(id)
	default:
		logger.Warn().Msg("unknown event")
	}
}

// Join adds connection to the room. Joiner gets pre-join snapshot first,
// then others are told about the joiner. A connection already in a room is
// rejected with an error event.
func (p *Presence) Join(id string, req model.JoinRoomRequest) {
	logger := p.logger.With().Str("conn", id).Str("roomID", req.RoomID).Logger()

	p.mx.Lock()
	defer p.mx.Unlock()

	conn, ok := p.conns.Get(id)
	if !ok {
		logger.Debug().Msg("join from unknown connection")
		return
	}
	if req.RoomID == "" {
		emit(p.sw, id, model.EventError, model.ErrorPayload{Message: errMsgRoomRequired}, &logger)
		return
	}
	if conn.Room != "" {
		logger.Debug().Str("currentRoomID", conn.Room).Msg("duplicate join rejected")
		emit(p.sw, id, model.EventError, model.ErrorPayload{Message: errMsgAlreadyInRoom}, &logger)
		return
	}

	self := model.Peer{ID: id, Name: req.DisplayName()}
	existing, wasEmpty, err := p.rooms.Join(req.RoomID, self)
	if err != nil {
		logger.Error().Err(err).Msg("directory join failed")
		emit(p.sw, id, model.EventError, model.ErrorPayload{Message: errMsgJoinFailed}, &logger)
		return
	}
	_ = p.conns.SetRoom(id, req.RoomID)
	_ = p.conns.SetName(id, self.Name)

	emit(p.sw, id, model.EventExistingPeers, existing, &logger)
	n := multicast(p.sw, existing, id, model.EventPeerJoined, self, &logger)

	logger.Debug().
		Str("name", self.Name).
		Int("peers", len(existing)).
		Int("notified", n).
		Msg("peer joined room")

	if wasEmpty && p.notifier != nil {
		p.notifier.NotifyCallStatus(req.RoomID, true)
	}
}

func (p *Presence) Leave(id string) {
	p.mx.Lock()
	defer p.mx.Unlock()

	conn, ok := p.conns.Get(id)
	if !ok {
		return
	}
	p.leave(conn)
}

// leave must be called with p.mx held.
func (p *Presence) leave(conn registry.Connection) {
	if conn.Room == "" {
		return
	}
	logger := p.logger.With().Str("conn", conn.ID).Str("roomID", conn.Room).Logger()

	remaining, empty, err := p.rooms.Leave(conn.Room, conn.ID)
	_ = p.conns.SetRoom(conn.ID, "")
	if err != nil {
		logger.Debug().Err(err).Msg("directory leave failed")
		return
	}

	n := multicast(p.sw, remaining, conn.ID, model.EventPeerLeft, conn.ID, &logger)
	logger.Debug().Int("notified", n).Msg("peer left room")

	if empty && p.notifier != nil {
		p.notifier.NotifyCallStatus(conn.Room, false)
	}
}

// Signal relays opaque payload to the target connection.
// Unknown target, or sender that never joined a room, results in a drop.
func (p *Presence) Signal(id string, req model.SignalRequest) {
	logger := p.logger.With().Str("from", id).Str("to", req.To).Logger()

	sender, ok := p.conns.Get(id)
	if !ok || !sender.Joined {
		logger.Debug().Msg("signal from connection that never joined, dropped")
		return
	}
	if _, ok = p.conns.Get(req.To); !ok {
		logger.Debug().Msg("signal target is not connected, dropped")
		return
	}
	if !emit(p.sw, req.To, model.EventSignal, model.SignalDelivery{
		From: id,
		Name: sender.Name,
		Data: req.Data,
	}, &logger) {
		logger.Debug().Msg("signal was not delivered")
	}
}
