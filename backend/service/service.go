package service

import (
	"errors"

	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/adwski/projhub-signaling/backend/registry"
	"github.com/rs/zerolog"
)

var (
	ErrConnect = errors.New("unable to connect")
)

const (
	errMsgAlreadyInRoom = "already in room"
	errMsgRoomRequired  = "roomId is required"
	errMsgJoinFailed    = "unable to join room"
)

type (
	RoomDirectory interface {
		Join(roomID string, peer model.Peer) ([]model.Peer, bool, error)
		Leave(roomID, peerID string) ([]model.Peer, bool, error)
		IsActive(roomID string) bool
		Members(roomID string) []model.Peer
	}

	ConnectionRegistry interface {
		Connect() string
		Disconnect(id string) (registry.Connection, bool)
		Get(id string) (registry.Connection, bool)
		SetRoom(id, room string) error
		SetName(id, name string) error
	}

	Switch interface {
		Connect(endpoint string, wire model.Wire) error
		Disconnect(endpoint string)
		Send(dst string, ev model.Event) bool
		Multicast(dsts []string, skip string, ev model.Event) int
	}

	// CallStatusNotifier receives 0->1 and 1->0 membership transitions
	// of video rooms.
	CallStatusNotifier interface {
		NotifyCallStatus(roomID string, active bool)
	}
)

// connect registers connection in both registry and switch
// and greets it with its own id.
func connect(conns ConnectionRegistry, sw Switch, wire model.Wire, logger *zerolog.Logger) (string, error) {
	id := conns.Connect()
	if err := sw.Connect(id, wire); err != nil {
		conns.Disconnect(id)
		return "", errors.Join(ErrConnect, err)
	}
	emit(sw, id, model.EventConnected, model.Connected{ID: id}, logger)
	return id, nil
}

func emit(sw Switch, dst, name string, data any, logger *zerolog.Logger) bool {
	ev, err := model.NewEvent(name, data)
	if err != nil {
		logger.Error().Err(err).Str("event", name).Msg("failed to build event")
		return false
	}
	return sw.Send(dst, ev)
}

func multicast(sw Switch, peers []model.Peer, skip, name string, data any, logger *zerolog.Logger) int {
	ev, err := model.NewEvent(name, data)
	if err != nil {
		logger.Error().Err(err).Str("event", name).Msg("failed to build event")
		return 0
	}
	return sw.Multicast(peerIDs(peers), skip, ev)
}

func peerIDs(peers []model.Peer) []string {
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	return ids
}
