package service

import (
	"encoding/json"
	"sync"

	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/rs/zerolog"
)

type (
	// Chat relays messages to project subscribers. It also implements
	// CallStatusNotifier so that video presence can reach chat observers.
	Chat struct {
		mx     *sync.Mutex
		conns  ConnectionRegistry
		rooms  RoomDirectory
		sw     Switch
		logger zerolog.Logger
	}

	ChatConfig struct {
		Registry  ConnectionRegistry
		Directory RoomDirectory
		Switch    Switch
		Logger    *zerolog.Logger
	}
)

func NewChat(cfg ChatConfig) *Chat {
	return &Chat{
		mx:     &sync.Mutex{},
		conns:  cfg.Registry,
		rooms:  cfg.Directory,
		sw:     cfg.Switch,
		logger: cfg.Logger.With().Str("component", "chat").Logger(),
	}
}

func (c *Chat) Connect(wire model.Wire) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return connect(c.conns, c.sw, wire, &c.logger)
}

func (c *Chat) Disconnect(id string) {
	c.mx.Lock()
	defer c.mx.Unlock()

	conn, ok := c.conns.Disconnect(id)
	if !ok {
		return
	}
	c.sw.Disconnect(id)
	if conn.Room != "" {
		_, _, _ = c.rooms.Leave(conn.Room, id)
	}
}

func (c *Chat) Handle(id string, ev model.Event) {
	logger := c.logger.With().Str("conn", id).Str("event", ev.Name).Logger()

	switch ev.Name {
	case model.EventJoinProject:
		var ref model.ProjectRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			logger.Error().Err(err).Msg("malformed join request")
			return
		}
		c.JoinProject(id, ref.ProjectID)
	case model.EventSendMessage:
		c.SendMessage(id, ev.Data)
	default:
		logger.Warn().Msg("unknown event")
	}
}

// JoinProject subscribes connection to the project room.
// Subscription to another project is dropped first.
func (c *Chat) JoinProject(id, projectID string) {
	logger := c.logger.With().Str("conn", id).Str("projectID", projectID).Logger()
	if projectID == "" {
		logger.Debug().Msg("empty project id")
		return
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	conn, ok := c.conns.Get(id)
	if !ok {
		return
	}
	if conn.Room == projectID {
		return
	}
	if conn.Room != "" {
		_, _, _ = c.rooms.Leave(conn.Room, id)
	}
	if _, _, err := c.rooms.Join(projectID, model.Peer{ID: id}); err != nil {
		logger.Error().Err(err).Msg("unable to subscribe")
		return
	}
	_ = c.conns.SetRoom(id, projectID)
	logger.Debug().Msg("subscribed to project")
}

// SendMessage fans message out to every subscriber of its project,
// sender included. Message is relayed verbatim.
func (c *Chat) SendMessage(id string, msg json.RawMessage) {
	logger := c.logger.With().Str("conn", id).Logger()

	var ref struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(msg, &ref); err != nil || ref.ProjectID == "" {
		logger.Error().Err(err).Msg("message without project id")
		return
	}
	n := c.Broadcast(ref.ProjectID, model.Event{Name: model.EventReceiveMessage, Data: msg})
	logger.Debug().Str("projectID", ref.ProjectID).Int("delivered", n).Msg("message relayed")
}

// Broadcast delivers event to all subscribers of the project.
func (c *Chat) Broadcast(projectID string, ev model.Event) int {
	return c.sw.Multicast(peerIDs(c.rooms.Members(projectID)), "", ev)
}

func (c *Chat) NotifyCallStatus(roomID string, active bool) {
	ev, err := model.NewEvent(model.EventCallStatusChange, model.CallStatus{
		IsActive:  active,
		ProjectID: roomID,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to build call status event")
		return
	}
	n := c.Broadcast(roomID, ev)
	c.logger.Debug().
		Str("projectID", roomID).
		Bool("active", active).
		Int("delivered", n).
		Msg("call status notified")
}
