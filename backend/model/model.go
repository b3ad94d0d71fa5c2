package model

import (
	"encoding/json"
	"strings"
)

type Namespace string

const (
	NamespaceChat  Namespace = "chat"
	NamespaceVideo Namespace = "video"
)

// DefaultDisplayName is used when a video peer joins without a username.
const DefaultDisplayName = "Anonymous"

// Events sent by server.
const (
	EventConnected        = "connected"
	EventError            = "error"
	EventExistingPeers    = "existing-peers"
	EventPeerJoined       = "peer-joined"
	EventPeerLeft         = "peer-left"
	EventSignal           = "signal"
	EventReceiveMessage   = "receive_message"
	EventCallStatusChange = "call-status-change"
)

// Events sent by clients.
const (
	EventJoinProject = "join_project"
	EventSendMessage = "send_message"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
)

// Event is a single frame on the wire in either direction.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, data any) (Event, error) {
	if data == nil {
		return Event{Name: name}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: b}, nil
}

type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Connected struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type JoinRoomRequest struct {
	RoomID   string  `json:"roomId"`
	Username *string `json:"username,omitempty"`
}

// DisplayName returns trimmed username or DefaultDisplayName if it is absent.
func (r JoinRoomRequest) DisplayName() string {
	if r.Username == nil {
		return DefaultDisplayName
	}
	if name := strings.TrimSpace(*r.Username); name != "" {
		return name
	}
	return DefaultDisplayName
}

type SignalRequest struct {
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

type SignalDelivery struct {
	From string          `json:"from"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type CallStatus struct {
	IsActive  bool   `json:"isActive"`
	ProjectID string `json:"projectId"`
}

// ProjectRef is accepted by join_project either as a bare JSON string
// or as an object with projectId field.
type ProjectRef struct {
	ProjectID string `json:"projectId"`
}

func (p *ProjectRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		p.ProjectID = id
		return nil
	}
	var obj struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	p.ProjectID = obj.ProjectID
	return nil
}

// Wire is an outbound queue of a single live connection.
type Wire struct {
	TX chan Event
}

func NewWire(size int) Wire {
	return Wire{
		TX: make(chan Event, size),
	}
}
