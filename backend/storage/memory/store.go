package memory

import (
	"errors"
	"sync"

	"github.com/adwski/projhub-signaling/backend/model"
)

var (
	ErrAlreadyMember = errors.New("already a member of this room")
	ErrNotAMember    = errors.New("not a member of this room")
)

type room struct {
	members []model.Peer // insertion order
}

func (r *room) index(id string) int {
	for i, p := range r.members {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *room) snapshot() []model.Peer {
	out := make([]model.Peer, len(r.members))
	copy(out, r.members)
	return out
}

// Directory maps room id to its ordered membership.
// A room exists in directory only while it has at least one member.
type Directory struct {
	mx *sync.RWMutex
	db map[string]*room
}

func NewDirectory() *Directory {
	return &Directory{
		mx: &sync.RWMutex{},
		db: make(map[string]*room),
	}
}

// Join adds peer to room and returns membership as it was before the join.
func (d *Directory) Join(roomID string, peer model.Peer) (existing []model.Peer, wasEmpty bool, err error) {
	d.mx.Lock()
	defer d.mx.Unlock()

	r, ok := d.db[roomID]
	if !ok {
		d.db[roomID] = &room{members: []model.Peer{peer}}
		return []model.Peer{}, true, nil
	}
	if r.index(peer.ID) >= 0 {
		return nil, false, ErrAlreadyMember
	}
	existing = r.snapshot()
	r.members = append(r.members, peer)
	return existing, false, nil
}

// Leave removes peer from room and returns remaining membership.
// Room is deleted when it becomes empty.
func (d *Directory) Leave(roomID, peerID string) (remaining []model.Peer, remainingEmpty bool, err error) {
	d.mx.Lock()
	defer d.mx.Unlock()

	r, ok := d.db[roomID]
	if !ok {
		return nil, false, ErrNotAMember
	}
	i := r.index(peerID)
	if i < 0 {
		return nil, false, ErrNotAMember
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	if len(r.members) == 0 {
		delete(d.db, roomID)
		return []model.Peer{}, true, nil
	}
	return r.snapshot(), false, nil
}

func (d *Directory) IsActive(roomID string) bool {
	d.mx.RLock()
	defer d.mx.RUnlock()

	_, ok := d.db[roomID]
	return ok
}

func (d *Directory) Members(roomID string) []model.Peer {
	d.mx.RLock()
	defer d.mx.RUnlock()

	r, ok := d.db[roomID]
	if !ok {
		return nil
	}
	return r.snapshot()
}

func (d *Directory) Len() int {
	d.mx.RLock()
	defer d.mx.RUnlock()
	return len(d.db)
}
