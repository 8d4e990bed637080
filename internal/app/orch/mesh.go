package orch

import (
	"sort"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

type linkKey struct {
	peer domain.PeerID
	dir  domain.Direction
}

// Link is one slot of the mesh. Conn is nil while the call is still negotiating.
type Link struct {
	Peer      domain.PeerID
	Direction domain.Direction
	Conn      core.MediaConnection
	Since     time.Time
}

func (l *Link) Pending() bool { return l.Conn == nil }

// LinkInfo is a read-only view of an established link.
type LinkInfo struct {
	Peer      domain.PeerID    `json:"peer"`
	Direction domain.Direction `json:"direction"`
	Sending   bool             `json:"sending"`
	Since     time.Time        `json:"since"`
}

// Mesh is the set of links of one session. It is owned by the orchestrator loop
// and is not safe for concurrent use.
type Mesh struct {
	links map[linkKey]*Link
	now   func() time.Time
}

func NewMesh(now func() time.Time) *Mesh {
	if now == nil {
		now = time.Now
	}
	return &Mesh{links: make(map[linkKey]*Link), now: now}
}

// Has reports whether any link to peer exists, pending or established, in either direction.
func (m *Mesh) Has(peer domain.PeerID) bool {
	for k := range m.links {
		if k.peer == peer {
			return true
		}
	}
	return false
}

// Reserve marks a pending slot. It returns false if the slot is already taken.
func (m *Mesh) Reserve(peer domain.PeerID, dir domain.Direction) bool {
	k := linkKey{peer, dir}
	if _, ok := m.links[k]; ok {
		return false
	}
	m.links[k] = &Link{Peer: peer, Direction: dir}
	return true
}

// Release frees a slot whose call never completed. Established links are kept.
func (m *Mesh) Release(peer domain.PeerID, dir domain.Direction) {
	k := linkKey{peer, dir}
	if l, ok := m.links[k]; ok && l.Pending() {
		delete(m.links, k)
	}
}

// Establish stores conn in its slot and returns the connection it replaced, if any.
func (m *Mesh) Establish(peer domain.PeerID, dir domain.Direction, conn core.MediaConnection) (*Link, core.MediaConnection) {
	k := linkKey{peer, dir}
	var replaced core.MediaConnection
	if old, ok := m.links[k]; ok && !old.Pending() {
		replaced = old.Conn
	}
	l := &Link{Peer: peer, Direction: dir, Conn: conn, Since: m.now()}
	m.links[k] = l
	return l, replaced
}

// Each visits established links.
func (m *Mesh) Each(fn func(*Link)) {
	for _, l := range m.links {
		if !l.Pending() {
			fn(l)
		}
	}
}

func (m *Mesh) Len() int {
	n := 0
	m.Each(func(*Link) { n++ })
	return n
}

func (m *Mesh) PendingLen() int {
	return len(m.links) - m.Len()
}

func (m *Mesh) Links() []LinkInfo {
	out := make([]LinkInfo, 0, len(m.links))
	m.Each(func(l *Link) {
		out = append(out, LinkInfo{Peer: l.Peer, Direction: l.Direction, Sending: l.Conn.Sending(), Since: l.Since})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// CloseAll closes every established link and forgets pending ones.
func (m *Mesh) CloseAll() int {
	closed := 0
	for k, l := range m.links {
		if !l.Pending() {
			if err := l.Conn.Close(); err != nil {
				log.Error().Err(err).Str("module", "orch.mesh").Str("peer", string(l.Peer)).Msg("close link")
			}
			closed++
		}
		delete(m.links, k)
	}
	return closed
}
