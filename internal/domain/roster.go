package domain

import "sort"

// RosterSnapshot is the full membership of a presence channel keyed by member key.
// Every snapshot replaces the previous one; it is never a delta.
type RosterSnapshot map[string][]PresenceRecord

// Contains reports whether any record in the snapshot belongs to id.
func (s RosterSnapshot) Contains(id PeerID) bool {
	if id.Empty() {
		return false
	}
	for _, records := range s {
		for _, r := range records {
			if r.PeerID == id {
				return true
			}
		}
	}
	return false
}

// Peers returns the distinct identities in the snapshot, sorted for stable iteration.
func (s RosterSnapshot) Peers() []PeerID {
	seen := make(map[PeerID]struct{})
	for _, records := range s {
		for _, r := range records {
			if r.PeerID.Empty() {
				continue
			}
			seen[r.PeerID] = struct{}{}
		}
	}
	out := make([]PeerID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VisiblePeers counts distinct members other than self.
func (s RosterSnapshot) VisiblePeers(self PeerID) int {
	n := 0
	for _, id := range s.Peers() {
		if id != self {
			n++
		}
	}
	return n
}
