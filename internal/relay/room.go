package relay

import "sort"

// Room is a named set of connections. It exists only while it has members.
type Room struct {
	ID      string
	members map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[*Client]struct{}),
	}
}

// add reports whether c was not already a member.
func (r *Room) add(c *Client) bool {
	if _, ok := r.members[c]; ok {
		return false
	}
	r.members[c] = struct{}{}
	return true
}

func (r *Room) remove(c *Client) {
	delete(r.members, c)
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}

// memberIDs returns the connection ids in the room, sorted.
func (r *Room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for c := range r.members {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids
}
