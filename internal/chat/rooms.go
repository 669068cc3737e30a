package chat

// Rooms is the fan-out table: room key -> member sessions. Each Client also
// keeps the set of rooms it joined so leaving everything on disconnect does
// not scan the whole table. Owned by the hub loop.
type Rooms struct {
	members map[string]map[*Client]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[*Client]struct{})}
}

// Join is idempotent.
func (r *Rooms) Join(room string, c *Client) {
	set := r.members[room]
	if set == nil {
		set = make(map[*Client]struct{})
		r.members[room] = set
	}
	set[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave is idempotent. Empty rooms are dropped.
func (r *Rooms) Leave(room string, c *Client) {
	if set, ok := r.members[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.members, room)
		}
	}
	delete(c.rooms, room)
}

func (r *Rooms) LeaveAll(c *Client) {
	for room := range c.rooms {
		r.Leave(room, c)
	}
}

func (r *Rooms) Members(room string) map[*Client]struct{} {
	return r.members[room]
}

func (r *Rooms) Has(room string, c *Client) bool {
	_, ok := r.members[room][c]
	return ok
}

func (r *Rooms) Len() int {
	return len(r.members)
}
