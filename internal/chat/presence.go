package chat

import (
	"sort"

	"foodshare-chat/internal/models"

	"github.com/google/uuid"
)

type presenceEntry struct {
	identity models.Identity
	seq      uint64
}

// Presence maps live connections to the identity they registered with.
// It is owned by a single Hub and only touched from the hub loop.
type Presence struct {
	entries map[uuid.UUID]presenceEntry
	seq     uint64
}

func NewPresence() *Presence {
	return &Presence{entries: make(map[uuid.UUID]presenceEntry)}
}

// Register records connID. Registering the same connection again replaces
// its entry.
func (p *Presence) Register(connID uuid.UUID, id models.Identity) {
	p.seq++
	p.entries[connID] = presenceEntry{identity: id, seq: p.seq}
}

// Unregister drops connID and reports whether it was present.
func (p *Presence) Unregister(connID uuid.UUID) bool {
	if _, ok := p.entries[connID]; !ok {
		return false
	}
	delete(p.entries, connID)
	return true
}

func (p *Presence) Len() int {
	return len(p.entries)
}

// ListDistinct returns one identity per id. When the same id holds several
// connections, the most recently registered one supplies name and role.
func (p *Presence) ListDistinct() []models.Identity {
	latest := make(map[string]presenceEntry, len(p.entries))
	for _, e := range p.entries {
		if cur, ok := latest[e.identity.ID]; !ok || e.seq > cur.seq {
			latest[e.identity.ID] = e
		}
	}

	out := make([]models.Identity, 0, len(latest))
	for _, e := range latest {
		out = append(out, e.identity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
