package chat

import (
	"testing"

	"foodshare-chat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPresenceLatestRegistrationWins(t *testing.T) {
	p := NewPresence()
	first, second := uuid.New(), uuid.New()

	p.Register(first, models.Identity{ID: "u1", Name: "Ann", Role: models.RoleDonor})
	p.Register(second, models.Identity{ID: "u1", Name: "Ann B.", Role: models.RoleVolunteer})

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []models.Identity{{ID: "u1", Name: "Ann B.", Role: models.RoleVolunteer}}, p.ListDistinct())

	assert.True(t, p.Unregister(second))
	assert.Equal(t, []models.Identity{{ID: "u1", Name: "Ann", Role: models.RoleDonor}}, p.ListDistinct())

	assert.True(t, p.Unregister(first))
	assert.False(t, p.Unregister(first))
	assert.Empty(t, p.ListDistinct())
}

func TestPresenceSortedByName(t *testing.T) {
	p := NewPresence()
	p.Register(uuid.New(), models.Identity{ID: "3", Name: "carol"})
	p.Register(uuid.New(), models.Identity{ID: "1", Name: "alice"})
	p.Register(uuid.New(), models.Identity{ID: "2", Name: "alice"})

	got := p.ListDistinct()
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestPresenceInstancesAreIndependent(t *testing.T) {
	a, b := NewPresence(), NewPresence()
	a.Register(uuid.New(), models.Identity{ID: "x", Name: "x"})

	assert.Equal(t, 1, a.Len())
	assert.Zero(t, b.Len())
}
