package models

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Role string

const (
	RoleDonor     Role = "donor"
	RoleReceiver  Role = "receiver"
	RoleVolunteer Role = "volunteer"
	RoleGuest     Role = "guest"
)

const maxIdentityRunes = 64

var ErrInvalidIdentity = errors.New("invalid identity")

// ParseRole lower-cases the value; anything unknown is a guest.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleDonor, RoleReceiver, RoleVolunteer:
		return r
	}
	return RoleGuest
}

// Identity is who a connection speaks for. ID keys rooms, presence and
// conversations; Name is carried for display only.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (i Identity) Anonymous() bool {
	return i.ID == ""
}

// NormalizeIdentityKey trims s and rejects values that cannot be used as a
// room or conversation key.
func NormalizeIdentityKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == GlobalRoom || utf8.RuneCountInString(s) > maxIdentityRunes {
		return "", ErrInvalidIdentity
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", ErrInvalidIdentity
		}
	}
	return s, nil
}

// NewGuestIdentity builds an identity where the supplied name doubles as the key.
func NewGuestIdentity(name, role string) (Identity, error) {
	key, err := NormalizeIdentityKey(name)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: key, Name: key, Role: ParseRole(role)}, nil
}
