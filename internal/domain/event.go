package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	roleGroupPrefix = "role:"
	userGroupPrefix = "user:"
)

// RoleGroup is the implicit group of every session with the given role.
func RoleGroup(r Role) string { return roleGroupPrefix + string(r) }

// UserGroup is the implicit group of every session owned by the given user.
func UserGroup(userID int64) string { return userGroupPrefix + strconv.FormatInt(userID, 10) }

// IsReservedGroup reports whether a group name belongs to the implicit role/user namespace.
func IsReservedGroup(name string) bool {
	return strings.HasPrefix(name, roleGroupPrefix) || strings.HasPrefix(name, userGroupPrefix)
}

// Event is one server-pushed message as delivered to a live session.
type Event struct {
	ID      string          `json:"id"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// TargetKind selects how a fan-out target name is interpreted.
type TargetKind string

const (
	TargetRole  TargetKind = "role"
	TargetUser  TargetKind = "user"
	TargetGroup TargetKind = "group"
)

// Target addresses a fan-out group.
type Target struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name"`
}

// Group returns the membership group name the target resolves to.
func (t Target) Group() (string, error) {
	switch t.Kind {
	case TargetRole:
		r, err := ParseRole(t.Name)
		if err != nil {
			return "", err
		}
		return RoleGroup(r), nil
	case TargetUser:
		id, err := strconv.ParseInt(t.Name, 10, 64)
		if err != nil {
			return "", ErrInvalidGroup
		}
		return UserGroup(id), nil
	case TargetGroup:
		if t.Name == "" || IsReservedGroup(t.Name) {
			return "", ErrInvalidGroup
		}
		return t.Name, nil
	}
	return "", ErrInvalidGroup
}

// Envelope is a fan-out request as exchanged between instances.
type Envelope struct {
	Origin string `json:"origin"`
	Tenant string `json:"tenant"` // empty for the anonymous scope
	Group  string `json:"group"`
	Event  Event  `json:"event"`
}

// SessionOwner is the optional owner of a live session.
type SessionOwner struct {
	UserID *int64
	Role   Role // empty when unknown
}

// OwnerFromIdentity builds the owner of a session opened with a verified identity.
func OwnerFromIdentity(id Identity) SessionOwner {
	uid := id.UserID
	return SessionOwner{UserID: &uid, Role: id.Role}
}
