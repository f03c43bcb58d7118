package domain

import (
	"context"
	"fmt"
)

// Role is the closed set of user roles carried by a verified identity.
type Role string

const (
	RoleParent         Role = "parent"
	RoleStudent        Role = "student"
	RoleStaffAssociate Role = "staff_associate"
	RoleStaffExpert    Role = "staff_expert"
	RoleAdmin          Role = "admin"
)

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleParent, RoleStudent, RoleStaffAssociate, RoleStaffExpert, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// TenantRef is the tenant context embedded in an identity token. A name is
// preferred; the numeric id is a legacy alias.
type TenantRef struct {
	name  string
	id    int64
	hasID bool
}

// TenantByName returns a reference carrying a tenant name.
func TenantByName(name string) TenantRef {
	return TenantRef{name: name}
}

// TenantByID returns a reference carrying only the legacy numeric id.
func TenantByID(id int64) TenantRef {
	return TenantRef{id: id, hasID: true}
}

// WithID adds the legacy numeric id to a reference.
func (t TenantRef) WithID(id int64) TenantRef {
	t.id = id
	t.hasID = true
	return t
}

func (t TenantRef) Name() (string, bool) { return t.name, t.name != "" }
func (t TenantRef) ID() (int64, bool)    { return t.id, t.hasID }

// Empty reports whether the reference carries no tenant context at all.
func (t TenantRef) Empty() bool { return t.name == "" && !t.hasID }

// Identity is the authenticated caller, produced by the token verifier.
type Identity struct {
	UserID int64
	Role   Role
	Tenant TenantRef
}

type identityKey struct{}

// ContextWithIdentity attaches a verified identity to ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the verified identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
