package core

import (
	"log/slog"
	"slices"
)

// OriginAttributes is the identity of the client behind a session.
type OriginAttributes struct {
	identity    string
	permissions map[string]struct{}
}

// NewOriginAttributes creates an identity holding perms.
func NewOriginAttributes(identity string, perms []string) *OriginAttributes {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return &OriginAttributes{identity: identity, permissions: set}
}

// Identity returns the identity string.
func (o *OriginAttributes) Identity() string {
	return o.identity
}

// HasPermission reports whether the identity was granted name.
func (o *OriginAttributes) HasPermission(name string) bool {
	_, ok := o.permissions[name]
	return ok
}

// Permissions returns the granted permissions, sorted.
func (o *OriginAttributes) Permissions() []string {
	out := make([]string, 0, len(o.permissions))
	for p := range o.permissions {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// PermissionPolicy decides whether an identity may use a permission.
// Identities listed as trusted are granted every permission; the list is
// empty unless configured.
type PermissionPolicy struct {
	trusted map[string]struct{}
}

// NewPermissionPolicy creates a policy trusting the given identities.
func NewPermissionPolicy(trusted []string) *PermissionPolicy {
	set := make(map[string]struct{}, len(trusted))
	for _, id := range trusted {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &PermissionPolicy{trusted: set}
}

// Allowed reports whether origin may use perm.
func (p *PermissionPolicy) Allowed(origin *OriginAttributes, perm string) bool {
	if origin == nil {
		return false
	}
	if p != nil {
		if _, ok := p.trusted[origin.Identity()]; ok {
			return true
		}
	}
	return origin.HasPermission(perm)
}

// Trusted returns the trusted identities, sorted.
func (p *PermissionPolicy) Trusted() []string {
	out := make([]string, 0, len(p.trusted))
	for id := range p.trusted {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// LogTrusted writes one warning per trusted identity.
func (p *PermissionPolicy) LogTrusted(logger *slog.Logger) {
	for _, id := range p.Trusted() {
		logger.Warn("identity granted every permission", "identity", id)
	}
}
